// Package stores provides the persistence layer for the retry and wait
// engines. It includes SQLite-based storage with WAL mode, connection
// pooling, and the atomic find-and-modify operations the wait engine's
// lease protocol relies on, plus an in-memory implementation for tests.
package stores
