package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/restage/restage/pkg/engine"
	"github.com/restage/restage/pkg/pipeline"
	"github.com/restage/restage/pkg/waitengine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite. Claims and
// waiting-set mutations are single conditional UPDATE statements with
// RETURNING, so the predicate and the write execute atomically; combined
// with immediate-lock transactions this rules out read-check-write races
// between workers.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is alive
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Pipeline definitions

// SavePipeline inserts or replaces a pipeline definition
func (s *SQLiteStore) SavePipeline(ctx context.Context, identifier, yaml string) error {
	query := `
		INSERT INTO pipelines (identifier, yaml, created_at, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(identifier) DO UPDATE SET yaml = excluded.yaml, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, identifier, yaml); err != nil {
		return fmt.Errorf("failed to save pipeline: %w", err)
	}
	return nil
}

// GetPipelineYaml retrieves a pipeline's current YAML
func (s *SQLiteStore) GetPipelineYaml(ctx context.Context, identifier string) (string, error) {
	var yaml string
	err := s.db.QueryRowContext(ctx,
		`SELECT yaml FROM pipelines WHERE identifier = ?`, identifier).Scan(&yaml)
	if errors.Is(err, sql.ErrNoRows) {
		return "", engine.NewPermanentError("pipeline not found", nil).
			WithCode(engine.ErrCodeNotFound).
			WithDetail("pipeline", identifier)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get pipeline: %w", err)
	}
	return yaml, nil
}

// DeletePipeline removes a pipeline definition
func (s *SQLiteStore) DeletePipeline(ctx context.Context, identifier string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pipelines WHERE identifier = ?`, identifier); err != nil {
		return fmt.Errorf("failed to delete pipeline: %w", err)
	}
	return nil
}

// Plan executions

// RecordExecution inserts a new plan execution attempt
func (s *SQLiteStore) RecordExecution(ctx context.Context, summary *engine.ExecutionSummary, processedYaml string) error {
	root := summary.RootExecutionID
	if root == "" {
		root = summary.UUID
	}
	query := `
		INSERT INTO plan_executions (uuid, pipeline_identifier, root_execution_id, status, start_ts, end_ts, processed_yaml)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	var endTS any
	if !summary.EndTS.IsZero() {
		endTS = summary.EndTS
	}
	_, err := s.db.ExecContext(ctx, query,
		summary.UUID,
		summary.PipelineIdentifier,
		root,
		summary.Status,
		summary.StartTS,
		endTS,
		processedYaml,
	)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

// FinishExecution records the terminal status of an execution
func (s *SQLiteStore) FinishExecution(ctx context.Context, planExecutionID string, status pipeline.ExecutionStatus, endTS time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE plan_executions SET status = ?, end_ts = ? WHERE uuid = ?`,
		status, endTS, planExecutionID)
	if err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return engine.NewPermanentError("execution not found", nil).
			WithCode(engine.ErrCodeNotFound).
			WithExecution(planExecutionID)
	}
	return nil
}

// GetExecutionSummary retrieves one execution attempt
func (s *SQLiteStore) GetExecutionSummary(ctx context.Context, planExecutionID string) (*engine.ExecutionSummary, error) {
	query := `
		SELECT uuid, pipeline_identifier, root_execution_id, status, start_ts, end_ts
		FROM plan_executions
		WHERE uuid = ?
	`
	summary, err := scanExecutionSummary(s.db.QueryRowContext(ctx, query, planExecutionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewPermanentError("execution not found", nil).
			WithCode(engine.ErrCodeNotFound).
			WithExecution(planExecutionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return summary, nil
}

// ListRetryAttempts lists all attempts of a logical run, oldest first
func (s *SQLiteStore) ListRetryAttempts(ctx context.Context, rootExecutionID string) ([]engine.ExecutionSummary, error) {
	query := `
		SELECT uuid, pipeline_identifier, root_execution_id, status, start_ts, end_ts
		FROM plan_executions
		WHERE root_execution_id = ?
		ORDER BY start_ts ASC
	`
	rows, err := s.db.QueryContext(ctx, query, rootExecutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list retry attempts: %w", err)
	}
	defer rows.Close()

	var out []engine.ExecutionSummary
	for rows.Next() {
		summary, err := scanExecutionSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		out = append(out, *summary)
	}
	return out, rows.Err()
}

// GetProcessedYaml retrieves the processed YAML recorded for an execution
func (s *SQLiteStore) GetProcessedYaml(ctx context.Context, planExecutionID string) (string, error) {
	var yaml string
	err := s.db.QueryRowContext(ctx,
		`SELECT processed_yaml FROM plan_executions WHERE uuid = ?`, planExecutionID).Scan(&yaml)
	if errors.Is(err, sql.ErrNoRows) {
		return "", engine.NewPermanentError("execution not found", nil).
			WithCode(engine.ErrCodeNotFound).
			WithExecution(planExecutionID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get processed yaml: %w", err)
	}
	return yaml, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecutionSummary(row rowScanner) (*engine.ExecutionSummary, error) {
	summary := &engine.ExecutionSummary{}
	var endTS sql.NullTime
	err := row.Scan(
		&summary.UUID,
		&summary.PipelineIdentifier,
		&summary.RootExecutionID,
		&summary.Status,
		&summary.StartTS,
		&endTS,
	)
	if err != nil {
		return nil, err
	}
	if endTS.Valid {
		summary.EndTS = endTS.Time
	}
	return summary, nil
}

// Stage and node history

// RecordStageDetail inserts one stage outcome of an execution
func (s *SQLiteStore) RecordStageDetail(ctx context.Context, planExecutionID string, seq int, info pipeline.RetryStageInfo) error {
	query := `
		INSERT INTO stage_details (plan_execution_id, seq, name, identifier, status, created_at, parent_id, next_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		planExecutionID, seq, info.Name, info.Identifier, info.Status,
		time.UnixMilli(info.CreatedAt), info.ParentID, info.NextID)
	if err != nil {
		return fmt.Errorf("failed to record stage detail: %w", err)
	}
	return nil
}

// GetStageDetails returns the stage outcomes of an execution in declaration order
func (s *SQLiteStore) GetStageDetails(ctx context.Context, planExecutionID string) ([]pipeline.RetryStageInfo, error) {
	query := `
		SELECT name, identifier, status, created_at, parent_id, next_id
		FROM stage_details
		WHERE plan_execution_id = ?
		ORDER BY seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, planExecutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stage details: %w", err)
	}
	defer rows.Close()

	var out []pipeline.RetryStageInfo
	for rows.Next() {
		var info pipeline.RetryStageInfo
		var createdAt time.Time
		if err := rows.Scan(&info.Name, &info.Identifier, &info.Status, &createdAt, &info.ParentID, &info.NextID); err != nil {
			return nil, fmt.Errorf("failed to scan stage detail: %w", err)
		}
		info.CreatedAt = createdAt.UnixMilli()
		out = append(out, info)
	}
	return out, rows.Err()
}

// RecordNodeExecution records the node execution that ran a yaml node
func (s *SQLiteStore) RecordNodeExecution(ctx context.Context, planExecutionID, yamlUUID, nodeExecutionUUID string, status pipeline.ExecutionStatus) error {
	query := `
		INSERT INTO node_executions (plan_execution_id, yaml_uuid, node_execution_uuid, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(plan_execution_id, yaml_uuid) DO UPDATE
		SET node_execution_uuid = excluded.node_execution_uuid, status = excluded.status
	`
	if _, err := s.db.ExecContext(ctx, query, planExecutionID, yamlUUID, nodeExecutionUUID, status); err != nil {
		return fmt.Errorf("failed to record node execution: %w", err)
	}
	return nil
}

// ResolveNodeExecutionUUIDs maps yaml node uuids to terminal node execution
// uuids. Non-terminal executions and unknown uuids are absent from the
// result.
func (s *SQLiteStore) ResolveNodeExecutionUUIDs(ctx context.Context, planExecutionID string, yamlUUIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(yamlUUIDs))
	if len(yamlUUIDs) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(`
		SELECT yaml_uuid, node_execution_uuid, status
		FROM node_executions
		WHERE plan_execution_id = ? AND yaml_uuid IN (%s)
	`, placeholders(len(yamlUUIDs)))

	args := make([]any, 0, len(yamlUUIDs)+1)
	args = append(args, planExecutionID)
	for _, u := range yamlUUIDs {
		args = append(args, u)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve node executions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var yamlUUID, nodeExecUUID string
		var status pipeline.ExecutionStatus
		if err := rows.Scan(&yamlUUID, &nodeExecUUID, &status); err != nil {
			return nil, fmt.Errorf("failed to scan node execution: %w", err)
		}
		if isTerminalStatus(status) {
			out[yamlUUID] = nodeExecUUID
		}
	}
	return out, rows.Err()
}

func isTerminalStatus(status pipeline.ExecutionStatus) bool {
	switch status {
	case pipeline.StatusRunning, pipeline.StatusQueued:
		return false
	default:
		return true
	}
}

// Wait engine records

// SaveWaitInstance persists a new wait instance and its correlation set
func (s *SQLiteStore) SaveWaitInstance(ctx context.Context, instance *waitengine.WaitInstance) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO wait_instances (uuid, progress_callback, callback_processing_at) VALUES (?, ?, ?)`,
		instance.UUID, instance.ProgressCallback, instance.CallbackProcessingAt)
	if err != nil {
		return "", fmt.Errorf("failed to save wait instance: %w", err)
	}

	waiting := make(map[string]bool, len(instance.WaitingOnCorrelationIDs))
	for _, id := range instance.WaitingOnCorrelationIDs {
		waiting[id] = true
	}
	for _, id := range instance.CorrelationIDs {
		w := 0
		if waiting[id] {
			w = 1
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO wait_correlations (wait_instance_id, correlation_id, waiting) VALUES (?, ?, ?)`,
			instance.UUID, id, w)
		if err != nil {
			return "", fmt.Errorf("failed to save wait correlation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit wait instance: %w", err)
	}
	return instance.UUID, nil
}

// SaveNotifyResponse appends a completion record
func (s *SQLiteStore) SaveNotifyResponse(ctx context.Context, response *waitengine.NotifyResponse) error {
	createdAt := response.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notify_responses (uuid, is_error, response_data, created_at) VALUES (?, ?, ?, ?)`,
		response.UUID, response.IsError, response.ResponseData, createdAt)
	if err != nil {
		return fmt.Errorf("failed to save notify response: %w", err)
	}
	return nil
}

// SaveProgressUpdate appends a progress update
func (s *SQLiteStore) SaveProgressUpdate(ctx context.Context, update *waitengine.ProgressUpdate) error {
	createdAt := update.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progress_updates (correlation_id, created_at, expire_processing) VALUES (?, ?, ?)`,
		update.CorrelationID, createdAt, update.ExpireProcessing)
	if err != nil {
		return fmt.Errorf("failed to save progress update: %w", err)
	}
	return nil
}

// RemoveWaitingCorrelationID atomically pulls the correlation id off the
// waiting set of the instance awaiting it. The conditional UPDATE with
// RETURNING is the atomic find-and-modify; losing the row means no instance
// was waiting.
func (s *SQLiteStore) RemoveWaitingCorrelationID(ctx context.Context, correlationID string) (*waitengine.WaitInstance, error) {
	query := `
		UPDATE wait_correlations SET waiting = 0
		WHERE rowid IN (
			SELECT rowid FROM wait_correlations
			WHERE correlation_id = ? AND waiting = 1
			LIMIT 1
		)
		RETURNING wait_instance_id
	`
	var waitInstanceID string
	err := s.db.QueryRowContext(ctx, query, correlationID).Scan(&waitInstanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to remove waiting correlation: %w", err)
	}
	return s.loadWaitInstance(ctx, waitInstanceID)
}

// RemoveCorrelationIDsFromWaitingSet atomically clears the given correlation
// ids from one instance's waiting set
func (s *SQLiteStore) RemoveCorrelationIDsFromWaitingSet(ctx context.Context, waitInstanceID string, correlationIDs []string) (*waitengine.WaitInstance, error) {
	if len(correlationIDs) == 0 {
		return s.loadWaitInstance(ctx, waitInstanceID)
	}

	query := fmt.Sprintf(`
		UPDATE wait_correlations SET waiting = 0
		WHERE wait_instance_id = ? AND correlation_id IN (%s)
	`, placeholders(len(correlationIDs)))

	args := make([]any, 0, len(correlationIDs)+1)
	args = append(args, waitInstanceID)
	for _, id := range correlationIDs {
		args = append(args, id)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to remove waiting correlations: %w", err)
	}
	return s.loadWaitInstance(ctx, waitInstanceID)
}

// ClaimWaitInstance takes the callback-processing lease when the current one
// has expired. The expiry predicate and the lease write are one statement.
func (s *SQLiteStore) ClaimWaitInstance(ctx context.Context, waitInstanceID string, now, leaseUntil time.Time) (*waitengine.WaitInstance, error) {
	query := `
		UPDATE wait_instances SET callback_processing_at = ?
		WHERE uuid = ? AND callback_processing_at < ?
		RETURNING uuid
	`
	var claimed string
	err := s.db.QueryRowContext(ctx, query, leaseUntil, waitInstanceID, now).Scan(&claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim wait instance: %w", err)
	}
	return s.loadWaitInstance(ctx, claimed)
}

// ClaimProgressUpdate takes the oldest claimable progress update under the
// same expired-lease predicate
func (s *SQLiteStore) ClaimProgressUpdate(ctx context.Context, busyCorrelationIDs []string, now, leaseUntil time.Time) (*waitengine.ProgressUpdate, error) {
	notBusy := ""
	args := []any{leaseUntil, now}
	if len(busyCorrelationIDs) > 0 {
		notBusy = fmt.Sprintf("AND correlation_id NOT IN (%s)", placeholders(len(busyCorrelationIDs)))
		for _, id := range busyCorrelationIDs {
			args = append(args, id)
		}
	}

	query := fmt.Sprintf(`
		UPDATE progress_updates SET expire_processing = ?
		WHERE correlation_id IN (
			SELECT correlation_id FROM progress_updates
			WHERE expire_processing < ? %s
			ORDER BY created_at ASC
			LIMIT 1
		)
		RETURNING correlation_id, created_at, expire_processing
	`, notBusy)

	update := &waitengine.ProgressUpdate{}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&update.CorrelationID, &update.CreatedAt, &update.ExpireProcessing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim progress update: %w", err)
	}
	return update, nil
}

// GetNotifyResponses reads the responses for the given correlation ids
func (s *SQLiteStore) GetNotifyResponses(ctx context.Context, correlationIDs []string, ordered bool) ([]waitengine.NotifyResponse, error) {
	if len(correlationIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT uuid, is_error, response_data, created_at
		FROM notify_responses
		WHERE uuid IN (%s)
	`, placeholders(len(correlationIDs)))
	if ordered {
		query += " ORDER BY created_at ASC"
	}

	args := make([]any, 0, len(correlationIDs))
	for _, id := range correlationIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get notify responses: %w", err)
	}
	defer rows.Close()

	var out []waitengine.NotifyResponse
	for rows.Next() {
		var r waitengine.NotifyResponse
		if err := rows.Scan(&r.UUID, &r.IsError, &r.ResponseData, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notify response: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteNotifyResponses removes consumed responses and reports the count
func (s *SQLiteStore) DeleteNotifyResponses(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`DELETE FROM notify_responses WHERE uuid IN (%s)`, placeholders(len(ids)))
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete notify responses: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return int(n), nil
}

// DeleteWaitInstance removes a wait instance and reports the count
func (s *SQLiteStore) DeleteWaitInstance(ctx context.Context, waitInstanceID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM wait_correlations WHERE wait_instance_id = ?`, waitInstanceID); err != nil {
		return 0, fmt.Errorf("failed to delete wait correlations: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM wait_instances WHERE uuid = ?`, waitInstanceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete wait instance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return int(n), nil
}

// loadWaitInstance reconstructs a wait instance and its correlation sets
func (s *SQLiteStore) loadWaitInstance(ctx context.Context, waitInstanceID string) (*waitengine.WaitInstance, error) {
	instance := &waitengine.WaitInstance{}
	err := s.db.QueryRowContext(ctx,
		`SELECT uuid, progress_callback, callback_processing_at FROM wait_instances WHERE uuid = ?`,
		waitInstanceID).Scan(&instance.UUID, &instance.ProgressCallback, &instance.CallbackProcessingAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wait instance: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT correlation_id, waiting FROM wait_correlations WHERE wait_instance_id = ? ORDER BY rowid ASC`,
		waitInstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load wait correlations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var correlationID string
		var waiting int
		if err := rows.Scan(&correlationID, &waiting); err != nil {
			return nil, fmt.Errorf("failed to scan wait correlation: %w", err)
		}
		instance.CorrelationIDs = append(instance.CorrelationIDs, correlationID)
		if waiting == 1 {
			instance.WaitingOnCorrelationIDs = append(instance.WaitingOnCorrelationIDs, correlationID)
		}
	}
	return instance, rows.Err()
}

// placeholders builds a "?, ?, ?" list for IN clauses
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
