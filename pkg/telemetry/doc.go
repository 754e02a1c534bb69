// Package telemetry provides observability instrumentation for the engine.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring retry/resume and wait engine operations.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "restage"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context
// propagation:
//
//	logger := tel.Logger.NewComponentLogger("retry_engine")
//	logger = logger.WithPlanExecutionID("exec-123").WithPipelineID("pipe-456")
//	logger.Info("Preparing resume")
//	logger.WithError(err).Error("Rewrite failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into request flow and performance:
//
//	ctx, span := tel.Tracer.Start(ctx, "operation.name")
//	defer span.End()
//
//	span.SetAttributes(
//	    telemetry.AttrPlanExecutionID.String(planExecutionID),
//	)
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track system behavior and performance:
//
//	tel.Metrics.RecordRetryValidation(true)
//	tel.Metrics.RecordYamlRewrite("success", duration, skipped)
//	tel.Metrics.RecordWaitClaim(won)
//	tel.Metrics.RecordError("terminal", "NOT_RESUMABLE")
//
// Key metrics exposed:
//
//   - restage_retry_validations_total{resumable}
//   - restage_yaml_rewrites_total{status}
//   - restage_yaml_rewrite_duration_seconds
//   - restage_skipped_stages_per_rewrite
//   - restage_identity_nodes_created_total
//   - restage_plan_transforms_total{status}
//   - restage_wait_instances_saved_total
//   - restage_wait_instances_resolved_total
//   - restage_wait_instance_claims_total{outcome}
//   - restage_progress_update_claims_total{outcome}
//   - restage_notify_responses_pending
//   - restage_callback_processing_duration_seconds
//   - restage_errors_by_class_total{class}
//   - restage_errors_by_code_total{code}
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	tel.Events.PublishRetryRequested(planExecutionID, pipelineID, stages)
//	tel.Events.PublishWaitResolved(waitInstanceID, duration)
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByPlanExecutionID,
// FilterByWaitInstanceID
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	ic := telemetry.StartOperation(ctx, "retry.stages",
//	    telemetry.AttrPlanExecutionID.String(planExecutionID))
//	defer ic.End(err)
//
//	ic.Logger.Info("Resolving retry stages")
//
//	ctx = telemetry.WithRetryContext(ctx, planExecutionID, pipelineID, stages)
//	defer telemetry.EndRetryContext(ctx, planExecutionID, skipped, err)
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
package telemetry
