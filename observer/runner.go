package observer

import (
	"context"
	"time"

	parley "github.com/novandi/parley"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
)

// ObservedRunner wraps a parley.HandlerRunner with OTEL instrumentation.
type ObservedRunner struct {
	inner parley.HandlerRunner
	inst  *Instruments
}

var _ parley.HandlerRunner = (*ObservedRunner)(nil)

// WrapRunner returns an instrumented handler runner.
func WrapRunner(inner parley.HandlerRunner, inst *Instruments) *ObservedRunner {
	return &ObservedRunner{inner: inner, inst: inst}
}

func (o *ObservedRunner) Run(ctx context.Context, req parley.HandlerRequest, caps parley.Capabilities) (parley.HandlerResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "handler.run")
	defer span.End()
	start := time.Now()

	result, err := o.inner.Run(ctx, req, caps)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if result.Err != "" {
		status = "handler_error"
	}
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrHandlerStatus.String(status),
		AttrHandlerExitCode.Int(result.ExitCode),
		AttrHandlerOutputLength.Int(len(result.Output)),
	)

	o.inst.HandlerExecutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
	o.inst.HandlerDuration.Record(ctx, durationMs)

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("handler executed"))
	rec.AddAttributes(
		otellog.String("handler.status", status),
		otellog.Int("handler.exit_code", result.ExitCode),
		otellog.Int("handler.output_length", len(result.Output)),
		otellog.Float64("handler.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}
