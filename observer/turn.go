package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// StartTurn opens a turn.process span around one conversation turn. The span
// serves as the parent for all inner operations (LLM calls, handler
// executions) via context propagation. The returned end function records the
// outcome and must be called exactly once.
func (inst *Instruments) StartTurn(ctx context.Context, botID string) (context.Context, func(err error)) {
	ctx, span := inst.Tracer.Start(ctx, "turn.process", trace.WithAttributes(
		AttrBotID.String(botID),
	))
	start := time.Now()

	span.AddEvent("turn.started")

	end := func(err error) {
		defer span.End()

		durationMs := float64(time.Since(start).Milliseconds())
		status := "ok"

		if ctx.Err() != nil && err != nil {
			status = "cancelled"
			span.AddEvent("turn.cancelled")
			span.SetStatus(codes.Error, "cancelled")
		} else if err != nil {
			status = "error"
			span.AddEvent("turn.failed", trace.WithAttributes(
				attribute.String("error", err.Error()),
			))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.AddEvent("turn.completed")
		}

		span.SetAttributes(AttrTurnStatus.String(status))

		attrs := metric.WithAttributes(
			AttrBotID.String(botID),
			attribute.String("status", status),
		)
		inst.TurnExecutions.Add(ctx, 1, attrs)
		inst.TurnDuration.Record(ctx, durationMs, metric.WithAttributes(
			AttrBotID.String(botID),
		))

		// Structured log
		var rec otellog.Record
		rec.SetSeverity(otellog.SeverityInfo)
		rec.SetBody(otellog.StringValue("turn completed"))
		rec.AddAttributes(
			otellog.String("bot.id", botID),
			otellog.String("turn.status", status),
			otellog.Float64("turn.duration_ms", durationMs),
		)
		inst.Logger.Emit(ctx, rec)
	}

	return ctx, end
}
