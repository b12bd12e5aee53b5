package pipeline

import (
	"context"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type instruments struct {
	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

func newInstruments() instruments {
	meter := otel.Meter(instrumentationName)

	runs, err := meter.Int64Counter("notecap.pipeline.runs",
		metric.WithDescription("Pipeline runs by source and outcome."),
	)
	if err != nil {
		runs = noop.Int64Counter{}
	}
	duration, err := meter.Float64Histogram("notecap.pipeline.duration",
		metric.WithDescription("Wall time of completed pipeline runs."),
		metric.WithUnit("s"),
	)
	if err != nil {
		duration = noop.Float64Histogram{}
	}
	return instruments{runs: runs, duration: duration}
}

// Outcome is the coarse label used in logs and metrics.
func (r Result) Outcome() string {
	switch {
	case r.Rejected:
		return "rejected"
	case r.Cancelled:
		return "cancelled"
	case r.Reason == ReasonNoContentDetected:
		return "empty"
	case r.Err != nil:
		return "failed"
	default:
		return "succeeded"
	}
}

func (c *Controller) record(ctx context.Context, result Result) {
	outcome := result.Outcome()
	attrs := metric.WithAttributes(
		attribute.String("source", string(result.Source)),
		attribute.String("outcome", outcome),
		attribute.String("reason", string(result.Reason)),
	)
	c.metrics.runs.Add(ctx, 1, attrs)
	elapsed := result.FinishedAt.Sub(result.StartedAt)
	if !result.Rejected {
		c.metrics.duration.Record(ctx, elapsed.Seconds(), attrs)
	}

	fields := []any{
		"run_id", result.RunID,
		"source", string(result.Source),
		"state", string(result.State),
		"outcome", outcome,
		"duration_ms", elapsed.Milliseconds(),
	}
	if result.Device != "" {
		fields = append(fields, "device", result.Device)
	}
	if result.ArtifactBytes > 0 {
		fields = append(fields, "artifact_size", humanize.Bytes(uint64(result.ArtifactBytes)))
	}
	if result.Elapsed > 0 {
		fields = append(fields, "capture_s", result.Elapsed)
	}
	if result.TimedOut {
		fields = append(fields, "timed_out", true)
	}
	if result.RecognizeLatency > 0 {
		fields = append(fields, "recognize_ms", result.RecognizeLatency.Milliseconds())
	}
	if result.Note.ID != "" {
		fields = append(fields, "note_id", result.Note.ID)
	}

	switch outcome {
	case "failed", "rejected":
		fields = append(fields, "reason", string(result.Reason), "error", result.Err.Error())
		c.logger.Error("run failed", fields...)
	default:
		c.logger.Info("run complete", fields...)
	}
}
