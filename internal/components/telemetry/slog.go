package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("codefolio.telemetry")
var countGauge, _ = meter.Int64Gauge("report_count")
var brokenCounter, _ = meter.Int64Counter("report_broken")

// SlogAPI implements API on top of log/slog. Counts are also recorded as an
// otel gauge and broken reports as a counter, both labeled by id.
type SlogAPI struct {
	// Logger defaults to slog.Default() when nil.
	Logger *slog.Logger
}

func (s SlogAPI) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// attrs renders KV params under their key, a single error under "err" and
// anything else positionally.
func attrs(out []any, params []any) []any {
	for i, p := range params {
		switch p := p.(type) {
		case KV:
			out = append(out, p.Key, p.Value)
		case error:
			out = append(out, fmt.Sprintf("err.%d", i), p.Error())
		default:
			out = append(out, fmt.Sprintf("params.%d", i), p)
		}
	}
	return out
}

func (s SlogAPI) ReportBroken(id string, params ...any) {
	s.logger().Error("broken component", attrs([]any{"id", id}, params)...)
	if brokenCounter != nil {
		brokenCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("id", id)))
	}
}

func (s SlogAPI) ReportWarning(id string, params ...any) {
	s.logger().Warn("warning", attrs([]any{"id", id}, params)...)
}

func (s SlogAPI) ReportDebug(message string, params ...any) {
	s.logger().Debug(message, attrs(nil, params)...)
}

func (s SlogAPI) ReportCount(id string, count int64) {
	s.logger().Info("count", "id", id, "n", count)
	if countGauge != nil {
		countGauge.Record(
			context.Background(),
			count,
			metric.WithAttributes(attribute.String("id", id)),
		)
	}
}
