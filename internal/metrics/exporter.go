package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/coxstatus/internal/usage"
)

// Exporter publishes usage records as Prometheus gauges.
type Exporter struct {
	logger zerolog.Logger
}

// NewExporter creates an exporter writing to the package gauges.
func NewExporter(logger zerolog.Logger) *Exporter {
	return &Exporter{logger: logger.With().Str("component", "exporter").Logger()}
}

// Name identifies the sink in logs.
func (e *Exporter) Name() string { return "prometheus" }

// Publish updates the gauges from records and returns how many were applied.
func (e *Exporter) Publish(_ context.Context, records []usage.Record) (int, error) {
	applied := 0
	var lastDay time.Time

	for _, r := range records {
		switch r.Measurement {
		case usage.MeasurementMonthlyUsage:
			setFrom(DataUsedGB, r, "current")
			setFrom(DataRemainingGB, r, "remaining")
			setFrom(DataPlanGB, r, "total")
			setFrom(DataUsedRatio, r, "percent_used")
		case usage.MeasurementCycleDays:
			if v, ok := r.Float("current"); ok {
				CycleDays.WithLabelValues("current").Set(v)
			}
			if v, ok := r.Float("remaining"); ok {
				CycleDays.WithLabelValues("remaining").Set(v)
			}
		case usage.MeasurementDailyUsage:
			if r.Time.Before(lastDay) {
				applied++
				continue
			}
			lastDay = r.Time
			setFrom(LastDayBytes, r, "value")
		case usage.MeasurementLastUpdate:
			if s, ok := r.Fields["value"].(string); ok {
				if t, err := time.ParseInLocation("01/02/2006", s, time.Local); err == nil {
					LastUpdate.Set(float64(t.Unix()))
				}
			}
		case usage.MeasurementMonthlyTotal:
			// Duplicates the plan size already taken from the monthly usage record
		default:
			e.logger.Debug().Str("measurement", r.Measurement).Msg("Ignoring unknown measurement")
			continue
		}
		applied++
	}

	return applied, nil
}

type setter interface{ Set(float64) }

func setFrom(g setter, r usage.Record, field string) {
	if v, ok := r.Float(field); ok {
		g.Set(v)
	}
}
