package usage

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/coxstatus/internal/bytesize"
	"github.com/goodtune/coxstatus/internal/errs"
)

const lastUpdateLayout = "01/02/2006"

// Normalizer turns portal payloads into metric records
type Normalizer struct {
	clock  Clock
	logger zerolog.Logger
}

// NewNormalizer creates a new normalizer
func NewNormalizer(clock Clock, logger zerolog.Logger) *Normalizer {
	if clock == nil {
		clock = RealClock{}
	}
	return &Normalizer{
		clock:  clock,
		logger: logger.With().Str("component", "normalizer").Logger(),
	}
}

// Normalize converts one cycle's payloads into records.
//
// A portal-reported error in either payload is not an error: the result has
// no records and ResetSession set. Any parse failure returns a parse error and
// no records.
func (n *Normalizer) Normalize(usage UsagePayload, summary SummaryPayload) (Result, error) {
	if usage.Error != nil || summary.Error != nil {
		reason := errors.Join(n.portalError("usage", usage.Error), n.portalError("summary", summary.Error))
		n.logger.Warn().Msg("Clearing session, the next cycle will log in again")
		return Result{ResetSession: true, Reason: reason}, nil
	}

	now := n.clock.Now()
	today := truncateDay(now)

	var records []Record

	if summary.Empty() {
		n.logger.Warn().Msg("Usage page carried no summary, emitting daily usage only")
	} else {
		monthly, err := n.monthlyRecords(summary, now, today)
		if err != nil {
			return Result{}, err
		}
		records = append(records, monthly...)
	}

	daily, err := n.dailyRecords(usage.Daily, now, today)
	if err != nil {
		return Result{}, err
	}
	records = append(records, daily...)

	if !summary.Empty() {
		lastUpdate, err := ParseLastUpdate(summary.LastUpdate, now)
		if err != nil {
			return Result{}, err
		}
		records = append(records, Record{
			Measurement: MeasurementLastUpdate,
			Fields:      map[string]any{"value": lastUpdate.Format(lastUpdateLayout)},
			Time:        now,
		})
	}

	return Result{Records: records}, nil
}

// portalError logs e and returns it as a portal-kind error; nil stays nil.
func (n *Normalizer) portalError(source string, e *PortalError) error {
	if e == nil {
		return nil
	}
	err := errs.Newf(errs.KindPortal, source+".portal", "portal reported error %s: %s", e.Code, e.Message)
	n.logger.Error().
		Err(err).
		Str("source", source).
		Str("code", e.Code).
		Str("message", e.Message).
		Msg("Portal reported an error")
	return err
}

func (n *Normalizer) monthlyRecords(summary SummaryPayload, now, today time.Time) ([]Record, error) {
	used, err := bytesize.Parse(summary.TotalUsed)
	if err != nil {
		return nil, err
	}
	plan, err := bytesize.Parse(summary.Plan)
	if err != nil {
		return nil, err
	}
	percent, err := parsePercent(summary.PercentUsed)
	if err != nil {
		return nil, err
	}

	start, end, err := ParseCycle(summary.Cycle, now)
	if err != nil {
		return nil, err
	}

	current := bytesize.Gigabytes(used)
	total := bytesize.Gigabytes(plan)
	elapsed := daysBetween(start, today)
	remainingDays := daysBetween(today, end)

	n.logger.Info().
		Float64("used_gb", current).
		Float64("plan_gb", total).
		Str("used", bytesize.Format(used)).
		Int("days_remaining", remainingDays).
		Msg("Monthly data usage")

	return []Record{
		{
			Measurement: MeasurementMonthlyUsage,
			Fields: map[string]any{
				"service_period": strings.TrimSpace(summary.Cycle),
				"current":        current,
				"remaining":      total - current,
				"total":          total,
				"percent_used":   percent,
			},
			Time: now,
		},
		{
			Measurement: MeasurementMonthlyTotal,
			Fields:      map[string]any{"value": total},
			Time:        now,
		},
		{
			Measurement: MeasurementCycleDays,
			Fields: map[string]any{
				"remaining": remainingDays,
				"current":   elapsed,
			},
			Time: now,
		},
	}, nil
}

// dailyRecords emits entries in order until the first one dated today or later.
func (n *Normalizer) dailyRecords(entries []DailyEntry, now, today time.Time) ([]Record, error) {
	var records []Record
	for _, entry := range entries {
		date, err := ParseMonthDay(entry.Date, now)
		if err != nil {
			return nil, err
		}
		if !date.Before(today) {
			break
		}

		value, err := bytesize.Parse(entry.Bytes)
		if err != nil {
			return nil, err
		}

		records = append(records, Record{
			Measurement: MeasurementDailyUsage,
			Tags:        map[string]string{"date": date.Format("2006-01-02")},
			Fields:      map[string]any{"value": value},
			Time:        date,
		})
	}

	n.logger.Debug().Int("days", len(records)).Msg("Collected daily usage")
	return records, nil
}

// parsePercent reads "40" or "40%" as 0.40.
func parsePercent(s string) (float64, error) {
	cleaned := strings.TrimSpace(strings.TrimSuffix(bytesize.Clean(s), "%"))
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, errs.Wrap(errs.KindParse, "usage.percent", "unparseable percentage "+strconv.Quote(s), err)
	}
	return v / 100, nil
}
