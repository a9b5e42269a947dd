package usage

import (
	"time"
)

// Measurement names emitted by the normalizer
const (
	MeasurementMonthlyUsage = "current_monthly_usage"
	MeasurementMonthlyTotal = "current_monthly_total"
	MeasurementCycleDays    = "cycle_days"
	MeasurementDailyUsage   = "daily_usage"
	MeasurementLastUpdate   = "last_update"
)

// Record is one timestamped, named, fielded measurement
type Record struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Time        time.Time
}

// Float returns the named field as a float64.
func (r Record) Float(field string) (float64, bool) {
	switch v := r.Fields[field].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Result is the outcome of normalizing one poll cycle
type Result struct {
	Records []Record

	// ResetSession is set when the portal reported an error; the caller
	// should drop the session so the next cycle logs in again. Reason then
	// holds the portal error.
	ResetSession bool
	Reason       error
}

// PortalError is an error reported by the portal inside a successful response
type PortalError struct {
	Code    string
	Message string
}

// DailyEntry is one day of the usage series as reported by the portal
type DailyEntry struct {
	Date  string // M/D or MM/DD
	Bytes string
}

// UsagePayload is the daily usage series
type UsagePayload struct {
	Daily []DailyEntry
	Error *PortalError
}

// SummaryPayload is the monthly summary embedded in the usage page
type SummaryPayload struct {
	PercentUsed string
	TotalUsed   string
	Plan        string
	Cycle       string // "June 1 - June 30"
	LastUpdate  string // "Usage as of June 14"
	Error       *PortalError
}

// Empty reports whether the summary carries no data, which happens when the
// page did not embed one.
func (s SummaryPayload) Empty() bool {
	return s == SummaryPayload{}
}
