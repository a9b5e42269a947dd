package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/goodtune/coxstatus/internal/usage"
)

func TestExporter_Publish(t *testing.T) {
	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.Local)
	records := []usage.Record{
		{
			Measurement: usage.MeasurementMonthlyUsage,
			Fields: map[string]any{
				"service_period": "June 1 - June 30",
				"current":        500.0,
				"remaining":      780.0,
				"total":          1280.0,
				"percent_used":   0.4,
			},
			Time: now,
		},
		{Measurement: usage.MeasurementMonthlyTotal, Fields: map[string]any{"value": 1280.0}, Time: now},
		{Measurement: usage.MeasurementCycleDays, Fields: map[string]any{"current": 14, "remaining": 15}, Time: now},
		{
			Measurement: usage.MeasurementDailyUsage,
			Tags:        map[string]string{"date": "2026-06-13"},
			Fields:      map[string]any{"value": int64(100)},
			Time:        now.AddDate(0, 0, -2),
		},
		{
			Measurement: usage.MeasurementDailyUsage,
			Tags:        map[string]string{"date": "2026-06-14"},
			Fields:      map[string]any{"value": int64(250)},
			Time:        now.AddDate(0, 0, -1),
		},
		{Measurement: usage.MeasurementLastUpdate, Fields: map[string]any{"value": "06/14/2026"}, Time: now},
		{Measurement: "mystery", Fields: map[string]any{"value": 1}},
	}

	n, err := NewExporter(zerolog.Nop()).Publish(context.Background(), records)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if n != len(records)-1 {
		t.Errorf("Publish applied %d records, want %d", n, len(records)-1)
	}

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"used", testutil.ToFloat64(DataUsedGB), 500},
		{"remaining", testutil.ToFloat64(DataRemainingGB), 780},
		{"plan", testutil.ToFloat64(DataPlanGB), 1280},
		{"ratio", testutil.ToFloat64(DataUsedRatio), 0.4},
		{"cycle current", testutil.ToFloat64(CycleDays.WithLabelValues("current")), 14},
		{"cycle remaining", testutil.ToFloat64(CycleDays.WithLabelValues("remaining")), 15},
		{"last day", testutil.ToFloat64(LastDayBytes), 250},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	wantUpdate := time.Date(2026, time.June, 14, 0, 0, 0, 0, time.Local).Unix()
	if got := testutil.ToFloat64(LastUpdate); got != float64(wantUpdate) {
		t.Errorf("last update = %v, want %d", got, wantUpdate)
	}
}

func TestHandler(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d", resp.StatusCode)
	}

	SessionResets.Inc()
	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "coxstatus_session_resets_total") {
		t.Error("expected coxstatus_session_resets_total in exposition")
	}
}
