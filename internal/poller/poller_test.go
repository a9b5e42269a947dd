package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/goodtune/coxstatus/internal/errs"
	"github.com/goodtune/coxstatus/internal/metrics"
	"github.com/goodtune/coxstatus/internal/usage"
)

type fakeFetcher struct {
	mu       sync.Mutex
	calls    int
	usage    usage.UsagePayload
	summary  usage.SummaryPayload
	failures []error
}

func (f *fakeFetcher) Fetch(context.Context, string) (usage.UsagePayload, usage.SummaryPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		if err != nil {
			return usage.UsagePayload{}, usage.SummaryPayload{}, err
		}
	}
	return f.usage, f.summary, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSink struct {
	mu      sync.Mutex
	batches [][]usage.Record
	err     error
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) Publish(_ context.Context, records []usage.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.batches = append(s.batches, records)
	return len(records), nil
}

type fakeSession struct{ cleared int }

func (s *fakeSession) Clear() { s.cleared++ }

func goodSummary() usage.SummaryPayload {
	return usage.SummaryPayload{
		PercentUsed: "40",
		TotalUsed:   "500 GB",
		Plan:        "1.25 TB",
		Cycle:       "June 1 - June 30",
		LastUpdate:  "Usage as of June 14",
	}
}

func newTestPoller(f *fakeFetcher, s *fakeSink, sess *fakeSession, opts Options) *Poller {
	clock := &usage.TestClock{CurrentTime: time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)}
	return New(f, usage.NewNormalizer(clock, zerolog.Nop()), s, sess, opts, zerolog.Nop())
}

func TestRunOnce_Publishes(t *testing.T) {
	f := &fakeFetcher{
		usage:   usage.UsagePayload{Daily: []usage.DailyEntry{{Date: "6/14", Bytes: "10"}}},
		summary: goodSummary(),
	}
	s := &fakeSink{}
	sess := &fakeSession{}
	p := newTestPoller(f, s, sess, Options{})

	before := testutil.ToFloat64(metrics.PollCycles.WithLabelValues("ok"))

	n, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	// monthly usage, monthly total, cycle days, one day, last update
	if n != 5 {
		t.Errorf("published %d records, want 5", n)
	}
	if len(s.batches) != 1 {
		t.Errorf("sink received %d batches, want 1", len(s.batches))
	}
	if sess.cleared != 0 {
		t.Error("session should not be cleared")
	}
	if got := testutil.ToFloat64(metrics.PollCycles.WithLabelValues("ok")); got != before+1 {
		t.Errorf("ok cycles = %v, want %v", got, before+1)
	}
}

func TestRunOnce_PortalErrorResetsSession(t *testing.T) {
	summary := goodSummary()
	summary.Error = &usage.PortalError{Code: "1", Message: "oops"}
	f := &fakeFetcher{summary: summary}
	s := &fakeSink{}
	sess := &fakeSession{}
	p := newTestPoller(f, s, sess, Options{})

	resets := testutil.ToFloat64(metrics.SessionResets)

	n, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("soft failure should not be an error: %v", err)
	}
	if n != 0 {
		t.Errorf("published %d records, want 0", n)
	}
	if len(s.batches) != 0 {
		t.Error("publish should be skipped on a portal error")
	}
	if sess.cleared != 1 {
		t.Errorf("session cleared %d times, want 1", sess.cleared)
	}
	if got := testutil.ToFloat64(metrics.SessionResets); got != resets+1 {
		t.Errorf("session resets = %v, want %v", got, resets+1)
	}
}

func TestCollect_PortalErrorCarriesReason(t *testing.T) {
	summary := goodSummary()
	summary.Error = &usage.PortalError{Code: "500", Message: "down"}
	p := newTestPoller(&fakeFetcher{summary: summary}, &fakeSink{}, &fakeSession{}, Options{})

	result, err := p.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if !result.ResetSession {
		t.Fatal("expected a session reset")
	}
	if !errs.IsKind(result.Reason, errs.KindPortal) {
		t.Errorf("reason = %v, want portal error", result.Reason)
	}
}

func TestRunOnce_Errors(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		f := &fakeFetcher{failures: []error{errs.New(errs.KindNetwork, "test", "timeout")}}
		s := &fakeSink{}
		p := newTestPoller(f, s, &fakeSession{}, Options{})

		if _, err := p.RunOnce(context.Background()); !errs.IsKind(err, errs.KindNetwork) {
			t.Errorf("error = %v, want network error", err)
		}
		if len(s.batches) != 0 {
			t.Error("nothing should be published")
		}
	})

	t.Run("parse", func(t *testing.T) {
		summary := goodSummary()
		summary.TotalUsed = "???"
		f := &fakeFetcher{summary: summary}
		s := &fakeSink{}
		p := newTestPoller(f, s, &fakeSession{}, Options{})

		if _, err := p.RunOnce(context.Background()); !errs.IsKind(err, errs.KindParse) {
			t.Errorf("error = %v, want parse error", err)
		}
		if len(s.batches) != 0 {
			t.Error("no partial records should be published")
		}
	})

	t.Run("publish", func(t *testing.T) {
		f := &fakeFetcher{summary: goodSummary()}
		s := &fakeSink{err: errors.New("influx down")}
		p := newTestPoller(f, s, &fakeSession{}, Options{})

		if _, err := p.RunOnce(context.Background()); err == nil {
			t.Error("expected publish error")
		}
	})
}

func TestRun_RetriesAfterErrorAndStops(t *testing.T) {
	f := &fakeFetcher{
		summary:  goodSummary(),
		failures: []error{errs.New(errs.KindNetwork, "test", "timeout")},
	}
	s := &fakeSink{}
	p := newTestPoller(f, s, &fakeSession{}, Options{
		Interval:      time.Hour,
		RetryInterval: 10 * time.Millisecond,
	})

	beats := make(chan struct{}, 10)
	var results []error
	p.SetHeartbeat(func(_ int, err error) {
		results = append(results, err)
		beats <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	// First cycle fails, the retry comes after the short interval and succeeds
	for i := 0; i < 2; i++ {
		select {
		case <-beats:
		case <-time.After(5 * time.Second):
			t.Fatalf("cycle %d did not complete", i+1)
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if len(results) != 2 || !errs.IsKind(results[0], errs.KindNetwork) || results[1] != nil {
		t.Errorf("heartbeat errors = %v, want [network error, nil]", results)
	}
	if got := f.Calls(); got != 2 {
		t.Errorf("fetch calls = %d, want 2", got)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) != 1 {
		t.Errorf("published batches = %d, want 1", len(s.batches))
	}
}
