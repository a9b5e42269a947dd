// Package poller runs the fetch, normalize and publish cycle on a schedule.
package poller

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/coxstatus/internal/errs"
	"github.com/goodtune/coxstatus/internal/metrics"
	"github.com/goodtune/coxstatus/internal/sink"
	"github.com/goodtune/coxstatus/internal/usage"
)

// Fetcher retrieves one cycle's payloads
type Fetcher interface {
	Fetch(ctx context.Context, period string) (usage.UsagePayload, usage.SummaryPayload, error)
}

// Resetter drops the login session
type Resetter interface {
	Clear()
}

// Options configures the poll loop
type Options struct {
	Period        string
	Interval      time.Duration
	RetryInterval time.Duration
}

// Poller runs poll cycles
type Poller struct {
	fetcher    Fetcher
	normalizer *usage.Normalizer
	sink       sink.Sink
	session    Resetter
	opts       Options
	heartbeat  func(records int, err error)
	logger     zerolog.Logger
}

// New creates a poller
func New(fetcher Fetcher, normalizer *usage.Normalizer, s sink.Sink, session Resetter, opts Options, logger zerolog.Logger) *Poller {
	if opts.Period == "" {
		opts.Period = "daily"
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 5 * time.Minute
	}
	return &Poller{
		fetcher:    fetcher,
		normalizer: normalizer,
		sink:       s,
		session:    session,
		opts:       opts,
		heartbeat:  func(int, error) {},
		logger:     logger.With().Str("component", "poller").Logger(),
	}
}

// SetHeartbeat registers fn to run after every cycle with the number of
// records published and the cycle error, e.g. a watchdog ping.
func (p *Poller) SetHeartbeat(fn func(records int, err error)) {
	p.heartbeat = fn
}

// Collect fetches and normalizes one cycle without publishing. A portal
// reported error clears the session and yields an empty result.
func (p *Poller) Collect(ctx context.Context) (usage.Result, error) {
	p.logger.Info().Str("period", p.opts.Period).Msg("Fetching usage from portal")

	usagePayload, summary, err := p.fetcher.Fetch(ctx, p.opts.Period)
	if err != nil {
		return usage.Result{}, err
	}

	result, err := p.normalizer.Normalize(usagePayload, summary)
	if err != nil {
		return usage.Result{}, err
	}

	if result.ResetSession {
		p.session.Clear()
		metrics.SessionResets.Inc()
	}
	return result, nil
}

// RunOnce runs one full cycle and returns the number of records published.
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.PollDuration.Observe(time.Since(start).Seconds())
	}()

	result, err := p.Collect(ctx)
	if err != nil {
		metrics.PollCycles.WithLabelValues("error").Inc()
		return 0, err
	}
	if result.ResetSession {
		metrics.PollCycles.WithLabelValues("soft_fail").Inc()
		p.logger.Warn().
			Err(result.Reason).
			Str("kind", string(errs.KindOf(result.Reason))).
			Msg("Skipping publish, session dropped after portal error")
		return 0, nil
	}

	n, err := p.sink.Publish(ctx, result.Records)
	if err != nil {
		metrics.PollCycles.WithLabelValues("error").Inc()
		return n, errs.Wrap(errs.KindNetwork, "poller.publish", "publish to "+p.sink.Name(), err)
	}

	metrics.PollCycles.WithLabelValues("ok").Inc()
	metrics.LastSuccess.SetToCurrentTime()
	return n, nil
}

// Run loops until ctx is cancelled. A cycle in progress is allowed to finish.
// Errors never end the loop; they only shorten the wait before the next cycle.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info().
		Dur("interval", p.opts.Interval).
		Dur("retry_interval", p.opts.RetryInterval).
		Msg("Poller started")

	for ctx.Err() == nil {
		wait := p.opts.Interval

		n, err := p.RunOnce(context.WithoutCancel(ctx))
		if err != nil {
			wait = p.opts.RetryInterval
			p.logger.Error().
				Err(err).
				Str("kind", string(errs.KindOf(err))).
				Int("status", errs.StatusCode(err)).
				Msg("Poll cycle failed")
		} else {
			p.logger.Info().Int("records", n).Msg("Poll cycle complete")
		}
		p.heartbeat(n, err)

		p.logger.Info().
			Time("next_poll", time.Now().Add(wait)).
			Dur("wait_duration", wait).
			Msg("Scheduled next poll")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	p.logger.Info().Msg("Poller stopped")
}
