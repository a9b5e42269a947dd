// Package sink publishes usage records to metrics stores.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/goodtune/coxstatus/internal/usage"
)

// Sink accepts one batch of records per poll cycle
type Sink interface {
	Name() string
	Publish(ctx context.Context, records []usage.Record) (int, error)
}

// Multi publishes to every sink in turn.
type Multi []Sink

// Name identifies the sink in logs.
func (m Multi) Name() string {
	return fmt.Sprint(lo.Map(m, func(s Sink, _ int) string { return s.Name() }))
}

// Publish writes records to each sink. The count is the smallest any sink
// accepted; failures from all sinks are joined.
func (m Multi) Publish(ctx context.Context, records []usage.Record) (int, error) {
	if len(m) == 0 {
		return 0, nil
	}

	counts := make([]int, 0, len(m))
	var errList []error
	for _, s := range m {
		n, err := s.Publish(ctx, records)
		if err != nil {
			errList = append(errList, fmt.Errorf("%s: %w", s.Name(), err))
			n = 0
		}
		counts = append(counts, n)
	}
	return lo.Min(counts), errors.Join(errList...)
}
