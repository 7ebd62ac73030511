package qrunner

import (
	"context"
	"time"

	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"k8s.io/utils/clock"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultTimeout      = time.Hour
)

// StatusGetter is the part of Runner a Poller needs.
type StatusGetter interface {
	Get(ctx context.Context, id string) (*WorkItem, error)
}

// ProgressFunc observes every status payload, terminal ones included.
type ProgressFunc func(*WorkItem)

// WaitOptions tune a single Wait call. Zero values take the defaults.
type WaitOptions struct {
	PollInterval time.Duration
	Timeout      time.Duration
	OnProgress   ProgressFunc
}

// Poller waits for work items by querying their status at a fixed interval.
type Poller struct {
	getter StatusGetter
	clock  clock.Clock
	logger *qlog.Logger
}

// PollerOption configures a Poller
type PollerOption func(*Poller)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) PollerOption {
	return func(p *Poller) {
		p.clock = c
	}
}

// WithPollerLogger sets the logger.
func WithPollerLogger(l *qlog.Logger) PollerOption {
	return func(p *Poller) {
		p.logger = l
	}
}

func NewPoller(getter StatusGetter, opts ...PollerOption) *Poller {
	p := &Poller{getter: getter, clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = qlog.OrDefault(p.logger)
	return p
}

// Wait polls id until it reaches a terminal status. Before each query the
// elapsed time is compared against the timeout, so a job is declared timed
// out at most one interval after the deadline. Query errors are returned as
// they are, without retry.
func (p *Poller) Wait(ctx context.Context, id string, opts WaitOptions) (*Result, error) {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	start := p.clock.Now()
	for polls := 1; ; polls++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.clock.Since(start) > timeout {
			p.logger.Warn("work item timed out", "id", id, "timeout", timeout, "polls", polls-1)
			return nil, qerr.NewTimeout(id, timeout)
		}

		wi, err := p.getter.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if wi.ID == "" {
			wi.ID = id
		}
		if opts.OnProgress != nil {
			opts.OnProgress(wi)
		}
		if wi.Status.Terminal() {
			p.logger.Debug("work item finished", "id", id, "status", wi.Status, "polls", polls)
			return wi.Result(), nil
		}

		timer := p.clock.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C():
		}
	}
}
