package qrunner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

// scriptedGetter replays statuses; the last one repeats forever.
type scriptedGetter struct {
	mu       sync.Mutex
	statuses []Status
	calls    int
	err      error
}

func (g *scriptedGetter) Get(_ context.Context, id string) (*WorkItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	i := min(g.calls-1, len(g.statuses)-1)
	return &WorkItem{ID: id, Status: g.statuses[i], ReportURL: "https://report/" + id}, nil
}

func (g *scriptedGetter) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// stepWhileWaiting advances fc whenever something sleeps on it, until ctx ends.
func stepWhileWaiting(ctx context.Context, fc *testingclock.FakeClock, step time.Duration) {
	go func() {
		for ctx.Err() == nil {
			if fc.HasWaiters() {
				fc.Step(step)
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

func newTestPoller(t *testing.T, g StatusGetter) (*Poller, *testingclock.FakeClock) {
	t.Helper()
	fc := testingclock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	stepWhileWaiting(ctx, fc, 10*time.Second)
	return NewPoller(g, WithClock(fc), WithPollerLogger(qlog.Discard())), fc
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusSuccess, StatusFailed, StatusCancelled, StatusFailedInstructions, StatusFailedLimitProcessingTime} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []Status{StatusPending, StatusInProgress, ""} {
		assert.False(t, s.Terminal(), s)
	}
	assert.True(t, StatusSuccess.Succeeded())
	assert.False(t, StatusFailedUpload.Succeeded())
}

func TestPoller_ReportsEveryStatus(t *testing.T) {
	g := &scriptedGetter{statuses: []Status{StatusPending, StatusInProgress, StatusInProgress, StatusSuccess}}
	p, _ := newTestPoller(t, g)

	var seen []Status
	res, err := p.Wait(context.Background(), "wi-1", WaitOptions{
		PollInterval: 10 * time.Second,
		Timeout:      time.Hour,
		OnProgress:   func(wi *WorkItem) { seen = append(seen, wi.Status) },
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "wi-1", res.JobID)
	assert.Equal(t, "https://report/wi-1", res.ReportURL)
	assert.Equal(t, []Status{StatusPending, StatusInProgress, StatusInProgress, StatusSuccess}, seen)
	assert.Equal(t, 4, g.Calls())
}

func TestPoller_FailedIsAResultNotAnError(t *testing.T) {
	g := &scriptedGetter{statuses: []Status{StatusInProgress, StatusFailedInstructions}}
	p, _ := newTestPoller(t, g)

	res, err := p.Wait(context.Background(), "wi-2", WaitOptions{PollInterval: 10 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, StatusFailedInstructions, res.Status)
}

func TestPoller_TimesOutAfterDeadline(t *testing.T) {
	g := &scriptedGetter{statuses: []Status{StatusInProgress}}
	p, _ := newTestPoller(t, g)

	_, err := p.Wait(context.Background(), "wi-3", WaitOptions{PollInterval: 10 * time.Second, Timeout: 20 * time.Second})
	require.Error(t, err)
	assert.True(t, qerr.IsCode(err, qerr.CodeTimeout))

	var te *qerr.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "wi-3", te.JobID)
	assert.Equal(t, 20*time.Second, te.Timeout)
	// polls at 0s, 10s and 20s; the deadline is exceeded at 30s
	assert.Equal(t, 3, g.Calls())
}

func TestPoller_QueryErrorsPropagate(t *testing.T) {
	boom := errors.New("status endpoint down")
	g := &scriptedGetter{err: boom}
	p, _ := newTestPoller(t, g)

	_, err := p.Wait(context.Background(), "wi-4", WaitOptions{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, g.Calls())
}

func TestPoller_CancelledContextSkipsQuery(t *testing.T) {
	g := &scriptedGetter{statuses: []Status{StatusPending}}
	p, _ := newTestPoller(t, g)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Wait(ctx, "wi-6", WaitOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, g.Calls())
}

func TestPoller_ContextCancel(t *testing.T) {
	g := &scriptedGetter{statuses: []Status{StatusPending}}
	fc := testingclock.NewFakeClock(time.Now())
	p := NewPoller(g, WithClock(fc), WithPollerLogger(qlog.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for !fc.HasWaiters() {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	_, err := p.Wait(ctx, "wi-5", WaitOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
