package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"

	"github.com/fixtrack/notifier/internal/model"
)

type fakeRules struct {
	rules []model.NotificationRule
	err   error
}

func (f *fakeRules) ListActive(context.Context) ([]model.NotificationRule, error) {
	return f.rules, f.err
}

type fakeSnapshots struct {
	snapshots []model.TicketSnapshot
	err       error
}

func (f *fakeSnapshots) ListPendingSnapshots(context.Context, time.Time) ([]model.TicketSnapshot, error) {
	return f.snapshots, f.err
}

type fakeLock struct {
	acquired bool
	err      error
	released int
}

func (f *fakeLock) Acquire(context.Context, string, string, time.Duration) (bool, error) {
	return f.acquired, f.err
}

func (f *fakeLock) Release(context.Context, string, string) error {
	f.released++
	return nil
}

type finishedRun struct {
	status  string
	summary model.RunSummary
	err     error
}

type fakeHistory struct {
	startErr error
	started  int
	finished []finishedRun
}

func (f *fakeHistory) Start(context.Context) (int64, error) {
	if f.startErr != nil {
		return 0, f.startErr
	}

	f.started++
	return int64(f.started), nil
}

func (f *fakeHistory) Finish(_ context.Context, _ int64, status string, summary model.RunSummary, runErr error) error {
	f.finished = append(f.finished, finishedRun{status: status, summary: summary, err: runErr})
	return nil
}

type fakeCache struct {
	mu  sync.Mutex
	set map[string]interface{}
}

func (f *fakeCache) SetWithRetry(_ context.Context, _ retry.Strategy, key string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.set == nil {
		f.set = make(map[string]interface{})
	}
	f.set[key] = value

	return nil
}

func newTestCoordinator(
	rules ruleSource,
	tickets snapshotSource,
	locks runLocker,
	history runRecorder,
	dispatcher itemDispatcher,
	cache summaryCache,
) *Coordinator {
	return NewCoordinator(rules, tickets, locks, history, dispatcher, cache, 10*time.Minute, 2, retry.Strategy{Attempts: 1})
}

func TestCoordinator_LockDeniedSkipsRun(t *testing.T) {
	rule := userRule(12*time.Hour, 3)
	locks := &fakeLock{acquired: false}
	history := &fakeHistory{}
	store := newMemStore()
	dispatcher := NewDispatcher(store, map[string]Notifier{"telegram": &fakeNotifier{}})

	c := newTestCoordinator(
		&fakeRules{rules: []model.NotificationRule{rule}},
		&fakeSnapshots{snapshots: []model.TicketSnapshot{pendingTicket(t0)}},
		locks, history, dispatcher, &fakeCache{},
	)

	summary, err := c.Run(context.Background(), t0.Add(24*time.Hour))

	require.NoError(t, err)
	assert.True(t, summary.Skipped)
	assert.Equal(t, "already running", summary.SkipReason)
	assert.Zero(t, summary.SentCount)
	assert.Zero(t, locks.released, "a lock we never held must not be released")
	assert.Zero(t, history.started)
}

func TestCoordinator_LockErrorAbortsRun(t *testing.T) {
	locks := &fakeLock{err: errors.New("db down")}

	c := newTestCoordinator(&fakeRules{}, &fakeSnapshots{}, locks, &fakeHistory{}, nil, nil)

	_, err := c.Run(context.Background(), t0)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "acquire run lock")
}

func TestCoordinator_LoadErrorReleasesLockAndFailsHistory(t *testing.T) {
	locks := &fakeLock{acquired: true}
	history := &fakeHistory{}

	c := newTestCoordinator(
		&fakeRules{err: errors.New("db down")},
		&fakeSnapshots{},
		locks, history, nil, nil,
	)

	_, err := c.Run(context.Background(), t0)

	require.Error(t, err)
	assert.Equal(t, 1, locks.released)
	require.Len(t, history.finished, 1)
	assert.Equal(t, model.RunStatusFailed, history.finished[0].status)
	assert.Error(t, history.finished[0].err)
}

func TestCoordinator_HappyPath(t *testing.T) {
	rule := userRule(12*time.Hour, 3)
	ticket := pendingTicket(t0)

	locks := &fakeLock{acquired: true}
	history := &fakeHistory{}
	cache := &fakeCache{}
	store := newMemStore()
	notifier := &fakeNotifier{}
	dispatcher := NewDispatcher(store, map[string]Notifier{"telegram": notifier})

	c := newTestCoordinator(
		&fakeRules{rules: []model.NotificationRule{rule}},
		&fakeSnapshots{snapshots: []model.TicketSnapshot{ticket}},
		locks, history, dispatcher, cache,
	)

	summary, err := c.Run(context.Background(), t0.Add(13*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, 1, summary.SentCount)
	assert.Zero(t, summary.AlreadySentCount)
	assert.Zero(t, summary.FailedCount)
	assert.False(t, summary.Skipped)

	assert.Equal(t, 1, locks.released)
	require.Len(t, history.finished, 1)
	assert.Equal(t, model.RunStatusSuccess, history.finished[0].status)
	assert.Contains(t, cache.set, SummaryCacheKey)
	assert.Len(t, store.log(ticket.ID), 1)
}

func TestCoordinator_MisconfiguredRuleSkipped(t *testing.T) {
	good := userRule(12*time.Hour, 3)
	bad := userRule(12*time.Hour, 3)
	bad.TargetRef = ""

	ticket := pendingTicket(t0)
	store := newMemStore()
	dispatcher := NewDispatcher(store, map[string]Notifier{"telegram": &fakeNotifier{}})

	c := newTestCoordinator(
		&fakeRules{rules: []model.NotificationRule{bad, good}},
		&fakeSnapshots{snapshots: []model.TicketSnapshot{ticket}},
		&fakeLock{acquired: true}, &fakeHistory{}, dispatcher, &fakeCache{},
	)

	summary, err := c.Run(context.Background(), t0.Add(13*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, 1, summary.SentCount)
	assert.Zero(t, summary.FailedCount)
}

// A run against a stale snapshot read must collapse onto the log entries the
// previous run already wrote instead of sending twice.
func TestCoordinator_StaleSnapshotIsIdempotent(t *testing.T) {
	rule := userRule(12*time.Hour, 3)
	ticket := pendingTicket(t0)

	store := newMemStore()
	notifier := &fakeNotifier{}
	dispatcher := NewDispatcher(store, map[string]Notifier{"telegram": notifier})

	c := newTestCoordinator(
		&fakeRules{rules: []model.NotificationRule{rule}},
		&fakeSnapshots{snapshots: []model.TicketSnapshot{ticket}},
		&fakeLock{acquired: true}, &fakeHistory{}, dispatcher, &fakeCache{},
	)

	now := t0.Add(13 * time.Hour)

	first, err := c.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, first.SentCount)

	// The snapshot source still serves the pre-run state.
	second, err := c.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, second.SentCount)
	assert.Equal(t, 1, second.AlreadySentCount)

	assert.Len(t, notifier.sent, 1)
	assert.Len(t, store.log(ticket.ID), 1)
}

func TestCoordinator_PerItemFailureIsolated(t *testing.T) {
	emailRule := visitRule(24 * time.Hour)
	tgRule := userRule(12*time.Hour, 3)

	ticket := pendingTicket(t0)
	visitAt := t0.Add(30 * time.Hour)
	ticket.AgencyVisitAt = &visitAt

	store := newMemStore()
	dispatcher := NewDispatcher(store, map[string]Notifier{
		"telegram": &fakeNotifier{},
		"email":    &fakeNotifier{err: errors.New("smtp down")},
	})
	history := &fakeHistory{}

	c := newTestCoordinator(
		&fakeRules{rules: []model.NotificationRule{emailRule, tgRule}},
		&fakeSnapshots{snapshots: []model.TicketSnapshot{ticket}},
		&fakeLock{acquired: true}, history, dispatcher, &fakeCache{},
	)

	summary, err := c.Run(context.Background(), t0.Add(13*time.Hour))

	require.NoError(t, err, "one bad channel must not fail the whole run")
	assert.Equal(t, 1, summary.SentCount)
	assert.Equal(t, 1, summary.FailedCount)
	require.Len(t, history.finished, 1)
	assert.Equal(t, model.RunStatusSuccess, history.finished[0].status)
}

func TestCoordinator_HistoryStartFailureDoesNotAbort(t *testing.T) {
	rule := userRule(12*time.Hour, 3)
	ticket := pendingTicket(t0)

	store := newMemStore()
	dispatcher := NewDispatcher(store, map[string]Notifier{"telegram": &fakeNotifier{}})
	history := &fakeHistory{startErr: errors.New("db down")}

	c := newTestCoordinator(
		&fakeRules{rules: []model.NotificationRule{rule}},
		&fakeSnapshots{snapshots: []model.TicketSnapshot{ticket}},
		&fakeLock{acquired: true}, history, dispatcher, &fakeCache{},
	)

	summary, err := c.Run(context.Background(), t0.Add(13*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, 1, summary.SentCount)
	assert.Empty(t, history.finished, "no run row means no finish update")
}
