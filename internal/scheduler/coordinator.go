package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/fixtrack/notifier/internal/model"
)

const lockID = "reminder-scan"

type ruleSource interface {
	ListActive(ctx context.Context) ([]model.NotificationRule, error)
}

type snapshotSource interface {
	ListPendingSnapshots(ctx context.Context, now time.Time) ([]model.TicketSnapshot, error)
}

type runLocker interface {
	Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID, workerID string) error
}

type runRecorder interface {
	Start(ctx context.Context) (int64, error)
	Finish(ctx context.Context, id int64, status string, summary model.RunSummary, runErr error) error
}

type itemDispatcher interface {
	Dispatch(ctx context.Context, now time.Time, item model.DueNotification) model.Outcome
}

type summaryCache interface {
	SetWithRetry(ctx context.Context, strategy retry.Strategy, key string, value interface{}) error
}

// SummaryCacheKey is where the latest run summary lives in Redis.
const SummaryCacheKey = "scheduler:last_run"

// Coordinator owns a full scheduler run: run-lock, rule and snapshot loading,
// selection, parallel dispatch, and the run summary. All collaborators are
// injected; the coordinator holds no ambient state beyond its worker identity.
type Coordinator struct {
	rules      ruleSource
	tickets    snapshotSource
	locks      runLocker
	history    runRecorder
	dispatcher itemDispatcher
	cache      summaryCache

	workerID string
	lockTTL  time.Duration
	workers  int
	strategy retry.Strategy
}

// NewCoordinator creates a Coordinator with a fresh worker identity.
func NewCoordinator(
	rules ruleSource,
	tickets snapshotSource,
	locks runLocker,
	history runRecorder,
	dispatcher itemDispatcher,
	cache summaryCache,
	lockTTL time.Duration,
	workers int,
	strategy retry.Strategy,
) *Coordinator {
	if workers < 1 {
		workers = 1
	}

	return &Coordinator{
		rules:      rules,
		tickets:    tickets,
		locks:      locks,
		history:    history,
		dispatcher: dispatcher,
		cache:      cache,
		workerID:   uuid.NewString(),
		lockTTL:    lockTTL,
		workers:    workers,
		strategy:   strategy,
	}
}

// Run executes one scheduler pass at the given reference time.
//
// Overlapping invocations are collapsed by the run-lock: the loser returns a
// skipped summary, not an error. A failure before any dispatch aborts the run
// with nothing half-done; a failure of a single item only marks that item.
func (c *Coordinator) Run(ctx context.Context, now time.Time) (model.RunSummary, error) {
	summary := model.RunSummary{StartedAt: now}

	acquired, err := c.locks.Acquire(ctx, lockID, c.workerID, c.lockTTL)
	if err != nil {
		return summary, fmt.Errorf("acquire run lock: %w", err)
	}

	if !acquired {
		summary.Skipped = true
		summary.SkipReason = "already running"
		summary.FinishedAt = time.Now().UTC()
		zlog.Logger.Info().Msg("scheduler run skipped: lock held by another worker")

		return summary, nil
	}

	defer func() {
		if err := c.locks.Release(ctx, lockID, c.workerID); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to release run lock")
		}
	}()

	runID, err := c.history.Start(ctx)
	if err != nil {
		// History is observability, not correctness; run anyway.
		zlog.Logger.Error().Err(err).Msg("failed to record run start")
	}

	due, err := c.selectDue(ctx, now)
	if err != nil {
		summary.FinishedAt = time.Now().UTC()
		c.finishHistory(ctx, runID, model.RunStatusFailed, summary, err)

		return summary, err
	}

	c.dispatchAll(ctx, now, due, &summary)

	summary.FinishedAt = time.Now().UTC()
	c.finishHistory(ctx, runID, model.RunStatusSuccess, summary, nil)
	c.cacheSummary(ctx, summary)

	zlog.Logger.Info().
		Int("due", len(due)).
		Int("sent", summary.SentCount).
		Int("already_sent", summary.AlreadySentCount).
		Int("failed", summary.FailedCount).
		Msg("scheduler run finished")

	return summary, nil
}

// selectDue loads rules and ticket snapshots and computes the due set.
// Malformed rules are skipped with a warning, never fatal for the run.
func (c *Coordinator) selectDue(ctx context.Context, now time.Time) ([]model.DueNotification, error) {
	rules, err := c.rules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	valid := make([]model.NotificationRule, 0, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			zlog.Logger.Warn().Err(err).Str("rule_id", r.ID.String()).Msg("skipping misconfigured rule")
			continue
		}

		valid = append(valid, r)
	}

	tickets, err := c.tickets.ListPendingSnapshots(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("load ticket snapshots: %w", err)
	}

	return Select(now, valid, tickets), nil
}

// dispatchAll fans the due items out over a bounded worker pool. Order of
// dispatch is a preference, not a correctness requirement: every item's state
// transition is guarded on its own by the conditional append.
func (c *Coordinator) dispatchAll(ctx context.Context, now time.Time, due []model.DueNotification, summary *model.RunSummary) {
	itemCh := make(chan model.DueNotification)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	wg.Add(c.workers)
	for i := 0; i < c.workers; i++ {
		go func() {
			defer wg.Done()

			for item := range itemCh {
				outcome := c.dispatcher.Dispatch(ctx, now, item)

				mu.Lock()
				switch outcome {
				case model.OutcomeSent:
					summary.SentCount++
				case model.OutcomeAlreadySent:
					summary.AlreadySentCount++
				default:
					summary.FailedCount++
				}
				mu.Unlock()
			}
		}()
	}

	for _, item := range due {
		itemCh <- item
	}
	close(itemCh)

	wg.Wait()
}

func (c *Coordinator) finishHistory(ctx context.Context, runID int64, status string, summary model.RunSummary, runErr error) {
	if runID == 0 {
		return
	}

	if err := c.history.Finish(ctx, runID, status, summary, runErr); err != nil {
		zlog.Logger.Error().Err(err).Int64("run_id", runID).Msg("failed to record run finish")
	}
}

func (c *Coordinator) cacheSummary(ctx context.Context, summary model.RunSummary) {
	if c.cache == nil {
		return
	}

	body, err := json.Marshal(summary)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to marshal run summary")
		return
	}

	if err := c.cache.SetWithRetry(ctx, c.strategy, SummaryCacheKey, string(body)); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to cache run summary")
	}
}

// Start runs the coordinator on a fixed cadence until the context is
// cancelled. The run-lock makes the ticker safe alongside manual triggers.
func (c *Coordinator) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	zlog.Logger.Info().Dur("interval", interval).Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			zlog.Logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			if _, err := c.Run(ctx, time.Now().UTC()); err != nil {
				zlog.Logger.Error().Err(err).Msg("scheduler run failed")
			}
		}
	}
}
