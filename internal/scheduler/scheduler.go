package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/radutopala/llmdeploy/internal/db"
)

// Store is the subset of db.Store the scheduler needs.
type Store interface {
	GetDueNotifications(ctx context.Context, now time.Time) ([]*db.Notification, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Deliverer makes one delivery round for a pending notification.
type Deliverer interface {
	Notify(ctx context.Context, n *db.Notification) error
}

// Scheduler redelivers due notifications on a polling loop and prunes
// old records on a cron schedule.
type Scheduler struct {
	store        Store
	deliverer    Deliverer
	pollInterval time.Duration
	pruneSched   cron.Schedule
	retention    time.Duration
	logger       *slog.Logger
	now          func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. An empty pruneSchedule or a non-positive
// retentionDays disables pruning.
func New(store Store, deliverer Deliverer, pollInterval time.Duration, pruneSchedule string, retentionDays int, logger *slog.Logger) (*Scheduler, error) {
	if pollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", pollInterval)
	}
	s := &Scheduler{
		store:        store,
		deliverer:    deliverer,
		pollInterval: pollInterval,
		logger:       logger,
		now:          time.Now,
	}
	if pruneSchedule != "" && retentionDays > 0 {
		sched, err := ParseSchedule(pruneSchedule)
		if err != nil {
			return nil, err
		}
		s.pruneSched = sched
		s.retention = time.Duration(retentionDays) * 24 * time.Hour
	}
	return s, nil
}

// ParseSchedule parses a standard 5-field cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing cron schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Start launches the polling and pruning loops in background goroutines.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.pollLoop(ctx)
	if s.pruneSched != nil {
		s.wg.Add(1)
		go s.pruneLoop(ctx)
	}
	s.logger.Info("scheduler started", "poll_interval", s.pollInterval, "next_prune", s.NextPrune(s.now()))
	return nil
}

// Stop stops both loops and waits for them to finish.
func (s *Scheduler) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

// NextPrune returns the next prune time after now, or the zero time when
// pruning is disabled.
func (s *Scheduler) NextPrune(now time.Time) time.Time {
	if s.pruneSched == nil {
		return time.Time{}
	}
	return s.pruneSched.Next(now)
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.processDue(ctx)
		}
	}
}

func (s *Scheduler) pruneLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		timer := time.NewTimer(time.Until(s.NextPrune(s.now())))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.prune(ctx)
		}
	}
}

func (s *Scheduler) processDue(ctx context.Context) {
	notes, err := s.store.GetDueNotifications(ctx, s.now())
	if err != nil {
		s.logger.Error("failed to get due notifications", "error", err)
		return
	}

	for _, n := range notes {
		if ctx.Err() != nil {
			return
		}
		if err := s.deliverer.Notify(ctx, n); err != nil {
			s.logger.Warn("redelivery failed", "notification_id", n.ID, "deployment_id", n.DeploymentID,
				"attempts", n.Attempts, "error", err)
		}
	}
}

func (s *Scheduler) prune(ctx context.Context) {
	cutoff := s.now().Add(-s.retention)
	removed, err := s.store.PruneBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to prune records", "cutoff", cutoff, "error", err)
		return
	}
	s.logger.Info("pruned old records", "cutoff", cutoff, "removed", removed)
}
