package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/radutopala/llmdeploy/internal/db"
	"github.com/radutopala/llmdeploy/internal/testutil"
)

type SchedulerSuite struct {
	suite.Suite
	store     *testutil.MockStore
	deliverer *testutil.MockNotifier
	logger    *slog.Logger
	now       time.Time
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.store = new(testutil.MockStore)
	s.deliverer = new(testutil.MockNotifier)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.now = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
}

func (s *SchedulerSuite) newScheduler(schedule string, retentionDays int) *Scheduler {
	sched, err := New(s.store, s.deliverer, time.Minute, schedule, retentionDays, s.logger)
	require.NoError(s.T(), err)
	sched.now = func() time.Time { return s.now }
	return sched
}

func (s *SchedulerSuite) TestNewErrors() {
	_, err := New(s.store, s.deliverer, 0, "0 3 * * *", 30, s.logger)
	require.Error(s.T(), err)
	require.Contains(s.T(), err.Error(), "poll interval must be positive")

	_, err = New(s.store, s.deliverer, time.Minute, "not a cron", 30, s.logger)
	require.Error(s.T(), err)
	require.Contains(s.T(), err.Error(), `parsing cron schedule "not a cron"`)
}

func (s *SchedulerSuite) TestNextPrune() {
	sched := s.newScheduler("0 3 * * *", 30)
	require.Equal(s.T(), time.Date(2025, 10, 2, 3, 0, 0, 0, time.UTC), sched.NextPrune(s.now))
	require.Equal(s.T(), time.Date(2025, 10, 1, 3, 0, 0, 0, time.UTC), sched.NextPrune(time.Date(2025, 10, 1, 2, 59, 0, 0, time.UTC)))
}

func (s *SchedulerSuite) TestPruneDisabled() {
	require.True(s.T(), s.newScheduler("", 30).NextPrune(s.now).IsZero())
	require.True(s.T(), s.newScheduler("0 3 * * *", 0).NextPrune(s.now).IsZero())
}

func (s *SchedulerSuite) TestProcessDue() {
	n1 := &db.Notification{ID: 1, DeploymentID: "dep-1"}
	n2 := &db.Notification{ID: 2, DeploymentID: "dep-2"}
	s.store.On("GetDueNotifications", mock.Anything, s.now).Return([]*db.Notification{n1, n2}, nil)
	s.deliverer.On("Notify", mock.Anything, n1).Return(errors.New("status 503"))
	s.deliverer.On("Notify", mock.Anything, n2).Return(nil)

	s.newScheduler("", 0).processDue(context.Background())
	s.deliverer.AssertExpectations(s.T())
}

func (s *SchedulerSuite) TestProcessDueStoreError() {
	s.store.On("GetDueNotifications", mock.Anything, mock.Anything).Return(nil, errors.New("db locked"))

	s.newScheduler("", 0).processDue(context.Background())
	s.deliverer.AssertNotCalled(s.T(), "Notify", mock.Anything, mock.Anything)
}

func (s *SchedulerSuite) TestProcessDueStopsOnCancel() {
	s.store.On("GetDueNotifications", mock.Anything, mock.Anything).Return([]*db.Notification{{ID: 1}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.newScheduler("", 0).processDue(ctx)
	s.deliverer.AssertNotCalled(s.T(), "Notify", mock.Anything, mock.Anything)
}

func (s *SchedulerSuite) TestPrune() {
	s.store.On("PruneBefore", mock.Anything, s.now.Add(-30*24*time.Hour)).Return(int64(4), nil)

	s.newScheduler("0 3 * * *", 30).prune(context.Background())
	s.store.AssertExpectations(s.T())
}

func (s *SchedulerSuite) TestPruneError() {
	s.store.On("PruneBefore", mock.Anything, mock.Anything).Return(int64(0), errors.New("disk full"))

	s.newScheduler("0 3 * * *", 7).prune(context.Background())
	s.store.AssertExpectations(s.T())
}

func (s *SchedulerSuite) TestStartPollsAndStops() {
	polled := make(chan struct{}, 1)
	s.store.On("GetDueNotifications", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			select {
			case polled <- struct{}{}:
			default:
			}
		}).
		Return([]*db.Notification{}, nil)

	sched, err := New(s.store, s.deliverer, 10*time.Millisecond, "0 3 * * *", 30, s.logger)
	require.NoError(s.T(), err)
	require.NoError(s.T(), sched.Start(context.Background()))

	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		s.T().Fatal("scheduler did not poll")
	}
	require.NoError(s.T(), sched.Stop())
}

func (s *SchedulerSuite) TestStopWithoutStart() {
	require.NoError(s.T(), s.newScheduler("", 0).Stop())
}
