// Package testutil holds testify mocks shared by package tests.
package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/radutopala/llmdeploy/internal/db"
)

// MockStore implements the db.Store interface for testing.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateDeployment(ctx context.Context, d *db.Deployment) (int64, error) {
	args := m.Called(ctx, d)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) UpdateDeployment(ctx context.Context, d *db.Deployment) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockStore) GetDeployment(ctx context.Context, deploymentID string) (*db.Deployment, error) {
	args := m.Called(ctx, deploymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Deployment), args.Error(1)
}

func (m *MockStore) ListDeployments(ctx context.Context, limit int) ([]*db.Deployment, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*db.Deployment), args.Error(1)
}

func (m *MockStore) InsertEvaluation(ctx context.Context, e *db.Evaluation) (int64, error) {
	args := m.Called(ctx, e)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) ListEvaluations(ctx context.Context, limit int) ([]*db.Evaluation, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*db.Evaluation), args.Error(1)
}

func (m *MockStore) CreateNotification(ctx context.Context, n *db.Notification) (int64, error) {
	args := m.Called(ctx, n)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) UpdateNotification(ctx context.Context, n *db.Notification) error {
	return m.Called(ctx, n).Error(0)
}

func (m *MockStore) GetDueNotifications(ctx context.Context, now time.Time) ([]*db.Notification, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*db.Notification), args.Error(1)
}

func (m *MockStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) Close() error {
	return m.Called().Error(0)
}

var _ db.Store = (*MockStore)(nil)
