package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/radutopala/llmdeploy/internal/db"
)

// MockNotifier stands in for *notifier.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Enqueue(ctx context.Context, n *db.Notification) error {
	return m.Called(ctx, n).Error(0)
}

func (m *MockNotifier) Notify(ctx context.Context, n *db.Notification) error {
	return m.Called(ctx, n).Error(0)
}
