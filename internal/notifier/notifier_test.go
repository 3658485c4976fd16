package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/radutopala/llmdeploy/internal/db"
	"github.com/radutopala/llmdeploy/internal/testutil"
)

type mockHTTPClient struct {
	mock.Mock
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	ret := m.Called(req)
	resp, _ := ret.Get(0).(*http.Response)
	return resp, ret.Error(1)
}

type NotifierSuite struct {
	suite.Suite
	store    *testutil.MockStore
	srv      *httptest.Server
	status   int
	hits     atomic.Int32
	lastBody []byte
	now      time.Time
}

func TestNotifierSuite(t *testing.T) {
	suite.Run(t, new(NotifierSuite))
}

func (s *NotifierSuite) SetupTest() {
	s.store = new(testutil.MockStore)
	s.status = http.StatusOK
	s.hits.Store(0)
	s.lastBody = nil
	s.now = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		require.Equal(s.T(), "application/json", r.Header.Get("Content-Type"))
		s.lastBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(s.status)
	}))
}

func (s *NotifierSuite) TearDownTest() {
	s.srv.Close()
}

func (s *NotifierSuite) newNotifier(maxAttempts int, opts ...Option) *Notifier {
	opts = append([]Option{
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	}, opts...)
	n := New(s.store, maxAttempts, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	n.now = func() time.Time { return s.now }
	return n
}

func (s *NotifierSuite) newNote() *db.Notification {
	note, err := NewNotification("dep-1", s.srv.URL+"/evaluation", Payload{
		Email: "a@b.c", Task: "demo", Round: 1, Nonce: "n1",
		RepoURL: "https://github.com/octo/demo-round1", CommitSHA: "abc", PagesURL: "https://octo.github.io/demo-round1/",
	})
	require.NoError(s.T(), err)
	note.ID = 1
	return note
}

func withStatus(status db.NotificationStatus) any {
	return mock.MatchedBy(func(n *db.Notification) bool { return n.Status == status })
}

func (s *NotifierSuite) TestNewNotificationPayload() {
	note := s.newNote()
	require.Equal(s.T(), db.NotificationPending, note.Status)
	require.Equal(s.T(), "dep-1", note.DeploymentID)

	var got map[string]any
	require.NoError(s.T(), json.Unmarshal([]byte(note.Payload), &got))
	require.Equal(s.T(), "n1", got["nonce"])
	require.Equal(s.T(), float64(1), got["round"])
	require.Equal(s.T(), "abc", got["commit_sha"])
	require.Len(s.T(), got, 7)
}

func (s *NotifierSuite) TestDelivered() {
	s.store.On("UpdateNotification", mock.Anything, withStatus(db.NotificationDelivered)).Return(nil)
	note := s.newNote()

	err := s.newNotifier(5).Notify(context.Background(), note)
	require.NoError(s.T(), err)
	require.Equal(s.T(), 1, note.Attempts)
	require.Equal(s.T(), int32(1), s.hits.Load())
	require.JSONEq(s.T(), note.Payload, string(s.lastBody))
	s.store.AssertExpectations(s.T())
}

func (s *NotifierSuite) TestClientErrorIsPermanent() {
	s.status = http.StatusBadRequest
	s.store.On("UpdateNotification", mock.Anything, withStatus(db.NotificationFailed)).Return(nil)
	note := s.newNote()

	err := s.newNotifier(5).Notify(context.Background(), note)
	require.Error(s.T(), err)
	require.Contains(s.T(), err.Error(), "returned 400")
	require.Equal(s.T(), int32(1), s.hits.Load())
	require.Equal(s.T(), db.NotificationFailed, note.Status)
	require.Contains(s.T(), note.LastError, "400")
}

func (s *NotifierSuite) TestServerErrorDeferred() {
	s.status = http.StatusServiceUnavailable
	s.store.On("UpdateNotification", mock.Anything, withStatus(db.NotificationPending)).Return(nil)
	note := s.newNote()

	err := s.newNotifier(5, WithTries(3), WithRetryDelay(time.Minute, time.Hour)).Notify(context.Background(), note)
	require.Error(s.T(), err)
	require.Equal(s.T(), int32(3), s.hits.Load())
	require.Equal(s.T(), 1, note.Attempts)
	require.Equal(s.T(), db.NotificationPending, note.Status)
	require.Equal(s.T(), s.now.Add(time.Minute), note.NextAttemptAt)
}

func (s *NotifierSuite) TestTooManyRequestsIsTransient() {
	s.status = http.StatusTooManyRequests
	s.store.On("UpdateNotification", mock.Anything, withStatus(db.NotificationPending)).Return(nil)

	err := s.newNotifier(5, WithTries(2)).Notify(context.Background(), s.newNote())
	require.Error(s.T(), err)
	require.Equal(s.T(), int32(2), s.hits.Load())
}

func (s *NotifierSuite) TestLastAttemptFails() {
	s.status = http.StatusBadGateway
	s.store.On("UpdateNotification", mock.Anything, withStatus(db.NotificationFailed)).Return(nil)
	note := s.newNote()
	note.Attempts = 2

	err := s.newNotifier(3, WithTries(1)).Notify(context.Background(), note)
	require.Error(s.T(), err)
	require.Equal(s.T(), 3, note.Attempts)
	require.Equal(s.T(), db.NotificationFailed, note.Status)
}

func (s *NotifierSuite) TestTransportError() {
	hc := new(mockHTTPClient)
	hc.On("Do", mock.Anything).Return(nil, errors.New("connection refused"))
	s.store.On("UpdateNotification", mock.Anything, withStatus(db.NotificationPending)).Return(nil)

	note := s.newNote()
	err := s.newNotifier(5, WithTries(2), WithHTTPClient(hc)).Notify(context.Background(), note)
	require.Error(s.T(), err)
	require.Contains(s.T(), err.Error(), "connection refused")
	hc.AssertNumberOfCalls(s.T(), "Do", 2)
}

func (s *NotifierSuite) TestInvalidURLIsPermanent() {
	s.store.On("UpdateNotification", mock.Anything, withStatus(db.NotificationFailed)).Return(nil)
	note := s.newNote()
	note.URL = "://bad"

	err := s.newNotifier(5).Notify(context.Background(), note)
	require.Error(s.T(), err)
	require.Contains(s.T(), err.Error(), "creating request")
}

func (s *NotifierSuite) TestUpdateErrorJoined() {
	s.store.On("UpdateNotification", mock.Anything, mock.Anything).Return(errors.New("db locked"))

	err := s.newNotifier(5).Notify(context.Background(), s.newNote())
	require.Error(s.T(), err)
	require.Contains(s.T(), err.Error(), "updating notification: db locked")
}

func (s *NotifierSuite) TestEnqueue() {
	s.store.On("CreateNotification", mock.Anything, mock.MatchedBy(func(n *db.Notification) bool {
		return n.NextAttemptAt.Equal(s.now.Add(deliveryLease))
	})).Return(int64(1), nil)
	s.store.On("UpdateNotification", mock.Anything, withStatus(db.NotificationDelivered)).Return(nil)

	n := s.newNotifier(5)
	require.NoError(s.T(), n.Enqueue(context.Background(), s.newNote()))
	n.Wait()
	require.Equal(s.T(), int32(1), s.hits.Load())
	s.store.AssertExpectations(s.T())
}

func (s *NotifierSuite) TestEnqueueNotDueWhileInFlight() {
	store, err := db.NewSQLiteStore(":memory:")
	require.NoError(s.T(), err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.CreateDeployment(ctx, &db.Deployment{
		DeploymentID: "dep-1", Email: "a@b.c", Task: "demo", Round: 1, Nonce: "n1",
		Brief: "b", EvaluationURL: s.srv.URL, RepoName: "demo-round1", Status: db.DeploymentSuccess,
	})
	require.NoError(s.T(), err)

	started := make(chan struct{})
	release := make(chan struct{})
	var hits atomic.Int32
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			close(started)
		}
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	n := New(store, 5, slog.New(slog.NewTextHandler(io.Discard, nil)))
	note, err := NewNotification("dep-1", slow.URL, Payload{Email: "a@b.c", Task: "demo", Round: 1, Nonce: "n1"})
	require.NoError(s.T(), err)
	require.NoError(s.T(), n.Enqueue(ctx, note))

	<-started
	due, err := store.GetDueNotifications(ctx, time.Now())
	require.NoError(s.T(), err)
	require.Empty(s.T(), due)

	close(release)
	n.Wait()
	require.Equal(s.T(), int32(1), hits.Load())

	due, err = store.GetDueNotifications(ctx, time.Now().Add(time.Hour))
	require.NoError(s.T(), err)
	require.Empty(s.T(), due)
}

func (s *NotifierSuite) TestEnqueueStoreError() {
	s.store.On("CreateNotification", mock.Anything, mock.Anything).Return(int64(0), errors.New("disk full"))

	n := s.newNotifier(5)
	err := n.Enqueue(context.Background(), s.newNote())
	require.Error(s.T(), err)
	require.Contains(s.T(), err.Error(), "storing notification")
	n.Wait()
	require.Zero(s.T(), s.hits.Load())
}

func (s *NotifierSuite) TestRetryDelay() {
	n := s.newNotifier(10, WithRetryDelay(time.Minute, 5*time.Minute))
	require.Equal(s.T(), time.Minute, n.retryDelay(1))
	require.Equal(s.T(), 2*time.Minute, n.retryDelay(2))
	require.Equal(s.T(), 4*time.Minute, n.retryDelay(3))
	require.Equal(s.T(), 5*time.Minute, n.retryDelay(4))
	require.Equal(s.T(), 5*time.Minute, n.retryDelay(9))
}

func (s *NotifierSuite) TestMaxAttemptsFloor() {
	require.Equal(s.T(), 1, s.newNotifier(0).maxAttempts)
}
