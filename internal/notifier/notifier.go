package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/radutopala/llmdeploy/internal/db"
)

// Payload is the JSON body reported to an evaluation URL once a build is
// pushed.
type Payload struct {
	Email     string `json:"email"`
	Task      string `json:"task"`
	Round     int    `json:"round"`
	Nonce     string `json:"nonce"`
	RepoURL   string `json:"repo_url"`
	CommitSHA string `json:"commit_sha"`
	PagesURL  string `json:"pages_url"`
}

// NewNotification builds a pending notification for deploymentID.
func NewNotification(deploymentID, url string, p Payload) (*db.Notification, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return &db.Notification{
		DeploymentID: deploymentID,
		URL:          url,
		Payload:      string(body),
		Status:       db.NotificationPending,
	}, nil
}

// HTTPClient abstracts HTTP requests for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Store is the subset of db.Store the notifier needs.
type Store interface {
	CreateNotification(ctx context.Context, n *db.Notification) (int64, error)
	UpdateNotification(ctx context.Context, n *db.Notification) error
}

const (
	defaultTries      = 3
	defaultRetryBase  = time.Minute
	defaultRetryCap   = time.Hour
	maxErrorBodyBytes = 512

	// deliveryLease keeps a freshly enqueued notification out of the
	// scheduler's due set while Enqueue's own round is in flight. It must
	// exceed the worst case of tries HTTP timeouts plus backoff.
	deliveryLease = 5 * time.Minute
)

// Notifier delivers notifications to evaluation URLs. A single Notify call
// makes a short burst of tries; a transient failure leaves the notification
// pending with a later next_attempt_at for the scheduler to pick up.
type Notifier struct {
	store       Store
	httpClient  HTTPClient
	logger      *slog.Logger
	maxAttempts int
	tries       uint
	newBackOff  func() backoff.BackOff
	retryBase   time.Duration
	retryCap    time.Duration
	now         func() time.Time
	wg          sync.WaitGroup
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient sets the HTTP client used for delivery.
func WithHTTPClient(c HTTPClient) Option {
	return func(n *Notifier) { n.httpClient = c }
}

// WithTries sets how many requests a single Notify call may make.
func WithTries(tries uint) Option {
	return func(n *Notifier) { n.tries = tries }
}

// WithBackOff sets the backoff policy between tries within one Notify call.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(n *Notifier) { n.newBackOff = fn }
}

// WithRetryDelay sets the base and cap of the delay before the scheduler
// redelivers a pending notification.
func WithRetryDelay(base, limit time.Duration) Option {
	return func(n *Notifier) {
		n.retryBase = base
		n.retryCap = limit
	}
}

// New creates a Notifier that gives up after maxAttempts delivery rounds.
func New(store Store, maxAttempts int, logger *slog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		store:       store,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
		maxAttempts: maxAttempts,
		tries:       defaultTries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
		retryBase: defaultRetryBase,
		retryCap:  defaultRetryCap,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.maxAttempts < 1 {
		n.maxAttempts = 1
	}
	return n
}

// Enqueue persists the notification and delivers it in the background.
// The stored row is leased to this delivery and only becomes due for
// redelivery if the process dies before the round records its outcome.
func (n *Notifier) Enqueue(ctx context.Context, note *db.Notification) error {
	note.NextAttemptAt = n.now().Add(deliveryLease)
	if _, err := n.store.CreateNotification(ctx, note); err != nil {
		return fmt.Errorf("storing notification: %w", err)
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.Notify(context.WithoutCancel(ctx), note); err != nil {
			n.logger.Warn("notification not delivered", "deployment_id", note.DeploymentID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until background deliveries started by Enqueue finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Notify makes one delivery round for note and persists the outcome.
// It returns the delivery error, if any, after the state has been stored.
func (n *Notifier) Notify(ctx context.Context, note *db.Notification) error {
	permanent := false
	op := func() (int, error) {
		status, err := n.post(ctx, note)
		if err != nil {
			var pe *backoff.PermanentError
			permanent = errors.As(err, &pe)
			return status, err
		}
		if status >= 200 && status < 300 {
			return status, nil
		}
		statusErr := fmt.Errorf("evaluation endpoint returned %d", status)
		if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			permanent = true
			return status, backoff.Permanent(statusErr)
		}
		return status, statusErr
	}

	_, deliverErr := backoff.Retry(ctx, op,
		backoff.WithBackOff(n.newBackOff()),
		backoff.WithMaxTries(n.tries),
	)

	note.Attempts++
	switch {
	case deliverErr == nil:
		note.Status = db.NotificationDelivered
		note.LastError = ""
		n.logger.Info("notification delivered", "deployment_id", note.DeploymentID, "attempts", note.Attempts)
	case permanent || note.Attempts >= n.maxAttempts:
		note.Status = db.NotificationFailed
		note.LastError = deliverErr.Error()
		n.logger.Error("notification failed", "deployment_id", note.DeploymentID, "attempts", note.Attempts, "error", deliverErr)
	default:
		note.Status = db.NotificationPending
		note.LastError = deliverErr.Error()
		note.NextAttemptAt = n.now().Add(n.retryDelay(note.Attempts))
		n.logger.Warn("notification deferred", "deployment_id", note.DeploymentID, "attempts", note.Attempts,
			"next_attempt_at", note.NextAttemptAt, "error", deliverErr)
	}

	if err := n.store.UpdateNotification(context.WithoutCancel(ctx), note); err != nil {
		return errors.Join(deliverErr, fmt.Errorf("updating notification: %w", err))
	}
	return deliverErr
}

// retryDelay doubles from retryBase per attempt, capped at retryCap.
func (n *Notifier) retryDelay(attempts int) time.Duration {
	d := n.retryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= n.retryCap {
			return n.retryCap
		}
	}
	return d
}

func (n *Notifier) post(ctx context.Context, note *db.Notification) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, note.URL, bytes.NewReader([]byte(note.Payload)))
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("posting notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
	return resp.StatusCode, nil
}
