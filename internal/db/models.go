package db

import "time"

// Deployment records one build request and the outcome of its pipeline.
type Deployment struct {
	ID            int64            `json:"id"`
	DeploymentID  string           `json:"deployment_id"`
	Email         string           `json:"email"`
	Task          string           `json:"task"`
	Round         int              `json:"round"`
	Nonce         string           `json:"nonce"`
	Brief         string           `json:"brief"`
	EvaluationURL string           `json:"evaluation_url"`
	RepoName      string           `json:"repo_name"`
	RepoURL       string           `json:"repo_url"`
	PagesURL      string           `json:"pages_url"`
	CommitSHA     string           `json:"commit_sha"`
	Status        DeploymentStatus `json:"status"`
	ErrorText     string           `json:"error_text"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// DeploymentStatus represents the lifecycle state of a deployment.
type DeploymentStatus string

const (
	DeploymentPending DeploymentStatus = "pending"
	DeploymentRunning DeploymentStatus = "running"
	DeploymentSuccess DeploymentStatus = "success"
	DeploymentFailed  DeploymentStatus = "failed"
)

// Finished reports whether the deployment reached a terminal state.
func (s DeploymentStatus) Finished() bool {
	return s == DeploymentSuccess || s == DeploymentFailed
}

// Evaluation is a raw payload received on the evaluation endpoint.
type Evaluation struct {
	ID         int64     `json:"id"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// Notification is an outgoing deployment report awaiting delivery.
type Notification struct {
	ID            int64              `json:"id"`
	DeploymentID  string             `json:"deployment_id"`
	URL           string             `json:"url"`
	Payload       string             `json:"payload"`
	Attempts      int                `json:"attempts"`
	Status        NotificationStatus `json:"status"`
	LastError     string             `json:"last_error"`
	NextAttemptAt time.Time          `json:"next_attempt_at"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// NotificationStatus represents the delivery state of a notification.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationFailed    NotificationStatus = "failed"
)
