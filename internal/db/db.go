package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store defines all database operations.
type Store interface {
	CreateDeployment(ctx context.Context, d *Deployment) (int64, error)
	UpdateDeployment(ctx context.Context, d *Deployment) error
	GetDeployment(ctx context.Context, deploymentID string) (*Deployment, error)
	ListDeployments(ctx context.Context, limit int) ([]*Deployment, error)
	InsertEvaluation(ctx context.Context, e *Evaluation) (int64, error)
	ListEvaluations(ctx context.Context, limit int) ([]*Evaluation, error)
	CreateNotification(ctx context.Context, n *Notification) (int64, error)
	UpdateNotification(ctx context.Context, n *Notification) error
	GetDueNotifications(ctx context.Context, now time.Time) ([]*Notification, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// sqlOpenFunc is a package-level variable to allow testing sql.Open failures.
var sqlOpenFunc = sql.Open

// NewSQLiteStore opens a SQLite database and returns a new SQLiteStore.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sqlOpenFunc("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite allows a single writer; one connection also keeps :memory: databases coherent.
	sqlDB.SetMaxOpenConns(1)

	if err := initDB(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &SQLiteStore{db: sqlDB}, nil
}

// initDB configures pragmas and runs migrations on an open database connection.
func initDB(sqlDB *sql.DB) error {
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := RunMigrations(context.Background(), sqlDB); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

// NewSQLiteStoreFromDB creates a SQLiteStore from an existing *sql.DB connection.
func NewSQLiteStoreFromDB(sqlDB *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: sqlDB}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const deploymentColumns = `id, deployment_id, email, task, round, nonce, brief, evaluation_url, repo_name,
	repo_url, pages_url, commit_sha, status, error_text, created_at, updated_at`

func (s *SQLiteStore) CreateDeployment(ctx context.Context, d *Deployment) (int64, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO deployments (deployment_id, email, task, round, nonce, brief, evaluation_url, repo_name, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.DeploymentID, d.Email, d.Task, d.Round, d.Nonce, d.Brief, d.EvaluationURL, d.RepoName, string(d.Status), now, now,
	)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	d.ID = id
	d.CreatedAt = now
	d.UpdatedAt = now
	return id, nil
}

func (s *SQLiteStore) UpdateDeployment(ctx context.Context, d *Deployment) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE deployments SET repo_url = ?, pages_url = ?, commit_sha = ?, status = ?, error_text = ?, updated_at = ?
		 WHERE deployment_id = ?`,
		d.RepoURL, d.PagesURL, d.CommitSHA, string(d.Status), d.ErrorText, now, d.DeploymentID,
	)
	if err != nil {
		return err
	}
	d.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, deploymentID string) (*Deployment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE deployment_id = ?`,
		deploymentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments, err := scanDeployments(rows)
	if err != nil {
		return nil, err
	}
	if len(deployments) == 0 {
		return nil, nil
	}
	return deployments[0], nil
}

func (s *SQLiteStore) ListDeployments(ctx context.Context, limit int) ([]*Deployment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeployments(rows)
}

func (s *SQLiteStore) InsertEvaluation(ctx context.Context, e *Evaluation) (int64, error) {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO evaluations (payload, received_at) VALUES (?, ?)`,
		e.Payload, e.ReceivedAt.UTC(),
	)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	e.ID = id
	return id, nil
}

func (s *SQLiteStore) ListEvaluations(ctx context.Context, limit int) ([]*Evaluation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload, received_at FROM evaluations ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evals []*Evaluation
	for rows.Next() {
		e := &Evaluation{}
		if err := rows.Scan(&e.ID, &e.Payload, &e.ReceivedAt); err != nil {
			return nil, err
		}
		evals = append(evals, e)
	}
	return evals, rows.Err()
}

func (s *SQLiteStore) CreateNotification(ctx context.Context, n *Notification) (int64, error) {
	now := time.Now().UTC()
	if n.Status == "" {
		n.Status = NotificationPending
	}
	if n.NextAttemptAt.IsZero() {
		n.NextAttemptAt = now
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (deployment_id, url, payload, attempts, status, last_error, next_attempt_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.DeploymentID, n.URL, n.Payload, n.Attempts, string(n.Status), n.LastError, n.NextAttemptAt.UTC(), now, now,
	)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	n.ID = id
	n.CreatedAt = now
	n.UpdatedAt = now
	return id, nil
}

func (s *SQLiteStore) UpdateNotification(ctx context.Context, n *Notification) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET attempts = ?, status = ?, last_error = ?, next_attempt_at = ?, updated_at = ? WHERE id = ?`,
		n.Attempts, string(n.Status), n.LastError, n.NextAttemptAt.UTC(), now, n.ID,
	)
	if err != nil {
		return err
	}
	n.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) GetDueNotifications(ctx context.Context, now time.Time) ([]*Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, deployment_id, url, payload, attempts, status, last_error, next_attempt_at, created_at, updated_at
		 FROM notifications WHERE status = 'pending' AND next_attempt_at <= ? ORDER BY next_attempt_at ASC`,
		now.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []*Notification
	for rows.Next() {
		n := &Notification{}
		var status string
		var next sql.NullTime
		if err := rows.Scan(
			&n.ID, &n.DeploymentID, &n.URL, &n.Payload, &n.Attempts,
			&status, &n.LastError, &next, &n.CreatedAt, &n.UpdatedAt,
		); err != nil {
			return nil, err
		}
		n.Status = NotificationStatus(status)
		if next.Valid {
			n.NextAttemptAt = next.Time
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// PruneBefore removes evaluations, settled notifications and finished
// deployments last touched before cutoff. Deployments with remaining
// notifications are kept. Returns the number of rows removed.
func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	statements := []struct {
		what  string
		query string
	}{
		{"notifications", `DELETE FROM notifications WHERE status != 'pending' AND updated_at < ?`},
		{"evaluations", `DELETE FROM evaluations WHERE received_at < ?`},
		{"deployments", `DELETE FROM deployments WHERE status IN ('success', 'failed') AND updated_at < ?
			AND deployment_id NOT IN (SELECT deployment_id FROM notifications)`},
	}

	var total int64
	for _, st := range statements {
		result, err := s.db.ExecContext(ctx, st.query, cutoff)
		if err != nil {
			return total, fmt.Errorf("pruning %s: %w", st.what, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("pruning %s: %w", st.what, err)
		}
		total += n
	}
	return total, nil
}

// helpers

func scanDeployments(rows *sql.Rows) ([]*Deployment, error) {
	var deployments []*Deployment
	for rows.Next() {
		d := &Deployment{}
		var status string
		if err := rows.Scan(
			&d.ID, &d.DeploymentID, &d.Email, &d.Task, &d.Round, &d.Nonce, &d.Brief,
			&d.EvaluationURL, &d.RepoName, &d.RepoURL, &d.PagesURL, &d.CommitSHA,
			&status, &d.ErrorText, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		d.Status = DeploymentStatus(status)
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}
