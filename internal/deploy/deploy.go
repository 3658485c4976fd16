package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/radutopala/llmdeploy/internal/db"
	"github.com/radutopala/llmdeploy/internal/generator"
	"github.com/radutopala/llmdeploy/internal/notifier"
)

// Pipeline step names reported in StepError.
const (
	StepRecord     = "record"
	StepCreateRepo = "create_repo"
	StepGenerate   = "generate"
	StepPublish    = "publish"
)

const commitMessage = "initial commit"

// StepError reports which pipeline step failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ValidationError lists the problems found in a build request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + strings.Join(e.Problems, "; ")
}

// Request is a build request for one round of a task.
type Request struct {
	Email         string
	Task          string
	Round         int
	Nonce         string
	Brief         string
	EvaluationURL string
}

var taskRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Validate checks the fields needed to name, build and report a repository.
func (r Request) Validate() error {
	var missing, problems []string
	for _, f := range []struct{ name, value string }{
		{"email", r.Email},
		{"task", r.Task},
		{"nonce", r.Nonce},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		problems = append(problems, "missing required fields: "+strings.Join(missing, ", "))
	}
	if r.Task != "" && !taskRe.MatchString(r.Task) {
		problems = append(problems, fmt.Sprintf("task %q must contain only letters, digits, '.', '_' or '-'", r.Task))
	}
	if r.Round < 0 {
		problems = append(problems, "round must not be negative")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// RepoName returns the repository name for the request.
func (r Request) RepoName() string {
	return fmt.Sprintf("%s-round%d", r.Task, r.Round)
}

// Result describes a successful deployment.
type Result struct {
	DeploymentID string
	RepoName     string
	RepoURL      string
	PagesURL     string
	CommitSHA    string
	Generated    bool
	PagesEnabled bool
}

// RepoHost creates repositories and serves their pages.
type RepoHost interface {
	CreateRepo(ctx context.Context, name string) error
	EnablePages(ctx context.Context, repo string) error
	RepoURL(repo string) string
	PagesURL(repo string) string
	CloneURL(repo string) string
}

// SiteGenerator renders the files of a repository.
type SiteGenerator interface {
	Generate(ctx context.Context, b generator.Brief) (*generator.Site, error)
}

// Publisher commits files to a remote repository.
type Publisher interface {
	Publish(ctx context.Context, cloneURL string, files map[string][]byte, message string) (string, error)
}

// Notifier reports finished deployments to their evaluation URL.
type Notifier interface {
	Enqueue(ctx context.Context, n *db.Notification) error
}

// Store is the subset of db.Store the deployer needs.
type Store interface {
	CreateDeployment(ctx context.Context, d *db.Deployment) (int64, error)
	UpdateDeployment(ctx context.Context, d *db.Deployment) error
}

// Deployer runs the build pipeline for a request.
type Deployer struct {
	store     Store
	host      RepoHost
	generator SiteGenerator
	publisher Publisher
	notifier  Notifier
	queue     *RepoQueue
	timeout   time.Duration
	logger    *slog.Logger
	newID     func() string
	evalURL   string
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithEvaluationURL sets the URL notified when a request carries none.
func WithEvaluationURL(url string) Option {
	return func(d *Deployer) { d.evalURL = url }
}

// New creates a Deployer. notifier may be nil to skip result reporting.
func New(store Store, host RepoHost, gen SiteGenerator, pub Publisher, n Notifier, timeout time.Duration, logger *slog.Logger, opts ...Option) *Deployer {
	d := &Deployer{
		store:     store,
		host:      host,
		generator: gen,
		publisher: pub,
		notifier:  n,
		queue:     NewRepoQueue(),
		timeout:   timeout,
		logger:    logger,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deploy validates req, then creates, fills and publishes its repository.
// Builds of the same repository name run one at a time.
func (d *Deployer) Deploy(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.EvaluationURL == "" {
		req.EvaluationURL = d.evalURL
	}
	repo := req.RepoName()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if d.queue.Busy(repo) {
		d.logger.Info("waiting for repo", "repo", repo, "task", req.Task, "round", req.Round)
	}
	if err := d.queue.Acquire(ctx, repo); err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", repo, err)
	}
	defer d.queue.Release(repo)

	dep := &db.Deployment{
		DeploymentID:  d.newID(),
		Email:         req.Email,
		Task:          req.Task,
		Round:         req.Round,
		Nonce:         req.Nonce,
		Brief:         req.Brief,
		EvaluationURL: req.EvaluationURL,
		RepoName:      repo,
		Status:        db.DeploymentRunning,
	}
	if _, err := d.store.CreateDeployment(ctx, dep); err != nil {
		return nil, &StepError{Step: StepRecord, Err: err}
	}

	start := time.Now()
	d.logger.Info("build start", "deployment_id", dep.DeploymentID, "repo", repo, "task", req.Task, "round", req.Round)

	res, err := d.run(ctx, dep, req)

	// The row must be finalized even if the request context is gone.
	finishCtx := context.WithoutCancel(ctx)
	if err != nil {
		dep.Status = db.DeploymentFailed
		dep.ErrorText = err.Error()
	} else {
		dep.Status = db.DeploymentSuccess
		dep.RepoURL = res.RepoURL
		dep.PagesURL = res.PagesURL
		dep.CommitSHA = res.CommitSHA
	}
	if uerr := d.store.UpdateDeployment(finishCtx, dep); uerr != nil {
		d.logger.Error("updating deployment", "deployment_id", dep.DeploymentID, "error", uerr)
	}

	if err != nil {
		d.logger.Error("build failed", "deployment_id", dep.DeploymentID, "repo", repo, "error", err,
			"duration", time.Since(start).Round(time.Millisecond))
		return nil, err
	}
	d.logger.Info("build done", "deployment_id", dep.DeploymentID, "repo", repo, "commit_sha", res.CommitSHA,
		"generated", res.Generated, "pages_enabled", res.PagesEnabled, "duration", time.Since(start).Round(time.Millisecond))

	d.notify(finishCtx, dep, req)
	return res, nil
}

func (d *Deployer) run(ctx context.Context, dep *db.Deployment, req Request) (*Result, error) {
	repo := dep.RepoName
	res := &Result{
		DeploymentID: dep.DeploymentID,
		RepoName:     repo,
		RepoURL:      d.host.RepoURL(repo),
		PagesURL:     d.host.PagesURL(repo),
	}

	if err := d.host.CreateRepo(ctx, repo); err != nil {
		return nil, &StepError{Step: StepCreateRepo, Err: err}
	}
	d.logger.Info("repo created", "repo", repo, "repo_url", res.RepoURL)

	site, err := d.generator.Generate(ctx, generator.Brief{
		RepoName: repo,
		Task:     req.Task,
		Round:    req.Round,
		Brief:    req.Brief,
		PagesURL: res.PagesURL,
	})
	if err != nil {
		return nil, &StepError{Step: StepGenerate, Err: err}
	}
	res.Generated = site.Generated

	sha, err := d.publisher.Publish(ctx, d.host.CloneURL(repo), site.Files, commitMessage)
	if err != nil {
		return nil, &StepError{Step: StepPublish, Err: err}
	}
	res.CommitSHA = sha
	d.logger.Info("code pushed", "repo", repo, "commit_sha", sha)

	if err := d.host.EnablePages(ctx, repo); err != nil {
		d.logger.Warn("pages setup failed", "repo", repo, "error", err)
	} else {
		res.PagesEnabled = true
	}
	return res, nil
}

func (d *Deployer) notify(ctx context.Context, dep *db.Deployment, req Request) {
	if d.notifier == nil || req.EvaluationURL == "" {
		return
	}
	note, err := notifier.NewNotification(dep.DeploymentID, req.EvaluationURL, notifier.Payload{
		Email:     req.Email,
		Task:      req.Task,
		Round:     req.Round,
		Nonce:     req.Nonce,
		RepoURL:   dep.RepoURL,
		CommitSHA: dep.CommitSHA,
		PagesURL:  dep.PagesURL,
	})
	if err == nil {
		err = d.notifier.Enqueue(ctx, note)
	}
	if err != nil {
		d.logger.Error("enqueueing notification", "deployment_id", dep.DeploymentID, "error", err)
	}
}
