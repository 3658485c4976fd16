package gitrepo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Commander abstracts shell command execution for testability.
type Commander interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecCommander implements Commander using os/exec.
type ExecCommander struct{}

// Run executes a command and returns its combined stdout/stderr output.
func (c *ExecCommander) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Identity is the author recorded on pushed commits.
type Identity struct {
	Name  string
	Email string
}

// Publisher clones a repository, commits a set of files and pushes them.
type Publisher struct {
	gitBin    string
	identity  Identity
	commander Commander
	fs        afero.Fs
	redact    func(string) string
	logger    *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithCommander sets the command executor.
func WithCommander(c Commander) Option {
	return func(p *Publisher) { p.commander = c }
}

// WithFs sets the filesystem used for the working copy.
func WithFs(fs afero.Fs) Option {
	return func(p *Publisher) { p.fs = fs }
}

// WithRedactor sets the function that scrubs credentials from git output.
func WithRedactor(fn func(string) string) Option {
	return func(p *Publisher) { p.redact = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// NewPublisher creates a Publisher that runs gitBin with the given identity.
func NewPublisher(gitBin string, identity Identity, opts ...Option) *Publisher {
	p := &Publisher{
		gitBin:    gitBin,
		identity:  identity,
		commander: &ExecCommander{},
		fs:        afero.NewOsFs(),
		redact:    func(s string) string { return s },
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish clones cloneURL into a temporary working copy, writes files,
// commits them with message and pushes. It returns the pushed commit SHA.
func (p *Publisher) Publish(ctx context.Context, cloneURL string, files map[string][]byte, message string) (string, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		if err := validName(name); err != nil {
			return "", err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	dir, err := afero.TempDir(p.fs, "", "llmdeploy-")
	if err != nil {
		return "", fmt.Errorf("creating working directory: %w", err)
	}
	defer func() {
		if err := p.fs.RemoveAll(dir); err != nil {
			p.logger.Warn("removing working directory", "dir", dir, "error", err)
		}
	}()

	if _, err := p.git(ctx, "clone", cloneURL, dir); err != nil {
		return "", err
	}

	for _, name := range names {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := p.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("creating directory for %s: %w", name, err)
		}
		if err := afero.WriteFile(p.fs, path, files[name], 0o644); err != nil {
			return "", fmt.Errorf("writing %s: %w", name, err)
		}
	}

	steps := [][]string{
		{"-C", dir, "config", "user.email", p.identity.Email},
		{"-C", dir, "config", "user.name", p.identity.Name},
		{"-C", dir, "add", "."},
		{"-C", dir, "commit", "-m", message},
		{"-C", dir, "push"},
	}
	for _, args := range steps {
		if _, err := p.git(ctx, args...); err != nil {
			return "", err
		}
	}

	out, err := p.git(ctx, "-C", dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	sha := strings.TrimSpace(string(out))
	p.logger.Debug("pushed commit", "sha", sha, "files", len(names))
	return sha, nil
}

func (p *Publisher) git(ctx context.Context, args ...string) ([]byte, error) {
	out, err := p.commander.Run(ctx, p.gitBin, args...)
	if err != nil {
		return out, fmt.Errorf("git %s: %s: %w", subcommand(args), p.redact(strings.TrimSpace(string(out))), err)
	}
	return out, nil
}

// subcommand returns the git subcommand name, skipping a leading "-C dir".
func subcommand(args []string) string {
	if len(args) >= 3 && args[0] == "-C" {
		return args[2]
	}
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func validName(name string) error {
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(name)))
	if name == "" || filepath.IsAbs(name) || clean == ".." || strings.HasPrefix(clean, "../") || clean == "." {
		return fmt.Errorf("invalid file path %q", name)
	}
	if clean == ".git" || strings.HasPrefix(clean, ".git/") {
		return fmt.Errorf("refusing to write into .git: %q", name)
	}
	return nil
}
