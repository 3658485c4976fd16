package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/radutopala/llmdeploy/internal/api"
	"github.com/radutopala/llmdeploy/internal/deploy"
	"github.com/radutopala/llmdeploy/internal/generator"
	"github.com/radutopala/llmdeploy/internal/github"
	"github.com/radutopala/llmdeploy/internal/gitrepo"
	"github.com/radutopala/llmdeploy/internal/logging"
	"github.com/radutopala/llmdeploy/internal/notifier"
	"github.com/radutopala/llmdeploy/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

// stopTimeout bounds the API drain. Builds run inside request handlers, so
// the drain must outlast the longest build or the store closes under it.
func stopTimeout(deployTimeout time.Duration) time.Duration {
	if deployTimeout > 0 {
		return deployTimeout + shutdownTimeout
	}
	return shutdownTimeout
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Start the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			return serve(addr)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (overrides api_addr)")
	return cmd
}

// apiServer is the interface used by serve() to decouple from api.Server for testing.
type apiServer interface {
	Start(addr string) error
	Stop(ctx context.Context) error
}

var newAPIServer = func(d api.Deployer, store api.Store, secret string, logger *slog.Logger) apiServer {
	return api.NewServer(d, store, secret, logger)
}

var notifyContext = func(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

var newLogger = logging.NewLogger

func serve(addr string) error {
	cfg, err := configLoad()
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.APIAddr
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting llmdeploy", "version", version, "environment", cfg.Environment, "db_path", cfg.DBPath)
	if missing := cfg.Missing(); len(missing) > 0 {
		logger.Warn("missing settings, some requests will fail", "names", strings.Join(missing, ", "))
	}

	if err := osMkdirAll(filepath.Dir(cfg.DBPath), 0700); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	store, err := newSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	gh := github.NewClient(cfg.GitHubOwner, cfg.GitHubToken, github.WithAPIURL(cfg.GitHubAPIURL))

	var completer generator.Completer
	if cfg.OpenAIAPIKey != "" {
		completer = generator.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel)
	} else {
		logger.Info("no OpenAI key configured, publishing the static page")
	}
	gen, err := generator.New(completer, cfg.GitHubOwner, logger)
	if err != nil {
		return fmt.Errorf("creating generator: %w", err)
	}

	pub := gitrepo.NewPublisher(cfg.GitBinPath,
		gitrepo.Identity{Name: cfg.GitAuthorName, Email: cfg.GitAuthorEmail},
		gitrepo.WithRedactor(gh.Redact),
		gitrepo.WithLogger(logger),
	)

	notif := notifier.New(store, cfg.NotifyMaxAttempts, logger)
	deployer := deploy.New(store, gh, gen, pub, notif, cfg.DeployTimeout, logger,
		deploy.WithEvaluationURL(cfg.EvaluationURL))

	sched, err := scheduler.New(store, notif, cfg.PollInterval, cfg.PruneSchedule, cfg.RetentionDays, logger)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	ctx, cancel := notifyContext(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	apiSrv := newAPIServer(deployer, store, cfg.StudentSecret, logger)
	if err := apiSrv.Start(addr); err != nil {
		cancel()
		_ = sched.Stop()
		return fmt.Errorf("starting api server: %w", err)
	}
	logger.Info("listening", "addr", addr)

	<-ctx.Done()
	logger.Info("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout(cfg.DeployTimeout))
	defer stopCancel()
	if err := apiSrv.Stop(stopCtx); err != nil {
		logger.Error("api server stop error", "error", err)
	}
	if err := sched.Stop(); err != nil {
		logger.Error("scheduler stop error", "error", err)
	}
	notif.Wait()

	return nil
}
