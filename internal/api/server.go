package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/radutopala/llmdeploy/internal/db"
	"github.com/radutopala/llmdeploy/internal/deploy"
)

// Deployer runs a build request.
type Deployer interface {
	Deploy(ctx context.Context, req deploy.Request) (*deploy.Result, error)
}

// Store is the subset of db.Store the API reads and writes.
type Store interface {
	GetDeployment(ctx context.Context, deploymentID string) (*db.Deployment, error)
	ListDeployments(ctx context.Context, limit int) ([]*db.Deployment, error)
	InsertEvaluation(ctx context.Context, e *db.Evaluation) (int64, error)
	ListEvaluations(ctx context.Context, limit int) ([]*db.Evaluation, error)
}

// Server exposes the build endpoint, the evaluation receiver and
// read-only views of stored deployments.
type Server struct {
	deployer Deployer
	store    Store
	secret   string
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
}

// NewServer creates a new API server. Build requests must carry secret.
func NewServer(deployer Deployer, store Store, secret string, logger *slog.Logger) *Server {
	return &Server{
		deployer: deployer,
		store:    store,
		secret:   secret,
		logger:   logger,
	}
}

// Handler returns the routed handler wrapped in request ID and access log
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api-endpoint", s.handleDeploy)
	mux.HandleFunc("POST /evaluation", s.handleEvaluation)
	mux.HandleFunc("GET /api/deployments", s.handleListDeployments)
	mux.HandleFunc("GET /api/deployments/{id}", s.handleGetDeployment)
	mux.HandleFunc("GET /api/evaluations", s.handleListEvaluations)
	mux.HandleFunc("GET /api/readme", s.handleGetReadme)
	return s.withRequestID(s.withAccessLog(mux))
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", err)
		}
	}()

	s.logger.Info("api server started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
