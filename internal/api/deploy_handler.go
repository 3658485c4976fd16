package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/radutopala/llmdeploy/internal/deploy"
)

type deployRequest struct {
	Email         string `json:"email"`
	Secret        string `json:"secret"`
	Task          string `json:"task"`
	Round         *int   `json:"round"`
	Nonce         string `json:"nonce"`
	Brief         string `json:"brief"`
	EvaluationURL string `json:"evaluation_url"`
}

type deployResponse struct {
	Status       string `json:"status"`
	RepoURL      string `json:"repo_url"`
	PagesURL     string `json:"pages_url"`
	DeploymentID string `json:"deployment_id"`
	CommitSHA    string `json:"commit_sha"`
}

type rootResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{OK: true, Message: "LLM Deployment API is live"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if !s.validSecret(req.Secret) {
		s.logger.Warn("rejected build request", "task", req.Task, "reason", "invalid secret")
		writeError(w, http.StatusForbidden, "Invalid secret")
		return
	}

	if missing := missingFields(req); len(missing) > 0 {
		writeError(w, http.StatusUnprocessableEntity, "missing required fields: "+strings.Join(missing, ", "))
		return
	}

	// A dropped client must not abort a build halfway through its push.
	res, err := s.deployer.Deploy(context.WithoutCancel(r.Context()), deploy.Request{
		Email:         req.Email,
		Task:          req.Task,
		Round:         *req.Round,
		Nonce:         req.Nonce,
		Brief:         req.Brief,
		EvaluationURL: req.EvaluationURL,
	})
	if err != nil {
		writeError(w, deployErrorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, deployResponse{
		Status:       "success",
		RepoURL:      res.RepoURL,
		PagesURL:     res.PagesURL,
		DeploymentID: res.DeploymentID,
		CommitSHA:    res.CommitSHA,
	})
}

// validSecret rejects everything when no secret is configured.
func (s *Server) validSecret(got string) bool {
	if s.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) == 1
}

func missingFields(req deployRequest) []string {
	var missing []string
	for _, f := range []struct {
		name    string
		present bool
	}{
		{"email", req.Email != ""},
		{"task", req.Task != ""},
		{"round", req.Round != nil},
		{"nonce", req.Nonce != ""},
	} {
		if !f.present {
			missing = append(missing, f.name)
		}
	}
	return missing
}

func deployErrorStatus(err error) int {
	var validationErr *deploy.ValidationError
	var stepErr *deploy.StepError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &stepErr) && stepErr.Step == deploy.StepRecord:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}
