package api

import (
	"net/http"
	"time"

	"github.com/radutopala/llmdeploy/internal/db"
)

type deploymentResponse struct {
	DeploymentID  string    `json:"deployment_id"`
	Email         string    `json:"email"`
	Task          string    `json:"task"`
	Round         int       `json:"round"`
	Nonce         string    `json:"nonce"`
	EvaluationURL string    `json:"evaluation_url"`
	RepoName      string    `json:"repo_name"`
	RepoURL       string    `json:"repo_url,omitempty"`
	PagesURL      string    `json:"pages_url,omitempty"`
	CommitSHA     string    `json:"commit_sha,omitempty"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toDeploymentResponse(d *db.Deployment) deploymentResponse {
	return deploymentResponse{
		DeploymentID:  d.DeploymentID,
		Email:         d.Email,
		Task:          d.Task,
		Round:         d.Round,
		Nonce:         d.Nonce,
		EvaluationURL: d.EvaluationURL,
		RepoName:      d.RepoName,
		RepoURL:       d.RepoURL,
		PagesURL:      d.PagesURL,
		CommitSHA:     d.CommitSHA,
		Status:        string(d.Status),
		Error:         d.ErrorText,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	deps, err := s.store.ListDeployments(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]deploymentResponse, 0, len(deps))
	for _, d := range deps {
		resp = append(resp, toDeploymentResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDeployment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "deployment not found")
		return
	}
	writeJSON(w, http.StatusOK, toDeploymentResponse(d))
}
