package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/radutopala/llmdeploy/internal/db"
)

type evaluationResponse struct {
	OK       bool           `json:"ok"`
	Received map[string]any `json:"received"`
}

type storedEvaluation struct {
	ID         int64           `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

func (s *Server) handleEvaluation(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if !decodeJSON(w, r, &data) {
		return
	}
	if data == nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := s.store.InsertEvaluation(r.Context(), &db.Evaluation{Payload: string(payload)})
	if err != nil {
		s.logger.Error("storing evaluation", "error", err)
		writeError(w, http.StatusInternalServerError, "storing evaluation failed")
		return
	}

	s.logger.Info("evaluation received", "evaluation_id", id, "keys", len(data))
	writeJSON(w, http.StatusOK, evaluationResponse{OK: true, Received: data})
}

func (s *Server) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	evals, err := s.store.ListEvaluations(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]storedEvaluation, 0, len(evals))
	for _, e := range evals {
		payload := json.RawMessage(e.Payload)
		if !json.Valid(payload) {
			payload = json.RawMessage("null")
		}
		resp = append(resp, storedEvaluation{ID: e.ID, Payload: payload, ReceivedAt: e.ReceivedAt})
	}
	writeJSON(w, http.StatusOK, resp)
}
