package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/db"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/poller"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/webhook"
)

const defaultExecutionLimit = 50

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// storeError maps a store failure to 503 when the store is unreachable.
func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, db.ErrStoreUnavailable) {
		s.logger.Error(op, zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.logger.Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		s.logger.Error("read webhook body", zap.Error(err))
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty body")
		return
	}

	res, err := s.deps.Webhooks.Apply(r.Context(), webhook.Delivery{
		ID:        r.Header.Get("X-GitHub-Delivery"),
		Event:     r.Header.Get("X-GitHub-Event"),
		Signature: r.Header.Get(webhook.SignatureHeader),
		Body:      body,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, webhook.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, webhook.ErrMalformedPayload):
		writeError(w, http.StatusBadRequest, "malformed payload")
	default:
		s.storeError(w, "apply webhook", err)
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if s.deps.Syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "polling disabled")
		return
	}
	res, err := s.deps.Syncer.PollOnce(r.Context())
	if err != nil {
		s.storeError(w, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSyncPipeline(w http.ResponseWriter, r *http.Request, pipelineID int64) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if s.deps.Syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "polling disabled")
		return
	}
	res, err := s.deps.Syncer.PollPipeline(r.Context(), pipelineID)
	if errors.Is(err, poller.ErrPipelineNotFound) {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	if err != nil {
		s.storeError(w, "sync pipeline", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"
	pipelines, err := s.deps.Store.ListPipelines(r.Context(), activeOnly)
	if err != nil {
		s.storeError(w, "list pipelines", err)
		return
	}
	if pipelines == nil {
		pipelines = []db.Pipeline{}
	}
	writeJSON(w, http.StatusOK, pipelines)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request, pipelineID int64) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	limit := defaultExecutionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	p, err := s.deps.Store.GetPipeline(r.Context(), pipelineID)
	if err != nil {
		s.storeError(w, "get pipeline", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	execs, err := s.deps.Store.ListExecutions(r.Context(), pipelineID, limit)
	if err != nil {
		s.storeError(w, "list executions", err)
		return
	}
	if execs == nil {
		execs = []db.Execution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request, id int64) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	e, err := s.deps.Store.GetExecution(r.Context(), id)
	if err != nil {
		s.storeError(w, "get execution", err)
		return
	}
	if e == nil {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type credentialRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleCredential(w http.ResponseWriter, r *http.Request, pipelineID int64) {
	if !allow(w, r, http.MethodPut, http.MethodDelete) {
		return
	}
	if s.deps.Credentials == nil {
		writeError(w, http.StatusServiceUnavailable, "credentials disabled")
		return
	}

	p, err := s.deps.Store.GetPipeline(r.Context(), pipelineID)
	if err != nil {
		s.storeError(w, "get pipeline", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}

	if r.Method == http.MethodDelete {
		s.deps.Credentials.Clear(pipelineID)
		s.logger.Info("credential cleared", zap.Int64("pipeline_id", pipelineID))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var req credentialRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	s.deps.Credentials.Set(pipelineID, strings.TrimSpace(req.Token))
	s.logger.Info("credential set", zap.Int64("pipeline_id", pipelineID))
	w.WriteHeader(http.StatusNoContent)
}
