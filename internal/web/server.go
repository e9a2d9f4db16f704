// Package web serves AutoFlow's HTTP surface: the GitHub webhook endpoint,
// a small JSON API, and a Server-Sent Events stream of execution changes.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/db"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/poller"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/realtime"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/webhook"
)

const (
	maxWebhookBodySize = 25 << 20
	maxJSONBodySize    = 64 << 10
	shutdownTimeout    = 10 * time.Second
)

// Store is the read side of the database the API exposes.
type Store interface {
	ListPipelines(ctx context.Context, activeOnly bool) ([]db.Pipeline, error)
	GetPipeline(ctx context.Context, id int64) (*db.Pipeline, error)
	ListExecutions(ctx context.Context, pipelineID int64, limit int) ([]db.Execution, error)
	GetExecution(ctx context.Context, id int64) (*db.Execution, error)
}

// WebhookApplier handles verified deliveries.
type WebhookApplier interface {
	Apply(ctx context.Context, d webhook.Delivery) (webhook.Result, error)
}

// Syncer runs polls on demand.
type Syncer interface {
	PollOnce(ctx context.Context) (*poller.Result, error)
	PollPipeline(ctx context.Context, id int64) (*poller.Result, error)
}

// Credentials accepts per-pipeline tokens.
type Credentials interface {
	Set(pipelineID int64, token string)
	Clear(pipelineID int64)
}

// Listeners registers realtime sinks.
type Listeners interface {
	Register(s realtime.Sink) string
	Unregister(id string)
}

// Deps wires a Server. Syncer and Listeners may be nil, in which case the
// matching routes answer 503.
type Deps struct {
	Store       Store
	Webhooks    WebhookApplier
	Syncer      Syncer
	Credentials Credentials
	Listeners   Listeners
	Logger      *zap.Logger
}

// Server is the HTTP server.
type Server struct {
	addr   string
	deps   Deps
	logger *zap.Logger
	mux    *http.ServeMux
}

// NewServer creates a Server listening on addr once Run is called.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{addr: addr, deps: deps, logger: logger.Named("web")}
	s.mux = s.routes()
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/webhooks/github", s.handleWebhook)
	mux.HandleFunc("/api/sync", s.handleSync)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/pipelines", s.handleListPipelines)
	mux.HandleFunc("/api/pipelines/", s.routePipeline)
	mux.HandleFunc("/api/executions/", s.routeExecution)
	return mux
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// routePipeline handles /api/pipelines/{id}/executions,
// /api/pipelines/{id}/credential and /api/pipelines/{id}/sync.
func (s *Server) routePipeline(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/pipelines/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid pipeline id")
		return
	}
	switch parts[1] {
	case "executions":
		s.handleListExecutions(w, r, id)
	case "credential":
		s.handleCredential(w, r, id)
	case "sync":
		s.handleSyncPipeline(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) routeExecution(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/executions/"), "/")
	if rest == "" || strings.Contains(rest, "/") {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid execution id")
		return
	}
	s.handleGetExecution(w, r, id)
}
