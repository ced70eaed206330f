package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"genflow/internal/api"
	"genflow/internal/config"
	"genflow/internal/engine"
	"genflow/internal/generation"
	"genflow/internal/logging"
	"genflow/internal/logs"
	"genflow/internal/services"
)

const (
	maxRequestBody     = 1 << 20
	defaultEventsLimit = 200
	maxEventsLimit     = 1000
	// eventsWaitTimeout keeps long polls below the server write timeout.
	eventsWaitTimeout = 25 * time.Second
	requestIDHeader   = "X-Request-ID"
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	token := ""
	if bindConfigured(cfg) {
		srv.bind = strings.TrimSpace(cfg.Paths.APIBind)
		token = strings.TrimSpace(cfg.Paths.APIToken)
	}
	srv.handler = srv.routes(token)
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP, middleware.Recoverer, s.requestContext)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(token))

		r.Route("/generations", func(r chi.Router) {
			r.Post("/", s.handleSubmit)
			r.Get("/{id}", s.handleDescribe)
			r.Delete("/{id}", s.handleCancel)
			r.Post("/{id}/retry", s.handleRetry)
		})
		r.Get("/active", s.handleActive)
		r.Get("/active/{id}/stream", s.handleStream)
		r.Get("/history", s.handleHistory)
		r.Get("/stats", s.handleStats)
		r.Get("/status", s.handleStatus)
		r.Get("/events", s.handleEvents)
		r.Get("/logs", s.handleLogs)
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		s.logger.Info("api server disabled; paths.api_bind is empty")
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown incomplete", logging.Error(err))
		_ = server.Close()
	}
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// requestContext tags each request with a correlation id and logs its outcome.
func (s *apiServer) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		ctx := services.WithRequestID(r.Context(), requestID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		logging.WithContext(ctx, s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", time.Since(started)),
		)
	})
}

// Handler returns the API router without binding a listener.
func (d *Daemon) Handler() http.Handler {
	return d.api.handler
}

func (s *apiServer) engine() *engine.Engine {
	return s.daemon.engine
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	id := s.engine().StartGeneration(api.ToSubmission(req))
	logging.WithContext(r.Context(), s.logger).Info("generation submitted",
		logging.JobID(id),
		logging.Kind(req.Kind),
		logging.Provider(req.Provider),
		logging.EventType("generation_submitted"),
	)
	s.writeJSON(w, http.StatusAccepted, api.SubmitResponse{ID: id})
}

func (s *apiServer) handleDescribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res := s.engine().Lookup(id)
	if res.Location == engine.LocationUnknown {
		s.writeError(w, http.StatusNotFound, "generation not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromLookup(id, res))
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cancelled := s.engine().CancelGeneration(id)
	s.writeJSON(w, http.StatusOK, api.CancelResponse{ID: id, Cancelled: cancelled})
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	newID, ok := s.engine().RetryGeneration(id)
	if ok {
		s.writeJSON(w, http.StatusAccepted, api.RetryResponse{SourceID: id, ID: newID})
		return
	}
	switch s.engine().Lookup(id).Location {
	case engine.LocationUnknown:
		s.writeError(w, http.StatusNotFound, "generation not found")
	default:
		s.writeError(w, http.StatusConflict, "only failed generations can be retried")
	}
}

func (s *apiServer) handleActive(w http.ResponseWriter, r *http.Request) {
	queued := s.engine().Queued()
	if queued == nil {
		queued = []string{}
	}
	s.writeJSON(w, http.StatusOK, api.ActiveListResponse{
		Items:  api.FromActiveList(s.engine().ActiveList()),
		Queued: queued,
	})
}

// handleStream reports streamed text. Terminal jobs answer from history with
// the final text so a poller never sees a 404 at the end of a stream.
func (s *apiServer) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res := s.engine().Lookup(id)
	resp := api.StreamResponse{ID: id}
	switch {
	case res.Active != nil:
		resp.Status = string(res.Active.Status)
		resp.Content = res.Active.StreamedContent
	case res.Queued != nil:
		resp.Status = string(generation.StatusPending)
	case res.Record != nil:
		resp.Status = string(res.Record.Status)
		resp.Content = res.Record.Result.Text
		resp.Done = true
	default:
		s.writeError(w, http.StatusNotFound, "generation not found")
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := api.ParseFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, services.Message(err))
		return
	}
	items, total := s.engine().HistoryPage(filter)
	s.writeJSON(w, http.StatusOK, api.HistoryResponse{
		Items:  api.FromRecords(items),
		Total:  total,
		Offset: filter.Offset,
		Limit:  filter.Limit,
	})
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, api.FromStats(s.engine().Stats()))
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultEventsLimit
	}
	limit = min(limit, maxEventsLimit)
	wait := query.Get("wait") == "1" || strings.EqualFold(query.Get("wait"), "true")
	tail := query.Get("tail") == "1" || strings.EqualFold(query.Get("tail"), "true")

	hub := s.daemon.hub
	if tail && since == 0 && !wait {
		entries, next := hub.Tail(limit)
		s.writeJSON(w, http.StatusOK, api.EventStreamResponse{Events: api.FromEntries(entries), Next: next})
		return
	}

	ctx := r.Context()
	if wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eventsWaitTimeout)
		defer cancel()
	}
	entries, next, err := hub.Fetch(ctx, since, limit, wait)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.EventStreamResponse{Events: api.FromEntries(entries), Next: next})
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	offset := int64(-1)
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = parsed
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultEventsLimit
	}
	limit = min(limit, maxEventsLimit)
	opts := logs.TailOptions{Offset: offset, Limit: limit}
	if query.Get("wait") == "1" || strings.EqualFold(query.Get("wait"), "true") {
		opts.Wait = eventsWaitTimeout
	}

	result, err := logs.Tail(r.Context(), s.daemon.logPath, opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	lines := result.Lines
	if lines == nil {
		lines = []string{}
	}
	s.writeJSON(w, http.StatusOK, api.LogTailResponse{Lines: lines, Offset: result.Offset})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
