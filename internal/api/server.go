package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/progress-coordinator/internal/demo"
	"github.com/JakeFAU/progress-coordinator/internal/metrics"
	"github.com/JakeFAU/progress-coordinator/internal/navigation"
	"github.com/JakeFAU/progress-coordinator/internal/policy/ratelimit"
	"github.com/JakeFAU/progress-coordinator/internal/progress"
	"github.com/JakeFAU/progress-coordinator/internal/progressbar"
	"github.com/JakeFAU/progress-coordinator/internal/store"
)

const defaultRequestTimeout = 30 * time.Second

// Deps lists everything the Server routes to. Coordinator is required; the
// rest are optional and their routes answer 503 when missing.
type Deps struct {
	Coordinator *progressbar.Coordinator
	Router      *navigation.Router
	Simulator   *demo.Simulator
	Sessions    store.SessionRepository
	// Events reports hub throughput on /readyz when set.
	Events *progress.Hub
	// Metrics instruments every route when set.
	Metrics  *metrics.HTTPMetrics
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	// RequestTimeout bounds every route except the event stream.
	RequestTimeout time.Duration
	// BaseContext parents simulations that outlive the request that
	// started them. Cancelling it aborts them.
	BaseContext context.Context
	// DefaultBurst is the request count of /api/simulate/http when the body
	// names none.
	DefaultBurst int
	// SimulateLimiter throttles the simulation routes per client when set.
	SimulateLimiter *ratelimit.Limiter
}

// Server wires HTTP handlers to the coordinator and its sources.
type Server struct {
	router   chi.Router
	coord    *progressbar.Coordinator
	nav      *navigation.Router
	sim      *demo.Simulator
	events   *progress.Hub
	sessions *SessionHandler
	repo     store.SessionRepository
	logger   *zap.Logger
	bg       context.Context
	burst    int
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	bg := deps.BaseContext
	if bg == nil {
		bg = context.Background()
	}
	burst := deps.DefaultBurst
	if burst <= 0 || burst > maxBurst {
		burst = defaultBurst
	}
	s := &Server{
		coord:    deps.Coordinator,
		nav:      deps.Router,
		sim:      deps.Simulator,
		events:   deps.Events,
		sessions: NewSessionHandler(deps.Sessions, logger),
		repo:     deps.Sessions,
		logger:   logger,
		bg:       bg,
		burst:    burst,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	// The stream stays open until the client leaves, so it sits outside the
	// timeout group.
	r.Get("/api/progress/stream", s.streamProgress)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))

		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

		r.Route("/api", func(r chi.Router) {
			r.Route("/progress", func(r chi.Router) {
				r.Get("/", s.getProgress)
				r.Post("/start", s.startProgress)
				r.Post("/set", s.setProgress)
				r.Post("/inc", s.incProgress)
				r.Post("/complete", s.completeProgress)
				r.Post("/reset", s.resetProgress)
				r.Patch("/display", s.patchDisplay)
				r.Get("/options", s.getOptions)
				r.Put("/options", s.putOptions)
			})
			r.Get("/pages", s.listPages)
			r.Post("/navigate", s.navigate)
			r.Group(func(r chi.Router) {
				if deps.SimulateLimiter != nil {
					r.Use(deps.SimulateLimiter.Middleware(logger))
				}
				r.Post("/simulate/work", s.simulateWork)
				r.Post("/simulate/http", s.simulateHTTP)
			})
			r.Get("/sessions", s.sessions.ListSessions)
			r.Get("/sessions/{session_id}", s.sessions.GetSession)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz probes the session repository and reports event hub throughput.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.repo != nil {
		ctx, cancel := context.WithTimeout(r.Context(), sessionTimeout)
		defer cancel()
		if _, err := s.repo.ListSessions(ctx, nil, 1, 0); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
	}
	body := map[string]any{"status": "ready"}
	if s.events != nil {
		st := s.events.Stats()
		body["events"] = map[string]int64{
			"accepted":    st.Accepted,
			"dropped":     st.Dropped,
			"flushed":     st.Flushed,
			"sink_errors": st.SinkErrors,
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("error", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
