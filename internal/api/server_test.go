package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/progress-coordinator/internal/clock/fake"
	"github.com/JakeFAU/progress-coordinator/internal/demo"
	"github.com/JakeFAU/progress-coordinator/internal/interceptor"
	"github.com/JakeFAU/progress-coordinator/internal/metrics"
	"github.com/JakeFAU/progress-coordinator/internal/navigation"
	"github.com/JakeFAU/progress-coordinator/internal/policy/ratelimit"
	"github.com/JakeFAU/progress-coordinator/internal/progressbar"
	"github.com/JakeFAU/progress-coordinator/internal/store"
	"github.com/JakeFAU/progress-coordinator/internal/store/memory"
)

type testEnv struct {
	server *Server
	coord  *progressbar.Coordinator
	nav    *navigation.Router
	sim    *demo.Simulator
	clock  *fake.Clock
	reg    *prometheus.Registry
	cancel context.CancelFunc
}

func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clk := fake.New(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	coord := progressbar.New(progressbar.Config{Clock: clk, Logger: logger})

	nav := navigation.NewRouter(clk, logger)
	demo.RegisterPages(nav, 0)
	untrack := navigation.Track(nav, coord)
	t.Cleanup(untrack)

	client := interceptor.NewClient(&http.Client{Transport: demo.LatencyTransport{}}, coord, logger)
	sim := demo.NewSimulator(coord, client, demo.Config{StepDelay: 200 * time.Millisecond}, logger)

	reg := prometheus.NewRegistry()
	httpMetrics, err := metrics.NewHTTPMetrics(reg)
	require.NoError(t, err)

	bg, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	deps := Deps{
		Coordinator:    coord,
		Router:         nav,
		Simulator:      sim,
		Sessions:       memory.NewSessionStore(),
		Metrics:        httpMetrics,
		Gatherer:       reg,
		Logger:         logger,
		RequestTimeout: 5 * time.Second,
		BaseContext:    bg,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	return &testEnv{
		server: NewServer(deps),
		coord:  coord,
		nav:    nav,
		sim:    sim,
		clock:  clk,
		reg:    reg,
		cancel: cancel,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeDebug(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_ReadyzReportsRepositoryFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(d *Deps) {
		d.Sessions = &mockSessionRepo{err: errors.New("db down")}
	})
	rec := env.do(t, http.MethodGet, "/readyz", "")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_ManualLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/progress/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeDebug(t, rec)
	require.Equal(t, "manual", body["owner"])

	rec = env.do(t, http.MethodPost, "/api/progress/set", `{"value":40}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 40.0, env.coord.Display().Value)
	require.Equal(t, progressbar.ModeDeterminate, env.coord.Display().Mode)

	rec = env.do(t, http.MethodPost, "/api/progress/inc", `{"delta":15}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 55.0, env.coord.Display().Value)

	rec = env.do(t, http.MethodPost, "/api/progress/inc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 60.0, env.coord.Display().Value)

	rec = env.do(t, http.MethodPost, "/api/progress/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 100.0, env.coord.Display().Value)

	env.clock.Advance(progressbar.AnimationDelay)
	require.False(t, env.coord.Visible())
	require.False(t, env.coord.ManualMode())
}

func TestServer_SetRequiresValue(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/progress/set", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/progress/set", `{invalid`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ResetHidesIndicator(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.coord.Start()
	rec := env.do(t, http.MethodPost, "/api/progress/reset", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, env.coord.Visible())
	require.Equal(t, "none", decodeDebug(t, rec)["owner"])
}

func TestServer_PatchDisplay(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPatch, "/api/progress/display", `{"mode":"buffer","buffer_value":70,"color":"warn"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	d := env.coord.Display()
	require.Equal(t, progressbar.ModeBuffer, d.Mode)
	require.Equal(t, 70.0, d.BufferValue)
	require.Equal(t, progressbar.ColorWarn, d.Color)

	rec = env.do(t, http.MethodPatch, "/api/progress/display", `{"mode":"spinner"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPatch, "/api/progress/display", `{"color":"pink"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Options(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/progress/options", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"hide_delay_ms":300,"min_display_time_ms":200,"enable_smart_batching":true,"enable_debug_logs":false}`,
		rec.Body.String())

	rec = env.do(t, http.MethodPut, "/api/progress/options", `{"hide_delay_ms":1000,"enable_smart_batching":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"hide_delay_ms":1000,"min_display_time_ms":200,"enable_smart_batching":false,"enable_debug_logs":false}`,
		rec.Body.String())
	require.Equal(t, time.Second, env.coord.Options().HideDelay)

	rec = env.do(t, http.MethodPut, "/api/progress/options", `{"min_display_time_ms":-5}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPut, "/api/progress/options", `{"hide_delay":5}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Navigate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/navigate", `{"path":"/about"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "/about", env.nav.Current())
	require.Contains(t, rec.Body.String(), `"title":"About"`)
	require.True(t, env.coord.Visible())

	env.clock.Advance(progressbar.AnimationDelay)
	require.False(t, env.coord.Visible())
	require.False(t, env.coord.Navigating())
}

func TestServer_NavigatePreemptsManual(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/navigate", `{"path":"/contact","preempt":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	env.clock.Advance(progressbar.AnimationDelay)
	require.False(t, env.coord.ManualMode())
	require.False(t, env.coord.Visible())
}

func TestServer_NavigateErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/navigate", `{"path":"/missing"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/navigate", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	noRouter := newTestEnv(t, func(d *Deps) { d.Router = nil })
	rec = noRouter.do(t, http.MethodPost, "/api/navigate", `{"path":"/home"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_ListPages(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/pages", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Pages   []demo.Page `json:"pages"`
		Current string      `json:"current"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Pages, len(demo.Pages))
	require.Empty(t, body.Current)
}

func TestServer_SimulateHTTPWait(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/simulate/http", `{"count":2,"wait":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, env.coord.ActiveRequests())
	require.True(t, env.coord.Visible())
	require.Equal(t, 100.0, env.coord.Display().Value)

	env.clock.Advance(time.Second)
	require.False(t, env.coord.Visible())
}

func TestServer_SimulateHTTPSkipped(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/simulate/http", `{"count":3,"skip":true,"wait":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, env.coord.Visible())
}

func TestServer_SimulateHTTPRejectsBadCount(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/simulate/http", `{"count":0}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/simulate/http", `{"count":51}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SimulateWorkRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/simulate/work", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.True(t, env.sim.Working())

	rec = env.do(t, http.MethodPost, "/api/simulate/work", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	env.cancel()
	require.Eventually(t, func() bool { return !env.sim.Working() }, time.Second, time.Millisecond)
	require.False(t, env.coord.Visible())
}

func TestServer_SimulateWorkConcurrentPostsStartOneRun(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	const posts = 8
	codes := make(chan int, posts)
	var wg sync.WaitGroup
	for range posts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- env.do(t, http.MethodPost, "/api/simulate/work", "").Code
		}()
	}
	wg.Wait()
	close(codes)

	accepted, conflicts := 0, 0
	for code := range codes {
		switch code {
		case http.StatusAccepted:
			accepted++
		case http.StatusConflict:
			conflicts++
		}
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, posts-1, conflicts)

	env.cancel()
	require.Eventually(t, func() bool { return !env.sim.Working() }, time.Second, time.Millisecond)
}

func TestServer_SimulatorUnavailable(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(d *Deps) { d.Simulator = nil })
	rec := env.do(t, http.MethodPost, "/api/simulate/work", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/simulate/http", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_StreamProgress(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/progress/stream", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readStateEvent(t, reader)
	require.False(t, first.Visible)

	env.coord.Start()
	second := readStateEvent(t, reader)
	require.True(t, second.Visible)
	require.Equal(t, progressbar.ModeIndeterminate, second.Mode)
}

func readStateEvent(t *testing.T, r *bufio.Reader) progressbar.DisplayState {
	t.Helper()
	var data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" && data != "" {
			break
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	var d progressbar.DisplayState
	require.NoError(t, json.Unmarshal([]byte(data), &d))
	return d
}

func TestOfferLatestDropsOldest(t *testing.T) {
	t.Parallel()

	ch := make(chan progressbar.DisplayState, 2)
	for v := range 4 {
		offerLatest(ch, progressbar.DisplayState{Value: float64(v)})
	}
	require.Equal(t, 2.0, (<-ch).Value)
	require.Equal(t, 3.0, (<-ch).Value)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
	require.NotNil(t, buf)
}

// --- helpers/fakes ---

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

var _ store.SessionRepository = (*mockSessionRepo)(nil)

func TestSimulateRoutesAreRateLimited(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(d *Deps) {
		d.SimulateLimiter = ratelimit.New(ratelimit.Config{RPS: 0.001, Burst: 1})
	})

	rec := env.do(t, http.MethodPost, "/api/simulate/http", `{"count":1,"skip":true,"wait":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/simulate/http", `{"count":1,"skip":true,"wait":true}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Other routes are not throttled.
	rec = env.do(t, http.MethodGet, "/api/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
}
