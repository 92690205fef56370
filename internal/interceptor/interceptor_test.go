package interceptor

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/progress-coordinator/internal/clock/fake"
	"github.com/JakeFAU/progress-coordinator/internal/progressbar"
)

type countingTracker struct {
	mu        sync.Mutex
	started   int
	completed int
}

func (c *countingTracker) StartHTTP() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
}

func (c *countingTracker) CompleteHTTP() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed++
}

func (c *countingTracker) Counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started, c.completed
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestTransportCompletesOnBodyEOF(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "hello")
	}))
	defer srv.Close()

	tracker := &countingTracker{}
	client := NewClient(srv.Client(), tracker, zaptest.NewLogger(t))

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	started, completed := tracker.Counts()
	require.Equal(t, 1, started)
	require.Zero(t, completed)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
	require.NoError(t, resp.Body.Close())

	started, completed = tracker.Counts()
	require.Equal(t, 1, started)
	require.Equal(t, 1, completed)
}

func TestTransportCompletesOnEarlyClose(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "a long body that nobody reads")
	}))
	defer srv.Close()

	tracker := &countingTracker{}
	client := NewClient(nil, tracker, nil)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, resp.Body.Close())

	_, completed := tracker.Counts()
	require.Equal(t, 1, completed)
}

func TestTransportCompletesOnError(t *testing.T) {
	t.Parallel()

	tracker := &countingTracker{}
	boom := errors.New("dial failed")
	tr := &Transport{
		Base: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return nil, boom
		}),
		Tracker: tracker,
	}

	req, err := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
	require.NoError(t, err)
	_, err = tr.RoundTrip(req)
	require.ErrorIs(t, err, boom)

	started, completed := tracker.Counts()
	require.Equal(t, 1, started)
	require.Equal(t, 1, completed)
}

func TestTransportCompletesWithoutBody(t *testing.T) {
	t.Parallel()

	tracker := &countingTracker{}
	tr := &Transport{
		Base: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusNoContent, Body: http.NoBody}, nil
		}),
		Tracker: tracker,
	}

	req, err := http.NewRequest(http.MethodHead, "http://example.invalid", nil)
	require.NoError(t, err)
	_, err = tr.RoundTrip(req)
	require.NoError(t, err)

	_, completed := tracker.Counts()
	require.Equal(t, 1, completed)
}

func TestTransportSkipsMarkedRequests(t *testing.T) {
	t.Parallel()

	var sawHeader atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawHeader.Store(r.Header.Get(SkipHeader) != "")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tracker := &countingTracker{}
	client := NewClient(srv.Client(), tracker, zaptest.NewLogger(t))

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(Skip(req))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	require.False(t, sawHeader.Load())
	require.Equal(t, "true", req.Header.Get(SkipHeader))
	started, completed := tracker.Counts()
	require.Zero(t, started)
	require.Zero(t, completed)
}

func TestTransportDrivesCoordinator(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "{}")
	}))
	defer srv.Close()

	clk := fake.New(time.Unix(0, 0))
	coord := progressbar.New(progressbar.Config{Clock: clk})
	client := NewClient(srv.Client(), coord, nil)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	require.True(t, coord.Visible())
	require.Equal(t, 1, coord.ActiveRequests())

	_, err = io.Copy(io.Discard, resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Zero(t, coord.ActiveRequests())
	require.Equal(t, 100.0, coord.Display().Value)

	clk.Advance(time.Second)
	require.False(t, coord.Visible())
}
