// Package interceptor reports outgoing HTTP requests to the progress
// coordinator so overlapping calls show up as one loading batch.
package interceptor

import (
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// SkipHeader marks a request that should not drive the indicator. The header
// is removed before the request leaves the process.
const SkipHeader = "X-Skip-Progress-Bar"

// Tracker receives request lifecycle notifications. progressbar.Coordinator
// satisfies it.
type Tracker interface {
	StartHTTP()
	CompleteHTTP()
}

// Transport wraps Base and reports every non-skipped round trip to Tracker.
// CompleteHTTP is called exactly once per tracked request: when the round
// trip fails, when the body reaches EOF or errors, or when the body is
// closed, whichever happens first.
type Transport struct {
	Base    http.RoundTripper
	Tracker Tracker
	Logger  *zap.Logger
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Header.Get(SkipHeader) != "" {
		clone := req.Clone(req.Context())
		clone.Header.Del(SkipHeader)
		t.logger().Debug("request bypasses progress tracking", zap.String("url", req.URL.String()))
		return base.RoundTrip(clone)
	}

	t.Tracker.StartHTTP()
	done := sync.OnceFunc(t.Tracker.CompleteHTTP)
	resp, err := base.RoundTrip(req)
	if err != nil {
		done()
		return nil, err
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		done()
		return resp, nil
	}
	resp.Body = &trackedBody{ReadCloser: resp.Body, done: done}
	return resp, nil
}

func (t *Transport) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

type trackedBody struct {
	io.ReadCloser
	done func()
}

func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil {
		b.done()
	}
	return n, err
}

func (b *trackedBody) Close() error {
	err := b.ReadCloser.Close()
	b.done()
	return err
}

// NewClient returns a copy of base (or of http.DefaultClient when nil) whose
// transport reports to tracker.
func NewClient(base *http.Client, tracker Tracker, logger *zap.Logger) *http.Client {
	var client http.Client
	if base != nil {
		client = *base
	}
	client.Transport = &Transport{Base: client.Transport, Tracker: tracker, Logger: logger}
	return &client
}

// Skip marks req so the interceptor forwards it without tracking.
func Skip(req *http.Request) *http.Request {
	req.Header.Set(SkipHeader, "true")
	return req
}
