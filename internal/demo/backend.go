package demo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// LatencyTransport answers every request in-process after Delay with a small
// JSON document. It lets the demo generate realistic request traffic without
// a network dependency.
type LatencyTransport struct {
	Delay time.Duration
}

// RoundTrip implements http.RoundTripper.
func (t LatencyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := sleep(req.Context(), t.Delay); err != nil {
		return nil, fmt.Errorf("demo backend: %w", err)
	}
	payload, err := json.Marshal(map[string]any{
		"path":      req.URL.Path,
		"served_at": time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("demo backend: %w", err)
	}
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"application/json"}},
		Body:          io.NopCloser(bytes.NewReader(payload)),
		ContentLength: int64(len(payload)),
		Request:       req,
	}, nil
}
