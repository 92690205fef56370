package demo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/progress-coordinator/internal/interceptor"
	"github.com/JakeFAU/progress-coordinator/internal/progressbar"
)

// ErrBusy is returned when a scripted work run is already in progress.
var ErrBusy = errors.New("work simulation already running")

// Coordinator is the manual-control surface the simulator drives.
type Coordinator interface {
	Reset()
	Start()
	Set(v float64)
	Complete()
	Configure(u progressbar.OptionsUpdate)
}

// Navigator starts route changes.
type Navigator interface {
	Navigate(ctx context.Context, path string) error
}

// Config shapes the scripted actions.
type Config struct {
	// BaseURL prefixes the paths fetched by Fetch.
	BaseURL string
	// StepDelay separates the manual progress steps in Work.
	StepDelay time.Duration
	// Stagger separates request launches within one Fetch burst.
	Stagger time.Duration
	// SlowHideDelay is the hide delay applied by SlowConfiguration.
	SlowHideDelay time.Duration
	// SlowMinDisplay is the minimum display time applied by SlowConfiguration.
	SlowMinDisplay time.Duration
}

// Simulator reproduces the demo's buttons as plain method calls.
type Simulator struct {
	coord   Coordinator
	client  *http.Client
	cfg     Config
	logger  *zap.Logger
	working atomic.Bool
}

// NewSimulator builds a Simulator. client should route through the
// interceptor so Fetch drives the HTTP source.
func NewSimulator(coord Coordinator, client *http.Client, cfg Config, logger *zap.Logger) *Simulator {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://demo.local"
	}
	if cfg.SlowMinDisplay == 0 {
		cfg.SlowMinDisplay = 500 * time.Millisecond
	}
	return &Simulator{coord: coord, client: client, cfg: cfg, logger: logger}
}

// Working reports whether Work is running.
func (s *Simulator) Working() bool {
	return s.working.Load()
}

// Work resets the bar, then drives it manually from 0 to 100 in steps of 10
// and completes it. Cancelling ctx resets the bar and returns ctx's error.
func (s *Simulator) Work(ctx context.Context) error {
	if !s.working.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return s.runWork(ctx)
}

// StartWork is Work in the background. It claims the simulator before
// returning, so it fails with ErrBusy instead of starting a second run. The
// channel receives Work's result and is then closed.
func (s *Simulator) StartWork(ctx context.Context) (<-chan error, error) {
	if !s.working.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- s.runWork(ctx)
	}()
	return done, nil
}

func (s *Simulator) runWork(ctx context.Context) error {
	defer s.working.Store(false)

	err := s.work(ctx)
	if err != nil {
		s.coord.Reset()
		s.logger.Warn("work simulation aborted", zap.Error(err))
		return err
	}
	return nil
}

func (s *Simulator) work(ctx context.Context) error {
	s.coord.Reset()
	if err := sleep(ctx, s.cfg.StepDelay/2); err != nil {
		return err
	}
	s.coord.Start()
	for v := 0; v <= 100; v += 10 {
		if err := sleep(ctx, s.cfg.StepDelay); err != nil {
			return err
		}
		s.coord.Set(float64(v))
	}
	if err := sleep(ctx, s.cfg.StepDelay); err != nil {
		return err
	}
	s.coord.Complete()
	return nil
}

// Fetch issues n concurrent GETs through the client, staggered by
// Config.Stagger. Skipped requests carry the interceptor's skip marker. It
// returns the first failure after every request has settled.
func (s *Simulator) Fetch(ctx context.Context, n int, skip bool) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			if err := sleep(gctx, time.Duration(i)*s.cfg.Stagger); err != nil {
				return err
			}
			return s.get(gctx, fmt.Sprintf("%s/api/data/%d", s.cfg.BaseURL, i+1), skip)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	return nil
}

func (s *Simulator) get(ctx context.Context, url string, skip bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if skip {
		interceptor.Skip(req)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Debug("close response body", zap.Error(cerr))
		}
	}()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("read %s: %w", url, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}
	s.logger.Debug("demo request completed", zap.String("url", url), zap.Bool("skipped", skip))
	return nil
}

// SlowConfiguration switches to a long hide delay and fires one request so
// the slower hide is visible.
func (s *Simulator) SlowConfiguration(ctx context.Context) error {
	hide, minDisplay, debug := s.cfg.SlowHideDelay, s.cfg.SlowMinDisplay, true
	s.coord.Configure(progressbar.OptionsUpdate{
		HideDelay:      &hide,
		MinDisplayTime: &minDisplay,
		DebugLogs:      &debug,
	})
	return s.Fetch(ctx, 1, false)
}

// PreemptWithNavigation shows manual progress at 50% and then navigates to
// path, demonstrating navigation taking over the display.
func (s *Simulator) PreemptWithNavigation(ctx context.Context, nav Navigator, path string) error {
	s.coord.Start()
	s.coord.Set(50)
	if err := nav.Navigate(ctx, path); err != nil {
		return fmt.Errorf("preempt with navigation: %w", err)
	}
	return nil
}
