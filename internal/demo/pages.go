// Package demo wires a small sample application around the coordinator:
// three routable pages, an in-process latency backend, and the scripted
// actions used by the HTTP and terminal front ends.
package demo

import (
	"context"
	"time"

	"github.com/JakeFAU/progress-coordinator/internal/navigation"
)

// Page is one routable demo screen.
type Page struct {
	Path       string   `json:"path"`
	Title      string   `json:"title"`
	Subtitle   string   `json:"subtitle"`
	Highlights []string `json:"highlights"`
	Links      []string `json:"links"`
}

// Pages lists the demo screens in menu order.
var Pages = []Page{
	{
		Path:     "/home",
		Title:    "Home",
		Subtitle: "Progress coordination demo",
		Highlights: []string{
			"Start, set, tick and complete the bar by hand",
			"Fire tracked requests and watch them batch",
			"Navigate between pages to see the router take over",
		},
		Links: []string{"/about", "/contact"},
	},
	{
		Path:     "/about",
		Title:    "About",
		Subtitle: "What the coordinator tracks",
		Highlights: []string{
			"HTTP request tracking",
			"Router navigation tracking",
			"Manual progress control",
			"Observable display state",
		},
		Links: []string{"/home", "/contact"},
	},
	{
		Path:     "/contact",
		Title:    "Contact",
		Subtitle: "Get in touch",
		Highlights: []string{
			"Issues and ideas are welcome",
		},
		Links: []string{"/home", "/about"},
	},
}

// FindPage returns the page registered at path.
func FindPage(path string) (Page, bool) {
	for _, p := range Pages {
		if p.Path == path {
			return p, true
		}
	}
	return Page{}, false
}

// RegisterPages adds every demo page to r. Each resolver waits delay to
// stand in for loading the page's data.
func RegisterPages(r *navigation.Router, delay time.Duration) {
	for _, p := range Pages {
		r.Handle(p.Path, func(ctx context.Context, _ string) error {
			return sleep(ctx, delay)
		})
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
