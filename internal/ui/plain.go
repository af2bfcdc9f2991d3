package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per update, for pipes and CI.
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	tracker *ProgressTracker
}

// NewPlainRenderer creates a plain renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, tracker: NewProgressTracker()}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage != r.tracker.Stats().Stage {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.Message)

	switch {
	case event.Total > 0:
		line := fmt.Sprintf("[%s] %d/%d", event.Stage.Icon(), event.Current, event.Total)
		if event.Message != "" {
			line += " - " + event.Message
		}
		_, _ = fmt.Fprintln(r.out, line)
	case event.Message != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), event.Message)
	}
}

// Complete implements Renderer. It prints the embedding throughput; the
// caller reports the totals.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stats.Embedded > 0 && stats.EmbedTime > 0 {
		_, _ = fmt.Fprintf(r.out, "[%s] embedded %d chunks in %s (%.1f/sec) with %s (%d dims)\n",
			StageComplete.Icon(), stats.Embedded, stats.EmbedTime.Round(time.Millisecond),
			float64(stats.Embedded)/stats.EmbedTime.Seconds(),
			stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

var _ Renderer = (*PlainRenderer)(nil)
