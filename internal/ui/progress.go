package ui

import (
	"sync"
	"time"
)

// etaSmoothing weights the newest ETA estimate against the previous one.
const etaSmoothing = 0.3

// ProgressTracker holds the current stage, its progress and throughput.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu         sync.RWMutex
	stage      Stage
	current    int
	total      int
	message    string
	startTime  time.Time
	stageStart time.Time
	lastETA    time.Duration
	stageTimes map[Stage]time.Duration
	now        func() time.Time
}

// ProgressStats is a snapshot of a ProgressTracker.
type ProgressStats struct {
	Stage    Stage
	Current  int
	Total    int
	Progress float64
	ETA      time.Duration
	Speed    float64 // items per second in the current stage
	Message  string
	Elapsed  time.Duration
}

// NewProgressTracker starts tracking at StageReading.
func NewProgressTracker() *ProgressTracker {
	return newProgressTracker(time.Now)
}

func newProgressTracker(now func() time.Time) *ProgressTracker {
	t := now()
	return &ProgressTracker{
		stage:      StageReading,
		startTime:  t,
		stageStart: t,
		stageTimes: map[Stage]time.Duration{},
		now:        now,
	}
}

// SetStage moves to stage, recording how long the previous one took.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if stage != p.stage {
		p.stageTimes[p.stage] += now.Sub(p.stageStart)
		p.stageStart = now
		p.lastETA = 0
	}
	p.stage = stage
	p.total = total
	p.current = 0
	p.message = ""
}

// Update records progress within the current stage.
func (p *ProgressTracker) Update(current int, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = current
	p.message = message
}

// StageDuration is the time spent in a finished stage.
func (p *ProgressTracker) StageDuration(stage Stage) time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stageTimes[stage]
}

// Stats returns a snapshot. ETA is smoothed exponentially so it does not
// jump between updates.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	stats := ProgressStats{
		Stage:   p.stage,
		Current: p.current,
		Total:   p.total,
		Message: p.message,
		Elapsed: now.Sub(p.startTime),
	}
	if p.total > 0 {
		stats.Progress = min(float64(p.current)/float64(p.total), 1)
	}

	inStage := now.Sub(p.stageStart)
	if p.current > 0 && inStage > 0 {
		stats.Speed = float64(p.current) / inStage.Seconds()
		if remaining := p.total - p.current; remaining > 0 {
			eta := time.Duration(float64(remaining) / stats.Speed * float64(time.Second))
			if p.lastETA > 0 {
				eta = time.Duration(etaSmoothing*float64(eta) + (1-etaSmoothing)*float64(p.lastETA))
			}
			p.lastETA = eta
			stats.ETA = eta
		}
	}
	return stats
}
