package ui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func newTestModel() *loadModel {
	m := newLoadModel(NewProgressTracker(), "corpus.yaml")
	m.styles = NoColorStyles()
	return m
}

func TestLoadModel_ViewShowsStagesAndProgress(t *testing.T) {
	// Given: a model halfway through embedding
	m := newTestModel()
	m.tracker.SetStage(StageEmbedding, 10)
	m.tracker.Update(5, "batch 1")

	// When: rendering
	view := m.View()

	// Then: the header, the stage line and the counts appear
	assert.Contains(t, view, "amanrag load • corpus.yaml")
	assert.Contains(t, view, "● Reading")
	assert.Contains(t, view, "Embedding")
	assert.Contains(t, view, "○ Writing")
	assert.Contains(t, view, "5 / 10")
	assert.Contains(t, view, " 50%")
	assert.Contains(t, view, "batch 1")
}

func TestLoadModel_UnknownTotal(t *testing.T) {
	m := newTestModel()

	assert.Contains(t, m.View(), "Reading...")
}

func TestLoadModel_CompleteQuits(t *testing.T) {
	m := newTestModel()

	_, cmd := m.Update(completeMsg(CompletionStats{Chunks: 2, Embedded: 1, Relations: 1, Duration: 90 * time.Second}))

	assert.NotNil(t, cmd)
	view := m.View()
	assert.Contains(t, view, "Load complete")
	assert.Contains(t, view, "1m 30s")
}

func TestLoadModel_CtrlCCancels(t *testing.T) {
	m := newTestModel()

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})

	assert.NotNil(t, cmd)
	assert.Equal(t, "Cancelled.\n", m.View())
}

func TestLoadModel_WindowResize(t *testing.T) {
	m := newTestModel()

	m.Update(tea.WindowSizeMsg{Width: 30, Height: 10})

	assert.Equal(t, 30, m.width)
	assert.Equal(t, 20, m.progressBar.Width)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3 * time.Minute, "3m"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{time.Hour + 2*time.Minute, "1h 2m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}

func TestGetStyles(t *testing.T) {
	assert.Equal(t, "x", GetStyles(true).Header.Render("x"))
	assert.Contains(t, GetStyles(false).Header.Render("x"), "x")
}
