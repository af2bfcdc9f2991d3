package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

func seedTelemetry(t *testing.T, dataDir string, day time.Time) {
	t.Helper()
	st, err := telemetry.OpenSQLiteStore(filepath.Join(dataDir, TelemetryFileName))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	err = st.SaveDaily(context.Background(), day.Format(time.DateOnly), telemetry.DailyAggregate{
		Outcomes:     map[string]int64{"ok": 3, "degraded": 1},
		Latency:      map[telemetry.LatencyBucket]int64{telemetry.BucketP50: 3, telemetry.BucketP1000: 1},
		SourceStates: map[string]int64{"dense/ok": 4, "graph_local/timeout": 1},
	})
	require.NoError(t, err)
}

func TestLoadStats_SumsRange(t *testing.T) {
	// Given: one day of telemetry
	dir := t.TempDir()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	seedTelemetry(t, dir, day)
	st, err := telemetry.OpenSQLiteStore(filepath.Join(dir, TelemetryFileName))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	// When: loading a window containing it
	out, err := loadStats(context.Background(), st, day.AddDate(0, 0, -6), day)

	// Then: counters and the degraded share are reported
	require.NoError(t, err)
	assert.Equal(t, "2026-02-24", out.From)
	assert.Equal(t, int64(4), out.TotalQueries)
	assert.InDelta(t, 25.0, out.DegradedPct, 1e-9)
	assert.Equal(t, int64(1), out.Latency["p1000"])
	assert.Equal(t, int64(1), out.SourceStates["graph_local/timeout"])

	// And: nothing outside the window
	out, err = loadStats(context.Background(), st, day.AddDate(0, 0, 1), day.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Zero(t, out.TotalQueries)
}

func TestPrintStats(t *testing.T) {
	buf := &bytes.Buffer{}
	printStats(buf, &StatsOutput{
		From: "2026-03-01", To: "2026-03-02", TotalQueries: 2,
		Outcomes:     map[string]int64{"ok": 2},
		Latency:      map[string]int64{"p10": 2},
		SourceStates: map[string]int64{"sparse/ok": 2},
	})

	out := buf.String()
	assert.Contains(t, out, "Total Queries: 2")
	assert.Contains(t, out, "<10ms")
	assert.Contains(t, out, "sparse/ok")
}

func TestStatsCmd(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "stats")
	require.Error(t, err)

	seedTelemetry(t, env.dataDir, time.Now().UTC())
	out, err := env.run(t, "stats", "--days", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Total Queries: 4")

	_, err = env.run(t, "stats", "--days", "0")
	require.Error(t, err)
}
