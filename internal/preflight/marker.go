package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerFile records when the system checks last passed.
const MarkerFile = ".preflight-passed"

// MarkerMaxAge is how long a passing check is trusted by serve.
const MarkerMaxAge = 24 * time.Hour

// NeedsCheck reports whether the marker is missing, unreadable or older
// than maxAge.
func NeedsCheck(dataDir string, maxAge time.Duration) bool {
	age, ok := MarkerAge(dataDir)
	return !ok || age > maxAge
}

// MarkPassed writes the marker with the current time.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	content := []byte(time.Now().UTC().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(dataDir, MarkerFile), content, 0o644)
}

// ClearMarker removes the marker, forcing a check on the next serve.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge returns how long ago the checks passed, and false when there
// is no valid marker.
func MarkerAge(dataDir string) (time.Duration, bool) {
	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return 0, false
	}
	t, err := time.Parse(time.RFC3339, string(content))
	if err != nil {
		return 0, false
	}
	return time.Since(t), true
}
