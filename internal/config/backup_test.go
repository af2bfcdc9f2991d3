package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupUserConfig_NoConfig(t *testing.T) {
	isolate(t)

	path, err := BackupUserConfig()

	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestBackupUserConfig_CopiesAndPrunes(t *testing.T) {
	// Given: an existing user config
	xdg := isolate(t)
	writeUserConfig(t, xdg, "version: 1\n")

	// When: backing up more times than are kept
	var last string
	for i := 0; i < MaxBackups+2; i++ {
		p, err := BackupUserConfig()
		require.NoError(t, err)
		last = p
		time.Sleep(2 * time.Millisecond)
	}

	// Then: only MaxBackups remain and the newest is first
	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.Len(t, backups, MaxBackups)
	assert.Equal(t, last, backups[0])

	data, err := os.ReadFile(last)
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))
}

func TestInitUserConfig(t *testing.T) {
	// Given: no user config
	isolate(t)

	// When: initializing
	path, backup, err := InitUserConfig([]byte("version: 1\n"), false)

	// Then: the file is written without a backup
	require.NoError(t, err)
	assert.Empty(t, backup)
	assert.FileExists(t, path)

	// When: initializing again without force
	_, _, err = InitUserConfig([]byte("version: 1\n"), false)

	// Then: it refuses
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	// When: forcing
	_, backup, err = InitUserConfig([]byte("version: 1\n"), true)

	// Then: the previous file is backed up
	require.NoError(t, err)
	assert.FileExists(t, backup)
}

func TestRestoreUserConfig(t *testing.T) {
	// Given: a backup holding an older config
	xdg := isolate(t)
	writeUserConfig(t, xdg, "retrieval:\n  rrf_k: 1\n")
	backup, err := BackupUserConfig()
	require.NoError(t, err)
	writeUserConfig(t, xdg, "retrieval:\n  rrf_k: 2\n")

	// When: restoring
	require.NoError(t, RestoreUserConfig(backup))

	// Then: the old content is back
	data, err := os.ReadFile(filepath.Join(xdg, "amanrag", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "retrieval:\n  rrf_k: 1\n", string(data))
}

func TestRestoreUserConfig_MissingBackup(t *testing.T) {
	isolate(t)
	assert.Error(t, RestoreUserConfig(filepath.Join(t.TempDir(), "gone")))
}
