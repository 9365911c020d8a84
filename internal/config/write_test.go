// internal/config/write_test.go
package config

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDefault(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "nested", "grabbr", "config.toml")

	require.NoError(t, WriteDefault(path, false))

	content, err := os.ReadFile(path)
	require.NoError(t, err, "failed to read written file")
	assert.Contains(t, string(content), "[server]")
	assert.Contains(t, string(content), "[jobs]")
	assert.Contains(t, string(content), "${YTDLP_PATH:-yt-dlp}")

	// No temp files are left next to the config
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// The written file parses with defaults applied
	cfg, err := LoadWithoutValidation(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Validate())
}

func TestWriteDefault_KeepsExistingFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	path := "/etc/grabbr/config.toml"
	require.NoError(t, afero.WriteFile(fsys, path, []byte("# mine\n"), 0o644))

	err := writeDefault(fsys, path, false)
	assert.True(t, errors.Is(err, fs.ErrExist), "got %v", err)
	content, _ := afero.ReadFile(fsys, path)
	assert.Equal(t, "# mine\n", string(content))

	require.NoError(t, writeDefault(fsys, path, true))
	content, _ = afero.ReadFile(fsys, path)
	assert.Equal(t, defaultConfig, string(content))
}

func TestWriteFile_FailureKeepsOriginal(t *testing.T) {
	fsys := afero.NewMemMapFs()
	path := "/etc/grabbr/config.toml"
	require.NoError(t, afero.WriteFile(fsys, path, []byte("# mine\n"), 0o644))

	err := writeFile(fsys, path, func(w io.Writer) error {
		_, _ = io.WriteString(w, "[server")
		return errors.New("encoder failed")
	})
	assert.ErrorContains(t, err, "encoder failed")

	content, _ := afero.ReadFile(fsys, path)
	assert.Equal(t, "# mine\n", string(content))
	entries, err := afero.ReadDir(fsys, "/etc/grabbr")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file is removed")
}

func TestConfig_Write(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 9000},
		Jobs:   JobsConfig{Workers: 3, MaxDuration: Duration{10 * time.Minute}},
	}

	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.toml")

	require.NoError(t, cfg.Write(path))

	content, _ := os.ReadFile(path)
	assert.Contains(t, string(content), "127.0.0.1")
	assert.Contains(t, string(content), "9000")
	assert.Contains(t, string(content), "10m0s")

	// Round trip keeps the duration
	loaded, err := LoadWithoutValidation(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, loaded.Jobs.MaxDuration.Duration)
}
