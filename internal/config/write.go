// internal/config/write.go
package config

import (
	_ "embed"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
)

//go:embed default_config.toml
var defaultConfig string

// WriteDefault writes the annotated example config to path. An existing
// file is replaced only when overwrite is set; otherwise the returned
// error wraps fs.ErrExist.
func WriteDefault(path string, overwrite bool) error {
	return writeDefault(afero.NewOsFs(), path, overwrite)
}

func writeDefault(fsys afero.Fs, path string, overwrite bool) error {
	if !overwrite {
		exists, err := afero.Exists(fsys, path)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("write %s: %w", path, fs.ErrExist)
		}
	}
	return writeFile(fsys, path, func(w io.Writer) error {
		_, err := io.WriteString(w, defaultConfig)
		return err
	})
}

// Write encodes the config as TOML and replaces the file at path.
func (c *Config) Write(path string) error {
	return writeFile(afero.NewOsFs(), path, func(w io.Writer) error {
		return toml.NewEncoder(w).Encode(c)
	})
}

// writeFile fills a temp file next to path and renames it into place, so
// readers never see a partially written config.
func writeFile(fsys afero.Fs, path string, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := afero.TempFile(fsys, dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer func() { _ = fsys.Remove(tmp.Name()) }()

	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := fsys.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return fsys.Rename(tmp.Name(), path)
}
