package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrInvalidFile indicates a cache file exists but cannot be decoded.
var ErrInvalidFile = errors.New("invalid cache file")

// readJSON decodes path into v. It returns false if the file does not exist.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided cache path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		CacheErrors.WithLabelValues("load").Inc()
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		CacheErrors.WithLabelValues("load").Inc()
		return false, fmt.Errorf("%w %s: %v", ErrInvalidFile, path, err)
	}

	return true, nil
}

// writeJSONAtomic replaces path with the JSON encoding of v. The data is
// written to a temporary file in the same directory, synced, and renamed over
// path, so readers only ever observe the previous or the new complete file.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		CacheErrors.WithLabelValues("flush").Inc()
		return fmt.Errorf("marshal cache: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		CacheErrors.WithLabelValues("flush").Inc()
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		CacheErrors.WithLabelValues("flush").Inc()
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func(cause error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		CacheErrors.WithLabelValues("flush").Inc()
		return cause
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(fmt.Errorf("write temp file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(fmt.Errorf("sync temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		CacheErrors.WithLabelValues("flush").Inc()
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		CacheErrors.WithLabelValues("flush").Inc()
		return fmt.Errorf("replace %s: %w", path, err)
	}

	return nil
}
