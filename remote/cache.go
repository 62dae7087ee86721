package remote

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidName is returned for names that cannot map to a cache file.
var ErrInvalidName = errors.New("invalid emote name")

// Cache is a directory of <lowercased-name>.png emote images.
type Cache struct {
	Dir string
}

// Path returns the cache file path for name.
func (c *Cache) Path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(c.Dir, strings.ToLower(name)+".png"), nil
}

// Read returns the cached image of name. A missing file is reported as
// ok=false with a nil error; any other failure is an error.
func (c *Cache) Read(name string) (data []byte, ok bool, err error) {
	path, err := c.Path(name)
	if err != nil {
		return nil, false, err
	}
	data, err = os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached emote %s: %w", path, err)
	}
	return data, true, nil
}

// Has reports whether name is cached.
func (c *Cache) Has(name string) bool {
	path, err := c.Path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Write stores data as the cached image of name. The file is written under
// a temporary name and renamed, so readers never see a partial image.
func (c *Cache) Write(name string, data []byte) error {
	path, err := c.Path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(c.Dir, ".emote-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename into cache: %w", err)
	}
	return nil
}

// Reset removes and recreates the cache directory.
func (c *Cache) Reset() error {
	if c.Dir == "" || c.Dir == "/" || c.Dir == "." {
		return fmt.Errorf("refusing to reset cache dir %q", c.Dir)
	}
	if err := os.RemoveAll(c.Dir); err != nil {
		return err
	}
	return os.MkdirAll(c.Dir, 0o755)
}
