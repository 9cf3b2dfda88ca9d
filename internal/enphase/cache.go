package enphase

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"envoy-logger/internal/errors"
)

// FileCache keeps one token per gateway serial in a directory.
type FileCache struct {
	dir string
}

func NewFileCache(dir string) *FileCache {
	return &FileCache{dir: dir}
}

func (c *FileCache) path(serial string) string {
	return filepath.Join(c.dir, serial+".token")
}

// Load returns the cached token for serial, or "" when none is stored.
func (c *FileCache) Load(serial string) (string, error) {
	raw, err := os.ReadFile(c.path(serial))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrap(errors.ErrCacheAccess, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (c *FileCache) Save(serial, token string) error {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return errors.Wrap(errors.ErrCacheAccess, fmt.Errorf("create %s: %w", c.dir, err))
	}
	if err := os.WriteFile(c.path(serial), []byte(token), 0o600); err != nil {
		return errors.Wrap(errors.ErrCacheAccess, err)
	}
	return nil
}

// Path returns where the token for serial is stored.
func (c *FileCache) Path(serial string) string {
	return c.path(serial)
}
