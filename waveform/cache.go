package waveform

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/RyanBlaney/memoscope/filecache"
	"github.com/RyanBlaney/memoscope/logging"
)

const (
	// CacheDirName is the per-directory cache folder used when no cache
	// dir is configured
	CacheDirName = ".waveform_cache"
	// CacheExt is the envelope cache file extension
	CacheExt = ".wfcache"
)

// CacheKey is the validity key of a cached envelope
type CacheKey struct {
	SourceMTime int64 `msgpack:"source_mtime"` // UnixNano
	Resolution  int   `msgpack:"resolution"`
}

// KeyFor stats path and builds its key
func KeyFor(path string, resolution int) (CacheKey, error) {
	info, err := os.Stat(path)
	if err != nil {
		return CacheKey{}, err
	}
	return CacheKey{SourceMTime: info.ModTime().UnixNano(), Resolution: resolution}, nil
}

// Cache stores one envelope per audio file
type Cache struct {
	dir    string
	store  filecache.Store[CacheKey, []float64]
	logger logging.Logger
}

// NewCache creates a cache rooted at dir, or beside each audio file in a
// .waveform_cache folder when dir is empty
func NewCache(dir string) *Cache {
	return &Cache{
		dir:   dir,
		store: filecache.Store[CacheKey, []float64]{Version: 1},
		logger: logging.WithFields(logging.Fields{
			"component": "waveform_cache",
		}),
	}
}

// PathFor returns <dir>/<stem>.wfcache
func (c *Cache) PathFor(audioPath string) string {
	base := filepath.Base(audioPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	dir := c.dir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(audioPath), CacheDirName)
	}
	return filepath.Join(dir, stem+CacheExt)
}

// Load returns the cached envelope when key matches
func (c *Cache) Load(audioPath string, key CacheKey) ([]float64, bool) {
	path := c.PathFor(audioPath)
	envelope, err := c.store.Load(path, audioPath, key)
	if err == nil && len(envelope) > 0 {
		return envelope, true
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Debug("Waveform cache miss", logging.Fields{"cache_file": path, "reason": err})
	}
	return nil, false
}

// Store writes envelope under key
func (c *Cache) Store(audioPath string, key CacheKey, envelope []float64) error {
	return c.store.Save(c.PathFor(audioPath), key, envelope)
}

// Remove deletes the cached envelope for audioPath
func (c *Cache) Remove(audioPath string) error {
	return filecache.Remove(c.PathFor(audioPath))
}

// ClearAll deletes every *.wfcache file in <directory>/.waveform_cache and
// removes the folder when it ends up empty. It returns the number of files
// deleted.
func ClearAll(directory string) (int, error) {
	cacheDir := filepath.Join(directory, CacheDirName)
	matches, err := filepath.Glob(filepath.Join(cacheDir, "*"+CacheExt))
	if err != nil {
		return 0, err
	}

	count := 0
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			errs = append(errs, err)
			continue
		}
		count++
	}

	if entries, err := os.ReadDir(cacheDir); err == nil && len(entries) == 0 {
		if err := os.Remove(cacheDir); err != nil {
			errs = append(errs, err)
		}
	}
	return count, errors.Join(errs...)
}
