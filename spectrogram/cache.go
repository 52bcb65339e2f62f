package spectrogram

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/RyanBlaney/memoscope/filecache"
	"github.com/RyanBlaney/memoscope/logging"
)

// CacheExt is appended to the audio file name to form the cache file name
const CacheExt = ".spec"

// CacheKey identifies the inputs a cached spectrogram was computed from.
// A lookup hits only on exact equality.
type CacheKey struct {
	SourceMTime int64   `msgpack:"source_mtime"` // UnixNano
	NFFT        int     `msgpack:"n_fft"`
	HopLength   int     `msgpack:"hop_length"`
	FreqMin     float64 `msgpack:"freq_min"`
	FreqMax     float64 `msgpack:"freq_max"`
	Window      string  `msgpack:"window"`
	MaxRate     int     `msgpack:"max_sample_rate"`
}

// KeyFor stats audioPath and builds the key for params
func KeyFor(audioPath string, p Params) (CacheKey, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return CacheKey{}, err
	}
	return CacheKey{
		SourceMTime: info.ModTime().UnixNano(),
		NFFT:        p.NFFT,
		HopLength:   p.HopLength,
		FreqMin:     p.FreqMin,
		FreqMax:     p.FreqMax,
		Window:      p.Window,
		MaxRate:     p.MaxSampleRate,
	}, nil
}

// Cache persists one spectrogram per source file, either next to the
// audio (<audio>.spec) or inside a dedicated directory. Every failure is
// treated as a miss; writes replace the file atomically.
type Cache struct {
	dir    string
	store  filecache.Store[CacheKey, *Result]
	logger logging.Logger
}

// NewCache creates a cache. An empty dir stores files beside the audio.
func NewCache(dir string) *Cache {
	return &Cache{
		dir:   dir,
		store: filecache.Store[CacheKey, *Result]{Version: 2},
		logger: logging.WithFields(logging.Fields{
			"component": "spectrogram_cache",
		}),
	}
}

// PathFor returns the cache file path for audioPath
func (c *Cache) PathFor(audioPath string) string {
	if c.dir == "" {
		return audioPath + CacheExt
	}
	return filepath.Join(c.dir, filepath.Base(audioPath)+CacheExt)
}

// Load returns the cached result when key matches exactly. A missing,
// stale, unreadable or mismatched file is a miss.
func (c *Cache) Load(audioPath string, key CacheKey) (*Result, bool) {
	path := c.PathFor(audioPath)

	result, err := c.store.Load(path, audioPath, key)
	if err == nil && result != nil {
		return result, true
	}

	fields := logging.Fields{"cache_file": path, "reason": err}
	switch {
	case err == nil:
		c.logger.Warn("Empty cache record, recomputing", fields)
	case errors.Is(err, filecache.ErrStale), errors.Is(err, filecache.ErrKeyMismatch):
		c.logger.Debug("Cache invalid", fields)
	case errors.Is(err, os.ErrNotExist):
	default:
		c.logger.Warn("Unreadable cache file, recomputing", fields)
	}
	return nil, false
}

// Store writes result under key, replacing any previous entry for the file
func (c *Cache) Store(audioPath string, key CacheKey, result *Result) error {
	return c.store.Save(c.PathFor(audioPath), key, result)
}

// Remove deletes the cache file for audioPath, if any
func (c *Cache) Remove(audioPath string) error {
	return filecache.Remove(c.PathFor(audioPath))
}
