// Package filecache stores single keyed records as msgpack files that sit
// alongside (or are derived from) a source file.
package filecache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrMiss covers every reason a record can't be used
	ErrMiss = errors.New("cache miss")
	// ErrStale means the cache file is older than its source
	ErrStale = fmt.Errorf("%w: cache older than source", ErrMiss)
	// ErrKeyMismatch means the stored key differs from the requested one
	ErrKeyMismatch = fmt.Errorf("%w: key mismatch", ErrMiss)
)

type record[K comparable, V any] struct {
	Version int `msgpack:"version"`
	Key     K   `msgpack:"key"`
	Value   V   `msgpack:"value"`
}

// Store reads and writes records of one key/value shape. Version is
// bumped when the on-disk layout changes so old files read as misses.
type Store[K comparable, V any] struct {
	Version int
}

// Load decodes the record at path. It fails with an error wrapping ErrMiss
// when the file is absent, older than sourcePath, undecodable or keyed
// differently. sourcePath may be empty to skip the age check.
func (s Store[K, V]) Load(path, sourcePath string, key K) (V, error) {
	var zero V

	cacheInfo, err := os.Stat(path)
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrMiss, err)
	}
	if sourcePath != "" {
		if srcInfo, err := os.Stat(sourcePath); err == nil && cacheInfo.ModTime().Before(srcInfo.ModTime()) {
			return zero, ErrStale
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrMiss, err)
	}

	var rec record[K, V]
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return zero, fmt.Errorf("%w: corrupt record: %v", ErrMiss, err)
	}
	if rec.Version != s.Version || rec.Key != key {
		return zero, ErrKeyMismatch
	}
	return rec.Value, nil
}

// Save writes the record to path, replacing any previous file atomically
func (s Store[K, V]) Save(path string, key K, value V) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	data, err := msgpack.Marshal(&record[K, V]{
		Version: s.Version,
		Key:     key,
		Value:   value,
	})
	if err != nil {
		return fmt.Errorf("encode cache record: %w", err)
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path, so concurrent readers see either the old or the
// new contents.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	fail := func(step string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%s: %w", step, err)
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

// Remove deletes path, ignoring a missing file
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
