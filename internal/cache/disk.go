package cache

import (
	stderr "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/statdash/statdash/internal/dataset"
	"github.com/statdash/statdash/pkg/errors"
	"github.com/statdash/statdash/pkg/utils"
)

const (
	// DefaultDiskTTL is how long a disk entry stays valid after it was written.
	DefaultDiskTTL = 24 * time.Hour

	diskExt = ".tbl"
	tmpExt  = ".tmp"
)

// DiskTier persists one file per key under a directory. Validity is decided
// by the file's modification time alone: an entry is fresh while
// now-mtime < ttl, so a ttl of zero makes every entry stale.
type DiskTier struct {
	dir   string
	ttl   time.Duration
	codec *tableCodec
	now   Clock
}

// DiskOption configures a DiskTier.
type DiskOption func(*DiskTier)

// WithDiskClock overrides the clock used for freshness checks.
func WithDiskClock(now Clock) DiskOption {
	return func(d *DiskTier) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDiskTier creates dir if needed and returns a tier rooted there. A
// negative ttl is treated as zero.
func NewDiskTier(dir string, ttl time.Duration, opts ...DiskOption) (*DiskTier, error) {
	if dir == "" {
		return nil, errors.New(errors.ErrCodeConfigValidation, "cache directory cannot be empty").
			WithComponent("disk")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to create cache directory").
			WithComponent("disk").WithOperation("NewDiskTier")
	}

	codec, err := newTableCodec()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to initialise codec").
			WithComponent("disk")
	}

	if ttl < 0 {
		ttl = 0
	}
	d := &DiskTier{dir: dir, ttl: ttl, codec: codec, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dir returns the directory backing the tier.
func (d *DiskTier) Dir() string { return d.dir }

// TTL returns the freshness window.
func (d *DiskTier) TTL() time.Duration { return d.ttl }

// PathFor returns the file that holds key.
func (d *DiskTier) PathFor(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	path, err := utils.SecureJoin(d.dir, SafeToken(key)+diskExt)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeCacheKeyInvalid, "unsafe cache path").WithKey(key)
	}
	return path, nil
}

// IsValid reports whether a fresh entry exists for key.
func (d *DiskTier) IsValid(key string) bool {
	if d.ttl <= 0 {
		return false
	}
	path, err := d.PathFor(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return d.now().Sub(info.ModTime()) < d.ttl
}

// Load reads and decodes the entry for key. Freshness is not checked; call
// IsValid first.
func (d *DiskTier) Load(key string) (*dataset.Table, error) {
	path, err := d.PathFor(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path built by SecureJoin
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheDeserialize, "failed to read cache file").
			WithComponent("disk").WithOperation("Load").WithKey(key)
	}

	table, err := d.codec.decode(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheDeserialize, "corrupt cache file").
			WithComponent("disk").WithOperation("Load").WithKey(key)
	}
	return table, nil
}

// Store writes table for key. The file is written under a temporary name and
// renamed into place so readers never observe a partial entry.
func (d *DiskTier) Store(key string, table *dataset.Table) error {
	path, err := d.PathFor(key)
	if err != nil {
		return err
	}

	data, err := d.codec.encode(table)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCachePersist, "failed to encode table").
			WithComponent("disk").WithOperation("Store").WithKey(key)
	}

	if err := writeFileAtomic(d.dir, path, data); err != nil {
		return errors.Wrap(err, errors.ErrCodeCachePersist, "failed to write cache file").
			WithComponent("disk").WithOperation("Store").WithKey(key)
	}
	return nil
}

// Evict removes the entry for key. A missing entry is not an error.
func (d *DiskTier) Evict(key string) error {
	path, err := d.PathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !stderr.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, errors.ErrCodeCachePersist, "failed to remove cache file").
			WithComponent("disk").WithOperation("Evict").WithKey(key)
	}
	return nil
}

// EvictAll removes every entry and leftover temporary file. Files the tier
// did not create are left alone.
func (d *DiskTier) EvictAll() error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if stderr.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeCachePersist, "failed to list cache directory").
			WithComponent("disk").WithOperation("EvictAll")
	}

	var errs []error
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isTierFile(entry.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(d.dir, entry.Name())); err != nil && !stderr.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrap(stderr.Join(errs...), errors.ErrCodeCachePersist, "failed to remove cache files").
			WithComponent("disk").WithOperation("EvictAll")
	}
	return nil
}

// Usage counts the entries on disk and their total size in bytes, stale ones
// included.
func (d *DiskTier) Usage() (files int, size int64, err error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return 0, 0, err
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), diskExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files++
		size += info.Size()
	}
	return files, size, nil
}

// Close releases the codec.
func (d *DiskTier) Close() error {
	return d.codec.close()
}

func isTierFile(name string) bool {
	return strings.HasSuffix(name, diskExt) || strings.HasSuffix(name, tmpExt)
}

func writeFileAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*"+tmpExt)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
