package source

import (
	"context"
	stderr "errors"
	"io/fs"
	"os"

	"github.com/statdash/statdash/internal/cache"
	"github.com/statdash/statdash/internal/dataset"
	"github.com/statdash/statdash/pkg/errors"
	"github.com/statdash/statdash/pkg/utils"
)

// CSVExt is the extension of source files in a LocalStore directory.
const CSVExt = ".csv"

// LocalStore reads <dir>/<SafeToken(key)>.csv.
type LocalStore struct {
	dir string
}

// NewLocalStore checks that dir is a directory.
func NewLocalStore(dir string) (*LocalStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "source directory is not accessible").
			WithComponent("local-source").WithKey(dir)
	}
	if !info.IsDir() {
		return nil, errors.New(errors.ErrCodeConfigValidation, "source path is not a directory").
			WithComponent("local-source").WithKey(dir)
	}
	return &LocalStore{dir: dir}, nil
}

// Dir returns the watched directory.
func (s *LocalStore) Dir() string { return s.dir }

// Ping checks that the directory is still readable.
func (s *LocalStore) Ping(ctx context.Context) error {
	if _, err := os.ReadDir(s.dir); err != nil {
		return unavailable("local-source", "", err)
	}
	return nil
}

// Path returns the file holding key.
func (s *LocalStore) Path(key string) (string, error) {
	if key == "" {
		return "", cache.ErrEmptyKey
	}
	return utils.SecureJoin(s.dir, cache.SafeToken(key)+CSVExt)
}

// Load reads and parses the CSV file for key.
func (s *LocalStore) Load(ctx context.Context, key string) (*dataset.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.Path(key)
	if err != nil {
		return nil, readFailed("local-source", key, err)
	}

	f, err := os.Open(path) // #nosec G304 -- path built by SecureJoin
	if err != nil {
		if stderr.Is(err, fs.ErrNotExist) {
			return nil, notFound("local-source", key, err)
		}
		return nil, readFailed("local-source", key, err)
	}
	defer f.Close()

	table, err := dataset.ReadCSV(key, f)
	if err != nil {
		return nil, readFailed("local-source", key, err)
	}
	return table, nil
}

// Close is a no-op.
func (s *LocalStore) Close() error { return nil }
