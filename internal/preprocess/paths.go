package preprocess

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
)

// RawPath returns <dir>/raw_solar_data_<min>_<max>.csv.
func RawPath(dir string, minYear, maxYear int) string {
	return filepath.Join(dir, fmt.Sprintf("raw_solar_data_%d_%d.csv", minYear, maxYear))
}

// ProcessedPath returns <dir>/processed_solar_data_<min>_<max>.csv.
func ProcessedPath(dir string, minYear, maxYear int) string {
	return filepath.Join(dir, fmt.Sprintf("processed_solar_data_%d_%d.csv", minYear, maxYear))
}

// LockPath returns <dir>/.solar_<min>_<max>.lock.
func LockPath(dir string, minYear, maxYear int) string {
	return filepath.Join(dir, fmt.Sprintf(".solar_%d_%d.lock", minYear, maxYear))
}

// ErrRangeLocked is returned when another run holds the range lock.
var ErrRangeLocked = errors.New("year range is being preprocessed by another run")

// rangeLock is a single-writer lock for one year range, held by creating the
// lock file exclusively.
type rangeLock struct {
	path string
}

func acquireLock(path string) (*rangeLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, errors.Wrap(ErrRangeLocked, path)
	}
	if err != nil {
		return nil, errors.Wrap(err, "create lock")
	}
	_, err = fmt.Fprintf(f, "pid=%d started=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, errors.Wrap(err, "write lock")
	}
	return &rangeLock{path: path}, nil
}

func (l *rangeLock) release() error {
	err := os.Remove(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Unlock removes a range lock left behind by a crashed run.
func Unlock(dir string, minYear, maxYear int) error {
	err := os.Remove(LockPath(dir, minYear, maxYear))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// fileExists reports whether path is an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
