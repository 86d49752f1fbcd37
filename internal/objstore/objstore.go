// Package objstore reads named blobs from a bucket: Google Cloud Storage in
// production, a local directory tree in development and tests.
package objstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"cloud.google.com/go/storage"
	"github.com/go-faster/errors"

	"github.com/KI7MT/ki7mt-solar-germany/internal/logging"
)

// ErrObjectNotFound is returned when a bucket or object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Store opens blobs by bucket and object name.
type Store interface {
	Open(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// ParseURI splits "gs://bucket/path/to/object" into bucket and object.
func ParseURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("uri %q must name a bucket and an object", uri)
	}
	return bucket, object, nil
}

// IsURI reports whether s is a gs:// uri.
func IsURI(s string) bool {
	return strings.HasPrefix(s, "gs://")
}

// =============================================================================
// Google Cloud Storage
// =============================================================================

// GCS reads objects with the Cloud Storage client. Credentials come from the
// environment (Application Default Credentials).
type GCS struct {
	client *storage.Client
}

// NewGCS creates a Cloud Storage client.
func NewGCS(ctx context.Context) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "storage client")
	}
	return &GCS{client: client}, nil
}

// Open implements Store.
func (g *GCS) Open(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, errors.Wrapf(ErrObjectNotFound, "gs://%s/%s", bucket, object)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open gs://%s/%s", bucket, object)
	}
	return r, nil
}

// Close closes the client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// =============================================================================
// Local directory
// =============================================================================

// Dir serves objects from <Root>/<bucket>/<object>.
type Dir struct {
	Root string
}

// Open implements Store.
func (d Dir) Open(_ context.Context, bucket, object string) (io.ReadCloser, error) {
	if bucket == "" || strings.Contains(bucket, "..") || strings.Contains(object, "..") {
		return nil, fmt.Errorf("invalid object %q in bucket %q", object, bucket)
	}
	path := filepath.Join(d.Root, bucket, filepath.FromSlash(object))
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(ErrObjectNotFound, path)
	}
	return f, err
}

// =============================================================================
// Helpers
// =============================================================================

// ReadText fetches an object and returns it as UTF-8 text.
func ReadText(ctx context.Context, s Store, bucket, object string) (string, error) {
	r, err := s.Open(ctx, bucket, object)
	if err != nil {
		return "", err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", errors.Wrapf(err, "read %s/%s", bucket, object)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s/%s is not valid UTF-8", bucket, object)
	}
	return string(data), nil
}

// Download copies an object to path. The file is written to path.tmp and
// renamed into place once complete.
func Download(ctx context.Context, s Store, bucket, object, path string) (int64, error) {
	r, err := s.Open(ctx, bucket, object)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, errors.Wrapf(err, "download %s/%s", bucket, object)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, err
	}

	logging.Info().Str("object", bucket+"/"+object).Str("path", path).Int64("bytes", n).Msg("downloaded")
	return n, nil
}
