// Package export retrieves rendered raster artifacts (GeoTIFF exports)
// from the compute service's results bucket and parks them in the file
// cache so repeated downloads of the same export hit disk instead of the
// network.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/earthsight/earthsight/internal/cache"
	"github.com/earthsight/earthsight/internal/observability"
)

// ObjectStore is the remote artifact storage boundary.
type ObjectStore interface {
	Download(ctx context.Context, bucket, key string, w io.Writer) (int64, error)
}

// Exporter fetches artifacts through the file cache.
type Exporter struct {
	files   *cache.FileCache
	objects ObjectStore
	logger  *observability.Logger
}

// NewExporter creates an exporter over the given file cache and object
// store.
func NewExporter(files *cache.FileCache, objects ObjectStore, logger *observability.Logger) *Exporter {
	return &Exporter{files: files, objects: objects, logger: logger}
}

// Fetch returns a local path for the artifact, downloading it only when
// the file cache has no copy. The cache identifier is bucket-qualified so
// the same object key in different buckets cannot collide.
func (e *Exporter) Fetch(ctx context.Context, bucket, objectKey string) (string, error) {
	identifier := bucket + "/" + objectKey
	ext := path.Ext(objectKey)

	if cached, ok := e.files.Check(identifier, ext); ok {
		e.logger.WithRequestID(ctx).Info("artifact served from file cache", "object", objectKey)
		return cached, nil
	}

	tmp, err := e.download(ctx, bucket, objectKey, ext)
	if err != nil {
		return "", err
	}

	dest, err := e.files.Store(tmp, identifier, ext, true)
	if err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if dest == "" {
		// Caching disabled; serve the downloaded file as-is.
		return tmp, nil
	}
	return dest, nil
}

// FetchNamed is the variant for artifacts whose export filename is
// meaningful: the file lands in the cache directory under that exact
// name.
func (e *Exporter) FetchNamed(ctx context.Context, bucket, objectKey, filename string) (string, error) {
	tmp, err := e.download(ctx, bucket, objectKey, path.Ext(filename))
	if err != nil {
		return "", err
	}

	dest, err := e.files.StoreNamed(tmp, filename)
	if err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if dest == "" {
		return tmp, nil
	}
	return dest, nil
}

// download pulls the object into a uniquely named temp file and returns
// its path. The temp file is removed on failure.
func (e *Exporter) download(ctx context.Context, bucket, objectKey, ext string) (string, error) {
	tmp := filepath.Join(os.TempDir(), "earthsight-"+uuid.NewString()+ext)

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	n, err := e.objects.Download(ctx, bucket, objectKey, f)
	closeErr := f.Close()
	if err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("download %s/%s: %w", bucket, objectKey, err)
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return "", closeErr
	}

	e.logger.Info("downloaded artifact", "object", objectKey, "bytes", n)
	return tmp, nil
}
