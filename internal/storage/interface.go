package storage

import (
	"context"
	"io"
	"iter"
	"path/filepath"
	"strings"
	"time"
)

// Object describes one image file reachable through a Storage.
type Object struct {
	// Path is an absolute local path or an s3://bucket/key URL.
	Path    string
	Size    int64
	ModTime time.Time
	// Format is the normalized image format derived from the extension.
	Format string
}

// Storage is the file access used by scanning, processing and cleanup.
type Storage interface {
	// Walk lazily yields every image under root. Directories whose name
	// starts with "." are skipped. A walk failure is yielded once as the
	// final element.
	Walk(ctx context.Context, root string) iter.Seq2[Object, error]

	// Open opens the file at path for reading.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Stat returns file information. Missing files yield an error that
	// matches fs.ErrNotExist.
	Stat(ctx context.Context, path string) (Object, error)

	// Save writes r to path, creating parents as needed. It never replaces
	// an existing file: if path exists the error matches fs.ErrExist.
	Save(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
}

var imageFormats = map[string]string{
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".png":  "png",
	".gif":  "gif",
	".webp": "webp",
	".bmp":  "bmp",
}

// ImageFormat maps a file name onto its image format. The second result is
// false for extensions outside the allow-list.
func ImageFormat(name string) (string, bool) {
	format, ok := imageFormats[strings.ToLower(filepath.Ext(name))]
	return format, ok
}

// ContentType returns the MIME type for an image format.
func ContentType(format string) string {
	if format == "" {
		return "application/octet-stream"
	}
	return "image/" + format
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
