package service

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/timmy/memeindex/internal/domain"
	"github.com/timmy/memeindex/internal/storage"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// fileMeta is what the scanner and uploads record about a new file.
func fileMeta(obj storage.Object) domain.Meta {
	return domain.Meta{
		"file_size": obj.Size,
		"format":    obj.Format,
	}
}

// imageDimensions reads only the image header.
func imageDimensions(r io.Reader) (int, int, error) {
	config, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, err
	}
	return config.Width, config.Height, nil
}
