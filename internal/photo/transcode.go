package photo

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/disintegration/imaging"
	_ "github.com/gen2brain/heic"
)

// ImagingTranscoder decodes any format registered with the image package,
// HEIC/HEIF included, and writes a JPEG copy into dir.
type ImagingTranscoder struct {
	dir string
}

func NewImagingTranscoder(dir string) *ImagingTranscoder {
	return &ImagingTranscoder{dir: dir}
}

// ToJPEG returns a file:// URI for a temporary JPEG. The caller removes it.
func (t *ImagingTranscoder) ToJPEG(ctx context.Context, uri string, quality int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := openSource(uri)
	if err != nil {
		return "", err
	}
	defer src.Close()

	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", redact(uri), err)
	}

	return t.writeJPEG(img, quality)
}

func (t *ImagingTranscoder) writeJPEG(img image.Image, quality int) (string, error) {
	f, err := os.CreateTemp(t.dir, "photo-*.jpg")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	if err := imaging.Encode(f, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("encoding jpeg: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	return "file://" + f.Name(), nil
}

// openSource opens a data URI, file:// URI or bare path for reading.
func openSource(uri string) (io.ReadCloser, error) {
	if isDataURI(uri) {
		payload, err := dataURIPayload(uri)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(DecodeBase64(payload))), nil
	}
	f, err := os.Open(localPath(uri))
	if err != nil {
		return nil, fmt.Errorf("opening source: %w", err)
	}
	return f, nil
}

var _ Transcoder = (*ImagingTranscoder)(nil)
