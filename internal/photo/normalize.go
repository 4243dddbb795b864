package photo

import (
	"context"
	"regexp"
	"strings"

	"github.com/kiranshivaraju/cleanops/internal/apperr"
)

// JPEGQuality is the re-encode quality used for HEIC/HEIF captures.
const JPEGQuality = 90

var heicSuffix = regexp.MustCompile(`(?i)\.(heic|heif)(\?|$)`)

// Transcoder re-encodes a local image as JPEG and returns the new local URI.
type Transcoder interface {
	ToJPEG(ctx context.Context, uri string, quality int) (string, error)
}

// Normalized is an image ready for upload.
type Normalized struct {
	ContentType string
	Ext         string
	URI         string
	// Transcoded is set when URI points at a temporary file owned by the caller.
	Transcoded bool
}

// Normalizer classifies captured images and converts HEIC/HEIF to JPEG.
type Normalizer struct {
	transcoder Transcoder
}

func NewNormalizer(t Transcoder) *Normalizer {
	return &Normalizer{transcoder: t}
}

// Normalize returns the content type, extension and working URI for uri.
// Only transcoding can fail.
func (n *Normalizer) Normalize(ctx context.Context, uri string) (Normalized, error) {
	contentType, ext := Classify(uri)

	if contentType == "image/heic" || contentType == "image/heif" || heicSuffix.MatchString(uri) {
		out, err := n.transcoder.ToJPEG(ctx, uri, JPEGQuality)
		if err != nil {
			return Normalized{}, &apperr.UploadError{Kind: apperr.UploadTranscodeFailed, Step: "normalize", Err: err}
		}
		return Normalized{ContentType: "image/jpeg", Ext: "jpg", URI: out, Transcoded: true}, nil
	}

	return Normalized{ContentType: contentType, Ext: ext, URI: uri}, nil
}

// Classify derives (content type, extension) from a data URI prefix, else the
// trailing file extension, else JPEG.
func Classify(uri string) (string, string) {
	if strings.HasPrefix(uri, "data:") {
		if end := strings.IndexAny(uri, ";,"); end > len("data:") {
			mime := strings.ToLower(uri[len("data:"):end])
			if mime == "image/jpg" {
				mime = "image/jpeg"
			}
			return mime, extForMIME(mime)
		}
		return "image/jpeg", "jpg"
	}

	p := uri
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	slash := strings.LastIndex(p, "/")
	dot := strings.LastIndex(p, ".")
	if dot <= slash || dot == len(p)-1 {
		return "image/jpeg", "jpg"
	}

	ext := strings.ToLower(p[dot+1:])
	if ext == "jpeg" {
		ext = "jpg"
	}
	return mimeForExt(ext), ext
}

func extForMIME(mime string) string {
	switch mime {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		// jpeg, heic/heif (transcoded) and anything unrecognised upload as jpg.
		return "jpg"
	}
}

func mimeForExt(ext string) string {
	switch ext {
	case "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "heic":
		return "image/heic"
	case "heif":
		return "image/heif"
	case "gif":
		return "image/gif"
	default:
		return "image/" + ext
	}
}
