package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/kiranshivaraju/cleanops/internal/api/response"
	"github.com/kiranshivaraju/cleanops/internal/apperr"
	"github.com/kiranshivaraju/cleanops/internal/photo"
	"github.com/kiranshivaraju/cleanops/pkg/models"
)

const (
	maxUploadBytes  = 25 << 20
	multipartMemory = 8 << 20
)

var spoolExt = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)

var validate = validator.New(validator.WithRequiredStructEnabled())

// PhotoLister lists a job's recorded photos after an ownership check.
type PhotoLister interface {
	ListPhotos(ctx context.Context, sess *models.Session, jobID string) ([]*models.Photo, error)
}

// GalleryResolver attaches display URLs to recorded photos.
type GalleryResolver interface {
	Gallery(ctx context.Context, photos []*models.Photo) ([]photo.GalleryItem, error)
}

type uploadRequest struct {
	Kind    string `json:"kind" validate:"required,oneof=before after"`
	DataURI string `json:"data_uri" validate:"required,startswith=data:"`
}

type uploadResponse struct {
	Photo *photo.Result `json:"photo"`
	Job   jobView       `json:"job"`
}

// NewListPhotosHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/photos.
func NewListPhotosHandler(list PhotoLister, gallery GalleryResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := requireSession(w, r)
		if !ok {
			return
		}

		photos, err := list.ListPhotos(r.Context(), sess, chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		items, err := gallery.Gallery(r.Context(), photos)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, items)
	}
}

// NewUploadPhotoHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/photos. The body is either multipart with "file"
// and "kind" fields, or JSON {"kind", "data_uri"}. Multipart files are spooled
// into spoolDir for the duration of the request.
func NewUploadPhotoHandler(lc Lifecycle, spoolDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := requireSession(w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

		var (
			kind     string
			localURI string
		)
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "multipart/form-data" {
			path, k, err := spoolMultipart(r, spoolDir)
			if err != nil {
				writeError(w, r, err)
				return
			}
			defer os.Remove(path)
			kind, localURI = k, "file://"+path
		} else {
			var req uploadRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			if err := validate.Struct(req); err != nil {
				writeError(w, r, uploadValidation(err))
				return
			}
			kind, localURI = req.Kind, req.DataURI
		}

		snap, err := lc.Load(r.Context(), sess, chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		next, res, err := lc.UploadPhoto(r.Context(), sess, snap, localURI, models.PhotoKind(kind))
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, uploadResponse{Photo: res, Job: newJobView(next)})
	}
}

func spoolMultipart(r *http.Request, dir string) (string, string, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return "", "", apperr.Invalid("file", "Photo upload is too large or malformed.")
	}
	defer r.MultipartForm.RemoveAll()

	kind := r.FormValue("kind")
	if err := validate.Var(kind, "required,oneof=before after"); err != nil {
		return "", "", apperr.Invalid("kind", "Photo type must be before or after.")
	}

	src, hdr, err := r.FormFile("file")
	if err != nil {
		return "", "", apperr.Invalid("file", "A photo file is required.")
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(hdr.Filename))
	if !spoolExt.MatchString(ext) {
		ext = ".jpg"
	}
	f, err := os.CreateTemp(dir, "upload-*"+ext)
	if err != nil {
		return "", "", err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", "", err
	}
	slog.Debug("photo spooled", "path", f.Name(), "size", hdr.Size, "kind", kind)
	return f.Name(), kind, nil
}

func uploadValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Invalid("body", err.Error())
	}
	switch verrs[0].Field() {
	case "Kind":
		return apperr.Invalid("kind", "Photo type must be before or after.")
	default:
		return apperr.Invalid("data_uri", "data_uri must be a data: URI.")
	}
}
