// Package photo turns a captured image into a stored, recorded photo of a job.
package photo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/cleanops/internal/apperr"
	"github.com/kiranshivaraju/cleanops/internal/objectstore"
	"github.com/kiranshivaraju/cleanops/pkg/models"
)

const suffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Recorder persists photo rows.
type Recorder interface {
	InsertPhoto(ctx context.Context, photo *models.Photo) (*models.Photo, error)
}

// Config selects the bucket and how display URLs are issued.
type Config struct {
	Bucket       string
	SignedURLs   bool
	SignedURLTTL time.Duration
}

// Result is the outcome of a successful upload.
type Result struct {
	StoragePath string        `json:"storage_path"`
	DisplayURL  string        `json:"display_url"`
	Photo       *models.Photo `json:"photo"`
}

// GalleryItem is a recorded photo with a URL the app can render.
type GalleryItem struct {
	Photo      *models.Photo `json:"photo"`
	DisplayURL string        `json:"display_url"`
}

// Pipeline uploads one photo at a time. Steps run in a fixed order and the
// photo row is written last; nothing is retried.
type Pipeline struct {
	normalizer *Normalizer
	loader     *Loader
	objects    objectstore.Client
	photos     Recorder
	cfg        Config

	now    func() time.Time
	suffix func() string
}

func NewPipeline(n *Normalizer, l *Loader, objects objectstore.Client, photos Recorder, cfg Config) (*Pipeline, error) {
	gen, err := nanoid.CustomASCII(suffixAlphabet, 6)
	if err != nil {
		return nil, fmt.Errorf("creating suffix generator: %w", err)
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = time.Hour
	}
	return &Pipeline{
		normalizer: n,
		loader:     l,
		objects:    objects,
		photos:     photos,
		cfg:        cfg,
		now:        time.Now,
		suffix:     gen,
	}, nil
}

// Upload normalizes, loads, stores and records localURI as a kind photo of jobID.
func (p *Pipeline) Upload(ctx context.Context, sess *models.Session, jobID, localURI string, kind models.PhotoKind) (*Result, error) {
	if !kind.Valid() {
		return nil, apperr.Invalid("kind", fmt.Sprintf("Photo kind must be %q or %q.", models.PhotoKindBefore, models.PhotoKindAfter))
	}
	safeID := SanitizeJobID(jobID)
	if safeID == "" {
		return nil, apperr.Invalid("job_id", "Job id has no usable characters.")
	}

	log := slog.With("job_id", jobID, "kind", string(kind), "user_id", sess.UserID)
	log.Info("photo upload START", "uri", redact(localURI))

	fail := func(uk apperr.UploadKind, step string, err error) error {
		log.Error("photo upload failed", "step", step, "reason", string(uk), "error", err)
		return &apperr.UploadError{Kind: uk, JobID: jobID, PhotoKind: string(kind), Step: step, Err: err}
	}

	norm, err := p.normalizer.Normalize(ctx, localURI)
	if err != nil {
		return nil, fail(apperr.UploadTranscodeFailed, "normalize", unwrapUpload(err))
	}
	if norm.Transcoded {
		defer removeTemp(norm.URI)
		log.Info("photo transcoded to jpeg", "uri", norm.URI)
	}

	body, err := p.loader.Load(ctx, norm.URI)
	if err != nil {
		return nil, fail(apperr.UploadEmptyPayload, "load", unwrapUpload(err))
	}
	log.Info("photo bytes loaded", "bytes", len(body), "content_type", norm.ContentType)

	now := p.now()
	path := fmt.Sprintf("jobs/%s/%s-%d-%s.%s", safeID, kind, now.UnixMilli(), p.suffix(), norm.Ext)
	log = log.With("path", path)

	exists, err := p.objects.BucketExists(ctx, p.cfg.Bucket)
	if err != nil {
		return nil, fail(apperr.UploadBucketMissing, "probe_bucket", fmt.Errorf("checking bucket %q: %w", p.cfg.Bucket, err))
	}
	if !exists {
		return nil, fail(apperr.UploadBucketMissing, "probe_bucket", fmt.Errorf("%w: %q", objectstore.ErrBucketNotFound, p.cfg.Bucket))
	}

	mode, err := p.store(ctx, path, body, norm.ContentType)
	if err != nil {
		return nil, fail(apperr.UploadStoreUploadFailed, "upload", err)
	}
	log.Info("photo stored", "mode", mode)

	displayURL, err := p.displayURL(ctx, path, now)
	if err != nil {
		return nil, fail(apperr.UploadCredentialFailed, "display_url", err)
	}

	rec, err := p.photos.InsertPhoto(ctx, &models.Photo{
		JobID:     jobID,
		Kind:      kind,
		Path:      path,
		CreatedAt: now.UTC(),
	})
	if err != nil {
		return nil, fail(apperr.UploadRecordInsertFailed, "record", err)
	}

	log.Info("photo upload SUCCESS", "photo_id", rec.ID)
	return &Result{StoragePath: path, DisplayURL: displayURL, Photo: rec}, nil
}

// store prefers a signed upload and falls back to a direct upsert when the
// credential cannot be issued.
func (p *Pipeline) store(ctx context.Context, path string, body []byte, contentType string) (string, error) {
	signed, err := p.objects.CreateSignedUploadURL(ctx, p.cfg.Bucket, path)
	if err == nil {
		if err := p.objects.UploadToSignedURL(ctx, signed, body, contentType); err != nil {
			return "signed", err
		}
		return "signed", nil
	}

	slog.Warn("signed upload credential failed, uploading directly", "path", path, "error", err)
	if err := p.objects.Upload(ctx, p.cfg.Bucket, path, body, contentType, true); err != nil {
		return "direct", err
	}
	return "direct", nil
}

func (p *Pipeline) displayURL(ctx context.Context, path string, at time.Time) (string, error) {
	var u string
	if p.cfg.SignedURLs {
		signed, err := p.objects.CreateSignedURL(ctx, p.cfg.Bucket, path, p.cfg.SignedURLTTL)
		if err != nil {
			return "", err
		}
		u = signed
	} else {
		u = p.objects.PublicURL(p.cfg.Bucket, path)
	}
	return WithCacheBuster(u, at), nil
}

// Gallery resolves display URLs for photos concurrently, keeping their order.
func (p *Pipeline) Gallery(ctx context.Context, photos []*models.Photo) ([]GalleryItem, error) {
	items := make([]GalleryItem, len(photos))
	now := p.now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, ph := range photos {
		g.Go(func() error {
			u, err := p.displayURL(ctx, ph.Path, now)
			if err != nil {
				return &apperr.UploadError{
					Kind: apperr.UploadCredentialFailed, JobID: ph.JobID, PhotoKind: string(ph.Kind),
					Step: "display_url", Err: err,
				}
			}
			items[i] = GalleryItem{Photo: ph, DisplayURL: u}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// SanitizeJobID drops every character outside [A-Za-z0-9-_].
func SanitizeJobID(id string) string {
	return unsafePathChars.ReplaceAllString(id, "")
}

// WithCacheBuster appends cb=<unix millis> to u.
func WithCacheBuster(u string, at time.Time) string {
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "cb=" + strconv.FormatInt(at.UnixMilli(), 10)
}

func unwrapUpload(err error) error {
	var ue *apperr.UploadError
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err
	}
	return err
}

func removeTemp(uri string) {
	if err := os.Remove(localPath(uri)); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("removing transcoded photo", "uri", uri, "error", err)
	}
}
