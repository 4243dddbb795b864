package photo

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kiranshivaraju/cleanops/internal/apperr"
)

var errEmptyPayload = errors.New("no bytes read")

// Fetcher reads a resource the way a network fetch would.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Base64Reader reads a resource as base64 text.
type Base64Reader interface {
	ReadBase64(ctx context.Context, uri string) (string, error)
}

// Loader returns a non-empty payload for a local image, falling back to a
// base64 read when the fetch fails or yields nothing.
type Loader struct {
	fetcher  Fetcher
	fallback Base64Reader
}

func NewLoader(f Fetcher, fallback Base64Reader) *Loader {
	return &Loader{fetcher: f, fallback: fallback}
}

func (l *Loader) Load(ctx context.Context, uri string) ([]byte, error) {
	data, fetchErr := l.fetcher.Fetch(ctx, uri)
	if fetchErr == nil && len(data) > 0 {
		return data, nil
	}
	if fetchErr == nil {
		fetchErr = errEmptyPayload
	}
	slog.Debug("primary read failed, falling back to base64", "uri", redact(uri), "error", fetchErr)

	encoded, readErr := l.fallback.ReadBase64(ctx, uri)
	if readErr == nil {
		if data = DecodeBase64(encoded); len(data) > 0 {
			return data, nil
		}
		readErr = errEmptyPayload
	}

	return nil, &apperr.UploadError{
		Kind: apperr.UploadEmptyPayload,
		Step: "load",
		Err:  fmt.Errorf("fetch: %v; base64 read: %w", fetchErr, readErr),
	}
}

// HTTPFetcher fetches http, https and file URIs. Bare paths are treated as files.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
	return &HTTPFetcher{client: &http.Client{Transport: tr, Timeout: timeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if !strings.Contains(uri, "://") && !isDataURI(uri) {
		uri = (&url.URL{Scheme: "file", Path: uri}).String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// FileBase64Reader reads data URIs, file:// URIs and bare paths as base64.
type FileBase64Reader struct{}

func (FileBase64Reader) ReadBase64(ctx context.Context, uri string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if isDataURI(uri) {
		return dataURIPayload(uri)
	}
	raw, err := os.ReadFile(localPath(uri))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

var (
	_ Fetcher      = (*HTTPFetcher)(nil)
	_ Base64Reader = FileBase64Reader{}
)

func isDataURI(uri string) bool {
	return strings.HasPrefix(uri, "data:")
}

// dataURIPayload returns the payload of a data URI as base64 text.
func dataURIPayload(uri string) (string, error) {
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return "", fmt.Errorf("malformed data uri")
	}
	meta, payload := uri[len("data:"):comma], uri[comma+1:]
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		return payload, nil
	}
	raw, err := url.PathUnescape(payload)
	if err != nil {
		return "", fmt.Errorf("decoding data uri: %w", err)
	}
	return base64.StdEncoding.EncodeToString([]byte(raw)), nil
}

// localPath turns a file:// URI into a filesystem path. Other input is returned as is.
func localPath(uri string) string {
	if !strings.HasPrefix(uri, "file://") {
		return uri
	}
	u, err := url.Parse(uri)
	if err != nil {
		return strings.TrimPrefix(uri, "file://")
	}
	return u.Path
}

// redact shortens data URIs for logs.
func redact(uri string) string {
	if !isDataURI(uri) {
		return uri
	}
	if i := strings.IndexByte(uri, ','); i >= 0 {
		return uri[:i] + ",…"
	}
	return "data:…"
}
