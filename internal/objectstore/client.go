// Package objectstore is a client for a Supabase-Storage-compatible object store.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sentinel errors for object store failures.
var (
	ErrBucketNotFound = errors.New("bucket not found")
	ErrUnreachable    = errors.New("object store unreachable")
	ErrRequest        = errors.New("object store request failed")
)

// Client is the interface for the object store. All photo bytes go through here.
type Client interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateSignedUploadURL(ctx context.Context, bucket, path string) (*SignedUpload, error)
	UploadToSignedURL(ctx context.Context, upload *SignedUpload, body []byte, contentType string) error
	Upload(ctx context.Context, bucket, path string, body []byte, contentType string, upsert bool) error
	PublicURL(bucket, path string) string
	CreateSignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error)
}

// SignedUpload is a short-lived credential scoped to one object path.
type SignedUpload struct {
	Bucket string
	Path   string
	Token  string
	URL    string
}

// HTTPClient implements Client over the storage REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a storage client. baseURL is the project URL without
// the /storage/v1 suffix; apiKey is sent as both apikey and bearer token.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	u := fmt.Sprintf("%s/storage/v1/bucket/%s", c.baseURL, url.PathEscape(bucket))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	err = readError(resp)
	if errors.Is(err, ErrBucketNotFound) {
		return false, nil
	}
	return false, err
}

func (c *HTTPClient) CreateSignedUploadURL(ctx context.Context, bucket, path string) (*SignedUpload, error) {
	u := fmt.Sprintf("%s/storage/v1/object/upload/sign/%s/%s", c.baseURL, url.PathEscape(bucket), escapePath(path))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var body signedUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding signed upload response: %w", err)
	}

	token := body.Token
	if token == "" {
		if parsed, err := url.Parse(body.URL); err == nil {
			token = parsed.Query().Get("token")
		}
	}
	if token == "" {
		return nil, fmt.Errorf("%w: signed upload response carried no token", ErrRequest)
	}

	return &SignedUpload{
		Bucket: bucket,
		Path:   path,
		Token:  token,
		URL:    fmt.Sprintf("%s/storage/v1/object/upload/sign/%s/%s?token=%s", c.baseURL, url.PathEscape(bucket), escapePath(path), url.QueryEscape(token)),
	}, nil
}

func (c *HTTPClient) UploadToSignedURL(ctx context.Context, upload *SignedUpload, body []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, upload.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	// The token authorizes the write; only the anon apikey header is needed.
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}
	return nil
}

func (c *HTTPClient) Upload(ctx context.Context, bucket, path string, body []byte, contentType string, upsert bool) error {
	u := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, url.PathEscape(bucket), escapePath(path))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)
	if upsert {
		req.Header.Set("x-upsert", "true")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}
	return nil
}

// PublicURL derives the address of an object in a public bucket. No request is made.
func (c *HTTPClient) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, url.PathEscape(bucket), escapePath(path))
}

func (c *HTTPClient) CreateSignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	u := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", c.baseURL, url.PathEscape(bucket), escapePath(path))

	payload, err := json.Marshal(signURLRequest{ExpiresIn: int(ttl / time.Second)})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readError(resp)
	}

	var body signURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding signed url response: %w", err)
	}
	if body.SignedURL == "" {
		return "", fmt.Errorf("%w: empty signed url", ErrRequest)
	}

	// The API answers with a path relative to /storage/v1.
	if strings.HasPrefix(body.SignedURL, "http://") || strings.HasPrefix(body.SignedURL, "https://") {
		return body.SignedURL, nil
	}
	return c.baseURL + "/storage/v1" + body.SignedURL, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

// escapePath escapes each segment of an object path, keeping the separators.
func escapePath(p string) string {
	parts := strings.Split(strings.TrimLeft(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// readError turns a non-2xx storage response into an error carrying the server's message.
func readError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body errorResponse
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			msg = body.Message
		} else if body.Error != "" {
			msg = body.Error
		}
	}

	notFound := resp.StatusCode == http.StatusNotFound ||
		body.StatusCode == "404" ||
		strings.Contains(strings.ToLower(msg), "bucket not found")
	if notFound && strings.Contains(strings.ToLower(msg+body.Error), "bucket") {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, msg)
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%w: status %d: %s", ErrRequest, resp.StatusCode, msg)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// --- storage API types ---

type signedUploadResponse struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

type signURLRequest struct {
	ExpiresIn int `json:"expiresIn"`
}

type signURLResponse struct {
	SignedURL string `json:"signedURL"`
}

type errorResponse struct {
	StatusCode string `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
