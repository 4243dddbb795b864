// Package identity talks to the hosted identity provider (a GoTrue-compatible
// auth API) and verifies the access tokens it issues.
package identity

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

	"github.com/kiranshivaraju/cleanops/pkg/models"
)

// Sentinel errors for identity provider failures.
var (
	ErrUnauthorized = errors.New("identity provider rejected credentials")
	ErrUnreachable  = errors.New("identity provider unreachable")
	ErrRequest      = errors.New("identity provider request failed")
)

// ProviderError carries the provider's human-readable message. It unwraps to
// ErrUnauthorized for credential rejections and ErrRequest otherwise.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string { return e.Message }

func (e *ProviderError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
		return ErrUnauthorized
	default:
		return ErrRequest
	}
}

// User is the provider's view of the session subject.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Client is the interface for the identity provider.
type Client interface {
	SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*User, error)
	Refresh(ctx context.Context, refreshToken string) (*models.Session, error)
	RecoverPassword(ctx context.Context, email, redirectTo string) error
	ExchangeCode(ctx context.Context, authCode, codeVerifier string) (*models.Session, error)
	UpdatePassword(ctx context.Context, accessToken, password string) error
	Subscribe(fn func(SessionEvent)) (unsubscribe func())
}

// HTTPClient implements Client using the provider's REST API.
type HTTPClient struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	notifier *Notifier
	now      func() time.Time
}

// NewHTTPClient creates an identity client. apiKey is the project's public (anon) key.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		notifier: NewNotifier(),
		now:      time.Now,
	}
}

func (c *HTTPClient) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	sess, err := c.token(ctx, "password", passwordGrant{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	c.notifier.Publish(SessionEvent{Type: EventSignedIn, UserID: sess.UserID})
	return sess, nil
}

func (c *HTTPClient) Refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	sess, err := c.token(ctx, "refresh_token", refreshGrant{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}
	c.notifier.Publish(SessionEvent{Type: EventTokenRefreshed, UserID: sess.UserID})
	return sess, nil
}

func (c *HTTPClient) ExchangeCode(ctx context.Context, authCode, codeVerifier string) (*models.Session, error) {
	sess, err := c.token(ctx, "pkce", pkceGrant{AuthCode: authCode, CodeVerifier: codeVerifier})
	if err != nil {
		return nil, err
	}
	c.notifier.Publish(SessionEvent{Type: EventPasswordRecovery, UserID: sess.UserID})
	return sess, nil
}

func (c *HTTPClient) SignOut(ctx context.Context, accessToken string) error {
	var userID string
	if u, err := c.GetUser(ctx, accessToken); err == nil {
		userID = u.ID
	}

	resp, err := c.do(ctx, http.MethodPost, "/auth/v1/logout", accessToken, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// An already-invalid token is as signed out as it gets.
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnauthorized {
		return readError(resp)
	}

	c.notifier.Publish(SessionEvent{Type: EventSignedOut, UserID: userID})
	return nil
}

func (c *HTTPClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("decoding user response: %w", err)
	}
	return &u, nil
}

func (c *HTTPClient) RecoverPassword(ctx context.Context, email, redirectTo string) error {
	path := "/auth/v1/recover"
	if redirectTo != "" {
		path += "?" + url.Values{"redirect_to": {redirectTo}}.Encode()
	}

	resp, err := c.do(ctx, http.MethodPost, path, "", recoverRequest{Email: email})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}
	return nil
}

func (c *HTTPClient) UpdatePassword(ctx context.Context, accessToken, password string) error {
	resp, err := c.do(ctx, http.MethodPut, "/auth/v1/user", accessToken, updateUserRequest{Password: password})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}
	c.notifier.Publish(SessionEvent{Type: EventUserUpdated})
	return nil
}

// Subscribe registers fn for session change events.
func (c *HTTPClient) Subscribe(fn func(SessionEvent)) func() {
	return c.notifier.Subscribe(fn)
}

func (c *HTTPClient) token(ctx context.Context, grant string, body any) (*models.Session, error) {
	resp, err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type="+url.QueryEscape(grant), "", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" || tr.User.ID == "" {
		return nil, &ProviderError{Status: http.StatusUnauthorized, Message: "No session returned by the identity provider."}
	}

	expires := c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	if tr.ExpiresAt > 0 {
		expires = time.Unix(tr.ExpiresAt, 0)
	}

	return &models.Session{
		UserID:       tr.User.ID,
		Email:        tr.User.Email,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    expires.UTC(),
	}, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path, accessToken string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp, nil
}

// readError turns a non-2xx response into a ProviderError with the best message available.
func readError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body errorResponse
	_ = json.Unmarshal(raw, &body)

	msg := firstNonEmpty(body.ErrorDescription, body.Msg, body.Message, body.Error, strings.TrimSpace(string(raw)))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &ProviderError{Status: resp.StatusCode, Message: msg}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// --- provider API types ---

type passwordGrant struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshGrant struct {
	RefreshToken string `json:"refresh_token"`
}

type pkceGrant struct {
	AuthCode     string `json:"auth_code"`
	CodeVerifier string `json:"code_verifier"`
}

type recoverRequest struct {
	Email string `json:"email"`
}

type updateUserRequest struct {
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
