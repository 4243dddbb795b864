// Package session signs cleaners in and out and gates every session on the
// cleaner role.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kiranshivaraju/cleanops/internal/apperr"
	"github.com/kiranshivaraju/cleanops/internal/cache"
	"github.com/kiranshivaraju/cleanops/internal/identity"
	"github.com/kiranshivaraju/cleanops/internal/store"
	"github.com/kiranshivaraju/cleanops/pkg/models"
)

// Messages shown to the cleaner.
const (
	MsgCredentialsRequired = "Email and password are required."
	MsgNotCleaner          = "This account is not authorized for the Cleaner app."
	MsgEmailRequired       = "Enter your email above first."
	MsgMissingResetCode    = "Missing reset code. Open the password reset link from your email on this device."
	MsgPasswordTooShort    = "Password must be at least 8 characters."
	MsgPasswordMismatch    = "Passwords do not match."
)

// UserLookup resolves a session subject to its users row.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*models.Cleaner, error)
}

// RoleCache is the subset of cache.Cache that remembers admitted cleaners.
type RoleCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type SignInInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type PasswordInput struct {
	Password string `json:"password" validate:"required,min=8"`
	Confirm  string `json:"confirm" validate:"eqfield=Password"`
}

type resetInput struct {
	Email string `validate:"required"`
}

type exchangeInput struct {
	Code string `validate:"required"`
}

// Service owns sign-in, sign-out and the password reset flow.
type Service struct {
	idp        identity.Client
	users      UserLookup
	validate   *validator.Validate
	redirectTo string

	roles   RoleCache
	roleTTL time.Duration

	unsubscribe func()
}

// NewService wires the identity provider, user lookup and role cache.
// redirectTo is the link target embedded in password reset emails.
func NewService(idp identity.Client, users UserLookup, roles RoleCache, redirectTo string) *Service {
	s := &Service{
		idp:        idp,
		users:      users,
		validate:   validator.New(),
		redirectTo: redirectTo,
		roles:      roles,
		roleTTL:    time.Minute,
	}
	s.unsubscribe = idp.Subscribe(s.onSessionEvent)
	return s
}

// Close detaches the service from session change notifications.
func (s *Service) Close() {
	s.unsubscribe()
}

// SignIn authenticates with the identity provider and admits only cleaners.
// A non-cleaner session is signed out before the error is returned.
func (s *Service) SignIn(ctx context.Context, in SignInInput) (*models.Session, *models.Cleaner, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.check(in, map[string]string{
		"Email.required":    MsgCredentialsRequired,
		"Password.required": MsgCredentialsRequired,
	}); err != nil {
		return nil, nil, err
	}

	sess, err := s.idp.SignInWithPassword(ctx, in.Email, in.Password)
	if err != nil {
		return nil, nil, authError(err)
	}

	cleaner, err := s.admit(ctx, sess)
	if err != nil {
		return nil, nil, err
	}
	return sess, cleaner, nil
}

// Refresh trades a refresh token for a new session and re-checks the role.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.Session, *models.Cleaner, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, nil, apperr.Invalid("refresh_token", "Refresh token is required.")
	}

	sess, err := s.idp.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, nil, authError(err)
	}

	cleaner, err := s.admit(ctx, sess)
	if err != nil {
		return nil, nil, err
	}
	return sess, cleaner, nil
}

func (s *Service) SignOut(ctx context.Context, sess *models.Session) error {
	if err := s.idp.SignOut(ctx, sess.AccessToken); err != nil {
		return authError(err)
	}
	return nil
}

// Authorize resolves userID to a cleaner. Results are cached for roleTTL and
// dropped whenever the identity provider reports a change for that subject.
// A failing cache only costs a lookup.
func (s *Service) Authorize(ctx context.Context, userID string) (*models.Cleaner, error) {
	key := cache.RoleKey(userID)
	if c, ok := s.cachedCleaner(ctx, key); ok {
		return c, nil
	}

	u, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &apperr.AuthError{Message: MsgNotCleaner, Err: err}
	}
	if err != nil {
		return nil, &apperr.AuthError{Message: err.Error(), Err: err}
	}
	if !u.IsCleaner() {
		return nil, &apperr.AuthError{Message: MsgNotCleaner}
	}

	raw, err := json.Marshal(u)
	if err == nil {
		err = s.roles.Set(ctx, key, raw, s.roleTTL)
	}
	if err != nil {
		slog.Warn("caching cleaner role", "user_id", userID, "error", err)
	}
	return u, nil
}

func (s *Service) cachedCleaner(ctx context.Context, key string) (*models.Cleaner, bool) {
	raw, ok, err := s.roles.Get(ctx, key)
	if err != nil {
		slog.Warn("reading cached role", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var c models.Cleaner
	if err := json.Unmarshal(raw, &c); err != nil || !c.IsCleaner() {
		return nil, false
	}
	return &c, true
}

// RequestPasswordReset sends a reset email that links back into the app.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.check(resetInput{Email: email}, map[string]string{
		"Email.required": MsgEmailRequired,
	}); err != nil {
		return err
	}

	if err := s.idp.RecoverPassword(ctx, email, s.redirectTo); err != nil {
		return authError(err)
	}
	return nil
}

// ExchangeResetCode verifies the code from a reset link and yields a session
// in which the password may be changed.
func (s *Service) ExchangeResetCode(ctx context.Context, code, verifier string) (*models.Session, error) {
	code = strings.TrimSpace(code)
	if err := s.check(exchangeInput{Code: code}, map[string]string{
		"Code.required": MsgMissingResetCode,
	}); err != nil {
		return nil, err
	}

	sess, err := s.idp.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return nil, authError(err)
	}
	return sess, nil
}

func (s *Service) UpdatePassword(ctx context.Context, sess *models.Session, in PasswordInput) error {
	if err := s.check(in, map[string]string{
		"Password.required": MsgPasswordTooShort,
		"Password.min":      MsgPasswordTooShort,
		"Confirm.eqfield":   MsgPasswordMismatch,
	}); err != nil {
		return err
	}

	if err := s.idp.UpdatePassword(ctx, sess.AccessToken, in.Password); err != nil {
		return authError(err)
	}
	return nil
}

// admit runs the cleaner check for a fresh session and signs it out on failure.
func (s *Service) admit(ctx context.Context, sess *models.Session) (*models.Cleaner, error) {
	cleaner, err := s.Authorize(ctx, sess.UserID)
	if err == nil {
		return cleaner, nil
	}

	if signOutErr := s.idp.SignOut(ctx, sess.AccessToken); signOutErr != nil {
		slog.Warn("sign out after failed role check", "user_id", sess.UserID, "error", signOutErr)
	}
	return nil, err
}

func (s *Service) onSessionEvent(ev identity.SessionEvent) {
	if ev.UserID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.roles.Delete(ctx, cache.RoleKey(ev.UserID)); err != nil {
		slog.Warn("dropping cached role", "user_id", ev.UserID, "error", err)
	}
	slog.Debug("session changed", "event", string(ev.Type), "user_id", ev.UserID)
}

// check validates v and maps the first failing "Field.tag" to a displayable message.
func (s *Service) check(v any, messages map[string]string) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	for _, fe := range verrs {
		if msg, ok := messages[fe.Field()+"."+fe.Tag()]; ok {
			return apperr.Invalid(strings.ToLower(fe.Field()), msg)
		}
	}
	fe := verrs[0]
	return apperr.Invalid(strings.ToLower(fe.Field()), fe.Error())
}

// authError keeps the provider's message so it can be shown verbatim.
func authError(err error) error {
	var ae *apperr.AuthError
	if errors.As(err, &ae) {
		return err
	}
	var pe *identity.ProviderError
	if errors.As(err, &pe) {
		return &apperr.AuthError{Message: pe.Message, Err: err}
	}
	return &apperr.AuthError{Message: err.Error(), Err: err}
}
