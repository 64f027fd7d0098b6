package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/shared"
)

// DefaultLookupTimeout bounds the profile lookup behind CurrentSession.
const DefaultLookupTimeout = 2 * time.Second

// Service wraps authentication business rules and resolves the identity of
// each request.
type Service struct {
	repo          Repository
	sessions      *shared.SessionManager
	tokens        *InviteTokens
	logger        *slog.Logger
	lookupTimeout time.Duration
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Repo          Repository
	Sessions      *shared.SessionManager
	Tokens        *InviteTokens
	Logger        *slog.Logger
	LookupTimeout time.Duration
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &Service{
		repo:          cfg.Repo,
		sessions:      cfg.Sessions,
		tokens:        cfg.Tokens,
		logger:        logger,
		lookupTimeout: timeout,
	}
}

// Authenticate validates e-mail/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	acct, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("lookup account", slog.Any("error", err))
		}
		return nil, shared.ErrInvalidCredentials
	}
	if !acct.IsActive || !acct.HasPassword() {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return acct, nil
}

// CurrentSession resolves the access session for r from the cookie session in
// its context. The profile is read on every call so role changes and
// deactivation apply immediately. A lookup that outlives the timeout yields a
// loading session.
func (s *Service) CurrentSession(r *http.Request) access.Session {
	sess := shared.SessionFromContext(r.Context())
	userID := sess.UserID()
	if userID == "" {
		return access.AnonymousSession()
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.lookupTimeout)
	defer cancel()

	acct, err := s.repo.FindByID(ctx, userID)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.logger.Warn("identity lookup timed out", slog.String("user_id", userID))
		return access.LoadingSession()
	case errors.Is(err, shared.ErrNotFound):
		return access.AnonymousSession()
	default:
		if r.Context().Err() == nil {
			s.logger.Error("identity lookup", slog.String("user_id", userID), slog.Any("error", err))
		}
		return access.AnonymousSession()
	}
	if !acct.IsActive {
		return access.AnonymousSession()
	}
	return access.AuthenticatedSession(acct.AccessUser())
}

// SignIn authenticates the credentials and binds the cookie session to the
// account under a fresh session id.
func (s *Service) SignIn(ctx context.Context, sess *shared.Session, email, password, ip, ua string) (*Account, error) {
	acct, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errors.New("auth: session missing during sign-in")
	}
	s.sessions.Renew(sess)
	// The pre-login CSRF token must not outlive the new session id.
	sess.Delete(shared.CSRFSessionKey)
	sess.SetUser(acct.ID)
	expiresAt := time.Now().Add(s.sessions.TTL())
	if err := s.RegisterSession(ctx, sess.ID, acct.ID, expiresAt, ip, ua); err != nil {
		s.logger.Warn("register session", slog.Any("error", err))
	}
	return acct, nil
}

// SignOut destroys the cookie session and its login row.
func (s *Service) SignOut(ctx context.Context, sess *shared.Session) {
	if sess == nil {
		return
	}
	if err := s.RemoveSession(ctx, sess.ID); err != nil {
		s.logger.Warn("remove session", slog.Any("error", err))
	}
	sess.SetUser("")
	s.sessions.Destroy(sess)
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id, userID string, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

// AccountForInvite returns the account an invitation token was issued for.
func (s *Service) AccountForInvite(ctx context.Context, token string) (*Account, error) {
	userID, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	acct, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !acct.IsActive {
		return nil, ErrInvalidToken
	}
	return acct, nil
}

// SetPassword accepts an invitation: the token names the account whose
// password is replaced.
func (s *Service) SetPassword(ctx context.Context, token, password string) (*Account, error) {
	acct, err := s.AccountForInvite(ctx, token)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetPassword(ctx, acct.ID, string(hash)); err != nil {
		return nil, err
	}
	acct.PasswordHash = string(hash)
	return acct, nil
}

var _ access.SessionSource = (*Service)(nil)
