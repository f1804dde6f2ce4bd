// Package service contains application services for authentication and messaging.
package service

import (
	"context"
	"errors"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/donewithit/server/internal/crypto"
	"github.com/donewithit/server/internal/errs"
	"github.com/donewithit/server/internal/limiter"
	"github.com/donewithit/server/internal/model"
	"github.com/donewithit/server/internal/repository"
	"github.com/donewithit/server/internal/session"
)

// AuthService defines registration, login and session operations.
type AuthService interface {
	// Register creates a new user with secure password hashing.
	Register(ctx context.Context, name, email, password string) (*model.User, error)
	// Login verifies credentials with rate limiting and establishes a session.
	Login(ctx context.Context, email, password, ip string) (string, *model.User, error)
	// Logout revokes a session reference; revoking an absent one is a no-op.
	Logout(ref string)
	// Identify resolves a session reference to a user id.
	Identify(ref string) (uuid.UUID, error)
	// SetPushToken stores the mobile push token for a user's device.
	SetPushToken(ctx context.Context, userID uuid.UUID, token string) error
}

type AuthServiceImpl struct {
	users    repository.UserRepository
	sessions *session.Manager
	lim      limiter.Limiter
	logger   *zap.Logger
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, sessions *session.Manager, lim limiter.Limiter, logger *zap.Logger) *AuthServiceImpl {
	return &AuthServiceImpl{users: users, sessions: sessions, lim: lim, logger: logger}
}

// Register creates a new user record with a salted one-way password digest.
func (s *AuthServiceImpl) Register(ctx context.Context, name, email, password string) (*model.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" {
		return nil, errors.New("validation: empty name/email")
	}

	digest, err := pkgcrypto.HashPassword(password)
	if err != nil {
		return nil, err
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	u := &model.User{
		ID:        uid,
		Name:      name,
		Email:     email,
		PwdDigest: digest,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("user registered", zap.Stringer("user", u.ID))
	return u, nil
}

// Login authenticates with rate limiting by (email, ip) and returns a fresh
// session reference. Prior references for the same user stay valid.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password, ip string) (string, *model.User, error) {
	u, err := s.credentialsToIdentity(ctx, email, password, ip)
	if err != nil {
		return "", nil, err
	}

	ref, err := s.sessions.Establish(u.ID)
	if err != nil {
		return "", nil, err
	}
	return ref, u, nil
}

// credentialsToIdentity verifies (email, password) and yields the account, or
// an auth failure. It never constructs a partial user to carry credentials.
func (s *AuthServiceImpl) credentialsToIdentity(ctx context.Context, email, password, ip string) (*model.User, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errs.ErrRateLimited
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		// hide existence of the user; still count the attempt
		if blocked, _, ferr := s.lim.Failure(ctx, email, ipHash); ferr == nil && blocked {
			return nil, errs.ErrRateLimited
		}
		return nil, errs.ErrUnauthorized
	}

	ok, verr := pkgcrypto.VerifyPassword(u.PwdDigest, password)
	if verr != nil {
		// stored digest unreadable; surfaced distinctly, never retried here
		s.logger.Error("stored digest unreadable", zap.Stringer("user", u.ID))
		return nil, verr
	}
	if !ok {
		if blocked, _, ferr := s.lim.Failure(ctx, email, ipHash); ferr == nil && blocked {
			return nil, errs.ErrRateLimited
		}
		return nil, errs.ErrUnauthorized
	}

	// Success: reset counters (best-effort).
	_ = s.lim.Success(ctx, email, ipHash)
	return u, nil
}

// Logout revokes the session reference.
func (s *AuthServiceImpl) Logout(ref string) {
	s.sessions.Revoke(ref)
}

// Identify resolves a session reference to its user id.
func (s *AuthServiceImpl) Identify(ref string) (uuid.UUID, error) {
	return s.sessions.Resolve(ref)
}

// SetPushToken stores the device push token used for offline delivery.
func (s *AuthServiceImpl) SetPushToken(ctx context.Context, userID uuid.UUID, token string) error {
	if userID == uuid.Nil || strings.TrimSpace(token) == "" {
		return errors.New("validation: userID/token")
	}
	return s.users.SetPushToken(ctx, userID, token)
}
