// Package service contains application services for authentication, sync
// and the outbound queue.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/mirrorsms/server/internal/crypto"
	"github.com/mirrorsms/server/internal/errs"
	"github.com/mirrorsms/server/internal/limiter"
	"github.com/mirrorsms/server/internal/model"
	"github.com/mirrorsms/server/internal/repository"
)

// AuthService gates every sync and queue operation.
type AuthService interface {
	// Register creates an account bound to one device.
	Register(ctx context.Context, username, password, deviceID string) (accountID string, err error)
	// Login applies rate-limiting and authenticates, returning a token pair.
	Login(ctx context.Context, username, password, deviceID, ip string) (model.Tokens, model.Account, error)
	// Refresh rotates a single-use refresh token into a new pair.
	Refresh(ctx context.Context, refreshToken string) (model.Tokens, error)
	// Logout revokes a refresh token.
	Logout(ctx context.Context, refreshToken string) error
	// Authorize validates an access token and returns the account it is bound to.
	Authorize(accessToken string) (uuid.UUID, error)
}

type AuthServiceImpl struct {
	accounts   repository.AccountRepository
	tokens     repository.TokenRepository
	lim        limiter.Limiter
	signKey    []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(
	accounts repository.AccountRepository,
	tokens repository.TokenRepository,
	lim limiter.Limiter,
	signKey []byte,
	accessTTL, refreshTTL time.Duration,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		accounts:   accounts,
		tokens:     tokens,
		lim:        lim,
		signKey:    signKey,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// Register creates a new account with a per-account salt. Single bound
// device is enforced here: a username or device already registered fails
// with ErrAlreadyExists.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password, deviceID string) (string, error) {
	if username == "" || password == "" || deviceID == "" {
		return "", fmt.Errorf("%w: empty username/password/deviceId", errs.ErrValidation)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	salt, err := pkgcrypto.RandBytes(16)
	if err != nil {
		return "", err
	}
	a := &model.Account{
		ID:       id,
		Username: username,
		PwdHash:  pkgcrypto.HashPassword([]byte(password), salt),
		SaltAuth: salt,
		DeviceID: deviceID,
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		return "", err
	}
	return id.String(), nil
}

// Login authenticates with rate limiting by (username, ip). A login from a
// second device is accepted and does not revoke the first; the one-device
// bound is enforced at registration.
func (s *AuthServiceImpl) Login(ctx context.Context, username, password, deviceID, ip string) (model.Tokens, model.Account, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, model.Account{}, err
	}
	if !allowed {
		return model.Tokens{}, model.Account{}, errs.ErrRateLimited
	}

	a, err := s.accounts.GetByUsername(ctx, username)
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), a.SaltAuth, a.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.Account{}, errs.ErrRateLimited
		}
		// hide whether the username exists
		return model.Tokens{}, model.Account{}, errs.ErrUnauthorized
	}

	_ = s.lim.Success(ctx, username, ipHash)
	_ = s.accounts.TouchLogin(ctx, a.ID)

	tok, err := s.issueTokens(ctx, a.ID, deviceID)
	if err != nil {
		return model.Tokens{}, model.Account{}, err
	}
	return tok, *a, nil
}

// Refresh consumes the presented token and issues a new pair. A token
// already used fails closed with ErrUnauthorized even if the replacement
// pair was never claimed; access tokens already issued stay valid until
// their own expiry.
func (s *AuthServiceImpl) Refresh(ctx context.Context, refreshToken string) (model.Tokens, error) {
	if refreshToken == "" {
		return model.Tokens{}, errs.ErrUnauthorized
	}
	rec, err := s.tokens.Consume(ctx, hashToken(refreshToken))
	if err != nil {
		return model.Tokens{}, err
	}
	return s.issueTokens(ctx, rec.AccountID, rec.DeviceID)
}

// Logout revokes the refresh token. Unknown tokens are a no-op.
func (s *AuthServiceImpl) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.tokens.Revoke(ctx, hashToken(refreshToken))
}

// Authorize verifies an HS256 access token and returns its subject.
func (s *AuthServiceImpl) Authorize(accessToken string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(accessToken, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, errs.ErrUnauthorized
	}
	v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
	if err := v.Validate(&claims); err != nil {
		return uuid.Nil, errs.ErrUnauthorized
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, errs.ErrUnauthorized
	}
	return id, nil
}

// issueTokens mints a signed access token and an opaque stored refresh token.
func (s *AuthServiceImpl) issueTokens(ctx context.Context, accountID uuid.UUID, deviceID string) (model.Tokens, error) {
	now := time.Now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   accountID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	if err != nil {
		return model.Tokens{}, err
	}

	raw, err := pkgcrypto.RandBytes(32)
	if err != nil {
		return model.Tokens{}, err
	}
	refresh := base64.RawURLEncoding.EncodeToString(raw)
	rec := &model.RefreshToken{
		TokenHash: hashToken(refresh),
		AccountID: accountID,
		DeviceID:  deviceID,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	if err := s.tokens.Store(ctx, rec); err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp}, nil
}

// hashToken derives the storage key for a refresh token; raw tokens never
// reach the database.
func hashToken(raw string) []byte {
	h := sha256.Sum256([]byte(raw))
	return h[:]
}
