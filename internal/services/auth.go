package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"talwar/internal/config"
	"talwar/internal/domain"
	"talwar/internal/metrics"
	"talwar/internal/util"
	apperrors "talwar/pkg/errors"
)

type contextKey string

const userContextKey contextKey = "user"

// UserRepository loads and updates staff accounts
type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	TouchLogin(ctx context.Context, user *domain.User, at time.Time) error
}

// LoginResult is returned on a successful staff login
type LoginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// AuthService implements staff login and token checks
type AuthService struct {
	users  UserRepository
	cfg    config.AuthConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(users UserRepository, cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	return &AuthService{users: users, cfg: cfg, logger: logger.Named("auth"), now: time.Now}
}

// Login checks staff credentials and issues an access token
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	// Trim whitespace from credentials
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil, BadRequest("username and password are required")
	}

	log := s.logger.With(zap.String("username", username))
	log.Info("login attempt")

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		if apperrors.IsNotFound(err) {
			log.Info("login failed: user not found")
			return nil, Unauthorized("incorrect username or password")
		}
		log.Error("login failed: database error", zap.Error(err))
		return nil, Internal(err)
	}

	if !util.CheckPasswordHash(password, user.HashedPassword) {
		log.Info("login failed: invalid password")
		metrics.RecordAuthAttempt(false)
		return nil, Unauthorized("incorrect username or password")
	}

	if !user.IsActive {
		log.Info("login failed: user inactive")
		metrics.RecordAuthAttempt(false)
		return nil, Unauthorized("user account is inactive")
	}

	now := s.now()
	if err := s.users.TouchLogin(ctx, user, now); err != nil {
		log.Warn("failed to record last login", zap.Error(err))
	}

	token, err := util.GenerateToken(s.cfg, user, now)
	if err != nil {
		log.Error("login failed: token generation error", zap.Error(err))
		return nil, Internal(err)
	}

	log.Info("login successful", zap.Uint("id", user.ID), zap.String("role", user.Role))
	metrics.RecordAuthAttempt(true)

	return &LoginResult{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   s.cfg.TokenExpiryMinutes * 60,
	}, nil
}

// Authenticate resolves a bearer token to an active staff user holding
// scope
func (s *AuthService) Authenticate(ctx context.Context, token, scope string) (*domain.User, error) {
	claims, err := util.ValidateToken(s.cfg, token)
	if err != nil {
		if errors.Is(err, util.ErrExpiredToken) {
			return nil, Unauthorized("token expired")
		}
		return nil, Unauthorized("invalid or expired token")
	}

	user, err := s.users.FindByUsername(ctx, claims.Username)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, Unauthorized("user not found")
		}
		return nil, Internal(err)
	}

	if !user.IsActive {
		return nil, Unauthorized("user account is inactive")
	}
	if scope != "" && !user.HasScope(scope) {
		s.logger.Info("insufficient permissions", zap.String("username", user.Username), zap.String("scope", scope))
		return nil, Forbidden("insufficient permissions")
	}
	return user, nil
}

// Me returns the user attached to ctx by RequireScope
func (s *AuthService) Me(ctx context.Context) (*domain.User, error) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return nil, Unauthorized("not authenticated")
	}
	return user, nil
}

// WithUser attaches an authenticated user to ctx
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the authenticated user, if any
func UserFromContext(ctx context.Context) (*domain.User, bool) {
	user, ok := ctx.Value(userContextKey).(*domain.User)
	return user, ok && user != nil
}
