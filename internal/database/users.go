package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"talwar/internal/domain"
	apperrors "talwar/pkg/errors"
)

// UserStore reads and writes staff accounts
type UserStore struct {
	db *gorm.DB
}

// NewUserStore creates a staff account store on db
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// FindByUsername loads an account. A missing account is an
// ErrCodeNotFound AppError.
func (s *UserStore) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrCodeNotFound, "user not found")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// Create stores a new account
func (s *UserStore) Create(ctx context.Context, user *domain.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// TouchLogin records a successful login
func (s *UserStore) TouchLogin(ctx context.Context, user *domain.User, at time.Time) error {
	user.LastLogin = &at
	return s.db.WithContext(ctx).Model(user).Update("last_login", at).Error
}
