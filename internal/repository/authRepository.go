package repository

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/models"
	"github.com/aman-churiwal/octra-faucet/internal/storage"
	"gorm.io/gorm"
)

type AuthRepository struct {
	db *storage.Postgres
}

func NewUserRepository(db *storage.Postgres) *AuthRepository {
	return &AuthRepository{db: db}
}

func (r *AuthRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.DB.WithContext(ctx).Create(user).Error
}

// Returns nil, nil when no admin has that email
func (r *AuthRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.DB.WithContext(ctx).
		Where("email = ?", email).
		First(&user).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *AuthRepository) TouchLastLogin(ctx context.Context, user *models.User, at time.Time) error {
	return r.db.DB.WithContext(ctx).
		Model(user).
		Update("last_login_at", at).Error
}
