package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"portfolio/internal/model"
)

// RefreshTokenRepository persists refresh token fingerprints.
// Implementations must make Rotate atomic: of two concurrent rotations of the
// same token, exactly one succeeds and the other gets ErrNotFound.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *model.RefreshToken) error
	FindByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	DeleteByHash(ctx context.Context, tokenHash string) (int64, error)
	DeleteAllForUser(ctx context.Context, userID uint) (int64, error)
	Rotate(ctx context.Context, oldHash string, next *model.RefreshToken) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type refreshTokenRepository struct {
	db *gorm.DB
}

// NewRefreshTokenRepository builds a GORM-backed refresh token repository.
func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

func (r *refreshTokenRepository) Create(ctx context.Context, token *model.RefreshToken) error {
	return translate(r.db.WithContext(ctx).Create(token).Error)
}

func (r *refreshTokenRepository) FindByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	var token model.RefreshToken
	if err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&token).Error; err != nil {
		return nil, translate(err)
	}
	return &token, nil
}

func (r *refreshTokenRepository) DeleteByHash(ctx context.Context, tokenHash string) (int64, error) {
	res := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).Delete(&model.RefreshToken{})
	return res.RowsAffected, res.Error
}

func (r *refreshTokenRepository) DeleteAllForUser(ctx context.Context, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.RefreshToken{})
	return res.RowsAffected, res.Error
}

// Rotate deletes oldHash and inserts next in one transaction.
// The affected-row count of the delete decides which concurrent caller wins.
func (r *refreshTokenRepository) Rotate(ctx context.Context, oldHash string, next *model.RefreshToken) error {
	return r.WithTransaction(ctx, func(ctx context.Context, repo *refreshTokenRepository) error {
		deleted, err := repo.DeleteByHash(ctx, oldHash)
		if err != nil {
			return err
		}
		if deleted == 0 {
			return ErrNotFound
		}
		return repo.Create(ctx, next)
	})
}

func (r *refreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&model.RefreshToken{})
	return res.RowsAffected, res.Error
}

// WithTransaction runs fn against a repository bound to a single transaction.
func (r *refreshTokenRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context, repo *refreshTokenRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &refreshTokenRepository{db: tx})
	})
}
