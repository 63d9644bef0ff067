package reward

import (
	"context"

	"gorm.io/gorm"
)

// Repository describes database operations available for the reward ledger.
// VoteReward rows are insert-only.
type Repository interface {
	WithTrx(tx *gorm.DB) Repository
	Create(ctx context.Context, reward *VoteReward) error
	ExistsForVote(ctx context.Context, voteID string) (bool, error)
	TotalCreditsForAuthor(ctx context.Context, authorID string) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTrx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{db: tx}
}

func (r *gormRepository) Create(ctx context.Context, reward *VoteReward) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(reward).Error
}

func (r *gormRepository) ExistsForVote(ctx context.Context, voteID string) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}

	var n int64
	err := r.db.WithContext(ctx).Model(&VoteReward{}).
		Where("vote_id = ?", voteID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *gormRepository) TotalCreditsForAuthor(ctx context.Context, authorID string) (int64, error) {
	if r == nil || r.db == nil {
		return 0, gorm.ErrInvalidDB
	}

	var total *int64
	err := r.db.WithContext(ctx).Model(&VoteReward{}).
		Select("SUM(credits_awarded)").
		Where("author_id = ?", authorID).
		Scan(&total).Error
	if err != nil || total == nil {
		return 0, err
	}
	return *total, nil
}
