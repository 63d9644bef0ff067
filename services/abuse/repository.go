package abuse

import (
	"context"

	"gorm.io/gorm"
)

// Repository describes database operations available for abuse cases and
// custom rules.
type Repository interface {
	WithTrx(tx *gorm.DB) Repository
	Create(ctx context.Context, detection *Detection) error
	GetByID(ctx context.Context, id string) (*Detection, error)
	UpdateResolution(ctx context.Context, detection *Detection) error
	ListRecentByUser(ctx context.Context, userID string, limit int) ([]Detection, error)
	ListActiveRules(ctx context.Context) ([]CustomRule, error)
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

func (r *gormRepository) Create(ctx context.Context, detection *Detection) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(detection).Error
}

func (r *gormRepository) GetByID(ctx context.Context, id string) (*Detection, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var detection Detection
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&detection).Error
	if err != nil {
		return nil, err
	}
	return &detection, nil
}

func (r *gormRepository) UpdateResolution(ctx context.Context, detection *Detection) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).
		Model(&Detection{}).
		Where("id = ?", detection.ID).
		Updates(map[string]any{
			"status":          detection.Status,
			"investigated_by": detection.InvestigatedBy,
			"resolution":      detection.Resolution,
			"resolved_at":     detection.ResolvedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormRepository) ListRecentByUser(ctx context.Context, userID string, limit int) ([]Detection, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("detected_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var detections []Detection
	if err := query.Find(&detections).Error; err != nil {
		return nil, err
	}
	return detections, nil
}

func (r *gormRepository) ListActiveRules(ctx context.Context) ([]CustomRule, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var rules []CustomRule
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("priority DESC").Order("rule_id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}
