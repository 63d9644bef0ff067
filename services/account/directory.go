package account

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Directory is the account-lookup collaborator. The production identity
// service fulfils this; the gorm implementation below reads the replicated
// accounts table directly.
type Directory interface {
	WithTrx(tx *gorm.DB) Directory
	FindAccount(ctx context.Context, id string) (*Account, error)
}

// ErrNotFound reports a lookup miss. Callers treat it as a rejection, not an
// infrastructure failure.
var ErrNotFound = errors.New("account not found")

type gormDirectory struct {
	db *gorm.DB
}

// NewDirectory returns a gorm backed Directory implementation.
func NewDirectory(db *gorm.DB) Directory {
	return &gormDirectory{db: db}
}

func (d *gormDirectory) WithTrx(tx *gorm.DB) Directory {
	if tx == nil {
		return d
	}
	return &gormDirectory{db: tx}
}

func (d *gormDirectory) FindAccount(ctx context.Context, id string) (*Account, error) {
	if d == nil || d.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var acc Account
	err := d.db.WithContext(ctx).Where("id = ?", id).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

var Module = fx.Module("account",
	fx.Provide(NewDirectory),
)
