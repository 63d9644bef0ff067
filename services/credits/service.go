package credits

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Ledger is the credit-balance mutator collaborator. WithTrx returns a ledger
// bound to the caller's transaction so balance mutation commits or rolls back
// together with the caller's own writes.
type Ledger interface {
	WithTrx(tx *gorm.DB) Ledger
	AddCredits(ctx context.Context, accountID string, amount int64, category, referenceID string) error
	BalanceOf(ctx context.Context, accountID string) (int64, error)
}

type gormLedger struct {
	db   *gorm.DB
	node *snowflake.Node
}

type LedgerParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewLedger(p LedgerParams) Ledger {
	return &gormLedger{db: p.DB, node: p.Node}
}

func (l *gormLedger) WithTrx(tx *gorm.DB) Ledger {
	if tx == nil {
		return l
	}
	return &gormLedger{db: tx, node: l.node}
}

func (l *gormLedger) AddCredits(ctx context.Context, accountID string, amount int64, category, referenceID string) error {
	if l == nil || l.db == nil {
		return gorm.ErrInvalidDB
	}

	now := time.Now()

	entry := &Entry{
		ID:          l.node.Generate().String(),
		AccountID:   accountID,
		Amount:      amount,
		Category:    category,
		ReferenceID: referenceID,
		CreatedAt:   now,
	}
	if err := l.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	var balance Balance
	err := l.db.WithContext(ctx).Where("account_id = ?", accountID).First(&balance).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := l.db.WithContext(ctx).Create(&Balance{
			AccountID: accountID,
			Balance:   amount,
			CreatedAt: now,
			UpdatedAt: now,
		}).Error; err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if err := l.db.WithContext(ctx).Model(&Balance{}).
			Where("account_id = ?", accountID).
			Updates(map[string]any{
				"balance":    gorm.Expr("balance + ?", amount),
				"updated_at": now,
			}).Error; err != nil {
			return err
		}
	}

	zap.L().Debug("credits added",
		zap.String("account_id", accountID),
		zap.Int64("amount", amount),
		zap.String("category", category),
	)
	return nil
}

func (l *gormLedger) BalanceOf(ctx context.Context, accountID string) (int64, error) {
	if l == nil || l.db == nil {
		return 0, gorm.ErrInvalidDB
	}

	var balance Balance
	err := l.db.WithContext(ctx).Where("account_id = ?", accountID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance.Balance, nil
}

var Module = fx.Module("credits",
	fx.Provide(NewLedger),
)
