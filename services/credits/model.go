package credits

import (
	"time"
)

// Entry categories understood by the marketplace credit system. The reward
// engine only ever writes UPVOTE entries; the rest exist for the admin tooling
// that shares these tables.
const (
	CategoryUpvote     = "UPVOTE"
	CategoryAdjustment = "ADJUSTMENT"
	CategoryPurchase   = "PURCHASE"
)

// Balance is the current credit balance of one account.
type Balance struct {
	AccountID string    `gorm:"column:account_id;primaryKey"`
	Balance   int64     `gorm:"column:balance"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Balance) TableName() string { return "credit_balances" }

// Entry is one append-only credit mutation.
type Entry struct {
	ID          string    `gorm:"column:id;primaryKey"`
	AccountID   string    `gorm:"column:account_id;index"`
	Amount      int64     `gorm:"column:amount"`
	Category    string    `gorm:"column:category;type:varchar(20)"`
	ReferenceID string    `gorm:"column:reference_id;index"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (Entry) TableName() string { return "credit_entries" }
