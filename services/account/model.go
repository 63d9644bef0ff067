package account

import "time"

// PlanType is the subscription tier of a voter account.
type PlanType string

const (
	PlanFree       PlanType = "FREE"
	PlanPro        PlanType = "PRO"
	PlanElite      PlanType = "ELITE"
	PlanEnterprise PlanType = "ENTERPRISE"
)

// Account is the slice of the identity service's account record the reward
// engine cares about: plan tier for eligibility, creation time for age checks.
type Account struct {
	ID        string    `gorm:"column:id;primaryKey"`
	PlanType  PlanType  `gorm:"column:plan_type;type:varchar(20)"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Account) TableName() string { return "accounts" }

// Age returns how old the account is at the given instant.
func (a *Account) Age(now time.Time) time.Duration {
	return now.Sub(a.CreatedAt)
}
