package reward

import (
	"time"

	"promptmarket-rewards/services/abuse"
	"promptmarket-rewards/services/account"
)

// VoteReward is the unique reward ledger entry for a vote. The unique index
// on vote_id is the idempotency gate: the store itself guarantees at most one
// reward per vote, regardless of concurrent processing.
type VoteReward struct {
	ID             string    `gorm:"column:id;primaryKey"`
	VoteID         string    `gorm:"column:vote_id;uniqueIndex"`
	VoterID        string    `gorm:"column:voter_id;index"`
	AuthorID       string    `gorm:"column:author_id;index"`
	CreditsAwarded int64     `gorm:"column:credits_awarded"`
	IPAddress      string    `gorm:"column:ip_address;index"`
	UserAgent      string    `gorm:"column:user_agent"`
	CreatedAt      time.Time `gorm:"column:created_at;index"`
}

func (VoteReward) TableName() string { return "vote_rewards" }

// planCredits maps subscription tiers to the credits an upvote earns the
// author. FREE plans earn nothing and are rejected before the abuse pipeline
// runs.
var planCredits = map[account.PlanType]int64{
	account.PlanFree:       0,
	account.PlanPro:        1,
	account.PlanElite:      2,
	account.PlanEnterprise: 3,
}

// CreditsForPlan returns the per-upvote credit value of a plan.
func CreditsForPlan(plan account.PlanType) int64 {
	return planCredits[plan]
}

// VoteEvent is the inbound payload from the voting feature.
type VoteEvent struct {
	VoteID    string `json:"vote_id" binding:"required"`
	VoterID   string `json:"voter_id" binding:"required"`
	AuthorID  string `json:"author_id" binding:"required"`
	PromptID  string `json:"prompt_id" binding:"required"`
	Value     int    `json:"value" binding:"required"`
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

// Result is the structured outcome of one reward decision. Rejections are
// data, not errors; callers never see infrastructure detail.
type Result struct {
	Success        bool       `json:"success"`
	CreditsAwarded int64      `json:"credits_awarded"`
	Reason         string     `json:"reason,omitempty"`
	AbuseDetected  bool       `json:"abuse_detected,omitempty"`
	AbuseType      abuse.Type `json:"abuse_type,omitempty"`
}

// Rejection reasons surfaced to the caller. Abuse verdicts deliberately carry
// no reason string; detection detail stays internal to admin tooling.
const (
	ReasonOnlyUpvotes      = "Only upvotes earn credits"
	ReasonAlreadyProcessed = "Reward already processed"
	ReasonVoterNotFound    = "Voter not found"
	ReasonPlanNotEligible  = "Plan does not earn credits from voting"
	ReasonInternalError    = "Internal error processing reward"
)
