package stats

import (
	"time"

	"promptmarket-rewards/services/abuse"

	"gorm.io/datatypes"
)

// Time windows a pattern rollup covers.
const (
	WindowHour = "1h"
	WindowDay  = "24h"
)

// VotePattern is a per-user rollup of voting behaviour over one time window.
// Rows are upserted by the recompute task, never written on the vote path.
type VotePattern struct {
	UserID             string         `gorm:"column:user_id;primaryKey" json:"user_id"`
	TimeWindow         string         `gorm:"column:time_window;primaryKey" json:"time_window"`
	VoteCount          int64          `gorm:"column:vote_count" json:"vote_count"`
	UniqueIPs          int64          `gorm:"column:unique_ips" json:"unique_ips"`
	UniqueUserAgents   int64          `gorm:"column:unique_user_agents" json:"unique_user_agents"`
	AvgVoteInterval    float64        `gorm:"column:avg_vote_interval_seconds" json:"avg_vote_interval_seconds"`
	RiskScore          float64        `gorm:"column:risk_score" json:"risk_score"`
	SuspiciousPatterns datatypes.JSON `gorm:"column:suspicious_patterns" json:"suspicious_patterns"`
	ComputedAt         time.Time      `gorm:"column:computed_at" json:"computed_at"`
}

func (VotePattern) TableName() string {
	return "vote_patterns"
}

// UserVotingStats is the admin-facing view of a user's voting profile.
// RiskScore is the maximum across windows, not an average: one hot window
// is enough to warrant a look.
type UserVotingStats struct {
	UserID             string            `json:"user_id"`
	Patterns           []VotePattern     `json:"patterns"`
	RiskScore          float64           `json:"risk_score"`
	RecentAbuseCases   []abuse.Detection `json:"recent_abuse_cases"`
	TotalCreditsEarned int64             `json:"total_credits_earned"`
}
