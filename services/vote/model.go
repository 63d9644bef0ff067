package vote

import "time"

// Vote is one cast ballot. The table is owned by the marketplace voting
// feature; the reward engine only ever reads it.
type Vote struct {
	ID        string    `gorm:"column:id;primaryKey"`
	VoterID   string    `gorm:"column:voter_id;index"`
	AuthorID  string    `gorm:"column:author_id;index"`
	PromptID  string    `gorm:"column:prompt_id;index"`
	Value     int       `gorm:"column:value"`
	IPAddress string    `gorm:"column:ip_address;index"`
	UserAgent string    `gorm:"column:user_agent"`
	CreatedAt time.Time `gorm:"column:created_at;index"`
}

func (Vote) TableName() string { return "votes" }

// Prompt mirrors the marketplace prompt table. Read-only here; the engine
// needs it only for per-author prompt counts.
type Prompt struct {
	ID        string    `gorm:"column:id;primaryKey"`
	AuthorID  string    `gorm:"column:author_id;index"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Prompt) TableName() string { return "prompts" }

const (
	Upvote   = 1
	Downvote = -1
)
