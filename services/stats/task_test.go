package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"promptmarket-rewards/pkg/config"
	"promptmarket-rewards/services/testutil"
	"promptmarket-rewards/services/vote"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestRecomputer(t *testing.T) (*Recomputer, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &vote.Vote{}, &VotePattern{})
	return NewRecomputerWithConfig(db, config.DefaultAbuseConfig()), db
}

func seedVoteAt(t *testing.T, db *gorm.DB, id, voterID, ip string, age time.Duration) {
	t.Helper()
	require.NoError(t, db.Create(&vote.Vote{
		ID:        id,
		VoterID:   voterID,
		AuthorID:  "author-1",
		PromptID:  "prompt-" + id,
		Value:     vote.Upvote,
		IPAddress: ip,
		UserAgent: "Mozilla/5.0",
		CreatedAt: time.Now().Add(-age),
	}).Error)
}

func TestRecomputer_BuildsBothWindows(t *testing.T) {
	recomputer, db := newTestRecomputer(t)

	seedVoteAt(t, db, "v1", "voter-1", "203.0.113.10", 10*time.Minute)
	seedVoteAt(t, db, "v2", "voter-1", "203.0.113.11", 30*time.Minute)
	seedVoteAt(t, db, "v3", "voter-1", "203.0.113.10", 5*time.Hour)

	require.NoError(t, recomputer.Recompute(context.Background(), "voter-1"))

	var hour VotePattern
	require.NoError(t, db.First(&hour, "user_id = ? AND time_window = ?", "voter-1", WindowHour).Error)
	require.Equal(t, int64(2), hour.VoteCount)
	require.Equal(t, int64(2), hour.UniqueIPs)

	var day VotePattern
	require.NoError(t, db.First(&day, "user_id = ? AND time_window = ?", "voter-1", WindowDay).Error)
	require.Equal(t, int64(3), day.VoteCount)
	require.Greater(t, day.AvgVoteInterval, 0.0)
}

func TestRecomputer_UpsertsOnRepeatRuns(t *testing.T) {
	recomputer, db := newTestRecomputer(t)

	seedVoteAt(t, db, "v1", "voter-1", "203.0.113.10", 10*time.Minute)
	require.NoError(t, recomputer.Recompute(context.Background(), "voter-1"))

	seedVoteAt(t, db, "v2", "voter-1", "203.0.113.10", 5*time.Minute)
	require.NoError(t, recomputer.Recompute(context.Background(), "voter-1"))

	var rows []VotePattern
	require.NoError(t, db.Where("user_id = ?", "voter-1").Find(&rows).Error)
	require.Len(t, rows, 2)

	var hour VotePattern
	require.NoError(t, db.First(&hour, "user_id = ? AND time_window = ?", "voter-1", WindowHour).Error)
	require.Equal(t, int64(2), hour.VoteCount)
}

func TestRecomputer_FlagsHighVoteRate(t *testing.T) {
	recomputer, db := newTestRecomputer(t)

	// Eighteen votes in the hour sits at 90% of the limit.
	for i := 0; i < 18; i++ {
		seedVoteAt(t, db, fmt.Sprintf("v-%d", i), "voter-1", "203.0.113.10", time.Duration(i*150)*time.Second)
	}

	require.NoError(t, recomputer.Recompute(context.Background(), "voter-1"))

	var hour VotePattern
	require.NoError(t, db.First(&hour, "user_id = ? AND time_window = ?", "voter-1", WindowHour).Error)
	require.GreaterOrEqual(t, hour.RiskScore, 0.9)

	var tags []string
	require.NoError(t, json.Unmarshal(hour.SuspiciousPatterns, &tags))
	require.Contains(t, tags, "high_vote_rate")
	require.Contains(t, tags, "single_ip_origin")
}

func TestRecomputer_QuietUserScoresLow(t *testing.T) {
	recomputer, db := newTestRecomputer(t)

	seedVoteAt(t, db, "v1", "voter-1", "203.0.113.10", 20*time.Minute)
	seedVoteAt(t, db, "v2", "voter-1", "203.0.113.11", 6*time.Hour)

	require.NoError(t, recomputer.Recompute(context.Background(), "voter-1"))

	var hour VotePattern
	require.NoError(t, db.First(&hour, "user_id = ? AND time_window = ?", "voter-1", WindowHour).Error)
	require.Less(t, hour.RiskScore, 0.2)

	var tags []string
	require.NoError(t, json.Unmarshal(hour.SuspiciousPatterns, &tags))
	require.Empty(t, tags)
}

func TestHandleRecomputePatterns(t *testing.T) {
	recomputer, db := newTestRecomputer(t)
	seedVoteAt(t, db, "v1", "voter-1", "203.0.113.10", 10*time.Minute)

	task, err := NewRecomputeTask("voter-1")
	require.NoError(t, err)
	require.Equal(t, TypeRecomputePatterns, task.Type())

	require.NoError(t, recomputer.HandleRecomputePatterns(context.Background(), task))

	var rows []VotePattern
	require.NoError(t, db.Where("user_id = ?", "voter-1").Find(&rows).Error)
	require.Len(t, rows, 2)
}
