package reward

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"promptmarket-rewards/pkg/config"
	"promptmarket-rewards/services/abuse"
	"promptmarket-rewards/services/account"
	"promptmarket-rewards/services/audit"
	"promptmarket-rewards/services/credits"
	"promptmarket-rewards/services/signals"
	"promptmarket-rewards/services/testutil"
	"promptmarket-rewards/services/vote"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestProcessor(t *testing.T) (*Processor, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&vote.Vote{},
		&vote.Prompt{},
		&account.Account{},
		&VoteReward{},
		&abuse.Detection{},
		&abuse.CustomRule{},
		&credits.Balance{},
		&credits.Entry{},
		&audit.Log{},
	)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.DefaultAbuseConfig()

	processor := NewProcessor(ProcessorParams{
		DB:         db,
		Node:       node,
		Repository: NewRepository(db),
		Cases:      abuse.NewRepository(db),
		Pipeline:   abuse.NewPipelineWithConfig(cfg, nil),
		Signals:    signals.NewAggregatorWithConfig(db, cfg),
		Accounts:   account.NewDirectory(db),
		Credits:    credits.NewLedger(credits.LedgerParams{DB: db, Node: node}),
	})

	return processor, db
}

func seedAccount(t *testing.T, db *gorm.DB, id string, plan account.PlanType) {
	t.Helper()
	require.NoError(t, db.Create(&account.Account{
		ID:        id,
		PlanType:  plan,
		CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
	}).Error)
}

func upvoteEvent(voteID, voterID, authorID string) VoteEvent {
	return VoteEvent{
		VoteID:    voteID,
		VoterID:   voterID,
		AuthorID:  authorID,
		PromptID:  "prompt-1",
		Value:     vote.Upvote,
		IPAddress: "203.0.113.10",
		UserAgent: "Mozilla/5.0",
	}
}

func TestProcessor_RejectsDownvote(t *testing.T) {
	processor, db := newTestProcessor(t)
	seedAccount(t, db, "voter-1", account.PlanPro)

	ev := upvoteEvent("vote-1", "voter-1", "author-1")
	ev.Value = vote.Downvote

	result := processor.ProcessVoteReward(context.Background(), ev)
	require.False(t, result.Success)
	require.Equal(t, ReasonOnlyUpvotes, result.Reason)
	require.Zero(t, result.CreditsAwarded)
}

func TestProcessor_VoterNotFound(t *testing.T) {
	processor, _ := newTestProcessor(t)

	result := processor.ProcessVoteReward(context.Background(), upvoteEvent("vote-1", "ghost", "author-1"))
	require.False(t, result.Success)
	require.Equal(t, ReasonVoterNotFound, result.Reason)
}

func TestProcessor_FreePlanNotEligible(t *testing.T) {
	processor, db := newTestProcessor(t)
	seedAccount(t, db, "voter-1", account.PlanFree)

	result := processor.ProcessVoteReward(context.Background(), upvoteEvent("vote-1", "voter-1", "author-1"))
	require.False(t, result.Success)
	require.Equal(t, ReasonPlanNotEligible, result.Reason)

	var n int64
	require.NoError(t, db.Model(&VoteReward{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestProcessor_AwardsCreditsPerPlan(t *testing.T) {
	tests := []struct {
		plan    account.PlanType
		credits int64
	}{
		{account.PlanPro, 1},
		{account.PlanElite, 2},
		{account.PlanEnterprise, 3},
	}

	for _, tt := range tests {
		t.Run(string(tt.plan), func(t *testing.T) {
			processor, db := newTestProcessor(t)
			seedAccount(t, db, "voter-1", tt.plan)

			result := processor.ProcessVoteReward(context.Background(), upvoteEvent("vote-1", "voter-1", "author-1"))
			require.True(t, result.Success)
			require.Equal(t, tt.credits, result.CreditsAwarded)
			require.Empty(t, result.Reason)

			var reward VoteReward
			require.NoError(t, db.First(&reward, "vote_id = ?", "vote-1").Error)
			require.Equal(t, tt.credits, reward.CreditsAwarded)
			require.Equal(t, "author-1", reward.AuthorID)

			ledger := credits.NewLedger(credits.LedgerParams{DB: db, Node: mustNode(t)})
			balance, err := ledger.BalanceOf(context.Background(), "author-1")
			require.NoError(t, err)
			require.Equal(t, tt.credits, balance)

			var entry credits.Entry
			require.NoError(t, db.First(&entry, "reference_id = ?", "vote-1").Error)
			require.Equal(t, credits.CategoryUpvote, entry.Category)
			require.Equal(t, "author-1", entry.AccountID)
		})
	}
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	return node
}

func TestProcessor_IdempotentPerVote(t *testing.T) {
	processor, db := newTestProcessor(t)
	seedAccount(t, db, "voter-1", account.PlanPro)

	ev := upvoteEvent("vote-1", "voter-1", "author-1")

	first := processor.ProcessVoteReward(context.Background(), ev)
	require.True(t, first.Success)

	second := processor.ProcessVoteReward(context.Background(), ev)
	require.False(t, second.Success)
	require.Equal(t, ReasonAlreadyProcessed, second.Reason)

	var n int64
	require.NoError(t, db.Model(&VoteReward{}).Count(&n).Error)
	require.Equal(t, int64(1), n)

	ledger := credits.NewLedger(credits.LedgerParams{DB: db, Node: mustNode(t)})
	balance, err := ledger.BalanceOf(context.Background(), "author-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), balance)
}

func TestRepository_DuplicateVoteInsertTranslated(t *testing.T) {
	_, db := newTestProcessor(t)
	repo := NewRepository(db)

	fresh := func(id string) *VoteReward {
		return &VoteReward{
			ID:             id,
			VoteID:         "vote-1",
			VoterID:        "voter-1",
			AuthorID:       "author-1",
			CreditsAwarded: 1,
			CreatedAt:      time.Now(),
		}
	}

	require.NoError(t, repo.Create(context.Background(), fresh("r-1")))

	err := repo.Create(context.Background(), fresh("r-2"))
	require.Error(t, err)
	require.True(t, errors.Is(err, gorm.ErrDuplicatedKey))
}

func TestProcessor_SelfVotePersistsAbuseCase(t *testing.T) {
	processor, db := newTestProcessor(t)
	seedAccount(t, db, "voter-1", account.PlanPro)

	result := processor.ProcessVoteReward(context.Background(), upvoteEvent("vote-1", "voter-1", "voter-1"))
	require.False(t, result.Success)
	require.True(t, result.AbuseDetected)
	require.Equal(t, abuse.TypeSelfVoteAttempt, result.AbuseType)
	require.Empty(t, result.Reason)

	// The detection commits even though no reward was issued.
	var detections []abuse.Detection
	require.NoError(t, db.Find(&detections).Error)
	require.Len(t, detections, 1)
	require.Equal(t, "voter-1", detections[0].UserID)
	require.Equal(t, abuse.StatusPending, detections[0].Status)

	var n int64
	require.NoError(t, db.Model(&VoteReward{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestProcessor_RateLimitFlagsAfterThreshold(t *testing.T) {
	processor, db := newTestProcessor(t)
	seedAccount(t, db, "voter-1", account.PlanPro)

	// The voter already has 21 votes inside the hour, spaced widely enough to
	// dodge the burst checks.
	now := time.Now()
	for i := 0; i < 21; i++ {
		require.NoError(t, db.Create(&vote.Vote{
			ID:        fmt.Sprintf("vote-%d", i),
			VoterID:   "voter-1",
			AuthorID:  fmt.Sprintf("author-%d", i),
			PromptID:  fmt.Sprintf("prompt-%d", i),
			Value:     vote.Upvote,
			IPAddress: fmt.Sprintf("203.0.113.%d", i),
			CreatedAt: now.Add(-time.Duration(137*(i+1)) * time.Second),
		}).Error)
	}

	result := processor.ProcessVoteReward(context.Background(), upvoteEvent("vote-new", "voter-1", "author-x"))
	require.False(t, result.Success)
	require.True(t, result.AbuseDetected)
	require.Equal(t, abuse.TypeExcessiveVotingRate, result.AbuseType)
}
