package abuse

import (
	"context"
	"errors"
	"testing"
	"time"

	"promptmarket-rewards/pkg/config"

	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	Repository
	listActiveRules func(ctx context.Context) ([]CustomRule, error)
}

func (m *mockRepository) ListActiveRules(ctx context.Context) ([]CustomRule, error) {
	return m.listActiveRules(ctx)
}

func TestEvaluator_Evaluate(t *testing.T) {
	evaluator := NewEvaluator()

	matched, err := evaluator.Evaluate("votes_last_hour > 10", map[string]any{
		"votes_last_hour": int64(15),
	})
	require.NoError(t, err)
	require.True(t, matched)

	matched, err = evaluator.Evaluate("votes_last_hour > 10", map[string]any{
		"votes_last_hour": int64(5),
	})
	require.NoError(t, err)
	require.False(t, matched)

	_, err = evaluator.Evaluate("", nil)
	require.Error(t, err)

	_, err = evaluator.Evaluate("votes_last_hour + 1", map[string]any{
		"votes_last_hour": int64(5),
	})
	require.Error(t, err, "non-boolean result must be rejected")
}

func TestRuleStage_FirstMatchWins(t *testing.T) {
	repo := &mockRepository{
		listActiveRules: func(ctx context.Context) ([]CustomRule, error) {
			return []CustomRule{
				{
					RuleID:     "rule-1",
					Name:       "enterprise burst",
					Expression: `plan_type == "ENTERPRISE" && votes_last_hour > 5`,
					AbuseType:  TypeExcessiveVotingRate,
					Severity:   SeverityHigh,
				},
				{
					RuleID:     "rule-2",
					Name:       "catch all",
					Expression: "votes_last_day > 0",
					AbuseType:  TypeVoteManipulation,
					Severity:   SeverityLow,
				},
			}, nil
		},
	}

	stage := NewRuleStageWithTTL(repo, time.Minute)
	in := cleanInput(time.Now())
	in.Account.PlanType = "ENTERPRISE"
	in.Signals.VotesLastHour = 6

	verdict := stage.Evaluate(context.Background(), in)
	require.NotNil(t, verdict)
	require.Equal(t, TypeExcessiveVotingRate, verdict.Type)
	require.Equal(t, "rule-1", verdict.Metadata["rule_id"])
}

func TestRuleStage_BrokenRuleIsSkipped(t *testing.T) {
	repo := &mockRepository{
		listActiveRules: func(ctx context.Context) ([]CustomRule, error) {
			return []CustomRule{
				{
					RuleID:     "rule-broken",
					Name:       "does not compile",
					Expression: "votes_last_hour >",
					AbuseType:  TypeVoteManipulation,
					Severity:   SeverityHigh,
				},
				{
					RuleID:     "rule-ok",
					Name:       "high day rate",
					Expression: "votes_last_day > 10",
					AbuseType:  TypeExcessiveVotingRate,
					Severity:   SeverityMedium,
				},
			}, nil
		},
	}

	stage := NewRuleStageWithTTL(repo, time.Minute)
	in := cleanInput(time.Now())
	in.Signals.VotesLastDay = 11

	verdict := stage.Evaluate(context.Background(), in)
	require.NotNil(t, verdict)
	require.Equal(t, "rule-ok", verdict.Metadata["rule_id"])
}

func TestRuleStage_CachesWithinTTL(t *testing.T) {
	calls := 0
	repo := &mockRepository{
		listActiveRules: func(ctx context.Context) ([]CustomRule, error) {
			calls++
			return nil, nil
		},
	}

	stage := NewRuleStageWithTTL(repo, time.Minute)
	in := cleanInput(time.Now())

	require.Nil(t, stage.Evaluate(context.Background(), in))
	require.Nil(t, stage.Evaluate(context.Background(), in))
	require.Equal(t, 1, calls)
}

func TestRuleStage_LoadFailureMeansNoMatch(t *testing.T) {
	repo := &mockRepository{
		listActiveRules: func(ctx context.Context) ([]CustomRule, error) {
			return nil, errors.New("database unavailable")
		},
	}

	stage := NewRuleStageWithTTL(repo, time.Minute)
	require.Nil(t, stage.Evaluate(context.Background(), cleanInput(time.Now())))
}

func TestPipeline_CustomRulesRunAfterBuiltins(t *testing.T) {
	repo := &mockRepository{
		listActiveRules: func(ctx context.Context) ([]CustomRule, error) {
			return []CustomRule{
				{
					RuleID:     "rule-1",
					Name:       "always",
					Expression: "true",
					AbuseType:  TypeVoteManipulation,
					Severity:   SeverityLow,
				},
			}, nil
		},
	}

	pipeline := NewPipelineWithConfig(config.DefaultAbuseConfig(), NewRuleStageWithTTL(repo, time.Minute))

	// A built-in match short-circuits before the custom stage.
	in := cleanInput(time.Now())
	in.Vote.AuthorID = in.Vote.VoterID
	verdict, matched := pipeline.Detect(context.Background(), in)
	require.True(t, matched)
	require.Equal(t, TypeSelfVoteAttempt, verdict.Type)

	// A clean vote falls through to the custom rule.
	verdict, matched = pipeline.Detect(context.Background(), cleanInput(time.Now()))
	require.True(t, matched)
	require.Equal(t, TypeVoteManipulation, verdict.Type)
	require.Equal(t, "rule-1", verdict.Metadata["rule_id"])
}
