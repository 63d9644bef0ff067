package reward

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"promptmarket-rewards/pkg/task"
	"promptmarket-rewards/services/abuse"
	"promptmarket-rewards/services/account"
	"promptmarket-rewards/services/credits"
	"promptmarket-rewards/services/signals"
	"promptmarket-rewards/services/stats"
	"promptmarket-rewards/services/vote"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// errDuplicateReward marks the race where a concurrent transaction inserted
// the reward between the pre-check and our insert. The unique index surfaces
// it; the caller sees the same rejection as the pre-check path.
var errDuplicateReward = errors.New("reward already exists for vote")

// Processor runs the reward issuance transaction: duplicate gate, eligibility,
// abuse screening, then ledger write plus balance credit as one atomic unit.
type Processor struct {
	db       *gorm.DB
	node     *snowflake.Node
	rewards  Repository
	cases    abuse.Repository
	pipeline *abuse.Pipeline
	signals  *signals.Aggregator
	accounts account.Directory
	credits  credits.Ledger
	enqueuer task.Enqueuer
}

type ProcessorParams struct {
	fx.In
	DB         *gorm.DB
	Node       *snowflake.Node
	Repository Repository
	Cases      abuse.Repository
	Pipeline   *abuse.Pipeline
	Signals    *signals.Aggregator
	Accounts   account.Directory
	Credits    credits.Ledger
	Enqueuer   task.Enqueuer `optional:"true"`
}

func NewProcessor(p ProcessorParams) *Processor {
	return &Processor{
		db:       p.DB,
		node:     p.Node,
		rewards:  p.Repository,
		cases:    p.Cases,
		pipeline: p.Pipeline,
		signals:  p.Signals,
		accounts: p.Accounts,
		credits:  p.Credits,
		enqueuer: p.Enqueuer,
	}
}

func rejection(reason string) *Result {
	return &Result{Success: false, CreditsAwarded: 0, Reason: reason}
}

// ProcessVoteReward decides whether ev earns the prompt's author credits.
// It never returns an error: rejections and abuse verdicts are structured
// results, and infrastructure failures collapse to a generic reason after the
// transaction rolls back.
func (p *Processor) ProcessVoteReward(ctx context.Context, ev VoteEvent) *Result {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("vote_id", ev.VoteID),
		zap.String("voter_id", ev.VoterID),
	)

	if ev.Value != vote.Upvote {
		return rejection(ReasonOnlyUpvotes)
	}

	var result *Result
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rewards := p.rewards.WithTrx(tx)

		// UX pre-check; the unique index on vote_id is the real guard.
		exists, err := rewards.ExistsForVote(ctx, ev.VoteID)
		if err != nil {
			return err
		}
		if exists {
			result = rejection(ReasonAlreadyProcessed)
			return nil
		}

		acc, err := p.accounts.WithTrx(tx).FindAccount(ctx, ev.VoterID)
		if errors.Is(err, account.ErrNotFound) {
			result = rejection(ReasonVoterNotFound)
			return nil
		}
		if err != nil {
			return err
		}

		creditsAwarded := CreditsForPlan(acc.PlanType)
		if creditsAwarded == 0 {
			// Ineligible plans are not screened; there is nothing to pay out.
			result = rejection(ReasonPlanNotEligible)
			return nil
		}

		v := &vote.Vote{
			ID:        ev.VoteID,
			VoterID:   ev.VoterID,
			AuthorID:  ev.AuthorID,
			PromptID:  ev.PromptID,
			Value:     ev.Value,
			IPAddress: ev.IPAddress,
			UserAgent: ev.UserAgent,
		}

		snap, err := p.signals.WithTrx(tx).Collect(ctx, v)
		if err != nil {
			return err
		}

		if verdict, matched := p.pipeline.Detect(ctx, &abuse.Input{Vote: v, Account: acc, Signals: snap}); matched {
			meta, _ := json.Marshal(verdict.Metadata)
			if err := p.cases.WithTrx(tx).Create(ctx, &abuse.Detection{
				ID:         p.node.Generate().String(),
				UserID:     ev.VoterID,
				AbuseType:  verdict.Type,
				Severity:   verdict.Severity,
				Status:     abuse.StatusPending,
				DetectedAt: time.Now(),
				Metadata:   datatypes.JSON(meta),
			}); err != nil {
				return err
			}

			zapLog.Warn("vote flagged by abuse pipeline",
				zap.String("abuse_type", string(verdict.Type)),
				zap.String("severity", string(verdict.Severity)),
			)
			result = &Result{Success: false, AbuseDetected: true, AbuseType: verdict.Type}
			return nil
		}

		if err := rewards.Create(ctx, &VoteReward{
			ID:             p.node.Generate().String(),
			VoteID:         ev.VoteID,
			VoterID:        ev.VoterID,
			AuthorID:       ev.AuthorID,
			CreditsAwarded: creditsAwarded,
			IPAddress:      ev.IPAddress,
			UserAgent:      ev.UserAgent,
			CreatedAt:      time.Now(),
		}); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errDuplicateReward
			}
			return err
		}

		// The balance credit shares the transaction: a reward row without the
		// matching balance mutation must never survive, and vice versa.
		if err := p.credits.WithTrx(tx).AddCredits(ctx, ev.AuthorID, creditsAwarded, credits.CategoryUpvote, ev.VoteID); err != nil {
			return err
		}

		result = &Result{Success: true, CreditsAwarded: creditsAwarded}
		return nil
	})
	if errors.Is(err, errDuplicateReward) {
		return rejection(ReasonAlreadyProcessed)
	}
	if err != nil {
		zapLog.Error("failed to process vote reward", zap.Error(err))
		return rejection(ReasonInternalError)
	}

	if result.Success {
		rewardsIssuedTotal.Inc()
		creditsAwardedTotal.Add(float64(result.CreditsAwarded))
		p.enqueuePatternRecompute(ev.VoterID, zapLog)
	}

	return result
}

// enqueuePatternRecompute schedules the voter's pattern rollups for refresh.
// Best effort; reward issuance never depends on the worker queue.
func (p *Processor) enqueuePatternRecompute(voterID string, zapLog *zap.Logger) {
	if p.enqueuer == nil {
		return
	}

	t, err := stats.NewRecomputeTask(voterID)
	if err != nil {
		zapLog.Warn("failed to build pattern recompute task", zap.Error(err))
		return
	}
	if _, err := p.enqueuer.Enqueue(t); err != nil {
		zapLog.Warn("failed to enqueue pattern recompute", zap.Error(err))
	}
}

var Module = fx.Module("reward",
	fx.Provide(
		func(db *gorm.DB) Repository { return NewRepository(db) },
		NewProcessor,
	),
)
