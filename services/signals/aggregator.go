package signals

import (
	"context"
	"time"

	"promptmarket-rewards/pkg/config"
	"promptmarket-rewards/services/vote"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

// coordinationWindowDays bounds the lookback for the shared-IP and shared
// user-agent distinct-voter counts.
const coordinationWindowDays = 1

// Snapshot is the point-in-time signal set fed into the detection pipeline.
// Zero values mean "nothing observed"; empty ledgers never produce errors.
type Snapshot struct {
	VotesLastHour              int64       `json:"votes_last_hour"`
	VotesLastDay               int64       `json:"votes_last_day"`
	CreditsLastHour            int64       `json:"credits_last_hour"`
	SameIPVotesLastDay         int64       `json:"same_ip_votes_last_day"`
	DistinctVotersForIP        int64       `json:"distinct_voters_for_ip"`
	DistinctVotersForUserAgent int64       `json:"distinct_voters_for_user_agent"`
	RecentVoteTimes            []time.Time `json:"recent_vote_times"`
	VotesOnAuthor              int64       `json:"votes_on_author"`
	AuthorPromptCount          int64       `json:"author_prompt_count"`
}

// Aggregator computes windowed counts from the vote and reward ledgers. All
// methods are reads; read-committed isolation is enough, slightly stale
// aggregates only risk a false negative.
type Aggregator struct {
	db  *gorm.DB
	cfg config.AbuseConfig
}

type AggregatorParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
}

func NewAggregator(p AggregatorParams) *Aggregator {
	return &Aggregator{db: p.DB, cfg: p.Config.Abuse}
}

// NewAggregatorWithConfig keeps construction free of the config module, for
// callers (and tests) that already hold the thresholds.
func NewAggregatorWithConfig(db *gorm.DB, cfg config.AbuseConfig) *Aggregator {
	return &Aggregator{db: db, cfg: cfg}
}

// WithTrx binds the aggregator's reads to the caller's transaction.
func (a *Aggregator) WithTrx(tx *gorm.DB) *Aggregator {
	if tx == nil {
		return a
	}
	return &Aggregator{db: tx, cfg: a.cfg}
}

func (a *Aggregator) VotesLastHour(ctx context.Context, voterID string) (int64, error) {
	return a.countVotesSince(ctx, voterID, time.Now().Add(-time.Hour))
}

func (a *Aggregator) VotesLastDay(ctx context.Context, voterID string) (int64, error) {
	return a.countVotesSince(ctx, voterID, time.Now().Add(-24*time.Hour))
}

func (a *Aggregator) countVotesSince(ctx context.Context, voterID string, since time.Time) (int64, error) {
	var n int64
	err := a.db.WithContext(ctx).Model(&vote.Vote{}).
		Where("voter_id = ? AND created_at >= ?", voterID, since).
		Count(&n).Error
	return n, err
}

// CreditsLastHour sums credits awarded to the voter's rewards in the trailing
// hour. The reward table is queried by raw name to avoid an import cycle with
// the reward package.
func (a *Aggregator) CreditsLastHour(ctx context.Context, voterID string) (int64, error) {
	var total *int64
	err := a.db.WithContext(ctx).Table("vote_rewards").
		Select("SUM(credits_awarded)").
		Where("voter_id = ? AND created_at >= ?", voterID, time.Now().Add(-time.Hour)).
		Scan(&total).Error
	if err != nil || total == nil {
		return 0, err
	}
	return *total, nil
}

func (a *Aggregator) SameIPVotesLastDay(ctx context.Context, ip string) (int64, error) {
	var n int64
	err := a.db.WithContext(ctx).Table("vote_rewards").
		Where("ip_address = ? AND created_at >= ?", ip, time.Now().Add(-24*time.Hour)).
		Count(&n).Error
	return n, err
}

func (a *Aggregator) DistinctVotersForIP(ctx context.Context, ip string, windowDays int) (int64, error) {
	return a.distinctVoters(ctx, "ip_address", ip, windowDays)
}

func (a *Aggregator) DistinctVotersForUserAgent(ctx context.Context, userAgent string, windowDays int) (int64, error) {
	return a.distinctVoters(ctx, "user_agent", userAgent, windowDays)
}

func (a *Aggregator) distinctVoters(ctx context.Context, column, value string, windowDays int) (int64, error) {
	var n int64
	since := time.Now().Add(-time.Duration(windowDays) * 24 * time.Hour)
	err := a.db.WithContext(ctx).Table("vote_rewards").
		Where(column+" = ? AND created_at >= ?", value, since).
		Distinct("voter_id").
		Count(&n).Error
	return n, err
}

// RecentVoteTimes returns the voter's last N vote timestamps, newest first.
func (a *Aggregator) RecentVoteTimes(ctx context.Context, voterID string, limit int) ([]time.Time, error) {
	var times []time.Time
	err := a.db.WithContext(ctx).Model(&vote.Vote{}).
		Where("voter_id = ?", voterID).
		Order("created_at DESC").
		Limit(limit).
		Pluck("created_at", &times).Error
	return times, err
}

func (a *Aggregator) VotesOnAuthor(ctx context.Context, voterID, authorID string) (int64, error) {
	var n int64
	err := a.db.WithContext(ctx).Model(&vote.Vote{}).
		Where("voter_id = ? AND author_id = ?", voterID, authorID).
		Count(&n).Error
	return n, err
}

func (a *Aggregator) AuthorPromptCount(ctx context.Context, authorID string) (int64, error) {
	var n int64
	err := a.db.WithContext(ctx).Model(&vote.Prompt{}).
		Where("author_id = ?", authorID).
		Count(&n).Error
	return n, err
}

// Collect gathers the full snapshot for one vote. The first failing query
// aborts collection; callers treat that as an infrastructure failure.
func (a *Aggregator) Collect(ctx context.Context, v *vote.Vote) (*Snapshot, error) {
	snap := &Snapshot{}
	var err error

	if snap.VotesLastHour, err = a.VotesLastHour(ctx, v.VoterID); err != nil {
		return nil, err
	}
	if snap.VotesLastDay, err = a.VotesLastDay(ctx, v.VoterID); err != nil {
		return nil, err
	}
	if snap.CreditsLastHour, err = a.CreditsLastHour(ctx, v.VoterID); err != nil {
		return nil, err
	}
	if snap.SameIPVotesLastDay, err = a.SameIPVotesLastDay(ctx, v.IPAddress); err != nil {
		return nil, err
	}
	if snap.DistinctVotersForIP, err = a.DistinctVotersForIP(ctx, v.IPAddress, coordinationWindowDays); err != nil {
		return nil, err
	}
	if snap.DistinctVotersForUserAgent, err = a.DistinctVotersForUserAgent(ctx, v.UserAgent, coordinationWindowDays); err != nil {
		return nil, err
	}
	if snap.RecentVoteTimes, err = a.RecentVoteTimes(ctx, v.VoterID, a.cfg.RecentVoteSample); err != nil {
		return nil, err
	}
	if snap.VotesOnAuthor, err = a.VotesOnAuthor(ctx, v.VoterID, v.AuthorID); err != nil {
		return nil, err
	}
	if snap.AuthorPromptCount, err = a.AuthorPromptCount(ctx, v.AuthorID); err != nil {
		return nil, err
	}

	return snap, nil
}

var Module = fx.Module("signals",
	fx.Provide(NewAggregator),
)
