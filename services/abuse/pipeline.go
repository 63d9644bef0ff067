package abuse

import (
	"context"
	"time"

	"promptmarket-rewards/pkg/config"
	"promptmarket-rewards/services/account"
	"promptmarket-rewards/services/signals"
	"promptmarket-rewards/services/vote"

	"go.uber.org/fx"
)

// Input is everything a check may look at: the vote under scrutiny, the
// voter's account record and the aggregated signal snapshot.
type Input struct {
	Vote    *vote.Vote
	Account *account.Account
	Signals *signals.Snapshot
	Now     time.Time
}

// Check is one detection heuristic. Evaluate returns nil when the check does
// not fire. Checks never write and never fail.
type Check interface {
	Name() string
	Evaluate(in *Input) *Verdict
}

// Pipeline runs the ordered check sequence and stops at the first match.
// It is pure and stateless; one instance is shared across all concurrent
// reward transactions without locking.
type Pipeline struct {
	checks []Check
	rules  *RuleStage
}

type PipelineParams struct {
	fx.In
	Config *config.Config
	Rules  *RuleStage `optional:"true"`
}

func NewPipeline(p PipelineParams) *Pipeline {
	return NewPipelineWithConfig(p.Config.Abuse, p.Rules)
}

// NewPipelineWithConfig assembles the checks in their fixed priority order.
func NewPipelineWithConfig(cfg config.AbuseConfig, rules *RuleStage) *Pipeline {
	return &Pipeline{
		checks: []Check{
			selfVoteCheck{},
			accountAgeCheck{min: cfg.MinAccountAge},
			hourlyRateCheck{max: cfg.MaxVotesPerHour},
			dailyRateCheck{max: cfg.MaxVotesPerDay},
			creditRateCheck{max: cfg.MaxCreditsPerHour},
			ipVolumeCheck{max: cfg.MaxSameIPVotesPerDay},
			coordinatedVotingCheck{max: cfg.MaxVotersPerIP},
			rapidVotingCheck{count: cfg.RapidVoteCount, span: cfg.RapidVoteSpan},
			mechanicalVotingCheck{sample: cfg.MechanicalSampleSize, jitter: cfg.MechanicalJitter},
			authorConcentrationCheck{minVotes: cfg.MinVotesOnAuthor, ratio: cfg.AuthorConcentrationRatio},
			fingerprintCheck{max: cfg.MaxVotersPerUserAgent},
		},
		rules: rules,
	}
}

// Detect evaluates the checks in order and returns the first verdict, if any.
// Later checks are not evaluated once one fires. Operator-defined custom rules
// run only after every built-in check has passed.
func (p *Pipeline) Detect(ctx context.Context, in *Input) (*Verdict, bool) {
	if in.Now.IsZero() {
		in.Now = time.Now()
	}

	for _, c := range p.checks {
		if v := c.Evaluate(in); v != nil {
			detectionsTotal.WithLabelValues(string(v.Type)).Inc()
			return v, true
		}
	}

	if p.rules != nil {
		if v := p.rules.Evaluate(ctx, in); v != nil {
			detectionsTotal.WithLabelValues(string(v.Type)).Inc()
			return v, true
		}
	}

	return nil, false
}

type selfVoteCheck struct{}

func (selfVoteCheck) Name() string { return "self_vote" }

func (selfVoteCheck) Evaluate(in *Input) *Verdict {
	if in.Vote.VoterID != in.Vote.AuthorID {
		return nil
	}
	return &Verdict{
		Type:     TypeSelfVoteAttempt,
		Severity: SeverityMedium,
		Metadata: map[string]any{
			"voter_id":  in.Vote.VoterID,
			"author_id": in.Vote.AuthorID,
			"prompt_id": in.Vote.PromptID,
		},
	}
}

type accountAgeCheck struct {
	min time.Duration
}

func (accountAgeCheck) Name() string { return "account_age" }

func (c accountAgeCheck) Evaluate(in *Input) *Verdict {
	age := in.Account.Age(in.Now)
	if age >= c.min {
		return nil
	}
	return &Verdict{
		Type:     TypeSuspiciousAccountAge,
		Severity: SeverityHigh,
		Metadata: map[string]any{
			"account_age_hours": age.Hours(),
			"min_age_hours":     c.min.Hours(),
		},
	}
}

type hourlyRateCheck struct {
	max int64
}

func (hourlyRateCheck) Name() string { return "hourly_vote_rate" }

func (c hourlyRateCheck) Evaluate(in *Input) *Verdict {
	if in.Signals.VotesLastHour <= c.max {
		return nil
	}
	return &Verdict{
		Type:     TypeExcessiveVotingRate,
		Severity: SeverityHigh,
		Metadata: map[string]any{
			"votes_last_hour": in.Signals.VotesLastHour,
			"max_per_hour":    c.max,
		},
	}
}

type dailyRateCheck struct {
	max int64
}

func (dailyRateCheck) Name() string { return "daily_vote_rate" }

func (c dailyRateCheck) Evaluate(in *Input) *Verdict {
	if in.Signals.VotesLastDay <= c.max {
		return nil
	}
	return &Verdict{
		Type:     TypeExcessiveVotingRate,
		Severity: SeverityMedium,
		Metadata: map[string]any{
			"votes_last_day": in.Signals.VotesLastDay,
			"max_per_day":    c.max,
		},
	}
}

type creditRateCheck struct {
	max int64
}

func (creditRateCheck) Name() string { return "hourly_credit_rate" }

func (c creditRateCheck) Evaluate(in *Input) *Verdict {
	if in.Signals.CreditsLastHour <= c.max {
		return nil
	}
	return &Verdict{
		Type:     TypeExcessiveVotingRate,
		Severity: SeverityHigh,
		Metadata: map[string]any{
			"credits_last_hour":    in.Signals.CreditsLastHour,
			"max_credits_per_hour": c.max,
		},
	}
}

type ipVolumeCheck struct {
	max int64
}

func (ipVolumeCheck) Name() string { return "ip_volume" }

func (c ipVolumeCheck) Evaluate(in *Input) *Verdict {
	if in.Signals.SameIPVotesLastDay <= c.max {
		return nil
	}
	return &Verdict{
		Type:     TypeIPClustering,
		Severity: SeverityHigh,
		Metadata: map[string]any{
			"same_ip_votes_last_day": in.Signals.SameIPVotesLastDay,
			"max_same_ip_votes":      c.max,
			"ip_address":             in.Vote.IPAddress,
		},
	}
}

type coordinatedVotingCheck struct {
	max int64
}

func (coordinatedVotingCheck) Name() string { return "coordinated_voting" }

func (c coordinatedVotingCheck) Evaluate(in *Input) *Verdict {
	if in.Signals.DistinctVotersForIP <= c.max {
		return nil
	}
	return &Verdict{
		Type:     TypeCoordinatedVoting,
		Severity: SeverityHigh,
		Metadata: map[string]any{
			"distinct_voters_for_ip": in.Signals.DistinctVotersForIP,
			"max_voters_per_ip":      c.max,
			"ip_address":             in.Vote.IPAddress,
		},
	}
}

type rapidVotingCheck struct {
	count int
	span  time.Duration
}

func (rapidVotingCheck) Name() string { return "rapid_voting" }

func (c rapidVotingCheck) Evaluate(in *Input) *Verdict {
	times := in.Signals.RecentVoteTimes
	if len(times) < c.count {
		return nil
	}
	// Timestamps are newest first; a burst exists when the Nth most recent
	// vote is still inside the span.
	span := times[0].Sub(times[c.count-1])
	if span < 0 || span > c.span {
		return nil
	}
	return &Verdict{
		Type:     TypeRapidVoting,
		Severity: SeverityHigh,
		Metadata: map[string]any{
			"burst_votes":  c.count,
			"span_seconds": span.Seconds(),
			"max_span_sec": c.span.Seconds(),
		},
	}
}

type mechanicalVotingCheck struct {
	sample int
	jitter time.Duration
}

func (mechanicalVotingCheck) Name() string { return "mechanical_voting" }

// Evaluate flags near-constant inter-vote intervals: a bot voting on a timer
// produces gaps whose spread stays within the jitter tolerance. Human voting
// does not.
func (c mechanicalVotingCheck) Evaluate(in *Input) *Verdict {
	times := in.Signals.RecentVoteTimes
	if len(times) < c.sample {
		return nil
	}

	intervals := make([]time.Duration, 0, c.sample-1)
	for i := 0; i < c.sample-1; i++ {
		intervals = append(intervals, times[i].Sub(times[i+1]))
	}

	minGap, maxGap := intervals[0], intervals[0]
	for _, gap := range intervals[1:] {
		if gap < minGap {
			minGap = gap
		}
		if gap > maxGap {
			maxGap = gap
		}
	}

	// Zero-gap sequences are the rapid-voting check's territory.
	if minGap <= 0 || maxGap-minGap > c.jitter {
		return nil
	}

	return &Verdict{
		Type:     TypeTemporalPatternAbuse,
		Severity: SeverityMedium,
		Metadata: map[string]any{
			"sample_size":      c.sample,
			"min_interval_sec": minGap.Seconds(),
			"max_interval_sec": maxGap.Seconds(),
			"jitter_sec":       c.jitter.Seconds(),
		},
	}
}

type authorConcentrationCheck struct {
	minVotes int64
	ratio    float64
}

func (authorConcentrationCheck) Name() string { return "author_concentration" }

func (c authorConcentrationCheck) Evaluate(in *Input) *Verdict {
	if in.Signals.AuthorPromptCount == 0 || in.Signals.VotesOnAuthor < c.minVotes {
		return nil
	}
	concentration := float64(in.Signals.VotesOnAuthor) / float64(in.Signals.AuthorPromptCount)
	if concentration < c.ratio {
		return nil
	}
	return &Verdict{
		Type:     TypeVoteManipulation,
		Severity: SeverityMedium,
		Metadata: map[string]any{
			"votes_on_author":     in.Signals.VotesOnAuthor,
			"author_prompt_count": in.Signals.AuthorPromptCount,
			"concentration":       concentration,
			"ratio_threshold":     c.ratio,
			"author_id":           in.Vote.AuthorID,
		},
	}
}

type fingerprintCheck struct {
	max int64
}

func (fingerprintCheck) Name() string { return "device_fingerprint" }

func (c fingerprintCheck) Evaluate(in *Input) *Verdict {
	if in.Signals.DistinctVotersForUserAgent <= c.max {
		return nil
	}
	return &Verdict{
		Type:     TypeDeviceFingerprintMatch,
		Severity: SeverityMedium,
		Metadata: map[string]any{
			"distinct_voters_for_user_agent": in.Signals.DistinctVotersForUserAgent,
			"max_voters_per_user_agent":      c.max,
			"user_agent":                     in.Vote.UserAgent,
		},
	}
}
