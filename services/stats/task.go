package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"promptmarket-rewards/pkg/config"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const TypeRecomputePatterns = "stats:recompute_patterns"

type recomputePayload struct {
	UserID string `json:"user_id"`
}

// NewRecomputeTask builds the task that refreshes a user's pattern rollups.
func NewRecomputeTask(userID string) (*asynq.Task, error) {
	payload, err := json.Marshal(recomputePayload{UserID: userID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRecomputePatterns, payload, asynq.Queue("low")), nil
}

// Recomputer rebuilds vote_patterns rows from the raw votes table. It runs on
// the worker, off the vote path.
type Recomputer struct {
	db  *gorm.DB
	cfg config.AbuseConfig
}

func NewRecomputer(db *gorm.DB, cfg *config.Config) *Recomputer {
	return &Recomputer{db: db, cfg: cfg.Abuse}
}

// NewRecomputerWithConfig is intended for tests that build the thresholds
// directly.
func NewRecomputerWithConfig(db *gorm.DB, cfg config.AbuseConfig) *Recomputer {
	return &Recomputer{db: db, cfg: cfg}
}

func (r *Recomputer) HandleRecomputePatterns(ctx context.Context, t *asynq.Task) error {
	var payload recomputePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if payload.UserID == "" {
		return fmt.Errorf("recompute task missing user_id")
	}

	if err := r.Recompute(ctx, payload.UserID); err != nil {
		zap.L().Error("failed to recompute vote patterns",
			zap.String("user_id", payload.UserID),
			zap.Error(err),
		)
		return err
	}

	return nil
}

// Recompute rebuilds both time windows for one user.
func (r *Recomputer) Recompute(ctx context.Context, userID string) error {
	now := time.Now()
	windows := map[string]time.Duration{
		WindowHour: time.Hour,
		WindowDay:  24 * time.Hour,
	}

	for window, span := range windows {
		pattern, err := r.computeWindow(ctx, userID, window, now.Add(-span), now)
		if err != nil {
			return err
		}

		if err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "user_id"}, {Name: "time_window"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"vote_count", "unique_ips", "unique_user_agents",
					"avg_vote_interval_seconds", "risk_score",
					"suspicious_patterns", "computed_at",
				}),
			}).
			Create(pattern).Error; err != nil {
			return err
		}
	}

	return nil
}

func (r *Recomputer) computeWindow(ctx context.Context, userID, window string, since, now time.Time) (*VotePattern, error) {
	base := func() *gorm.DB {
		return r.db.WithContext(ctx).
			Table("votes").
			Where("voter_id = ? AND created_at >= ?", userID, since)
	}

	var voteCount int64
	if err := base().Count(&voteCount).Error; err != nil {
		return nil, err
	}

	var uniqueIPs int64
	if err := base().Distinct("ip_address").Count(&uniqueIPs).Error; err != nil {
		return nil, err
	}

	var uniqueUserAgents int64
	if err := base().Distinct("user_agent").Count(&uniqueUserAgents).Error; err != nil {
		return nil, err
	}

	var times []time.Time
	if err := base().Order("created_at ASC").Pluck("created_at", &times).Error; err != nil {
		return nil, err
	}

	avgInterval := 0.0
	if len(times) > 1 {
		span := times[len(times)-1].Sub(times[0]).Seconds()
		avgInterval = span / float64(len(times)-1)
	}

	score, tags := r.score(window, voteCount, uniqueIPs, avgInterval)

	suspicious, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}

	return &VotePattern{
		UserID:             userID,
		TimeWindow:         window,
		VoteCount:          voteCount,
		UniqueIPs:          uniqueIPs,
		UniqueUserAgents:   uniqueUserAgents,
		AvgVoteInterval:    avgInterval,
		RiskScore:          score,
		SuspiciousPatterns: datatypes.JSON(suspicious),
		ComputedAt:         now,
	}, nil
}

// score grades a window by how close the user sits to the enforcement
// thresholds. Each component caps at 1.0 and the window takes the worst one.
func (r *Recomputer) score(window string, voteCount, uniqueIPs int64, avgInterval float64) (float64, []string) {
	limit := r.cfg.MaxVotesPerHour
	if window == WindowDay {
		limit = r.cfg.MaxVotesPerDay
	}

	tags := []string{}
	score := 0.0

	if limit > 0 {
		rate := float64(voteCount) / float64(limit)
		if rate > 1 {
			rate = 1
		}
		if rate > score {
			score = rate
		}
		if rate >= 0.8 {
			tags = append(tags, "high_vote_rate")
		}
	}

	if voteCount >= int64(r.cfg.RapidVoteCount) && avgInterval > 0 && avgInterval < r.cfg.RapidVoteSpan.Seconds() {
		tags = append(tags, "rapid_cadence")
		if score < 0.9 {
			score = 0.9
		}
	}

	if voteCount >= 10 && uniqueIPs <= 1 {
		tags = append(tags, "single_ip_origin")
		if score < 0.6 {
			score = 0.6
		}
	}

	return score, tags
}

var TaskModule = fx.Module("stats.tasks",
	fx.Provide(NewRecomputer),
	fx.Invoke(func(mux *asynq.ServeMux, r *Recomputer) {
		mux.HandleFunc(TypeRecomputePatterns, r.HandleRecomputePatterns)
	}),
)
