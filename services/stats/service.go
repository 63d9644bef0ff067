package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"promptmarket-rewards/pkg/config"
	"promptmarket-rewards/services/abuse"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const recentAbuseCaseLimit = 10

// Service serves per-user voting statistics to the admin surface. Reads go
// through a short-lived Redis cache; a Redis outage degrades to direct
// database reads instead of failing the request.
type Service struct {
	db       *gorm.DB
	rdb      *redis.Client
	cases    abuse.Repository
	cacheTTL time.Duration
	sf       singleflight.Group
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Redis  *redis.Client
	Cases  abuse.Repository
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		rdb:      p.Redis,
		cases:    p.Cases,
		cacheTTL: p.Config.Stats.CacheTTL,
	}
}

func cacheKey(userID string) string {
	return fmt.Sprintf("voting_stats:%s", userID)
}

// GetUserVotingStats returns the pattern rollups, aggregate risk score,
// recent abuse cases and lifetime credits for one user.
func (s *Service) GetUserVotingStats(ctx context.Context, userID string) (*UserVotingStats, error) {
	if s.rdb != nil {
		cached, err := s.rdb.Get(ctx, cacheKey(userID)).Bytes()
		if err == nil {
			var stats UserVotingStats
			if err := json.Unmarshal(cached, &stats); err == nil {
				return &stats, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			zap.L().Warn("failed to read voting stats cache", zap.Error(err))
		}
	}

	v, err, _ := s.sf.Do(userID, func() (interface{}, error) {
		return s.compute(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	stats := v.(*UserVotingStats)
	if s.rdb != nil {
		if payload, err := json.Marshal(stats); err == nil {
			if err := s.rdb.Set(ctx, cacheKey(userID), payload, s.cacheTTL).Err(); err != nil {
				zap.L().Warn("failed to write voting stats cache", zap.Error(err))
			}
		}
	}

	return stats, nil
}

func (s *Service) compute(ctx context.Context, userID string) (*UserVotingStats, error) {
	var patterns []VotePattern
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("time_window ASC").
		Find(&patterns).Error; err != nil {
		return nil, err
	}

	risk := 0.0
	for _, p := range patterns {
		if p.RiskScore > risk {
			risk = p.RiskScore
		}
	}

	cases, err := s.cases.ListRecentByUser(ctx, userID, recentAbuseCaseLimit)
	if err != nil {
		return nil, err
	}

	var total *int64
	if err := s.db.WithContext(ctx).
		Table("vote_rewards").
		Select("SUM(credits_awarded)").
		Where("author_id = ?", userID).
		Scan(&total).Error; err != nil {
		return nil, err
	}

	stats := &UserVotingStats{
		UserID:           userID,
		Patterns:         patterns,
		RiskScore:        risk,
		RecentAbuseCases: cases,
	}
	if total != nil {
		stats.TotalCreditsEarned = *total
	}

	return stats, nil
}

var Module = fx.Module("stats",
	fx.Provide(NewService),
)
