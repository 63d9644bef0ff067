package reward

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rewardsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vote_rewards_issued_total",
		Help: "Number of vote rewards successfully issued.",
	})

	creditsAwardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vote_reward_credits_awarded_total",
		Help: "Total credits awarded to prompt authors from upvotes.",
	})
)
