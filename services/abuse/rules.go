package abuse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"promptmarket-rewards/pkg/config"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Evaluator evaluates CEL expressions using a dynamic set of variables.
type Evaluator struct{}

// NewEvaluator creates a new Evaluator instance.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate evaluates a CEL expression against the provided context map.
// The context map entries are exposed as top-level variables in the CEL
// program. The expression must return a boolean.
func (e *Evaluator) Evaluate(expression string, context map[string]any) (bool, error) {
	if expression == "" {
		return false, fmt.Errorf("expression must not be empty")
	}

	if context == nil {
		context = map[string]any{}
	}

	declarations := make([]*exprpb.Decl, 0, len(context))
	for key := range context {
		declarations = append(declarations, decls.NewVar(key, decls.Dyn))
	}

	env, err := cel.NewEnv(cel.Declarations(declarations...))
	if err != nil {
		return false, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("failed to create CEL program: %w", err)
	}

	result, _, err := program.Eval(context)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression: %w", err)
	}

	boolean, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return a boolean, got %T", result.Value())
	}

	return boolean, nil
}

// RuleStage evaluates operator-defined custom rules after the built-in checks.
// A broken rule never aborts detection: compile or eval failures are logged
// and treated as no-match, keeping the pipeline total.
type RuleStage struct {
	repo      Repository
	evaluator *Evaluator

	mu       sync.RWMutex
	cached   []CustomRule
	loadedAt time.Time
	ttl      time.Duration
	group    singleflight.Group
}

type RuleStageParams struct {
	fx.In
	Repository Repository
	Config     *config.Config
}

func NewRuleStage(p RuleStageParams) *RuleStage {
	return &RuleStage{
		repo:      p.Repository,
		evaluator: NewEvaluator(),
		ttl:       p.Config.Abuse.RuleCacheTTL,
	}
}

// NewRuleStageWithTTL keeps construction free of the config module.
func NewRuleStageWithTTL(repo Repository, ttl time.Duration) *RuleStage {
	return &RuleStage{repo: repo, evaluator: NewEvaluator(), ttl: ttl}
}

func (s *RuleStage) activeRules(ctx context.Context) []CustomRule {
	s.mu.RLock()
	fresh := s.cached != nil && (s.ttl <= 0 || time.Since(s.loadedAt) < s.ttl)
	rules := s.cached
	s.mu.RUnlock()
	if fresh {
		return rules
	}

	v, err, _ := s.group.Do("active_rules", func() (any, error) {
		loaded, err := s.repo.ListActiveRules(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cached = loaded
		s.loadedAt = time.Now()
		s.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		zap.L().Warn("failed to load custom abuse rules", zap.Error(err))
		return rules
	}
	return v.([]CustomRule)
}

// Evaluate runs the active custom rules in priority order and returns the
// first match.
func (s *RuleStage) Evaluate(ctx context.Context, in *Input) *Verdict {
	vars := ruleVariables(in)

	for _, rule := range s.activeRules(ctx) {
		matched, err := s.evaluator.Evaluate(rule.Expression, vars)
		if err != nil {
			zap.L().Warn("custom abuse rule failed to evaluate",
				zap.String("rule_id", rule.RuleID),
				zap.String("rule_name", rule.Name),
				zap.Error(err),
			)
			continue
		}
		if !matched {
			continue
		}
		return &Verdict{
			Type:     rule.AbuseType,
			Severity: rule.Severity,
			Metadata: map[string]any{
				"rule_id":    rule.RuleID,
				"rule_name":  rule.Name,
				"expression": rule.Expression,
			},
		}
	}

	return nil
}

func ruleVariables(in *Input) map[string]any {
	return map[string]any{
		"voter_id":                       in.Vote.VoterID,
		"author_id":                      in.Vote.AuthorID,
		"prompt_id":                      in.Vote.PromptID,
		"ip_address":                     in.Vote.IPAddress,
		"user_agent":                     in.Vote.UserAgent,
		"plan_type":                      string(in.Account.PlanType),
		"account_age_hours":              in.Account.Age(in.Now).Hours(),
		"votes_last_hour":                in.Signals.VotesLastHour,
		"votes_last_day":                 in.Signals.VotesLastDay,
		"credits_last_hour":              in.Signals.CreditsLastHour,
		"same_ip_votes_last_day":         in.Signals.SameIPVotesLastDay,
		"distinct_voters_for_ip":         in.Signals.DistinctVotersForIP,
		"distinct_voters_for_user_agent": in.Signals.DistinctVotersForUserAgent,
		"votes_on_author":                in.Signals.VotesOnAuthor,
		"author_prompt_count":            in.Signals.AuthorPromptCount,
	}
}
