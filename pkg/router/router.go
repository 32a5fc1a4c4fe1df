// Package router maps a task to the cheapest adequate provider tier, with
// the budget tracker as a hard gate. Downgrading to a cheaper tier under
// budget pressure is allowed, but only as an explicit decision carried on
// the returned route, never a silent swap.
package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/tollgate-ai/tollgate/pkg/ai"
	"github.com/tollgate-ai/tollgate/pkg/budget"
	"github.com/tollgate-ai/tollgate/pkg/provider"
)

// CostTier orders provider classes from free to expensive.
type CostTier int

const (
	TierFree CostTier = iota // local model, no spend
	TierCheap
	TierBalanced
	TierReasoning
)

func (t CostTier) String() string {
	switch t {
	case TierFree:
		return "free"
	case TierCheap:
		return "cheap"
	case TierBalanced:
		return "balanced"
	case TierReasoning:
		return "reasoning"
	}
	return "unknown"
}

// TaskType classifies what the prompt is asking for.
type TaskType string

const (
	TaskSimpleQA  TaskType = "simple_qa"
	TaskSummarize TaskType = "summarize"
	TaskCodeGen   TaskType = "codegen"
	TaskReasoning TaskType = "reasoning"
	TaskClassify  TaskType = "classify"
	TaskGeneral   TaskType = "general"
)

// assignment binds a cost tier to a concrete provider+model.
type assignment struct {
	Tier     CostTier
	Provider provider.ID
	Model    string
}

// tierTable is the ordered set of cost tiers, cheapest first, used for
// budget-pressure downgrades.
var tierTable = []assignment{
	{TierFree, provider.Local, "llama-3.1-8b"},
	{TierCheap, provider.OpenAI, "gpt-4o-mini"},
	{TierBalanced, provider.Anthropic, "claude-sonnet"},
	{TierReasoning, provider.OpenAI, "gpt-4"},
}

// taskTiers is the static task → tier mapping.
var taskTiers = map[TaskType]CostTier{
	TaskClassify:  TierFree,
	TaskSimpleQA:  TierCheap,
	TaskSummarize: TierCheap,
	TaskGeneral:   TierBalanced,
	TaskCodeGen:   TierBalanced,
	TaskReasoning: TierReasoning,
}

// Route is a routing decision. Downgraded is set when budget pressure
// pushed the request below its natural tier; DowngradedFrom names that
// tier so callers can see exactly what happened.
type Route struct {
	Tier             CostTier    `json:"-"`
	TierName         string      `json:"tier"`
	Provider         provider.ID `json:"provider"`
	Model            string      `json:"model"`
	EstimatedCostUSD float64     `json:"estimated_cost_usd"`
	Downgraded       bool        `json:"downgraded,omitempty"`
	DowngradedFrom   string      `json:"downgraded_from,omitempty"`
}

// Router holds the pricing table and the budget gate. It is a constructed
// object, not package state, so tenants and tests stay isolated.
type Router struct {
	budget  *budget.Tracker
	pricing map[string]float64
}

// New creates a router. pricing maps model name to USD per 1k input tokens.
func New(b *budget.Tracker, pricing map[string]float64) *Router {
	return &Router{budget: b, pricing: pricing}
}

// Route picks the cheapest adequate tier for the task and checks the
// budget. allowedProviders (from the compliance gate) restricts which
// assignments are eligible; nil means no restriction. If the natural tier
// is unaffordable it walks down the tier table looking for one that fits;
// if nothing affordable and allowed remains, it returns
// budget.ErrBudgetExceeded.
func (r *Router) Route(ctx context.Context, task TaskType, promptText string, allowedProviders []provider.ID) (Route, error) {
	natural, ok := taskTiers[task]
	if !ok {
		// Heuristic fallback for unclassified work.
		natural = taskTiers[Classify(promptText)]
	}

	var allowed map[provider.ID]bool
	if allowedProviders != nil {
		allowed = make(map[provider.ID]bool, len(allowedProviders))
		for _, p := range allowedProviders {
			allowed[p] = true
		}
	}

	tokens, err := ai.CountTokens(tierTable[natural].Model, promptText)
	if err != nil {
		return Route{}, fmt.Errorf("token count: %w", err)
	}

	for t := natural; t >= TierFree; t-- {
		a := tierTable[t]
		if allowed != nil && !allowed[a.Provider] {
			continue
		}

		cost := 0.0
		if a.Tier != TierFree {
			cost = ai.EstimateCost(tokens, a.Model, r.pricing)
		}

		ok, err := r.budget.CanSpend(ctx, cost)
		if err != nil {
			return Route{}, fmt.Errorf("budget check: %w", err)
		}
		if !ok {
			continue
		}

		route := Route{
			Tier:             a.Tier,
			TierName:         a.Tier.String(),
			Provider:         a.Provider,
			Model:            a.Model,
			EstimatedCostUSD: cost,
		}
		if t != natural {
			route.Downgraded = true
			route.DowngradedFrom = natural.String()
		}
		return route, nil
	}

	return Route{}, budget.ErrBudgetExceeded
}

// Classify is the heuristic fallback: prompt length and keyword signals
// when the caller supplies no task type.
func Classify(promptText string) TaskType {
	lower := strings.ToLower(promptText)
	switch {
	case strings.Contains(lower, "prove") || strings.Contains(lower, "step by step") ||
		strings.Contains(lower, "reason"):
		return TaskReasoning
	case strings.Contains(lower, "summarize") || strings.Contains(lower, "tl;dr"):
		return TaskSummarize
	case strings.Contains(lower, "```") || strings.Contains(lower, "function") ||
		strings.Contains(lower, "implement"):
		return TaskCodeGen
	case len(promptText) < 200:
		return TaskSimpleQA
	}
	return TaskGeneral
}

// ParseTask validates a wire task string, defaulting to empty (heuristic).
func ParseTask(s string) (TaskType, error) {
	if s == "" {
		return "", nil
	}
	switch TaskType(s) {
	case TaskSimpleQA, TaskSummarize, TaskCodeGen, TaskReasoning, TaskClassify, TaskGeneral:
		return TaskType(s), nil
	}
	return "", fmt.Errorf("unknown task type %q", s)
}
