package guard

import (
	"context"
	"sort"
	"sync"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// Rule is a custom guard referenced by name from a transition's custom_rule.
type Rule interface {
	Evaluate(ctx context.Context, entity model.Entity, transition *model.PipelineTransition) (bool, error)
}

// RuleFunc adapts a plain function to the Rule interface.
type RuleFunc func(ctx context.Context, entity model.Entity, transition *model.PipelineTransition) (bool, error)

func (f RuleFunc) Evaluate(ctx context.Context, entity model.Entity, transition *model.PipelineTransition) (bool, error) {
	return f(ctx, entity, transition)
}

// RuleRegistry maps rule names to implementations. It is populated at start-up
// and read concurrently afterwards.
type RuleRegistry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

func NewRuleRegistry() *RuleRegistry {
	return &RuleRegistry{rules: make(map[string]Rule)}
}

// Register adds or replaces a rule.
func (r *RuleRegistry) Register(name string, rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[name] = rule
}

func (r *RuleRegistry) Lookup(name string) (Rule, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[name]
	return rule, ok
}

// Names returns the registered rule names in sorted order.
func (r *RuleRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.rules))
	for name := range r.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
