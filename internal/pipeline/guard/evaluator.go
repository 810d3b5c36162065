package guard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// Evaluator checks a transition's guard conditions against an entity.
type Evaluator struct {
	rules *RuleRegistry
}

func NewEvaluator(rules *RuleRegistry) *Evaluator {
	if rules == nil {
		rules = NewRuleRegistry()
	}
	return &Evaluator{rules: rules}
}

// Evaluate returns the human-readable failure reasons for the transition's
// guards. An empty result means every guard passed. Relations are resolved
// through db so that evaluation inside a transaction sees uncommitted writes.
func (e *Evaluator) Evaluate(ctx context.Context, db *gorm.DB, transition *model.PipelineTransition, entity model.Entity) []string {
	return e.EvaluateConditions(ctx, db, transition.GuardConditions, transition, entity)
}

// EvaluateConditions evaluates a guard document. Field checks, relation checks
// and the custom rule run in that order and all failures are collected.
func (e *Evaluator) EvaluateConditions(ctx context.Context, db *gorm.DB, conditions *model.GuardConditions, transition *model.PipelineTransition, entity model.Entity) []string {
	failures := []string{}
	if conditions.IsEmpty() {
		return failures
	}

	for _, check := range conditions.FieldChecks {
		actual, _ := entity.Field(check.Field)
		if !Compare(actual, check.Operator, check.Value) {
			failures = append(failures, fmt.Sprintf("Field check failed: %s must %s '%s' (current value: '%s')",
				check.Field, operatorPhrase(check.Operator), Stringify(check.Value), Stringify(actual)))
		}
	}

	for _, check := range conditions.RelationChecks {
		if msg, ok := e.checkRelation(ctx, db, entity, check); !ok {
			failures = append(failures, msg)
		}
	}

	if name := strings.TrimSpace(conditions.CustomRule); name != "" {
		if msg, ok := e.checkCustomRule(ctx, name, entity, transition); !ok {
			failures = append(failures, msg)
		}
	}

	return failures
}

func (e *Evaluator) checkRelation(ctx context.Context, db *gorm.DB, entity model.Entity, check model.RelationCheck) (string, bool) {
	related, err := entity.Relation(ctx, db, check.Relation)
	if err != nil {
		slog.Error("failed to resolve guard relation",
			"entity", model.RefOf(entity).String(),
			"relation", check.Relation,
			"error", err,
		)
		return fmt.Sprintf("Relation check failed: %s could not be loaded", check.Relation), false
	}
	if related == nil {
		return fmt.Sprintf("Relation check failed: %s is empty", check.Relation), false
	}

	actual, _ := related.Field(check.Field)
	if !model.IsRelationOperator(check.Operator) || !Compare(actual, check.Operator, check.Value) {
		return fmt.Sprintf("Relation check failed: %s.%s must %s '%s' (current value: '%s')",
			check.Relation, check.Field, operatorPhrase(check.Operator), Stringify(check.Value), Stringify(actual)), false
	}
	return "", true
}

func (e *Evaluator) checkCustomRule(ctx context.Context, name string, entity model.Entity, transition *model.PipelineTransition) (string, bool) {
	rule, ok := e.rules.Lookup(name)
	if !ok {
		slog.Error("custom guard rule not registered",
			"rule", name,
			"entity", model.RefOf(entity).String(),
		)
		return fmt.Sprintf("Custom rule class not found: %s", name), false
	}

	passed, err := rule.Evaluate(ctx, entity, transition)
	if err != nil {
		slog.Error("custom guard rule failed",
			"rule", name,
			"entity", model.RefOf(entity).String(),
			"error", err,
		)
		return fmt.Sprintf("Custom rule execution failed: %s: %v", name, err), false
	}
	if !passed {
		return fmt.Sprintf("Custom rule failed: %s", name), false
	}
	return "", true
}

// operatorPhrase renders an operator for failure messages, e.g. "not_equals" as "not equals".
func operatorPhrase(op string) string {
	return strings.ReplaceAll(model.NormalizeOperator(op), "_", " ")
}
