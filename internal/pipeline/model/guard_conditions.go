package model

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Canonical comparison operators. Aliases are folded by NormalizeOperator.
const (
	OperatorEquals      = "equals"
	OperatorNotEquals   = "not_equals"
	OperatorGreaterThan = "greater_than"
	OperatorLessThan    = "less_than"
	OperatorContains    = "contains"
	OperatorNotNull     = "not_null"
	OperatorIsNull      = "is_null"
)

var operatorAliases = map[string]string{
	"=":  OperatorEquals,
	"!=": OperatorNotEquals,
	">":  OperatorGreaterThan,
	"<":  OperatorLessThan,
}

var knownOperators = map[string]bool{
	OperatorEquals:      true,
	OperatorNotEquals:   true,
	OperatorGreaterThan: true,
	OperatorLessThan:    true,
	OperatorContains:    true,
	OperatorNotNull:     true,
	OperatorIsNull:      true,
}

// relation checks only support the equality and presence operators
var relationOperators = map[string]bool{
	OperatorEquals:    true,
	OperatorNotEquals: true,
	OperatorNotNull:   true,
	OperatorIsNull:    true,
}

// NormalizeOperator folds symbolic aliases into their canonical name.
// Unknown operators are returned trimmed but otherwise unchanged.
func NormalizeOperator(op string) string {
	op = strings.TrimSpace(op)
	if canonical, ok := operatorAliases[op]; ok {
		return canonical
	}
	return op
}

// IsKnownOperator reports whether op (or its alias) is a supported field check operator.
func IsKnownOperator(op string) bool {
	return knownOperators[NormalizeOperator(op)]
}

// IsRelationOperator reports whether op (or its alias) is supported in relation checks.
func IsRelationOperator(op string) bool {
	return relationOperators[NormalizeOperator(op)]
}

// FieldCheck compares one attribute of the entity itself.
type FieldCheck struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`
}

func (fc FieldCheck) Validate() error {
	return validation.ValidateStruct(&fc,
		validation.Field(&fc.Field, validation.Required),
		validation.Field(&fc.Operator, validation.Required, validation.By(operatorRule(IsKnownOperator))),
	)
}

// RelationCheck compares one attribute of a named association of the entity.
type RelationCheck struct {
	Relation string `json:"relation" yaml:"relation"`
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`
}

func (rc RelationCheck) Validate() error {
	return validation.ValidateStruct(&rc,
		validation.Field(&rc.Relation, validation.Required),
		validation.Field(&rc.Field, validation.Required),
		validation.Field(&rc.Operator, validation.Required, validation.By(operatorRule(IsRelationOperator))),
	)
}

// GuardConditions is the predicate document attached to a transition. All
// sections are optional and all of them must pass.
//
// Example YAML:
//
//	field_checks:
//	  - {field: condition, operator: not_equals, value: good}
//	relation_checks:
//	  - {relation: custodian, field: active, operator: equals, value: true}
//	custom_rule: asset.has_no_open_tickets
type GuardConditions struct {
	FieldChecks    []FieldCheck    `json:"field_checks,omitempty" yaml:"field_checks,omitempty"`
	RelationChecks []RelationCheck `json:"relation_checks,omitempty" yaml:"relation_checks,omitempty"`
	CustomRule     string          `json:"custom_rule,omitempty" yaml:"custom_rule,omitempty"` // Key of a registered rule
}

// IsEmpty reports whether the document carries no conditions at all.
func (g *GuardConditions) IsEmpty() bool {
	return g == nil || (len(g.FieldChecks) == 0 && len(g.RelationChecks) == 0 && strings.TrimSpace(g.CustomRule) == "")
}

// Validate checks that the document is well-formed.
func (g *GuardConditions) Validate() error {
	if g == nil {
		return nil
	}
	for i, fc := range g.FieldChecks {
		if err := fc.Validate(); err != nil {
			return fmt.Errorf("field_checks[%d]: %w", i, err)
		}
	}
	for i, rc := range g.RelationChecks {
		if err := rc.Validate(); err != nil {
			return fmt.Errorf("relation_checks[%d]: %w", i, err)
		}
	}
	return nil
}

func operatorRule(known func(string) bool) validation.RuleFunc {
	return func(value interface{}) error {
		op, _ := value.(string)
		if !known(op) {
			return fmt.Errorf("unsupported operator %q", op)
		}
		return nil
	}
}
