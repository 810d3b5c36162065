package model

import (
	"encoding/json"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// WildcardState is accepted as a transition source meaning "any state".
const WildcardState = "*"

// PipelineDefinition is the authoring document for a whole pipeline. States
// and transitions reference each other by code.
type PipelineDefinition struct {
	Name                 string                 `json:"name" yaml:"name"`
	Code                 string                 `json:"code" yaml:"code"`
	EntityType           string                 `json:"entityType" yaml:"entity_type"`
	Description          string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Active               bool                   `json:"active" yaml:"active"`
	ActivationConditions *GuardConditions       `json:"activationConditions,omitempty" yaml:"activation_conditions,omitempty"`
	States               []StateDefinition      `json:"states" yaml:"states"`
	Transitions          []TransitionDefinition `json:"transitions" yaml:"transitions"`
}

type StateDefinition struct {
	Code      string         `json:"code" yaml:"code"`
	Name      string         `json:"name" yaml:"name"`
	Kind      StateKind      `json:"kind" yaml:"kind"`
	Color     string         `json:"color,omitempty" yaml:"color,omitempty"`
	Icon      string         `json:"icon,omitempty" yaml:"icon,omitempty"`
	SortOrder int            `json:"sortOrder,omitempty" yaml:"sort_order,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type TransitionDefinition struct {
	Code                 string             `json:"code" yaml:"code"`
	Name                 string             `json:"name" yaml:"name"`
	From                 string             `json:"from,omitempty" yaml:"from,omitempty"` // State code, empty or "*" for a wildcard
	To                   string             `json:"to" yaml:"to"`
	RequiredPermission   string             `json:"requiredPermission,omitempty" yaml:"required_permission,omitempty"`
	Guards               *GuardConditions   `json:"guards,omitempty" yaml:"guards,omitempty"`
	RequiresConfirmation bool               `json:"requiresConfirmation,omitempty" yaml:"requires_confirmation,omitempty"`
	RequiresComment      bool               `json:"requiresComment,omitempty" yaml:"requires_comment,omitempty"`
	SortOrder            int                `json:"sortOrder,omitempty" yaml:"sort_order,omitempty"`
	Active               *bool              `json:"active,omitempty" yaml:"active,omitempty"` // Defaults to true
	Actions              []ActionDefinition `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// IsWildcard reports whether the transition applies from any state.
func (td TransitionDefinition) IsWildcard() bool {
	from := strings.TrimSpace(td.From)
	return from == "" || from == WildcardState
}

// IsActive resolves the optional active flag.
func (td TransitionDefinition) IsActive() bool {
	return td.Active == nil || *td.Active
}

type ActionDefinition struct {
	Name      string         `json:"name,omitempty" yaml:"name,omitempty"`
	Type      string         `json:"type" yaml:"type"`
	Order     int            `json:"order" yaml:"order"`
	Config    map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	OnFailure FailurePolicy  `json:"onFailure,omitempty" yaml:"on_failure,omitempty"` // Defaults to abort
	Active    *bool          `json:"active,omitempty" yaml:"active,omitempty"`         // Defaults to true
}

// Policy resolves the failure policy, defaulting to abort.
func (ad ActionDefinition) Policy() FailurePolicy {
	if ad.OnFailure == "" {
		return FailurePolicyAbort
	}
	return ad.OnFailure
}

// IsActive resolves the optional active flag.
func (ad ActionDefinition) IsActive() bool {
	return ad.Active == nil || *ad.Active
}

// RawConfig encodes the action configuration as stored on TransitionAction.
func (ad ActionDefinition) RawConfig() (json.RawMessage, error) {
	if len(ad.Config) == 0 {
		return json.RawMessage(`{}`), nil
	}
	raw, err := json.Marshal(ad.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config of action %q: %w", ad.Type, err)
	}
	return raw, nil
}

// ActionConfigValidator validates a typed action configuration at load time.
type ActionConfigValidator func(actionType string, config json.RawMessage) error

// Validate checks the definition for structural errors. Action configurations
// are checked through validateAction when it is non-nil.
func (d *PipelineDefinition) Validate(validateAction ActionConfigValidator) error {
	err := validation.ValidateStruct(d,
		validation.Field(&d.Name, validation.Required),
		validation.Field(&d.Code, validation.Required, validation.Length(1, 100)),
		validation.Field(&d.EntityType, validation.Required, validation.Length(1, 100)),
		validation.Field(&d.States, validation.Required),
	)
	if err != nil {
		return err
	}
	if err := d.ActivationConditions.Validate(); err != nil {
		return fmt.Errorf("activation_conditions: %w", err)
	}

	states := make(map[string]StateDefinition, len(d.States))
	initials := 0
	for i, s := range d.States {
		if strings.TrimSpace(s.Code) == "" {
			return fmt.Errorf("states[%d]: code is required", i)
		}
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("state %q: name is required", s.Code)
		}
		if _, dup := states[s.Code]; dup {
			return fmt.Errorf("state %q is defined more than once", s.Code)
		}
		if !s.Kind.IsValid() {
			return fmt.Errorf("state %q has unknown kind %q", s.Code, s.Kind)
		}
		if s.Kind == StateKindInitial {
			initials++
		}
		states[s.Code] = s
	}
	if initials != 1 {
		return fmt.Errorf("pipeline must have exactly one initial state, found %d", initials)
	}

	codes := make(map[string]bool, len(d.Transitions))
	for i, t := range d.Transitions {
		if strings.TrimSpace(t.Code) == "" {
			return fmt.Errorf("transitions[%d]: code is required", i)
		}
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("transition %q: name is required", t.Code)
		}
		if codes[t.Code] {
			return fmt.Errorf("transition %q is defined more than once", t.Code)
		}
		codes[t.Code] = true

		if !t.IsWildcard() {
			if _, ok := states[t.From]; !ok {
				return fmt.Errorf("transition %q references unknown source state %q", t.Code, t.From)
			}
		}
		if _, ok := states[t.To]; !ok {
			return fmt.Errorf("transition %q references unknown target state %q", t.Code, t.To)
		}
		if err := t.Guards.Validate(); err != nil {
			return fmt.Errorf("transition %q guards: %w", t.Code, err)
		}

		for j, a := range t.Actions {
			if strings.TrimSpace(a.Type) == "" {
				return fmt.Errorf("transition %q actions[%d]: type is required", t.Code, j)
			}
			if !a.Policy().IsValid() {
				return fmt.Errorf("transition %q actions[%d]: unknown on_failure policy %q", t.Code, j, a.OnFailure)
			}
			if validateAction == nil {
				continue
			}
			raw, err := a.RawConfig()
			if err != nil {
				return err
			}
			if err := validateAction(a.Type, raw); err != nil {
				return fmt.Errorf("transition %q actions[%d] (%s): %w", t.Code, j, a.Type, err)
			}
		}
	}
	return nil
}
