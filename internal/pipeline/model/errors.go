package model

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodePipelineNotFound    = "PIPELINE_NOT_FOUND"
	ErrCodeEntityNotFound      = "PIPELINE_ENTITY_NOT_FOUND"
	ErrCodeTransitionNotFound  = "PIPELINE_TRANSITION_NOT_FOUND"
	ErrCodeTransitionRejected  = "PIPELINE_TRANSITION_REJECTED"
	ErrCodeGuardRejected       = "PIPELINE_GUARD_REJECTED"
	ErrCodeActionAborted       = "PIPELINE_ACTION_ABORTED"
	ErrCodeInvalidDefinition   = "PIPELINE_INVALID_DEFINITION"
	ErrCodePluginNotFound      = "PIPELINE_PLUGIN_NOT_FOUND"
	ErrCodeInvalidActionConfig = "PIPELINE_INVALID_ACTION_CONFIG"
	ErrCodeEntityTypeConflict  = "PIPELINE_ENTITY_TYPE_CONFLICT"
	ErrCodeInvalidEntity       = "PIPELINE_INVALID_ENTITY"
)

var (
	ErrPipelineNotFound = apperrors.New("pipeline not found", apperrors.CategoryBadInput).
				WithTextCode(ErrCodePipelineNotFound)
	ErrEntityNotFound = apperrors.New("entity not found", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeEntityNotFound)
	ErrTransitionNotFound = apperrors.New("transition not found", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeTransitionNotFound)
	ErrTransitionRejected = apperrors.New("transition rejected", apperrors.CategoryValidation).
				WithTextCode(ErrCodeTransitionRejected)
	ErrGuardRejected = apperrors.New("guard conditions not met", apperrors.CategoryValidation).
				WithTextCode(ErrCodeGuardRejected)
	ErrActionAborted = apperrors.New("transition aborted by action failure", apperrors.CategoryHandler).
				WithTextCode(ErrCodeActionAborted)
	ErrInvalidDefinition = apperrors.New("invalid pipeline definition", apperrors.CategoryValidation).
				WithTextCode(ErrCodeInvalidDefinition)
	ErrPluginNotFound = apperrors.New("plugin not found", apperrors.CategoryBadInput).
				WithTextCode(ErrCodePluginNotFound)
	ErrInvalidActionConfig = apperrors.New("invalid action configuration", apperrors.CategoryValidation).
				WithTextCode(ErrCodeInvalidActionConfig)
	ErrEntityTypeConflict = apperrors.New("entity type already has an active pipeline", apperrors.CategoryConflict).
				WithTextCode(ErrCodeEntityTypeConflict)
	ErrInvalidEntity = apperrors.New("invalid entity fields", apperrors.CategoryValidation).
				WithTextCode(ErrCodeInvalidEntity)
)

// NewError clones a sentinel and attaches a message, source and metadata.
func NewError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the text code carried by err, or "".
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// Field keys used in ValidationError.
const (
	FieldPipeline     = "pipeline"
	FieldState        = "state"
	FieldPermission   = "permission"
	FieldTransition   = "transition"
	FieldComment      = "comment"
	FieldConfirmation = "confirmation"
	FieldGuards       = "guards"
	FieldEntity       = "entity"
)

// ValidationError is a rejected transition with field-scoped messages.
type ValidationError struct {
	Fields map[string][]string
	coded  *apperrors.Error
}

// NewValidationError builds a ValidationError for a single key.
func NewValidationError(base *apperrors.Error, field string, messages ...string) *ValidationError {
	ve := &ValidationError{Fields: map[string][]string{field: messages}}
	ve.coded = NewError(base, "", nil, map[string]any{"fields": ve.Fields})
	return ve
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], "; ")))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error {
	if e.coded == nil {
		return nil
	}
	return e.coded
}

// Messages returns the messages recorded for one key.
func (e *ValidationError) Messages(field string) []string {
	return e.Fields[field]
}

// ActionAbortedError reports an action with the abort policy that failed.
type ActionAbortedError struct {
	ActionID   string
	ActionType string
	Err        error
}

func (e *ActionAbortedError) Error() string {
	return fmt.Sprintf("action %s (%s) failed: %v", e.ActionID, e.ActionType, e.Err)
}

func (e *ActionAbortedError) Unwrap() []error {
	return []error{ErrActionAborted, e.Err}
}
