// Package seed loads pipeline definitions from YAML documents.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// File is the root of a definitions document.
//
//	pipelines:
//	  - code: AssetLifecycle
//	    entity_type: asset
//	    states: [...]
//	    transitions: [...]
type File struct {
	Pipelines []*model.PipelineDefinition `yaml:"pipelines"`
}

// Saver persists a pipeline definition.
type Saver interface {
	SaveDefinition(ctx context.Context, def *model.PipelineDefinition) (*model.Pipeline, error)
}

// Validator checks a pipeline definition without persisting it.
type Validator interface {
	Validate(def *model.PipelineDefinition) error
}

// Decode reads a definitions document. Unknown keys are rejected.
func Decode(r io.Reader) ([]*model.PipelineDefinition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode pipeline definitions: %w", err)
	}

	codes := make(map[string]bool, len(f.Pipelines))
	for i, def := range f.Pipelines {
		if def == nil {
			return nil, fmt.Errorf("pipelines[%d] is empty", i)
		}
		if codes[def.Code] {
			return nil, fmt.Errorf("pipeline %q is defined more than once", def.Code)
		}
		codes[def.Code] = true
	}
	return f.Pipelines, nil
}

// LoadFile reads the definitions document at path.
func LoadFile(path string) ([]*model.PipelineDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pipeline definitions: %w", err)
	}
	defer f.Close()

	defs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// ValidateAll checks every definition and joins the failures.
func ValidateAll(v Validator, defs []*model.PipelineDefinition) error {
	var errs []error
	for _, def := range defs {
		if err := v.Validate(def); err != nil {
			errs = append(errs, fmt.Errorf("pipeline %q: %w", def.Code, err))
		}
	}
	return errors.Join(errs...)
}

// Apply saves every definition in document order, stopping at the first failure.
func Apply(ctx context.Context, s Saver, defs []*model.PipelineDefinition) ([]*model.Pipeline, error) {
	saved := make([]*model.Pipeline, 0, len(defs))
	for _, def := range defs {
		p, err := s.SaveDefinition(ctx, def)
		if err != nil {
			return saved, fmt.Errorf("failed to seed pipeline %q: %w", def.Code, err)
		}
		slog.Info("pipeline seeded",
			"code", p.Code,
			"entity_type", p.EntityType,
			"version", p.Version,
			"active", p.Active,
		)
		saved = append(saved, p)
	}
	return saved, nil
}

// ApplyFile loads and saves the definitions at path.
func ApplyFile(ctx context.Context, s Saver, path string) ([]*model.Pipeline, error) {
	defs, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return Apply(ctx, s, defs)
}
