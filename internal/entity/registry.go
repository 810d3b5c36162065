package entity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// Constructor returns an empty, addressable entity of one type.
type Constructor func() model.Entity

// Registry maps entity type tags to their constructors. It resolves
// polymorphic references and creates records for create_record actions.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Constructor)}
}

// DefaultRegistry returns a registry with the built-in entity types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeAsset, func() model.Entity { return &Asset{} })
	r.Register(TypePurchaseOrder, func() model.Entity { return &PurchaseOrder{} })
	return r
}

// Models lists the tables owned by this package, for migrations.
func Models() []any {
	return []any{&Custodian{}, &Asset{}, &Supplier{}, &PurchaseOrder{}}
}

func (r *Registry) Register(entityType string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[entityType] = ctor
}

// Types returns the registered type tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) constructor(entityType string) (Constructor, error) {
	r.mu.RLock()
	ctor, ok := r.types[entityType]
	r.mu.RUnlock()
	if !ok {
		return nil, model.NewError(model.ErrEntityNotFound,
			fmt.Sprintf("unknown entity type %q", entityType), nil,
			map[string]any{"entity_type": entityType})
	}
	return ctor, nil
}

// Resolve loads the entity behind ref using db.
func (r *Registry) Resolve(ctx context.Context, db *gorm.DB, ref model.EntityRef) (model.Entity, error) {
	ctor, err := r.constructor(ref.Type)
	if err != nil {
		return nil, err
	}

	e := ctor()
	if err := db.WithContext(ctx).First(e, "id = ?", ref.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.NewError(model.ErrEntityNotFound,
				fmt.Sprintf("entity %s not found", ref), nil,
				map[string]any{"entity_type": ref.Type, "entity_id": ref.ID})
		}
		return nil, fmt.Errorf("failed to load entity %s: %w", ref, err)
	}
	return e, nil
}

// CreateRecord builds an entity of entityType from fields and inserts it using tx.
func (r *Registry) CreateRecord(ctx context.Context, tx *gorm.DB, entityType string, fields map[string]any) (model.Entity, error) {
	ctor, err := r.constructor(entityType)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	e := ctor()
	for _, name := range names {
		if err := e.SetField(name, fields[name]); err != nil {
			return nil, model.NewValidationError(model.ErrInvalidEntity, name, err.Error())
		}
	}

	if err := tx.WithContext(ctx).Omit(clause.Associations).Create(e).Error; err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", entityType, err)
	}
	return e, nil
}
