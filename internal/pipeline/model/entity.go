package model

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// EntityRef is the polymorphic reference to a concrete entity: its type tag and numeric id.
type EntityRef struct {
	Type string `json:"entityType"`
	ID   uint64 `json:"entityId"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s#%d", r.Type, r.ID)
}

// FieldReader exposes attribute access by name. Related objects returned from
// Entity.Relation only need to satisfy this.
type FieldReader interface {
	// Field returns the value of the named attribute and whether the attribute exists.
	Field(name string) (any, bool)
}

// Entity is the capability set a domain object needs to participate in a pipeline.
type Entity interface {
	FieldReader

	EntityType() string
	EntityID() uint64

	// SetField assigns the named attribute in place. Callers persist with Save.
	// A failed call leaves the entity unchanged.
	SetField(name string, value any) error

	// Relation resolves a named association, loading it through db when it is
	// not materialized yet. A nil reader with a nil error means the relation is empty.
	Relation(ctx context.Context, db *gorm.DB, name string) (FieldReader, error)

	// Save persists in-place mutations using db, which may be a transaction.
	Save(ctx context.Context, db *gorm.DB) error
}

// RefOf returns the polymorphic reference of an entity.
func RefOf(e Entity) EntityRef {
	return EntityRef{Type: e.EntityType(), ID: e.EntityID()}
}

// Actor is the acting identity behind a transition.
type Actor interface {
	ActorID() string
	HasPermission(name string) bool
}

// Provenance is the best-effort request origin recorded on audit rows.
type Provenance struct {
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}
