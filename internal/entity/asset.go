package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cast"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

const TypeAsset = "asset"

// Custodian is the person or team accountable for an asset.
type Custodian struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name       string    `gorm:"type:varchar(255);column:name;not null" json:"name"`
	Email      string    `gorm:"type:varchar(255);column:email" json:"email,omitempty"`
	Department string    `gorm:"type:varchar(100);column:department" json:"department,omitempty"`
	Active     bool      `gorm:"column:active;not null" json:"active"`
	CreatedAt  time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (c *Custodian) TableName() string {
	return "custodians"
}

func (c *Custodian) Field(name string) (any, bool) {
	switch name {
	case "id":
		return c.ID, true
	case "name":
		return c.Name, true
	case "email":
		return c.Email, true
	case "department":
		return c.Department, true
	case "active":
		return c.Active, true
	}
	return nil, false
}

// Asset is a tracked physical or digital asset.
type Asset struct {
	ID          uint64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name        string     `gorm:"type:varchar(255);column:name;not null" json:"name"`
	Tag         string     `gorm:"type:varchar(100);column:tag;index" json:"tag,omitempty"`
	Condition   string     `gorm:"type:varchar(50);column:condition" json:"condition,omitempty"` // good, fair, poor, broken
	Status      string     `gorm:"type:varchar(50);column:status" json:"status,omitempty"`
	Value       float64    `gorm:"column:value;not null" json:"value"`
	CustodianID *uint64    `gorm:"column:custodian_id;index" json:"custodianId,omitempty"`
	Custodian   *Custodian `gorm:"foreignKey:CustodianID;references:ID" json:"custodian,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (a *Asset) TableName() string {
	return "assets"
}

func (a *Asset) EntityType() string { return TypeAsset }
func (a *Asset) EntityID() uint64   { return a.ID }

func (a *Asset) Field(name string) (any, bool) {
	switch name {
	case "id":
		return a.ID, true
	case "name":
		return a.Name, true
	case "tag":
		return a.Tag, true
	case "condition":
		return a.Condition, true
	case "status":
		return a.Status, true
	case "value":
		return a.Value, true
	case "custodian_id":
		if a.CustodianID == nil {
			return nil, true
		}
		return *a.CustodianID, true
	case "created_at":
		return a.CreatedAt, true
	case "updated_at":
		return a.UpdatedAt, true
	}
	return nil, false
}

// SetField coerces value and assigns it. The field is left untouched when
// coercion fails.
func (a *Asset) SetField(name string, value any) error {
	var err error
	switch name {
	case "name":
		err = setString(&a.Name, value)
	case "tag":
		err = setString(&a.Tag, value)
	case "condition":
		err = setString(&a.Condition, value)
	case "status":
		err = setString(&a.Status, value)
	case "value":
		var f float64
		if f, err = cast.ToFloat64E(value); err == nil {
			a.Value = f
		}
	case "custodian_id":
		var id *uint64
		if id, err = toOptionalID(value); err == nil {
			a.CustodianID = id
			a.Custodian = nil
		}
	case "id", "created_at", "updated_at":
		return fmt.Errorf("field %s of %s is read-only", name, TypeAsset)
	default:
		return fmt.Errorf("unknown field %s on %s", name, TypeAsset)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s.%s: %w", TypeAsset, name, err)
	}
	return nil
}

func (a *Asset) Relation(ctx context.Context, db *gorm.DB, name string) (model.FieldReader, error) {
	switch name {
	case "custodian":
		if a.CustodianID == nil {
			return nil, nil
		}
		if a.Custodian == nil || a.Custodian.ID != *a.CustodianID {
			var c Custodian
			if err := db.WithContext(ctx).First(&c, "id = ?", *a.CustodianID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil, nil
				}
				return nil, fmt.Errorf("failed to load custodian %d: %w", *a.CustodianID, err)
			}
			a.Custodian = &c
		}
		return a.Custodian, nil
	}
	return nil, fmt.Errorf("unknown relation %s on %s", name, TypeAsset)
}

func (a *Asset) Save(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).Omit(clause.Associations).Save(a).Error; err != nil {
		return fmt.Errorf("failed to save asset %d: %w", a.ID, err)
	}
	return nil
}

func setString(dst *string, value any) error {
	s, err := cast.ToStringE(value)
	if err != nil {
		return err
	}
	*dst = s
	return nil
}

func toOptionalID(value any) (*uint64, error) {
	if value == nil {
		return nil, nil
	}
	if s, ok := value.(string); ok && s == "" {
		return nil, nil
	}
	id, err := cast.ToUint64E(value)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
