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

const TypePurchaseOrder = "purchase_order"

type Supplier struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(255);column:name;not null" json:"name"`
	Verified  bool      `gorm:"column:verified;not null" json:"verified"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (s *Supplier) TableName() string {
	return "suppliers"
}

func (s *Supplier) Field(name string) (any, bool) {
	switch name {
	case "id":
		return s.ID, true
	case "name":
		return s.Name, true
	case "verified":
		return s.Verified, true
	}
	return nil, false
}

// PurchaseOrder is a request to buy goods from a supplier.
type PurchaseOrder struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Number     string    `gorm:"type:varchar(50);column:number;not null;uniqueIndex" json:"number"`
	Amount     float64   `gorm:"column:amount;not null" json:"amount"`
	Status     string    `gorm:"type:varchar(50);column:status" json:"status,omitempty"`
	ApprovedBy *string   `gorm:"type:varchar(255);column:approved_by" json:"approvedBy,omitempty"`
	SupplierID *uint64   `gorm:"column:supplier_id;index" json:"supplierId,omitempty"`
	Supplier   *Supplier `gorm:"foreignKey:SupplierID;references:ID" json:"supplier,omitempty"`
	CreatedAt  time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (po *PurchaseOrder) TableName() string {
	return "purchase_orders"
}

func (po *PurchaseOrder) EntityType() string { return TypePurchaseOrder }
func (po *PurchaseOrder) EntityID() uint64   { return po.ID }

func (po *PurchaseOrder) Field(name string) (any, bool) {
	switch name {
	case "id":
		return po.ID, true
	case "number":
		return po.Number, true
	case "amount":
		return po.Amount, true
	case "status":
		return po.Status, true
	case "approved_by":
		if po.ApprovedBy == nil {
			return nil, true
		}
		return *po.ApprovedBy, true
	case "supplier_id":
		if po.SupplierID == nil {
			return nil, true
		}
		return *po.SupplierID, true
	case "created_at":
		return po.CreatedAt, true
	case "updated_at":
		return po.UpdatedAt, true
	}
	return nil, false
}

func (po *PurchaseOrder) SetField(name string, value any) error {
	var err error
	switch name {
	case "number":
		err = setString(&po.Number, value)
	case "amount":
		var f float64
		if f, err = cast.ToFloat64E(value); err == nil {
			po.Amount = f
		}
	case "status":
		err = setString(&po.Status, value)
	case "approved_by":
		if value == nil {
			po.ApprovedBy = nil
			return nil
		}
		var s string
		if s, err = cast.ToStringE(value); err == nil {
			po.ApprovedBy = &s
		}
	case "supplier_id":
		var id *uint64
		if id, err = toOptionalID(value); err == nil {
			po.SupplierID = id
			po.Supplier = nil
		}
	case "id", "created_at", "updated_at":
		return fmt.Errorf("field %s of %s is read-only", name, TypePurchaseOrder)
	default:
		return fmt.Errorf("unknown field %s on %s", name, TypePurchaseOrder)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s.%s: %w", TypePurchaseOrder, name, err)
	}
	return nil
}

func (po *PurchaseOrder) Relation(ctx context.Context, db *gorm.DB, name string) (model.FieldReader, error) {
	switch name {
	case "supplier":
		if po.SupplierID == nil {
			return nil, nil
		}
		if po.Supplier == nil || po.Supplier.ID != *po.SupplierID {
			var s Supplier
			if err := db.WithContext(ctx).First(&s, "id = ?", *po.SupplierID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil, nil
				}
				return nil, fmt.Errorf("failed to load supplier %d: %w", *po.SupplierID, err)
			}
			po.Supplier = &s
		}
		return po.Supplier, nil
	}
	return nil, fmt.Errorf("unknown relation %s on %s", name, TypePurchaseOrder)
}

func (po *PurchaseOrder) Save(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).Omit(clause.Associations).Save(po).Error; err != nil {
		return fmt.Errorf("failed to save purchase order %d: %w", po.ID, err)
	}
	return nil
}
