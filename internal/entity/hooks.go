package entity

import (
	"context"
	"fmt"

	"github.com/spf13/cast"

	"github.com/OpenNSW/pipeline/internal/pipeline/action"
	"github.com/OpenNSW/pipeline/internal/pipeline/guard"
	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// Names under which the entity hooks are registered.
const (
	AssetHooksClass       = "AssetHooks"
	AssignTagMethod       = "assignTag"
	WithinBudgetRule      = "purchase_order.within_budget"
	DefaultBudgetLimit    = 50000.0
	defaultAssetTagPrefix = "AST"
)

// RegisterHooks installs the custom actions and guard rules of the built-in entity types.
func RegisterHooks(custom *action.CustomHandler, rules *guard.RuleRegistry, budgetLimit float64) {
	custom.RegisterMethod(AssetHooksClass, AssignTagMethod, AssignAssetTag)
	rules.Register(WithinBudgetRule, WithinBudget(budgetLimit))
}

// AssignAssetTag gives an untagged asset a tag derived from its id, e.g. AST-00042.
// data may carry a "prefix". The tag is persisted by the next save of the asset.
func AssignAssetTag(_ context.Context, e model.Entity, data map[string]any) (any, error) {
	a, ok := e.(*Asset)
	if !ok {
		return nil, fmt.Errorf("assignTag expects an asset, got %s", e.EntityType())
	}
	if a.Tag != "" {
		return a.Tag, nil
	}

	prefix := cast.ToString(data["prefix"])
	if prefix == "" {
		prefix = defaultAssetTagPrefix
	}
	a.Tag = fmt.Sprintf("%s-%05d", prefix, a.ID)
	return a.Tag, nil
}

// WithinBudget passes purchase orders whose amount does not exceed limit.
func WithinBudget(limit float64) guard.Rule {
	return guard.RuleFunc(func(_ context.Context, e model.Entity, _ *model.PipelineTransition) (bool, error) {
		po, ok := e.(*PurchaseOrder)
		if !ok {
			return false, fmt.Errorf("%s expects a purchase order, got %s", WithinBudgetRule, e.EntityType())
		}
		return po.Amount <= limit, nil
	})
}
