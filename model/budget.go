package model

import (
	"context"
	"fmt"

	"github.com/hupe1980/applyforge/core"
)

// BudgetModel decorates a Model with a hard ceiling on backend calls,
// shared across every document of a run. Once the budget is spent further
// calls fail fast with a permanent backend error wrapping
// core.ErrCallBudgetExceeded.
type BudgetModel struct {
	inner  Model
	budget *core.CallBudget
}

// WithBudget wraps a model so every Generate call spends from budget first.
func WithBudget(inner Model, budget *core.CallBudget) *BudgetModel {
	return &BudgetModel{inner: inner, budget: budget}
}

// Generate implements Model.
func (m *BudgetModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := m.budget.Spend(); err != nil {
		return nil, &core.BackendError{
			Provider: m.inner.Info().Provider,
			Err:      fmt.Errorf("model call rejected: %w", err),
		}
	}
	return m.inner.Generate(ctx, req)
}

// Info implements Model interface.
func (m *BudgetModel) Info() Info { return m.inner.Info() }
