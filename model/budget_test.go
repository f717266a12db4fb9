package model

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/applyforge/core"
)

func TestBudgetModelSpendsPerCall(t *testing.T) {
	inner := NewMockModel("test-model", "mock")
	budget := core.NewCallBudget(2)

	m := WithBudget(inner, budget)

	for i := 0; i < 2; i++ {
		if _, err := m.Generate(context.Background(), Request{Prompt: "p"}); err != nil {
			t.Fatalf("call %d unexpectedly failed: %v", i+1, err)
		}
	}
	if budget.Remaining() != 0 {
		t.Fatalf("expected budget drained, remaining %d", budget.Remaining())
	}
}

func TestBudgetModelRejectsWhenExhausted(t *testing.T) {
	inner := NewMockModel("test-model", "mock")
	m := WithBudget(inner, core.NewCallBudget(1))

	if _, err := m.Generate(context.Background(), Request{Prompt: "p"}); err != nil {
		t.Fatalf("first call unexpectedly failed: %v", err)
	}

	_, err := m.Generate(context.Background(), Request{Prompt: "p"})
	if !errors.Is(err, core.ErrCallBudgetExceeded) {
		t.Fatalf("expected ErrCallBudgetExceeded, got %v", err)
	}
	if core.IsTransient(err) {
		t.Fatal("budget exhaustion must be permanent")
	}
	if calls := len(inner.Calls()); calls != 1 {
		t.Fatalf("rejected call must not reach inner model, got %d calls", calls)
	}
}

func TestBudgetModelUnlimited(t *testing.T) {
	inner := NewMockModel("test-model", "mock")
	m := WithBudget(inner, core.NewCallBudget(0))

	for i := 0; i < 10; i++ {
		if _, err := m.Generate(context.Background(), Request{Prompt: "p"}); err != nil {
			t.Fatalf("unlimited budget rejected call %d: %v", i+1, err)
		}
	}
}
