package core

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCallBudgetExceeded is returned once a run has spent its model-call
// allowance. It is a permanent failure for the document being generated.
var ErrCallBudgetExceeded = errors.New("model call budget exceeded")

// CallBudget enforces a maximum number of allowed model calls per run. It is
// the soft ceiling that keeps a run bounded even when every retry path is
// taken.
type CallBudget struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewCallBudget creates a budget with a max number of calls.
// If max == 0, unlimited calls are allowed.
func NewCallBudget(max int) *CallBudget {
	return &CallBudget{max: max}
}

// Spend consumes one call and returns an error if the budget is exceeded.
func (b *CallBudget) Spend() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.count++
	if b.max > 0 && b.count > b.max {
		return fmt.Errorf("%w: limit %d", ErrCallBudgetExceeded, b.max)
	}

	return nil
}

// Count returns the current number of calls made.
func (b *CallBudget) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}

// Remaining returns how many calls are left before hitting the limit.
func (b *CallBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max == 0 {
		return -1 // unlimited
	}

	return b.max - b.count
}
