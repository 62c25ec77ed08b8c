// Package mock provides a test double for the correction.Adapter interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/angioreview/internal/correction"
	"github.com/MrWong99/angioreview/pkg/types"
)

// CorrectCall records a single invocation of Correct.
type CorrectCall struct {
	Ctx     context.Context
	Finding types.Finding
	Note    string
}

// Adapter is a mock implementation of correction.Adapter.
//
// With no fields set, Correct returns [correction.Fallback] of the note and
// a nil error.
type Adapter struct {
	mu sync.Mutex

	// Update is returned by Correct when set.
	Update *types.FindingUpdate

	// Err, if non-nil, is returned from Correct alongside the fallback update.
	Err error

	// CorrectFunc, if set, takes precedence over Update and Err.
	CorrectFunc func(ctx context.Context, f types.Finding, note string) (types.FindingUpdate, error)

	// CorrectCalls records every invocation of Correct in order.
	CorrectCalls []CorrectCall
}

var _ correction.Adapter = (*Adapter)(nil)

// Correct records the call and returns the configured result.
func (a *Adapter) Correct(ctx context.Context, f types.Finding, note string) (types.FindingUpdate, error) {
	a.mu.Lock()
	a.CorrectCalls = append(a.CorrectCalls, CorrectCall{Ctx: ctx, Finding: f, Note: note})
	fn, upd, err := a.CorrectFunc, a.Update, a.Err
	a.mu.Unlock()

	if fn != nil {
		return fn(ctx, f, note)
	}
	if err != nil {
		return correction.Fallback(note), err
	}
	if upd != nil {
		return *upd, nil
	}
	return correction.Fallback(note), nil
}

// Calls returns a copy of the recorded Correct calls.
func (a *Adapter) Calls() []CorrectCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]CorrectCall, len(a.CorrectCalls))
	copy(out, a.CorrectCalls)
	return out
}
