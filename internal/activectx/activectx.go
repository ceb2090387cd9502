// Package activectx holds the process-wide "active bridge" slot that every
// tool call resolves through, so tab switches made mid-task are observed by
// the next step.
package activectx

import (
	"sync"

	"github.com/Berry7028/browserbee/internal/bridge"
)

// Redirector is a single mutable slot holding the active bridge. The zero
// value is an empty slot ready for use.
type Redirector struct {
	mu      sync.RWMutex
	current bridge.Bridge
}

// New returns an empty redirector.
func New() *Redirector { return &Redirector{} }

// Get returns the active bridge, or fallback when the slot is empty.
func (r *Redirector) Get(fallback bridge.Bridge) bridge.Bridge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current != nil {
		return r.current
	}
	return fallback
}

// Current returns the slot's value, which may be nil.
func (r *Redirector) Current() bridge.Bridge {
	return r.Get(nil)
}

// Set overwrites the slot.
func (r *Redirector) Set(b bridge.Bridge) {
	r.mu.Lock()
	r.current = b
	r.mu.Unlock()
}

// Initialize sets the slot only when it is empty and reports whether it did.
func (r *Redirector) Initialize(b bridge.Bridge) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return false
	}
	r.current = b
	return true
}

// Swap replaces old with next when old is the active bridge. A nil next
// empties the slot. It reports whether the slot changed.
func (r *Redirector) Swap(old, next bridge.Bridge) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old == nil || r.current != old {
		return false
	}
	r.current = next
	return true
}

// Reset empties the slot.
func (r *Redirector) Reset() {
	r.Set(nil)
}
