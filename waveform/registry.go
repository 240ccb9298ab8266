package waveform

import (
	"fmt"
	"math/big"
	"sort"
)

// Registry owns the set of defined waveforms, keyed by id. It rederives
// quantum, expansion and duration whenever a sample lands, unless put
// in deferred mode, where rederivation is batched into Finalize.
type Registry struct {
	// Order picks the expansion layout for every waveform.
	Order Order
	// DefaultTick, when set, gives all-zero-time waveforms a usable
	// quantum of one tick per sample instead of a degenerate error.
	DefaultTick *big.Rat

	waveforms map[int]*Waveform
	deferred  bool
}

// NewRegistry creates an empty registry with insertion-order expansion.
func NewRegistry() *Registry {
	return &Registry{
		waveforms: make(map[int]*Waveform),
	}
}

// Define creates an empty waveform for id if absent. Redefining an
// existing id is a no-op on its data.
func (r *Registry) Define(id int) *Waveform {
	if w, ok := r.waveforms[id]; ok {
		return w
	}
	w := &Waveform{ID: id}
	r.waveforms[id] = w
	return w
}

// Add appends a sample to waveform id and recomputes its derived
// state. In deferred mode the recompute waits for Finalize. A failed
// recompute leaves the sample recorded and the waveform unplayable; a
// later sample can repair it.
func (r *Registry) Add(id int, s Sample) error {
	w, ok := r.waveforms[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	if s.Time == nil || s.Time.Sign() < 0 {
		return fmt.Errorf("waveform %d: sample time must be a non-negative rational", id)
	}

	w.Samples = append(w.Samples, s)
	if r.deferred {
		w.stale = true
		return nil
	}
	return w.recompute(r.Order, r.DefaultTick)
}

// Lookup returns the waveform for id.
func (r *Registry) Lookup(id int) (*Waveform, error) {
	w, ok := r.waveforms[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return w, nil
}

// SetDeferred toggles batched recomputation. Meant for large waveforms
// where recompute-on-every-insert costs O(n^2); results are identical,
// the work just happens once in Finalize.
func (r *Registry) SetDeferred(on bool) {
	r.deferred = on
}

// Finalize recomputes any waveform with pending samples. In eager mode
// it is a no-op.
func (r *Registry) Finalize() error {
	var first error
	for _, id := range r.IDs() {
		w := r.waveforms[id]
		if !w.stale {
			continue
		}
		if err := w.recompute(r.Order, r.DefaultTick); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// IDs returns the defined waveform ids in ascending order.
func (r *Registry) IDs() []int {
	ids := make([]int, 0, len(r.waveforms))
	for id := range r.waveforms {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Len returns the number of defined waveforms.
func (r *Registry) Len() int {
	return len(r.waveforms)
}
