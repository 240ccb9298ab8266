package waveform

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
)

// Sample is one recorded point of a waveform: an exact time offset in
// seconds paired with an output level in volts. Times are kept as
// rationals so the quantization math never touches binary floating
// point.
type Sample struct {
	Time  *big.Rat
	Level float64
}

// Order selects how samples are laid out in the expansion.
type Order int

const (
	// OrderInsertion expands samples in the order they were recorded,
	// even when that is not chronological. Matches the historical
	// behavior of the instrument scripts this replaces.
	OrderInsertion Order = iota
	// OrderByTime sorts samples chronologically before expanding.
	OrderByTime
)

// Errors for waveforms that cannot be quantized or played.
var (
	ErrEmpty             = errors.New("waveform has no samples")
	ErrDegenerateQuantum = errors.New("all sample times are zero, quantum undefined")
	ErrNotFinalized      = errors.New("waveform has pending samples, call Finalize")
)

// NonIntegerError reports a sample time that is not an exact multiple
// of the waveform's quantum.
type NonIntegerError struct {
	Waveform int
	Time     *big.Rat
	Quantum  *big.Rat
}

func (e *NonIntegerError) Error() string {
	return fmt.Sprintf("waveform %d: time %s is not an integer multiple of quantum %s",
		e.Waveform, e.Time.RatString(), e.Quantum.RatString())
}

// NotFoundError reports a reference to a waveform id that was never
// defined.
type NotFoundError struct {
	ID int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("waveform %d is not defined", e.ID)
}

// Expansions larger than this are refused rather than allocated. A
// pathological pair of times (say 1e-9 and 1) quantizes fine but would
// expand to a billion ticks.
const maxTicks = 1 << 24

// Waveform is a set of samples plus everything derived from them: the
// common sampling quantum, the per-tick level expansion, and the total
// playback duration. Owned by a Registry; mutated only by appending
// samples through it.
type Waveform struct {
	ID      int
	Samples []Sample

	// Derived on every insert (or on Finalize in deferred mode).
	Quantum   *big.Rat
	Expansion []float64
	Duration  *big.Rat

	err   error // last derivation failure, nil when playable
	stale bool  // deferred samples pending recompute
}

// Ready reports whether the waveform can be played, returning the
// reason when it cannot.
func (w *Waveform) Ready() error {
	if len(w.Samples) == 0 {
		return ErrEmpty
	}
	if w.stale {
		return ErrNotFinalized
	}
	return w.err
}

// recompute rederives quantum, expansion and duration from the full
// sample set. On failure the derived fields are cleared and the
// waveform stays unplayable until a later insert fixes it.
func (w *Waveform) recompute(order Order, defaultTick *big.Rat) error {
	w.Quantum = nil
	w.Expansion = nil
	w.Duration = nil
	w.err = nil
	w.stale = false

	q, err := Quantize(w.Samples)
	if errors.Is(err, ErrDegenerateQuantum) && defaultTick != nil {
		// Every time is literally zero: fall back to one tick per
		// sample at the caller-chosen default increment.
		w.Quantum = new(big.Rat).Set(defaultTick)
		for _, s := range ordered(w.Samples, order) {
			w.Expansion = append(w.Expansion, s.Level)
		}
		w.Duration = new(big.Rat).Mul(w.Quantum, new(big.Rat).SetInt64(int64(len(w.Expansion))))
		return nil
	}
	if err != nil {
		w.err = err
		return err
	}

	exp, err := Expand(w.ID, w.Samples, q, order)
	if err != nil {
		w.err = err
		return err
	}

	w.Quantum = q
	w.Expansion = exp
	w.Duration = new(big.Rat).Mul(q, new(big.Rat).SetInt64(int64(len(exp))))
	return nil
}

// ordered returns the samples in expansion order. Insertion order is a
// plain alias of the backing slice; time order is a stable-sorted copy.
func ordered(samples []Sample, order Order) []Sample {
	if order == OrderInsertion {
		return samples
	}
	out := make([]Sample, len(samples))
	copy(out, samples)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Cmp(out[j].Time) < 0
	})
	return out
}
