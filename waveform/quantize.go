package waveform

import (
	"fmt"
	"math/big"
)

// Quantize computes the largest sampling interval that exactly divides
// every sample time: the reciprocal of the least common multiple of
// the time denominators. Times like 1/3 s and 1/7 s coexist exactly
// (quantum 1/21 s); no floating point participates, so the division
// check in Expand cannot be corrupted by rounding.
func Quantize(samples []Sample) (*big.Rat, error) {
	if len(samples) == 0 {
		return nil, ErrEmpty
	}

	l := big.NewInt(1)
	zero := true
	for _, s := range samples {
		if s.Time.Sign() != 0 {
			zero = false
		}
		// big.Rat keeps times normalized, so Denom is the least d with
		// time*d integral.
		d := s.Time.Denom()
		g := new(big.Int).GCD(nil, nil, l, d)
		l.Div(l, g)
		l.Mul(l, d)
	}
	if zero {
		// LCM of all-zero times is meaningless (0 = 0/1 for every
		// sample). Refuse rather than guess.
		return nil, ErrDegenerateQuantum
	}

	return new(big.Rat).SetFrac(big.NewInt(1), l), nil
}

// Expand flattens samples onto the quantum grid: each sample
// contributes its level time/quantum ticks in a row. The division must
// come out to an exact integer for every sample.
func Expand(id int, samples []Sample, quantum *big.Rat, order Order) ([]float64, error) {
	var total int64
	type run struct {
		level  float64
		copies int64
	}
	runs := make([]run, 0, len(samples))

	for _, s := range ordered(samples, order) {
		copies := new(big.Rat).Quo(s.Time, quantum)
		if !copies.IsInt() {
			return nil, &NonIntegerError{Waveform: id, Time: s.Time, Quantum: quantum}
		}
		n := copies.Num()
		if !n.IsInt64() || n.Int64() > maxTicks {
			return nil, fmt.Errorf("waveform %d: time %s expands to %s ticks at quantum %s, refusing",
				id, s.Time.RatString(), n.String(), quantum.RatString())
		}
		c := n.Int64()
		runs = append(runs, run{level: s.Level, copies: c})
		total += c
	}
	if total > maxTicks {
		return nil, fmt.Errorf("waveform %d: expansion of %d ticks is too large", id, total)
	}

	out := make([]float64, 0, total)
	for _, r := range runs {
		for i := int64(0); i < r.copies; i++ {
			out = append(out, r.level)
		}
	}
	return out, nil
}
