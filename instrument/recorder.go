package instrument

import (
	"fmt"
	"math/big"
	"strings"
)

// Recorder is an in-memory Instrument for dry runs and tests. It
// records every call in order and never touches hardware.
type Recorder struct {
	// Calls is the flat call trace, one entry per method invocation.
	Calls []string

	// Sweeps holds the level list of each PrepareListSweep call, with
	// Steps and Compliances parallel to it.
	Sweeps      [][]float64
	Steps       []*big.Rat
	Compliances []float64

	// Initiates counts Initiate calls; Output tracks relay state.
	Initiates int
	Output    bool

	// Fail, when set, is returned by the next device call and cleared.
	Fail error

	// BusyPolls answers Busy with true this many times before settling
	// on false.
	BusyPolls int
}

// NewRecorder creates an idle recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) take() error {
	err := r.Fail
	r.Fail = nil
	return err
}

func (r *Recorder) Reset() error {
	r.Calls = append(r.Calls, "reset")
	if err := r.take(); err != nil {
		return err
	}
	r.Output = false
	return nil
}

func (r *Recorder) EnableOutput(on bool) error {
	r.Calls = append(r.Calls, fmt.Sprintf("output %v", on))
	if err := r.take(); err != nil {
		return err
	}
	r.Output = on
	return nil
}

func (r *Recorder) PrepareListSweep(levels []float64, step *big.Rat, compliance float64) error {
	parts := make([]string, len(levels))
	for i, v := range levels {
		parts[i] = ftext(v)
	}
	r.Calls = append(r.Calls, fmt.Sprintf("prepare [%s] step=%s", strings.Join(parts, ","), step.RatString()))
	if err := r.take(); err != nil {
		return err
	}
	r.Sweeps = append(r.Sweeps, append([]float64(nil), levels...))
	r.Steps = append(r.Steps, new(big.Rat).Set(step))
	r.Compliances = append(r.Compliances, compliance)
	// Sweep setup starts with a reset, which drops the relay.
	r.Output = false
	return nil
}

func (r *Recorder) FetchVoltages(points int) ([]float64, error) {
	r.Calls = append(r.Calls, fmt.Sprintf("fetch volts %d", points))
	if err := r.take(); err != nil {
		return nil, err
	}
	return make([]float64, points), nil
}

func (r *Recorder) FetchCurrents(points int) ([]float64, error) {
	r.Calls = append(r.Calls, fmt.Sprintf("fetch amps %d", points))
	if err := r.take(); err != nil {
		return nil, err
	}
	return make([]float64, points), nil
}

func (r *Recorder) Initiate() error {
	r.Calls = append(r.Calls, "initiate")
	if err := r.take(); err != nil {
		return err
	}
	r.Initiates++
	return nil
}

func (r *Recorder) Busy() (bool, error) {
	r.Calls = append(r.Calls, "busy")
	if err := r.take(); err != nil {
		return false, err
	}
	if r.BusyPolls > 0 {
		r.BusyPolls--
		return true, nil
	}
	return false, nil
}

func (r *Recorder) Close() error {
	r.Calls = append(r.Calls, "close")
	return nil
}
