// Package scheduler executes parsed waveform programs against an
// instrument: it populates the waveform registry, loads expanded
// sweeps, triggers them, and paces the host to the estimated hardware
// duration.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/hako/durafmt"

	"go-pcm/debug"
	"go-pcm/instrument"
	"go-pcm/program"
	"go-pcm/waveform"
)

// PlayRecord is one executed play: which waveform, how many hardware
// triggers.
type PlayRecord struct {
	Waveform   int
	Iterations int
}

// Status is a snapshot of execution state for the monitor UI.
type Status struct {
	Running bool
	OpIndex int    // index of the operation being executed
	OpCount int    // total operations in the program
	Current string // description of the current operation
	Output  bool   // output relay state as last commanded
	Sweeps  int    // hardware triggers issued so far
	LogLen  int    // replay log length
}

// Scheduler consumes operations in program order. It is single-owner:
// one scheduler per instrument, one goroutine calling Run.
type Scheduler struct {
	// Compliance is the current limit handed to every sweep, in amps.
	Compliance float64
	// SafetyMargin scales the pacing sleep; kept just under 1 so the
	// host never waits longer than the hardware needs and issues the
	// next command late.
	SafetyMargin float64
	// PollStatus drains the instrument's busy flag after the pacing
	// sleep instead of trusting the estimate alone.
	PollStatus bool
	// FetchResults reads the measured sweep data back after each play,
	// when the instrument supports readback.
	FetchResults bool
	// Log, when set, receives informational progress messages.
	Log func(format string, args ...any)

	reg  *waveform.Registry
	inst instrument.Instrument

	sleep func(time.Duration) // replaced in tests

	mu        sync.Mutex
	replayLog []PlayRecord
	status    Status

	// UpdateChan gets a non-blocking signal whenever state changes,
	// for the monitor UI.
	UpdateChan chan struct{}
}

// New creates a scheduler over a registry and an instrument.
func New(reg *waveform.Registry, inst instrument.Instrument) *Scheduler {
	return &Scheduler{
		Compliance:   0.1,
		SafetyMargin: 0.99,
		reg:          reg,
		inst:         inst,
		sleep:        time.Sleep,
		UpdateChan:   make(chan struct{}, 1),
	}
}

// Run executes the operation sequence. Recoverable failures (missing
// waveforms, unplayable quantization) skip the offending operation;
// device communication failures and cancellation stop the run and
// propagate.
func (s *Scheduler) Run(ctx context.Context, ops []program.Op) error {
	s.setStatus(func(st *Status) {
		st.Running = true
		st.OpCount = len(ops)
	})
	defer s.setStatus(func(st *Status) { st.Running = false })

	for i, op := range ops {
		s.setStatus(func(st *Status) {
			st.OpIndex = i
			st.Current = describe(op)
		})
		if err := s.Execute(ctx, op); err != nil {
			if fatal(err) {
				return err
			}
			s.logf("line %d: skipping %s: %v", op.Line, op.Kind, err)
		}
	}
	return nil
}

// fatal reports whether an operation failure should stop the whole
// run. Only device communication and cancellation qualify.
func fatal(err error) bool {
	var ce *instrument.CommError
	return errors.As(err, &ce) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Execute runs a single operation.
func (s *Scheduler) Execute(ctx context.Context, op program.Op) error {
	switch op.Kind {
	case program.OpDefine:
		s.mu.Lock()
		s.reg.Define(op.Waveform)
		s.mu.Unlock()
		s.notify()
		return nil

	case program.OpSample:
		s.mu.Lock()
		err := s.reg.Add(op.Waveform, waveform.Sample{Time: op.Time, Level: op.Level})
		s.mu.Unlock()
		s.notify()
		return err

	case program.OpOutput:
		if err := s.inst.EnableOutput(op.On); err != nil {
			return err
		}
		s.logf("output %s", onOff(op.On))
		s.setStatus(func(st *Status) { st.Output = op.On })
		return nil

	case program.OpPlay:
		return s.play(ctx, op.Waveform, op.Iterations)

	case program.OpReplay:
		return s.replay(ctx, op.Count)
	}
	return fmt.Errorf("unknown operation kind %d", op.Kind)
}

// play loads one sweep, triggers it once per iteration, records the
// play, and paces the host for the estimated hardware duration.
func (s *Scheduler) play(ctx context.Context, id, iterations int) error {
	s.mu.Lock()
	w, err := s.reg.Lookup(id)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := w.Ready(); err != nil {
		return err
	}

	if err := s.inst.PrepareListSweep(w.Expansion, w.Quantum, s.Compliance); err != nil {
		return err
	}

	// Preparing a sweep resets the instrument, which drops the output
	// relay; re-assert the commanded state before triggering.
	s.mu.Lock()
	outputOn := s.status.Output
	s.mu.Unlock()
	if outputOn {
		if err := s.inst.EnableOutput(true); err != nil {
			return err
		}
	}

	for i := 0; i < iterations; i++ {
		s.logf("waveform %d: sweep %d of %d", id, i+1, iterations)
		if err := s.inst.Initiate(); err != nil {
			return err
		}
		s.setStatus(func(st *Status) { st.Sweeps++ })
	}

	s.mu.Lock()
	s.replayLog = append(s.replayLog, PlayRecord{Waveform: id, Iterations: iterations})
	s.status.LogLen = len(s.replayLog)
	s.mu.Unlock()
	s.notify()

	pace := s.pace(w.Duration, iterations)
	debug.Log("sched", "waveform %d: pacing %s", id, pace)
	if pace > 0 {
		s.logf("waveform %d: waiting %s for hardware", id,
			durafmt.Parse(pace.Round(time.Millisecond)).LimitFirstN(2))
		s.sleep(pace)
	}

	if s.PollStatus {
		if err := instrument.WaitUntilDone(ctx, s.inst); err != nil {
			return err
		}
	}

	if s.FetchResults {
		if f, ok := s.inst.(instrument.Fetcher); ok {
			volts, err := f.FetchVoltages(len(w.Expansion))
			if err != nil {
				return err
			}
			amps, err := f.FetchCurrents(len(w.Expansion))
			if err != nil {
				return err
			}
			s.logf("waveform %d: read back %d voltage and %d current points", id, len(volts), len(amps))
			debug.Log("sched", "waveform %d: currents %v", id, amps)
		}
	}
	return nil
}

// pace estimates the hardware time for the whole play, scaled by the
// safety margin. Floating point is fine here: exactness matters for
// quantization, not for a best-effort sleep.
func (s *Scheduler) pace(duration *big.Rat, iterations int) time.Duration {
	total := new(big.Rat).Mul(duration, big.NewRat(int64(iterations), 1))
	secs, _ := total.Float64()
	return time.Duration(secs * s.SafetyMargin * float64(time.Second))
}

// replay re-executes the recorded plays count times through the normal
// play path, then appends count copies of the log to itself. Each
// replayed play also appends its own record, so the log compounds:
// length k becomes k(count+1) after the loop and k(count+1)^2 after
// the extension. Deliberately kept: a later R replays the replays too.
func (s *Scheduler) replay(ctx context.Context, count int) error {
	s.mu.Lock()
	snapshot := append([]PlayRecord(nil), s.replayLog...)
	s.mu.Unlock()

	for rep := 0; rep < count; rep++ {
		s.logf("replay %d of %d: %d recorded plays", rep+1, count, len(snapshot))
		for _, rec := range snapshot {
			if err := s.play(ctx, rec.Waveform, rec.Iterations); err != nil {
				if fatal(err) {
					return err
				}
				s.logf("replay: skipping waveform %d: %v", rec.Waveform, err)
			}
		}
	}

	s.mu.Lock()
	ext := append([]PlayRecord(nil), s.replayLog...)
	for rep := 0; rep < count; rep++ {
		s.replayLog = append(s.replayLog, ext...)
	}
	s.status.LogLen = len(s.replayLog)
	s.mu.Unlock()
	s.notify()
	return nil
}

// ReplayLog returns a copy of the accumulated play log.
func (s *Scheduler) ReplayLog() []PlayRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PlayRecord(nil), s.replayLog...)
}

// Status returns a snapshot of execution state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// WaveformInfo is a registry row for the monitor UI.
type WaveformInfo struct {
	ID       int
	Samples  int
	Quantum  string
	Ticks    int
	Duration time.Duration
	Err      string // empty when playable
}

// Waveforms snapshots the registry for display.
func (s *Scheduler) Waveforms() []WaveformInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []WaveformInfo
	for _, id := range s.reg.IDs() {
		w, err := s.reg.Lookup(id)
		if err != nil {
			continue
		}
		row := WaveformInfo{ID: id, Samples: len(w.Samples)}
		if rerr := w.Ready(); rerr != nil {
			row.Err = rerr.Error()
		} else {
			row.Quantum = w.Quantum.RatString()
			row.Ticks = len(w.Expansion)
			secs, _ := w.Duration.Float64()
			row.Duration = time.Duration(secs * float64(time.Second))
		}
		rows = append(rows, row)
	}
	return rows
}

func (s *Scheduler) setStatus(f func(*Status)) {
	s.mu.Lock()
	f(&s.status)
	s.mu.Unlock()
	s.notify()
}

func (s *Scheduler) notify() {
	select {
	case s.UpdateChan <- struct{}{}:
	default:
	}
}

func (s *Scheduler) logf(format string, args ...any) {
	debug.Log("sched", format, args...)
	if s.Log != nil {
		s.Log(format, args...)
	}
}

func describe(op program.Op) string {
	switch op.Kind {
	case program.OpDefine:
		return fmt.Sprintf("define waveform %d", op.Waveform)
	case program.OpSample:
		return fmt.Sprintf("sample %s -> %gV on waveform %d", op.Time.RatString(), op.Level, op.Waveform)
	case program.OpOutput:
		return "output " + onOff(op.On)
	case program.OpPlay:
		return fmt.Sprintf("play waveform %d x%d", op.Waveform, op.Iterations)
	case program.OpReplay:
		return fmt.Sprintf("replay log x%d", op.Count)
	}
	return "unknown"
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
