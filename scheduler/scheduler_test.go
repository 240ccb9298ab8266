package scheduler

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"go-pcm/instrument"
	"go-pcm/program"
	"go-pcm/waveform"
)

// newTestScheduler wires a scheduler to a recorder with sleeps
// captured instead of taken.
func newTestScheduler() (*Scheduler, *instrument.Recorder, *[]time.Duration) {
	rec := instrument.NewRecorder()
	s := New(waveform.NewRegistry(), rec)
	var slept []time.Duration
	s.sleep = func(d time.Duration) { slept = append(slept, d) }
	return s, rec, &slept
}

func run(t *testing.T, s *Scheduler, src string) {
	t.Helper()
	res, err := program.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("parse errors: %v", res.Errors)
	}
	if err := s.Run(context.Background(), res.Ops); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestPlayPreparesOnceTriggersPerIteration(t *testing.T) {
	s, rec, slept := newTestScheduler()
	run(t, s, "DEF 1\n0.5 5\nW 1 2\n")

	if len(rec.Sweeps) != 1 {
		t.Fatalf("prepared %d sweeps, want 1", len(rec.Sweeps))
	}
	if len(rec.Sweeps[0]) != 1 || rec.Sweeps[0][0] != 5 {
		t.Errorf("sweep levels = %v, want [5]", rec.Sweeps[0])
	}
	if rec.Steps[0].Cmp(big.NewRat(1, 2)) != 0 {
		t.Errorf("step = %s, want 1/2", rec.Steps[0].RatString())
	}
	if rec.Initiates != 2 {
		t.Errorf("initiates = %d, want 2", rec.Initiates)
	}

	log := s.ReplayLog()
	if len(log) != 1 || log[0] != (PlayRecord{Waveform: 1, Iterations: 2}) {
		t.Errorf("replay log = %v, want [(1,2)]", log)
	}

	// Pacing: 0.5s x 2 iterations x 0.99 margin.
	if len(*slept) != 1 {
		t.Fatalf("slept %d times, want 1", len(*slept))
	}
	want := time.Duration(0.5 * 2 * 0.99 * float64(time.Second))
	if (*slept)[0] != want {
		t.Errorf("slept %v, want %v", (*slept)[0], want)
	}
}

func TestOutputToggle(t *testing.T) {
	s, rec, _ := newTestScheduler()
	run(t, s, "OUT ON\nout off\n")
	if rec.Output {
		t.Error("output left on")
	}
	if got := rec.Calls; len(got) != 2 || got[0] != "output true" || got[1] != "output false" {
		t.Errorf("calls = %v, want output true then false", got)
	}
}

func TestPlayReassertsOutputAfterPrepare(t *testing.T) {
	// Sweep setup resets the instrument, dropping the output relay. A
	// prior OUT ON must survive into the triggered sweep.
	s, rec, _ := newTestScheduler()
	run(t, s, "DEF 1\n0.5 5\nOUT ON\nW 1\n")

	if !rec.Output {
		t.Fatal("output relay off after play; commanded state lost across sweep setup")
	}
	want := []string{"output true", "prepare [5] step=1/2", "output true", "initiate"}
	if len(rec.Calls) != len(want) {
		t.Fatalf("calls = %v, want %v", rec.Calls, want)
	}
	for i, c := range rec.Calls {
		if c != want[i] {
			t.Fatalf("calls[%d] = %q, want %q (all: %v)", i, c, want[i], rec.Calls)
		}
	}
}

func TestPlayLeavesOutputAloneWhenOff(t *testing.T) {
	s, rec, _ := newTestScheduler()
	run(t, s, "DEF 1\n0.5 5\nW 1\n")
	for _, c := range rec.Calls {
		if strings.HasPrefix(c, "output") {
			t.Errorf("unexpected relay command %q with output never enabled", c)
		}
	}
}

func TestFetchResultsAfterPlay(t *testing.T) {
	s, rec, _ := newTestScheduler()
	s.FetchResults = true
	run(t, s, "DEF 1\n0.5 5\nW 1 2\n")

	n := len(rec.Calls)
	if n < 2 || rec.Calls[n-2] != "fetch volts 1" || rec.Calls[n-1] != "fetch amps 1" {
		t.Errorf("calls = %v, want readback of 1 point after the triggers", rec.Calls)
	}
}

func TestNoFetchByDefault(t *testing.T) {
	s, rec, _ := newTestScheduler()
	run(t, s, "DEF 1\n0.5 5\nW 1\n")
	for _, c := range rec.Calls {
		if strings.HasPrefix(c, "fetch") {
			t.Errorf("unexpected readback %q with FetchResults disabled", c)
		}
	}
}

func TestPlayMissingWaveformContinues(t *testing.T) {
	// W 9 was never defined: the operation is skipped, the program
	// keeps going.
	s, rec, _ := newTestScheduler()
	run(t, s, "W 9\nDEF 1\n0.25 1\nW 1\n")

	if len(rec.Sweeps) != 1 {
		t.Fatalf("prepared %d sweeps, want 1 (the defined waveform)", len(rec.Sweeps))
	}
	if len(s.ReplayLog()) != 1 {
		t.Errorf("replay log = %v, want only the successful play", s.ReplayLog())
	}
}

func TestPlayUnplayableWaveformContinues(t *testing.T) {
	s, rec, _ := newTestScheduler()
	// Waveform 0 has no samples; waveform 1 is fine.
	run(t, s, "DEF 0\nDEF 1\n0.5 1\nW 0\nW 1\n")
	if len(rec.Sweeps) != 1 {
		t.Errorf("prepared %d sweeps, want 1", len(rec.Sweeps))
	}
}

func TestDeviceErrorPropagates(t *testing.T) {
	s, rec, _ := newTestScheduler()
	res, err := program.Parse(strings.NewReader("DEF 1\n0.5 5\nOUT ON\nW 1\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	rec.Fail = &instrument.CommError{Op: "write", Err: errors.New("unplugged")}
	err = s.Run(context.Background(), res.Ops)
	var ce *instrument.CommError
	if !errors.As(err, &ce) {
		t.Fatalf("Run error = %v, want CommError", err)
	}

	// Registry state built before the failure survives intact.
	rows := s.Waveforms()
	if len(rows) != 1 || rows[0].Err != "" || rows[0].Ticks != 1 {
		t.Errorf("waveforms after failure = %+v, want waveform 1 still playable", rows)
	}
	if rec.Initiates != 0 {
		t.Errorf("initiates = %d, want 0 after aborted run", rec.Initiates)
	}
}

func TestReplayGrowth(t *testing.T) {
	s, rec, _ := newTestScheduler()
	// One play (k=1), then R 2.
	run(t, s, "DEF 1\n0.1 1\nW 1\nR 2\n")

	// Execution: 1 original play + 2 replayed plays = 3 prepares.
	if len(rec.Sweeps) != 3 {
		t.Errorf("prepared %d sweeps, want 3", len(rec.Sweeps))
	}

	// Log growth: k=1 -> 3 after the replay loop -> 9 after the
	// extension (k(n+1)^2 with n=2).
	log := s.ReplayLog()
	if len(log) != 9 {
		t.Fatalf("replay log length = %d, want 9", len(log))
	}
	for i, rec := range log {
		if rec != (PlayRecord{Waveform: 1, Iterations: 1}) {
			t.Errorf("log[%d] = %v, want (1,1)", i, rec)
		}
	}
}

func TestReplayOrdering(t *testing.T) {
	s, _, _ := newTestScheduler()
	run(t, s, "DEF 1\n0.1 1\nDEF 2\n0.2 2\nW 1\nW 2 3\nR 1\n")

	// k=2, n=1: loop re-executes (1,1),(2,3) appending each, log
	// becomes 4; extension appends one copy, log becomes 8.
	log := s.ReplayLog()
	if len(log) != 8 {
		t.Fatalf("replay log length = %d, want 8", len(log))
	}
	wantPattern := []PlayRecord{
		{1, 1}, {2, 3}, // originals
		{1, 1}, {2, 3}, // appended by the replayed plays
		{1, 1}, {2, 3}, {1, 1}, {2, 3}, // extension copy
	}
	for i, want := range wantPattern {
		if log[i] != want {
			t.Errorf("log[%d] = %v, want %v", i, log[i], want)
		}
	}
}

func TestPollStatusDrainsBusy(t *testing.T) {
	s, rec, _ := newTestScheduler()
	s.PollStatus = true
	rec.BusyPolls = 1
	run(t, s, "DEF 1\n0.01 1\nW 1\n")

	polls := 0
	for _, c := range rec.Calls {
		if c == "busy" {
			polls++
		}
	}
	if polls != 2 {
		t.Errorf("busy polls = %d, want 2", polls)
	}
}

func TestSamplesBuildThroughScheduler(t *testing.T) {
	s, _, _ := newTestScheduler()
	run(t, s, "DEF 0\n0.1 1\n0.2 2\n0.3 3\n")

	rows := s.Waveforms()
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	r := rows[0]
	if r.Err != "" {
		t.Fatalf("waveform not ready: %s", r.Err)
	}
	if r.Quantum != "1/10" || r.Ticks != 6 {
		t.Errorf("row = %+v, want quantum 1/10 and 6 ticks", r)
	}
	if r.Duration != 600*time.Millisecond {
		t.Errorf("duration = %v, want 600ms", r.Duration)
	}
}

func TestStatusProgress(t *testing.T) {
	s, _, _ := newTestScheduler()
	run(t, s, "DEF 1\n0.5 5\nW 1 2\n")

	st := s.Status()
	if st.Running {
		t.Error("status still running after Run returned")
	}
	if st.OpCount != 3 || st.Sweeps != 2 || st.LogLen != 1 {
		t.Errorf("status = %+v, want 3 ops, 2 sweeps, log length 1", st)
	}
}
