package program

import (
	"math/big"
	"reflect"
	"strings"
	"testing"
)

func parse(t *testing.T, src string) *Result {
	t.Helper()
	res, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return res
}

func TestParsePlayProgram(t *testing.T) {
	res := parse(t, "DEF 1\n0.5 5\nW 1 2\n")
	if len(res.Errors) != 0 {
		t.Fatalf("errors = %v, want none", res.Errors)
	}
	if len(res.Ops) != 3 {
		t.Fatalf("ops = %d, want 3", len(res.Ops))
	}

	if res.Ops[0].Kind != OpDefine || res.Ops[0].Waveform != 1 {
		t.Errorf("op 0 = %+v, want define waveform 1", res.Ops[0])
	}

	s := res.Ops[1]
	if s.Kind != OpSample || s.Waveform != 1 || s.Level != 5 {
		t.Errorf("op 1 = %+v, want sample (0.5, 5) on waveform 1", s)
	}
	if s.Time.Cmp(big.NewRat(1, 2)) != 0 {
		t.Errorf("sample time = %s, want 1/2", s.Time.RatString())
	}

	p := res.Ops[2]
	if p.Kind != OpPlay || p.Waveform != 1 || p.Iterations != 2 {
		t.Errorf("op 2 = %+v, want play waveform 1 twice", p)
	}
}

func TestParseBadLineIsRecoverable(t *testing.T) {
	// A malformed line after D 1 is reported with its line number; the
	// following valid lines still parse.
	res := parse(t, "D 1\nbogus line here\n0.1 1\n")
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", res.Errors)
	}
	if res.Errors[0].Line != 2 {
		t.Errorf("error line = %d, want 2", res.Errors[0].Line)
	}
	if len(res.Ops) != 2 {
		t.Fatalf("ops = %d, want 2", len(res.Ops))
	}
	if res.Ops[1].Kind != OpSample {
		t.Errorf("op 1 = %+v, want sample", res.Ops[1])
	}
}

func TestParseComments(t *testing.T) {
	res := parse(t, "# leading comment\nDEF 0\n  # indented comment\n0.5 # not two numbers\n0.5 1\n")
	if len(res.Errors) != 0 {
		t.Fatalf("errors = %v, want none", res.Errors)
	}
	if len(res.Ops) != 2 {
		t.Errorf("ops = %d, want 2 (comments ignored)", len(res.Ops))
	}
}

func TestParseOutputCaseInsensitive(t *testing.T) {
	res := parse(t, "OUT ON\nout off\nOut On\n")
	if len(res.Errors) != 0 {
		t.Fatalf("errors = %v, want none", res.Errors)
	}
	want := []bool{true, false, true}
	for i, on := range want {
		if res.Ops[i].Kind != OpOutput || res.Ops[i].On != on {
			t.Errorf("op %d = %+v, want output %v", i, res.Ops[i], on)
		}
	}
}

func TestParsePlayDefaultsAndClamps(t *testing.T) {
	res := parse(t, "W 3\nW 3 0\nW 3 -2\n")
	if len(res.Errors) != 0 {
		t.Fatalf("errors = %v, want none", res.Errors)
	}
	for i, op := range res.Ops {
		if op.Iterations != 1 {
			t.Errorf("op %d iterations = %d, want 1", i, op.Iterations)
		}
	}
}

func TestParseReplayCountValidation(t *testing.T) {
	res := parse(t, "R 2\nR 0\nR x\n")
	if len(res.Ops) != 1 || res.Ops[0].Count != 2 {
		t.Errorf("ops = %+v, want single replay with count 2", res.Ops)
	}
	if len(res.Errors) != 2 {
		t.Errorf("errors = %v, want 2", res.Errors)
	}
}

func TestParseSampleBeforeDefine(t *testing.T) {
	res := parse(t, "0.1 1\n")
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v, want one", res.Errors)
	}
	if !strings.Contains(res.Errors[0].Msg, "DEF") {
		t.Errorf("error = %q, want mention of missing DEF", res.Errors[0].Msg)
	}
}

func TestParseRationalAndNegativeTimes(t *testing.T) {
	res := parse(t, "DEF 0\n1/3 2\n-0.5 1\n")
	if len(res.Ops) != 2 {
		t.Fatalf("ops = %d, want 2", len(res.Ops))
	}
	if res.Ops[1].Time.Cmp(big.NewRat(1, 3)) != 0 {
		t.Errorf("time = %s, want 1/3", res.Ops[1].Time.RatString())
	}
	if len(res.Errors) != 1 {
		t.Errorf("errors = %v, want one for the negative time", res.Errors)
	}
}

func TestParseIdempotent(t *testing.T) {
	src := "# demo\nDEF 1\n0.1 1\n0.2 2\nDEF 2\n0.5 -1\nOUT ON\nW 1 3\nW 2\nR 2\nOUT OFF\n"
	a := parse(t, src)
	b := parse(t, src)
	if !reflect.DeepEqual(a.Errors, b.Errors) {
		t.Errorf("errors differ between parses: %v vs %v", a.Errors, b.Errors)
	}
	if len(a.Ops) != len(b.Ops) {
		t.Fatalf("op counts differ: %d vs %d", len(a.Ops), len(b.Ops))
	}
	for i := range a.Ops {
		x, y := a.Ops[i], b.Ops[i]
		if x.Kind != y.Kind || x.Waveform != y.Waveform || x.Level != y.Level ||
			x.On != y.On || x.Iterations != y.Iterations || x.Count != y.Count || x.Line != y.Line {
			t.Errorf("op %d differs: %+v vs %+v", i, x, y)
		}
		if (x.Time == nil) != (y.Time == nil) || (x.Time != nil && x.Time.Cmp(y.Time) != 0) {
			t.Errorf("op %d times differ", i)
		}
	}
}

func TestParseUndefinedPlayIsNotAParseError(t *testing.T) {
	// W 9 with no DEF 9 parses fine; the missing waveform surfaces at
	// execution time.
	res := parse(t, "W 9\n")
	if len(res.Errors) != 0 {
		t.Errorf("errors = %v, want none", res.Errors)
	}
	if len(res.Ops) != 1 || res.Ops[0].Kind != OpPlay || res.Ops[0].Waveform != 9 {
		t.Errorf("ops = %+v, want play of waveform 9", res.Ops)
	}
}
