// Package program parses the line-oriented waveform description
// language: numeric pairs record samples against the current waveform,
// keyword lines define waveforms, toggle the output relay, and play or
// replay recorded waveforms.
package program

import (
	"fmt"
	"math/big"
)

// OpKind tags the operation variants the parser emits.
type OpKind int

const (
	OpDefine OpKind = iota // define/select waveform Waveform
	OpSample               // append (Time, Level) to waveform Waveform
	OpOutput               // set output relay to On
	OpPlay                 // play waveform Waveform, Iterations times
	OpReplay               // re-execute the play log Count times
)

func (k OpKind) String() string {
	switch k {
	case OpDefine:
		return "define"
	case OpSample:
		return "sample"
	case OpOutput:
		return "output"
	case OpPlay:
		return "play"
	case OpReplay:
		return "replay"
	}
	return "unknown"
}

// Op is one parsed operation. The parser resolves the implicit
// "current waveform" state, so sample operations carry the waveform id
// they bind to.
type Op struct {
	Kind     OpKind
	Waveform int // OpDefine, OpSample, OpPlay

	Time  *big.Rat // OpSample, seconds
	Level float64  // OpSample, volts

	On bool // OpOutput

	Iterations int // OpPlay, clamped to >= 1
	Count      int // OpReplay, >= 1

	Line int // 1-based source line
}

// ParseError is a recoverable per-line failure. The offending line is
// skipped and parsing continues.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}
