package program

import (
	"bufio"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
)

// Result is a parsed program: the ordered operation sequence plus any
// per-line errors collected along the way.
type Result struct {
	Ops    []Op
	Errors []*ParseError
}

// Parse reads a program line by line. Bad lines are recorded in
// Result.Errors and skipped; a single malformed line never aborts the
// program. The returned error covers I/O failures only.
func Parse(r io.Reader) (*Result, error) {
	res := &Result{}

	current := -1 // current waveform id, -1 until the first DEF

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		tokens := strings.Fields(scanner.Text())
		if len(tokens) == 0 || isComment(tokens) {
			continue
		}

		op, perr := classify(tokens, line, current)
		if perr != nil {
			res.Errors = append(res.Errors, perr)
			continue
		}
		if op.Kind == OpDefine {
			current = op.Waveform
		}
		res.Ops = append(res.Ops, op)
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("reading program: %w", err)
	}
	return res, nil
}

// isComment reports whether the line is a comment: the first or second
// token begins with '#'.
func isComment(tokens []string) bool {
	if strings.HasPrefix(tokens[0], "#") {
		return true
	}
	return len(tokens) > 1 && strings.HasPrefix(tokens[1], "#")
}

// classify turns one tokenized line into an operation.
func classify(tokens []string, line, current int) (Op, *ParseError) {
	fail := func(format string, args ...any) (Op, *ParseError) {
		return Op{}, &ParseError{Line: line, Msg: fmt.Sprintf(format, args...)}
	}

	switch strings.ToUpper(tokens[0]) {
	case "DEF", "D":
		if len(tokens) != 2 {
			return fail("DEF takes exactly one waveform id")
		}
		id, err := parseID(tokens[1])
		if err != nil {
			return fail("DEF: %v", err)
		}
		return Op{Kind: OpDefine, Waveform: id, Line: line}, nil

	case "OUT":
		if len(tokens) != 2 {
			return fail("OUT takes ON or OFF")
		}
		switch strings.ToUpper(tokens[1]) {
		case "ON":
			return Op{Kind: OpOutput, On: true, Line: line}, nil
		case "OFF":
			return Op{Kind: OpOutput, On: false, Line: line}, nil
		}
		return fail("OUT takes ON or OFF, got %q", tokens[1])

	case "W":
		if len(tokens) < 2 || len(tokens) > 3 {
			return fail("W takes a waveform id and an optional iteration count")
		}
		id, err := parseID(tokens[1])
		if err != nil {
			return fail("W: %v", err)
		}
		iters := 1
		if len(tokens) == 3 {
			iters, err = strconv.Atoi(tokens[2])
			if err != nil {
				return fail("W: iteration count %q is not an integer", tokens[2])
			}
			if iters < 1 {
				iters = 1
			}
		}
		return Op{Kind: OpPlay, Waveform: id, Iterations: iters, Line: line}, nil

	case "R":
		if len(tokens) != 2 {
			return fail("R takes exactly one repeat count")
		}
		count, err := strconv.Atoi(tokens[1])
		if err != nil {
			return fail("R: repeat count %q is not an integer", tokens[1])
		}
		if count < 1 {
			return fail("R: repeat count must be >= 1, got %d", count)
		}
		return Op{Kind: OpReplay, Count: count, Line: line}, nil
	}

	// Not a keyword: exactly two numeric tokens record a sample.
	if len(tokens) == 2 {
		t, tok := new(big.Rat).SetString(tokens[0])
		level, lerr := strconv.ParseFloat(tokens[1], 64)
		if tok && lerr == nil {
			if t.Sign() < 0 {
				return fail("sample time %s must not be negative", tokens[0])
			}
			if current < 0 {
				return fail("sample before any DEF line, no current waveform")
			}
			return Op{Kind: OpSample, Waveform: current, Time: t, Level: level, Line: line}, nil
		}
	}

	return fail("unrecognized line %q", strings.Join(tokens, " "))
}

// parseID parses a non-negative integer waveform id.
func parseID(tok string) (int, error) {
	id, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("waveform id %q is not an integer", tok)
	}
	if id < 0 {
		return 0, fmt.Errorf("waveform id must be non-negative, got %d", id)
	}
	return id, nil
}
