package main

import (
	"errors"
	"testing"

	"go-pcm/instrument"
)

func TestShutdownOutputForcesRelayOff(t *testing.T) {
	rec := instrument.NewRecorder()
	if err := rec.EnableOutput(true); err != nil {
		t.Fatalf("EnableOutput: %v", err)
	}
	if err := shutdownOutput(rec, nil); err != nil {
		t.Fatalf("shutdownOutput: %v", err)
	}
	if rec.Output {
		t.Error("relay still on after shutdown")
	}
}

func TestShutdownOutputKeepsRunError(t *testing.T) {
	rec := instrument.NewRecorder()
	runErr := errors.New("sweep failed")
	if err := shutdownOutput(rec, runErr); err != runErr {
		t.Errorf("err = %v, want the run error", err)
	}

	rec = instrument.NewRecorder()
	rec.Fail = errors.New("unplugged")
	if err := shutdownOutput(rec, nil); err == nil {
		t.Error("cleanup failure swallowed")
	}
}
