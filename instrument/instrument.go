// Package instrument drives USB Test & Measurement Class (USB-TMC)
// source/measure instruments. The kernel usbtmc driver does the real
// transport work; this package layers the SCPI vocabulary of specific
// device families on top of a minimal character-device port.
package instrument

import (
	"context"
	"fmt"
	"math/big"

	"golang.org/x/time/rate"
)

// Instrument is the capability surface the playback scheduler drives.
// One implementation per device family.
type Instrument interface {
	// Reset returns the instrument to its default state.
	Reset() error

	// EnableOutput toggles the output relay.
	EnableOutput(on bool) error

	// PrepareListSweep loads a quantized level sequence for timed
	// playback without triggering it. step is the sampling interval in
	// seconds, compliance the current limit in amps.
	PrepareListSweep(levels []float64, step *big.Rat, compliance float64) error

	// Initiate triggers one playback/acquisition cycle of the
	// previously prepared sweep.
	Initiate() error

	// Busy reports whether previously initiated operations are still
	// running.
	Busy() (bool, error)

	// Close releases the underlying device handle.
	Close() error
}

// Fetcher is implemented by instruments that can read back the data
// measured during the last sweep.
type Fetcher interface {
	// FetchVoltages returns the measured voltage at each of the last
	// sweep's points.
	FetchVoltages(points int) ([]float64, error)

	// FetchCurrents returns the measured current at each of the last
	// sweep's points.
	FetchCurrents(points int) ([]float64, error)
}

// CommError is a device communication failure. Fatal to the operation
// that hit it; never retried at this layer.
type CommError struct {
	Op  string
	Err error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("instrument: %s: %v", e.Op, e.Err)
}

func (e *CommError) Unwrap() error {
	return e.Err
}

// Status polls are throttled to this frequency.
const pollHz = 10

// WaitUntilDone polls the instrument's busy flag until the running
// operation completes, the poll fails, or ctx is cancelled.
func WaitUntilDone(ctx context.Context, in Instrument) error {
	lim := rate.NewLimiter(pollHz, 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		busy, err := in.Busy()
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
	}
}
