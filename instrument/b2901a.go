package instrument

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"go-pcm/debug"
)

// scpiPort is the command/response surface the drivers need. Satisfied
// by *Port; tests substitute an in-memory fake.
type scpiPort interface {
	Write(cmd string) error
	Ask(cmd string, n int) (string, error)
	Close() error
}

// B2901A controls a Keysight B2901A source/measure unit. For operating
// details refer to Keysight document B2910-90030, "Keysight B2900 SCPI
// Command Reference".
type B2901A struct {
	port scpiPort

	// Identity reported by *IDN?.
	IDN      string
	Mfr      string
	Model    string
	Serial   string
	Revision string
}

const b2901aModel = "B2901A"

// NewB2901A connects to a B2901A on the given port, requests its
// identity, and starts operation-complete monitoring.
func NewB2901A(p *Port) (*B2901A, error) {
	return newB2901A(p)
}

func newB2901A(p scpiPort) (*B2901A, error) {
	b := &B2901A{port: p}

	idn, err := p.Ask("*IDN?", 300)
	if err != nil {
		return nil, err
	}
	b.IDN = idn
	fields := strings.Split(idn, ",")
	if len(fields) == 4 {
		b.Mfr, b.Model, b.Serial, b.Revision = fields[0], fields[1], fields[2], fields[3]
	}
	if !strings.Contains(b.Model, b2901aModel) {
		debug.Log("smu", "device returned model %q, expected %q", b.Model, b2901aModel)
	}

	// Arm OPC monitoring up front so Busy works.
	if err := b.Monitor(); err != nil {
		return nil, err
	}
	return b, nil
}

// Monitor begins operation-complete monitoring. Must run before Busy
// gives meaningful answers.
func (b *B2901A) Monitor() error {
	return b.port.Write("*OPC")
}

// Busy polls the instrument once and reports whether previously
// initiated operations are still running.
func (b *B2901A) Busy() (bool, error) {
	opc, err := b.port.Ask("*OPC?", 100)
	if err != nil {
		return false, err
	}
	return !strings.Contains(opc, "1"), nil
}

// Reset returns the instrument to its power-on defaults.
func (b *B2901A) Reset() error {
	return b.port.Write("*RST")
}

// EnableOutput toggles the output relay.
func (b *B2901A) EnableOutput(on bool) error {
	if on {
		return b.port.Write(":OUTP ON")
	}
	return b.port.Write(":OUTP OFF")
}

// Initiate triggers the source/measure operation already set up.
func (b *B2901A) Initiate() error {
	return b.port.Write(":INIT")
}

// PrepareListSweep programs a voltage list sweep, sourcing voltage and
// sensing current, clocked by the trigger timer at the given step. It
// loads everything but does not trigger; call Initiate per iteration.
func (b *B2901A) PrepareListSweep(levels []float64, step *big.Rat, compliance float64) error {
	if len(levels) == 0 {
		return fmt.Errorf("b2901a: empty level list")
	}
	acqDelay := new(big.Rat).Quo(step, big.NewRat(10, 1))

	cmds := []string{
		"*RST",
		":FUNC:MODE VOLT",
		":SOUR:VOLT:RANG:AUTO ON",
		":SOURCE:VOLT:MODE LIST",
		":LIST:VOLT " + levelList(levels),
		":SENS:FUNC CURR",
		":SENS:CURR:RANG:AUTO ON",
		":SENS:CURR:PROT " + ftext(compliance),
		"TRIG:SOURCE TIMER",
		"TRIG:TIMER " + rtext(step),
		"TRIG:COUNT " + strconv.Itoa(len(levels)),
		":TRIG:ACQ:DEL " + rtext(acqDelay),
	}
	for _, cmd := range cmds {
		if err := b.port.Write(cmd); err != nil {
			return err
		}
	}
	debug.Log("smu", "prepared list sweep: %d points, step %s s, compliance %s A",
		len(levels), step.RatString(), ftext(compliance))
	return nil
}

// SetVoltage sets a fixed source voltage.
func (b *B2901A) SetVoltage(v float64) error {
	return b.port.Write(":VOLT " + ftext(v))
}

// SetCompliance sets the current compliance (protection) level in amps.
func (b *B2901A) SetCompliance(a float64) error {
	return b.port.Write(":SENS:CURR:PROT " + ftext(a))
}

// PrepareFixedVoltage configures a constant voltage source with
// continuous triggering, for spot measurements.
func (b *B2901A) PrepareFixedVoltage(v, compliance float64) error {
	cmds := []string{
		"*RST",
		":FUNC:MODE VOLT",
		":FUNC DC",
		":SOUR:VOLT:RANG:AUTO ON",
		":SOURCE:VOLT:MODE FIX",
		":VOLT " + ftext(v),
		":FUNC:TRIG:CONT ON",
		":SENS:FUNC CURR",
		":SENS:CURR:RANG:AUTO ON",
		":SENS:CURR:PROT " + ftext(compliance),
	}
	for _, cmd := range cmds {
		if err := b.port.Write(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Measure performs a spot measurement with the current parameters.
func (b *B2901A) Measure() (float64, error) {
	reply, err := b.port.Ask(":MEAS?", 100)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(reply, 64)
	if err != nil {
		return 0, &CommError{Op: "parse :MEAS? reply " + reply, Err: err}
	}
	return v, nil
}

// FetchVoltages reads back the voltages measured during the last
// sweep. points sizes the read; the reply carries roughly ten bytes
// per point.
func (b *B2901A) FetchVoltages(points int) ([]float64, error) {
	return b.fetchArray(":FETCH:ARR:VOLT?", points)
}

// FetchCurrents reads back the currents measured during the last sweep.
func (b *B2901A) FetchCurrents(points int) ([]float64, error) {
	return b.fetchArray(":FETCH:ARR:CURR?", points)
}

func (b *B2901A) fetchArray(cmd string, points int) ([]float64, error) {
	reply, err := b.port.Ask(cmd, 10*points)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(reply, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, &CommError{Op: "parse " + cmd + " reply", Err: err}
		}
		out = append(out, v)
	}
	return out, nil
}

// Close releases the device handle.
func (b *B2901A) Close() error {
	return b.port.Close()
}

// levelList renders voltages the way :LIST:VOLT wants them, comma
// separated with no brackets.
func levelList(levels []float64) string {
	parts := make([]string, len(levels))
	for i, v := range levels {
		parts[i] = ftext(v)
	}
	return strings.Join(parts, ",")
}

func ftext(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// rtext renders a rational for the wire. Integers go out exact;
// anything else goes through float formatting, which is fine here
// because the instrument parses floats anyway — exactness only matters
// for the host-side quantization math.
func rtext(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	f, _ := r.Float64()
	return strconv.FormatFloat(f, 'g', -1, 64)
}
