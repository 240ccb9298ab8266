package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go-pcm/instrument"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	var err error
	switch os.Args[1] {
	case "list":
		err = listDevices()
	case "idn":
		err = withSMU(func(smu *instrument.B2901A) error {
			fmt.Printf("manufacturer: %s\nmodel:        %s\nserial:       %s\nrevision:     %s\n",
				smu.Mfr, smu.Model, smu.Serial, smu.Revision)
			return nil
		})
	case "reset":
		err = withSMU((*instrument.B2901A).Reset)
	case "spot":
		if len(os.Args) < 3 {
			usage()
			return
		}
		var v float64
		v, err = strconv.ParseFloat(os.Args[2], 64)
		if err == nil {
			err = withSMU(func(smu *instrument.B2901A) error { return spot(smu, v) })
		}
	case "poll":
		err = withSMU(pollBusy)
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "smutest: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("SMU Test Scripts")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list      - List usbtmc devices under /dev")
	fmt.Println("  idn       - Identify the first device")
	fmt.Println("  reset     - Reset the first device")
	fmt.Println("  spot <v>  - Source <v> volts and spot-measure current")
	fmt.Println("  poll      - Watch the busy flag for a few seconds")
}

func listDevices() error {
	found, err := instrument.FindDevices()
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("No USB TMC devices found.")
		return nil
	}
	for i, path := range found {
		fmt.Printf("  %d: %s\n", i, path)
	}
	return nil
}

// withSMU connects to the first usbtmc device and runs fn against it.
func withSMU(fn func(*instrument.B2901A) error) error {
	found, err := instrument.FindDevices()
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return fmt.Errorf("no USB TMC devices found")
	}

	fmt.Printf("connecting to %s\n", found[0])
	port, err := instrument.OpenPort(found[0])
	if err != nil {
		return err
	}
	smu, err := instrument.NewB2901A(port)
	if err != nil {
		port.Close()
		return err
	}
	defer smu.Close()

	fmt.Printf("device replied: %q\n", smu.IDN)
	return fn(smu)
}

// spot sources a constant voltage and reads one current measurement,
// then shuts the output off again.
func spot(smu *instrument.B2901A, v float64) error {
	if err := smu.PrepareFixedVoltage(v, 0.01); err != nil {
		return err
	}
	if err := smu.EnableOutput(true); err != nil {
		return err
	}
	defer smu.EnableOutput(false)

	a, err := smu.Measure()
	if err != nil {
		return err
	}
	fmt.Printf("%g V -> %g A\n", v, a)
	return nil
}

func pollBusy(smu *instrument.B2901A) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	busy, err := smu.Busy()
	if err != nil {
		return err
	}
	fmt.Printf("busy: %v\n", busy)
	if !busy {
		return nil
	}

	fmt.Println("waiting for operation complete...")
	if err := instrument.WaitUntilDone(ctx, smu); err != nil {
		return err
	}
	fmt.Println("done")
	return nil
}
