package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"go-pcm/config"
	"go-pcm/debug"
	"go-pcm/instrument"
	"go-pcm/program"
	"go-pcm/scheduler"
	"go-pcm/theme"
	"go-pcm/tui"
	"go-pcm/waveform"
)

func main() {
	var (
		inFile     = flag.String("in", "", "waveform program file (default stdin)")
		device     = flag.String("device", "", "usbtmc device path (default: first /dev/usbtmc*)")
		compliance = flag.Float64("compliance", 0, "current compliance limit in amps (overrides config)")
		dry        = flag.Bool("dry", false, "dry run: record instrument commands, no hardware")
		monitor    = flag.Bool("tui", false, "interactive monitor")
		verbose    = flag.Bool("v", false, "debug logging to ~/.config/go-pcm/debug.log")
	)
	flag.Parse()

	if *verbose {
		if err := debug.Enable(); err != nil {
			fmt.Fprintf(os.Stderr, "debug log: %v\n", err)
		}
		defer debug.Disable()
	}

	if err := run(*inFile, *device, *compliance, *dry, *monitor); err != nil {
		fmt.Fprintf(os.Stderr, "go-pcm: %v\n", err)
		os.Exit(1)
	}
}

func run(inFile, device string, compliance float64, dry, monitor bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if compliance > 0 {
		cfg.Compliance = compliance
	}

	// Parse the program. Per-line errors are informational; the rest
	// of the program still runs.
	in := os.Stdin
	if inFile != "" {
		f, err := os.Open(inFile)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	res, err := program.Parse(in)
	if err != nil {
		return err
	}
	for _, perr := range res.Errors {
		fmt.Fprintf(os.Stderr, "parse: %v\n", perr)
	}

	reg := waveform.NewRegistry()
	if reg.Order, err = cfg.Order(); err != nil {
		return err
	}
	if reg.DefaultTick, err = cfg.Tick(); err != nil {
		return err
	}

	inst, err := openInstrument(device, cfg, dry)
	if err != nil {
		return err
	}
	defer inst.Close()

	sched := scheduler.New(reg, inst)
	sched.Compliance = cfg.Compliance
	sched.SafetyMargin = cfg.SafetyMargin
	sched.PollStatus = cfg.PollStatus
	sched.FetchResults = cfg.FetchResults

	if monitor {
		return shutdownOutput(inst, runTUI(sched, res, cfg))
	}

	sched.Log = func(format string, args ...any) {
		fmt.Printf(format+"\n", args...)
	}
	return shutdownOutput(inst, sched.Run(context.Background(), res.Ops))
}

// shutdownOutput leaves the bench safe: the relay is forced off no
// matter how the run ended, including a TUI quit mid-program. An
// earlier run error wins over a cleanup error.
func shutdownOutput(inst instrument.Instrument, runErr error) error {
	if err := inst.EnableOutput(false); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// openInstrument picks the device: the recorder for dry runs, else the
// SMU on the requested or first discovered usbtmc path.
func openInstrument(device string, cfg *config.Config, dry bool) (instrument.Instrument, error) {
	if dry {
		fmt.Println("dry run: instrument commands will be recorded, not sent")
		return instrument.NewRecorder(), nil
	}

	path := device
	if path == "" {
		path = cfg.DevicePath
	}
	if path == "" {
		found, err := instrument.FindDevices()
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("no USB TMC devices found under /dev")
		}
		path = found[0]
	}

	fmt.Printf("connecting to %s\n", path)
	port, err := instrument.OpenPort(path)
	if err != nil {
		return nil, err
	}
	smu, err := instrument.NewB2901A(port)
	if err != nil {
		port.Close()
		return nil, err
	}
	fmt.Printf("device replied: %q\n", smu.IDN)
	return smu, nil
}

func runTUI(sched *scheduler.Scheduler, res *program.Result, cfg *config.Config) error {
	palette := theme.Default()
	if cfg.UI.Palette != "" {
		p, err := theme.LoadGPL(cfg.UI.Palette)
		if err != nil {
			fmt.Fprintf(os.Stderr, "palette: %v\n", err)
		} else {
			palette = p
		}
	}

	m := tui.NewModel(sched, res, theme.New(palette))
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
