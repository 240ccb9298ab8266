package instrument

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Port is a simplistic USB-TMC "driver": the kernel usbtmc module does
// the real work, this just reads and writes the character device. The
// device must already have enumerated, i.e. /dev/usbtmc0 or similar
// exists.
type Port struct {
	path string
	f    *os.File
}

// OpenPort opens a usbtmc character device, typically /dev/usbtmc0.
func OpenPort(path string) (*Port, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, &CommError{Op: "open " + path, Err: err}
	}
	return &Port{path: path, f: f}, nil
}

// Path returns the device path this port was opened on.
func (p *Port) Path() string {
	return p.path
}

// Write sends a command string to the instrument, adding the terminal
// newline.
func (p *Port) Write(cmd string) error {
	if _, err := p.f.Write([]byte(cmd + "\n")); err != nil {
		return &CommError{Op: "write " + cmd, Err: err}
	}
	return nil
}

// Read reads up to n bytes of text from the instrument and strips
// surrounding whitespace and the terminal newline.
func (p *Port) Read(n int) (string, error) {
	buf := make([]byte, n)
	c, err := p.f.Read(buf)
	if err != nil {
		return "", &CommError{Op: "read", Err: err}
	}
	return strings.TrimSpace(string(buf[:c])), nil
}

// Ask is a combined write/read for commands ending in '?'.
func (p *Port) Ask(cmd string, n int) (string, error) {
	if err := p.Write(cmd); err != nil {
		return "", err
	}
	return p.Read(n)
}

// Close closes the underlying file. Not normally necessary, the kernel
// cleans up on exit.
func (p *Port) Close() error {
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	return err
}

// FindDevices scans /dev for usbtmc entries and returns their full
// paths in stable order.
func FindDevices() ([]string, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, err
	}
	var found []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "usbtmc") {
			found = append(found, filepath.Join("/dev", e.Name()))
		}
	}
	sort.Strings(found)
	return found, nil
}
