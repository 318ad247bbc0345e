// Package slcan drives a Lawicel SLCAN (serial-line CAN) adapter such as a
// CANable or CANtact stick. Commands and frames travel as short ASCII
// records over a plain serial port.
package slcan

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/inkley/sensorctl/internal/can"
	"github.com/inkley/sensorctl/pkg/logger"
)

const (
	serialBaud = 115200

	// Read timeout on the port. A quiet interval of this length is how
	// Recv reports emptiness, which keeps stop checks in callers bounded.
	readTimeout = 100 * time.Millisecond
)

// serialPort is the slice of serial.Port the adapter uses. Tests substitute
// an in-memory fake.
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(time.Duration) error
	ResetInputBuffer() error
}

// Adapter is an open SLCAN channel. Send and Close may be called from any
// goroutine; Recv must have a single caller at a time.
type Adapter struct {
	device string

	wmu  sync.Mutex // serializes writes
	cmu  sync.Mutex // guards port teardown
	port serialPort

	rxBuf   []byte
	pending []can.Frame
}

// Open dials the serial device and brings the CAN channel up: any stale
// channel is closed, the bitrate is programmed, then the channel is opened.
func Open(device string, bitrate int) (*Adapter, error) {
	code, ok := bitrateCodes[bitrate]
	if !ok {
		return nil, fmt.Errorf("slcan: unsupported bitrate %d", bitrate)
	}

	mode := &serial.Mode{
		BaudRate: serialBaud,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("slcan: open %s: %w", device, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("slcan: set read timeout on %s: %w", device, err)
	}

	a, err := setup(device, port, code)
	if err != nil {
		return nil, err
	}
	logger.Log.Infof("[%s] SLCAN channel open at %d bit/s", device, bitrate)
	return a, nil
}

// setup runs the channel bring-up sequence on an already-open port. Acks are
// drained rather than checked strictly; adapters differ in how they answer C
// when no channel is open.
func setup(device string, port serialPort, code byte) (*Adapter, error) {
	a := &Adapter{device: device, port: port}

	// Flush any half-typed command left in the adapter first.
	a.port.ResetInputBuffer()
	cmds := [][]byte{
		[]byte("\r\r\r"),
		[]byte("C\r"),
		{'S', code, cr},
		[]byte("O\r"),
	}
	for _, cmd := range cmds {
		if _, err := a.port.Write(cmd); err != nil {
			a.port.Close()
			return nil, fmt.Errorf("slcan: setup %s: %w", device, err)
		}
		a.drainInput()
	}
	return a, nil
}

// Device returns the serial device name the adapter was opened on.
func (a *Adapter) Device() string {
	return a.device
}

// Send transmits one frame.
func (a *Adapter) Send(f can.Frame) error {
	rec, err := encodeFrame(f)
	if err != nil {
		return fmt.Errorf("slcan: encode frame: %w", err)
	}
	rec = append(rec, cr)

	a.wmu.Lock()
	defer a.wmu.Unlock()
	if a.port == nil {
		return fmt.Errorf("slcan: %s is closed", a.device)
	}
	logger.Log.Debugf("[%s] TX: %s", a.device, f)
	if _, err := a.port.Write(rec); err != nil {
		return fmt.Errorf("slcan: write %s: %w", a.device, err)
	}
	return nil
}

// Recv returns the next received frame. ok is false when the port stayed
// quiet for the read timeout; err is non-nil only for real transport
// failures. Non-frame records (command acks, status replies) are skipped.
func (a *Adapter) Recv() (can.Frame, bool, error) {
	for {
		if len(a.pending) > 0 {
			f := a.pending[0]
			a.pending = a.pending[1:]
			logger.Log.Debugf("[%s] RX: %s", a.device, f)
			return f, true, nil
		}

		a.cmu.Lock()
		port := a.port
		a.cmu.Unlock()
		if port == nil {
			return can.Frame{}, false, fmt.Errorf("slcan: %s is closed", a.device)
		}
		chunk := make([]byte, 512)
		n, err := port.Read(chunk)
		if err != nil {
			return can.Frame{}, false, fmt.Errorf("slcan: read %s: %w", a.device, err)
		}
		if n == 0 {
			// Read timeout elapsed with no data.
			return can.Frame{}, false, nil
		}
		a.rxBuf = append(a.rxBuf, chunk[:n]...)
		a.parseBuffer()
	}
}

// parseBuffer splits rxBuf into CR-terminated records and queues the data
// frames among them. A lone BEL is the adapter rejecting a command.
func (a *Adapter) parseBuffer() {
	start := 0
	for i := 0; i < len(a.rxBuf); i++ {
		switch a.rxBuf[i] {
		case cr:
			if f, ok := parseRecord(a.rxBuf[start:i]); ok {
				a.pending = append(a.pending, f)
			}
			start = i + 1
		case bel:
			logger.Log.Warnf("[%s] adapter rejected command", a.device)
			start = i + 1
		}
	}
	a.rxBuf = append(a.rxBuf[:0], a.rxBuf[start:]...)
}

// drainInput discards incoming bytes until the port goes quiet. Used only
// during setup, before frame reception starts.
func (a *Adapter) drainInput() {
	buf := make([]byte, 256)
	for {
		n, err := a.port.Read(buf)
		if err != nil || n == 0 {
			return
		}
	}
}

// Close shuts the CAN channel and releases the serial port. Safe to call
// more than once.
func (a *Adapter) Close() error {
	a.cmu.Lock()
	defer a.cmu.Unlock()
	if a.port == nil {
		return nil
	}
	port := a.port

	a.wmu.Lock()
	port.Write([]byte("C\r")) // best effort
	a.port = nil
	a.wmu.Unlock()

	if err := port.Close(); err != nil {
		return fmt.Errorf("slcan: close %s: %w", a.device, err)
	}
	logger.Log.Infof("[%s] SLCAN channel closed", a.device)
	return nil
}
