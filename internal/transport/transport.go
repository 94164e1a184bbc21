// Package transport performs one synchronous request/response exchange
// with a single cryptographic identity token over a serial line: opening
// the port exclusively, writing a frame, waiting out the device's settle
// and processing delays, and reading back a reply until it is complete or
// the read budget expires.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/sandgrain/gatemediator/internal/deviceproto"
)

var (
	// ErrPortOpen is returned when the serial port cannot be opened exclusively.
	ErrPortOpen = errors.New("transport: failed to open port")
	// ErrWrite is returned when the encoded frame cannot be written to the port.
	ErrWrite = errors.New("transport: failed to write frame")
	// ErrNoData is returned when the read loop never observes a single byte.
	ErrNoData = errors.New("transport: no data returned by device")
)

// Frame is one command to send to a device, paired with its challenge
// payload (nil for Identify/BIST).
type Frame struct {
	Command   deviceproto.Command
	Challenge []byte
}

// Transport performs one request/response exchange with a specific device
// endpoint. Implementations must be safe to call from one goroutine at a
// time; callers above this layer (the Serializer) are responsible for
// excluding concurrent calls across the whole process.
type Transport interface {
	// Exchange writes frame to endpoint and returns the decoded reply bytes.
	Exchange(ctx context.Context, endpoint string, frame Frame) ([]byte, error)
}

// serialPort is the subset of go.bug.st/serial.Port this package depends
// on, so tests can substitute a fake without opening a real device.
type serialPort interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	ResetOutputBuffer() error
	SetReadTimeout(t time.Duration) error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
}

type openFunc func(endpoint string, baud int) (serialPort, error)

func openSerialPort(endpoint string, baud int) (serialPort, error) {
	port, err := serial.Open(endpoint, &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}

// SerialTransport is the real Transport implementation, talking to tokens
// over a character-oriented serial link.
type SerialTransport struct {
	cfg  *Config
	open openFunc
	log  zerolog.Logger

	mu     sync.Mutex
	lastOp map[string]time.Time
}

// NewSerialTransport builds a SerialTransport with the given options.
func NewSerialTransport(log zerolog.Logger, opts ...Option) *SerialTransport {
	return &SerialTransport{
		cfg:    applyConfig(opts),
		open:   openSerialPort,
		log:    log,
		lastOp: make(map[string]time.Time),
	}
}

// Exchange implements Transport.
func (t *SerialTransport) Exchange(ctx context.Context, endpoint string, frame Frame) ([]byte, error) {
	t.enforceQuietPeriod(endpoint)

	outbound, err := deviceproto.BuildFrame(frame.Command, frame.Challenge)
	if err != nil {
		return nil, err
	}

	port, err := t.open(endpoint, t.cfg.BaudRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPortOpen, endpoint, err)
	}

	result, err := t.runExchange(ctx, port, outbound, frame.Command)

	_ = port.Close()
	t.mu.Lock()
	t.lastOp[endpoint] = time.Now()
	t.mu.Unlock()
	time.Sleep(t.cfg.Cooldown)

	return result, err
}

func (t *SerialTransport) enforceQuietPeriod(endpoint string) {
	t.mu.Lock()
	last, ok := t.lastOp[endpoint]
	t.mu.Unlock()
	if !ok {
		return
	}
	if wait := t.cfg.QuietPeriod - time.Since(last); wait > 0 {
		time.Sleep(wait)
	}
}

func (t *SerialTransport) runExchange(ctx context.Context, port serialPort, outbound []byte, cmd deviceproto.Command) ([]byte, error) {
	_ = port.ResetInputBuffer()
	_ = port.ResetOutputBuffer()
	time.Sleep(t.cfg.SettleDelay)
	_ = port.ResetInputBuffer()
	_ = port.ResetOutputBuffer()

	wire := deviceproto.EncodeWire(outbound)
	if _, err := port.Write(wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrite, err)
	}

	time.Sleep(deviceproto.ProcessingDelay(cmd))

	raw, err := t.readReply(ctx, port)
	if err != nil {
		return nil, err
	}

	decoded, err := deviceproto.DecodeHexStream(raw)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

// readReply loops reading from port until a byte has been seen and the
// inter-byte stall elapses, or the overall read budget expires. It tolerates
// "ghost reads" (the port claims data is available but returns zero bytes)
// up to GhostReadThreshold before giving up.
func (t *SerialTransport) readReply(ctx context.Context, port serialPort) ([]byte, error) {
	deadline := time.Now().Add(t.cfg.ReadBudget)
	_ = port.SetReadTimeout(t.cfg.ReadTimeout)

	var buf []byte
	var lastByteAt time.Time
	ghostReads := 0
	chunk := make([]byte, 256)

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if time.Now().After(deadline) {
			break
		}
		if len(buf) > 0 && time.Since(lastByteAt) > t.cfg.InterByteStall {
			break
		}

		n, err := port.Read(chunk)
		if n == 0 {
			if err != nil && err != io.EOF {
				break
			}
			ghostReads++
			if ghostReads >= t.cfg.GhostReadThreshold {
				break
			}
			continue
		}

		ghostReads = 0
		buf = append(buf, chunk[:n]...)
		lastByteAt = time.Now()
	}

	if len(buf) == 0 {
		return nil, ErrNoData
	}
	return buf, nil
}

// ResetLine toggles DTR/RTS to force the device to re-enumerate, used by the
// retry controller after sustained failures on an endpoint.
func (t *SerialTransport) ResetLine(ctx context.Context, endpoint string) error {
	port, err := t.open(endpoint, t.cfg.BaudRate)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPortOpen, endpoint, err)
	}
	defer port.Close()

	_ = port.SetDTR(false)
	_ = port.SetRTS(false)
	time.Sleep(50 * time.Millisecond)
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)
	time.Sleep(500 * time.Millisecond)
	return nil
}

// ProbeEndpoint briefly opens and closes endpoint, used by the device pool
// during enumeration to decide whether a candidate path is a live device.
func ProbeEndpoint(open openFunc, endpoint string) bool {
	port, err := open(endpoint, DefaultBaudRate)
	if err != nil {
		return false
	}
	_ = port.Close()
	return true
}

// DefaultOpenFunc exposes the package's real serial.Open wrapper so callers
// outside the package (the device pool) can probe endpoints the same way
// SerialTransport does, without depending on go.bug.st/serial directly.
func DefaultOpenFunc() openFunc { return openSerialPort }
