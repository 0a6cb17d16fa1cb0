package serial

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.bug.st/serial"

	"github.com/PrunesLand/pingwheel-server/internal/ping"
)

// PortMock is a special port name that triggers the mock ping generator.
const PortMock = "MOCK"

// Frame layout: [ 'P' ] [ 2-byte length ] [ payload ]
const (
	frameHeader     = 'P'
	frameHeaderSize = 3
	MaxPayloadSize  = 4096
)

// ErrNotStarted is returned by Send when the device is not connected.
var ErrNotStarted = errors.New("device not started")

// Device is a serial link carrying ping packets.
type Device struct {
	PortName string
	BaudRate int
	// DataStream receives the payload of every complete frame.
	DataStream chan []byte

	mu   sync.Mutex
	port serial.Port
	mock bool
}

// New creates a new Device instance.
func New(port string, baud int) *Device {
	return &Device{
		PortName: port,
		BaudRate: baud,
		// If the consumer falls slightly behind, the reader won't block immediately.
		DataStream: make(chan []byte, 100),
	}
}

// Start opens the connection and starts the background reading loop.
// The loop stops and DataStream is closed when ctx is canceled.
func (d *Device) Start(ctx context.Context) error {
	if d.PortName == PortMock {
		d.mu.Lock()
		d.mock = true
		d.mu.Unlock()
		go d.mockLoop(ctx)
		return nil
	}

	mode := &serial.Mode{
		BaudRate: d.BaudRate,
	}
	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return fmt.Errorf("failed to open port %s: %w", d.PortName, err)
	}
	// Reads must return periodically so cancellation is noticed.
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return fmt.Errorf("failed to configure port %s: %w", d.PortName, err)
	}
	d.mu.Lock()
	d.port = port
	d.mu.Unlock()

	go d.readLoop(ctx, port)
	return nil
}

// Send writes payload as one frame.
func (d *Device) Send(payload []byte) error {
	frame, err := encodeFrame(payload)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mock {
		// Loop back, as if another node had sent it.
		select {
		case d.DataStream <- payload:
		default:
			slog.Warn("Data stream full, dropping looped back frame")
		}
		return nil
	}
	if d.port == nil {
		return ErrNotStarted
	}
	if _, err := d.port.Write(frame); err != nil {
		return fmt.Errorf("failed to write to port %s: %w", d.PortName, err)
	}
	return nil
}

func (d *Device) readLoop(ctx context.Context, port serial.Port) {
	defer func() {
		d.mu.Lock()
		port.Close()
		d.port = nil
		d.mu.Unlock()
		close(d.DataStream)
	}()

	slog.Info("Serial connected", "port", d.PortName, "baud", d.BaudRate)

	readBuf := make([]byte, 1024)
	var f framer
	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping serial reader")
			return
		default:
		}

		n, err := port.Read(readBuf)
		if err != nil {
			slog.Error("Serial read failed", "port", d.PortName, "error", err)
			return
		}
		if n == 0 {
			continue
		}
		for _, payload := range f.push(readBuf[:n]) {
			select {
			case d.DataStream <- payload:
			default:
				slog.Warn("Data stream full, dropping frame")
			}
		}
	}
}

// framer accumulates raw bytes and splits them into frame payloads.
type framer struct {
	buf []byte
}

func (f *framer) push(b []byte) [][]byte {
	f.buf = append(f.buf, b...)
	var payloads [][]byte
	for len(f.buf) > 0 {
		if f.buf[0] != frameHeader {
			f.buf = f.buf[1:]
			continue
		}
		if len(f.buf) < frameHeaderSize {
			break
		}
		size := int(binary.BigEndian.Uint16(f.buf[1:3]))
		if size > MaxPayloadSize {
			// Not a real header.
			f.buf = f.buf[1:]
			continue
		}
		if len(f.buf) < frameHeaderSize+size {
			break
		}
		payload := make([]byte, size)
		copy(payload, f.buf[frameHeaderSize:frameHeaderSize+size])
		f.buf = f.buf[frameHeaderSize+size:]
		payloads = append(payloads, payload)
	}
	return payloads
}

func encodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload of %d bytes exceeds %d", len(payload), MaxPayloadSize)
	}
	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(payload))
	frame[0] = frameHeader
	binary.BigEndian.PutUint16(frame[1:3], uint16(len(payload)))
	return append(frame, payload...), nil
}

var mockUsernames = []string{"Steve", "Alex", "Notch", "Jeb"}

// mockLoop generates synthetic pings circling the origin.
func (d *Device) mockLoop(ctx context.Context) {
	defer func() {
		d.mu.Lock()
		d.mock = false
		d.mu.Unlock()
		close(d.DataStream)
	}()
	slog.Info("Mock mode started: generating synthetic pings")

	ticker := time.NewTicker(1500 * time.Millisecond)
	defer ticker.Stop()

	t := 0.0
	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping mock reader")
			return
		case <-ticker.C:
			radius := 20 + rand.Float64()*200
			pkt := ping.Packet{
				Pos: ping.Vec3{
					X: radius * math.Cos(t),
					Y: 64,
					Z: radius * math.Sin(t),
				},
				Username: mockUsernames[rand.IntN(len(mockUsernames))],
			}
			if rand.IntN(4) == 0 {
				pkt.Channel = "guild"
			}
			if rand.IntN(3) == 0 {
				id := uuid.New()
				pkt.Entity = &id
			}
			t += 0.7

			payload, err := pkt.MarshalBinary()
			if err != nil {
				slog.Error("Failed to encode mock ping", "error", err)
				continue
			}
			d.mu.Lock()
			select {
			case d.DataStream <- payload:
			default:
			}
			d.mu.Unlock()
		}
	}
}

// ListPorts returns a list of available serial ports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// FindPreferredPort searches for a port matching specific patterns.
func FindPreferredPort(ports []string) string {
	for _, p := range ports {
		if strings.Contains(p, "usbmodem") || strings.Contains(p, "usbserial") {
			return p
		}
	}
	return ""
}
