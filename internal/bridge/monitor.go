// Package bridge supervises the external WhatsApp bridge process: starting
// and stopping it, watching its console output for QR codes and fatal
// startup errors, and probing its HTTP API for readiness.
package bridge

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/orrbarkat/whatsapp-mcp/internal/bus"
	"go.uber.org/zap"
)

const (
	qrStartMarker     = "Scan this QR code with your WhatsApp app:"
	authSuccessMarker = "Successfully connected and authenticated!"

	// outputBufferSize bounds the line buffer between the reader goroutine
	// and consumers. Lines beyond it are dropped, never blocked on.
	outputBufferSize = 512
)

// fatalMarkers are console lines that mean the bridge cannot come up.
var fatalMarkers = []string{
	"Required session table 'devices' does not exist",
	"Bridge initialization failed",
}

// IsFatalMarker reports whether a console line indicates an unrecoverable
// bridge startup failure.
func IsFatalMarker(line string) bool {
	for _, m := range fatalMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// qrBlockRunes are the half-block characters terminal QR renderings are
// made of. A captured QR line must contain at least one of them.
var qrBlockRunes = []rune{'█', '▄', '▀', '▐', '▌'}

func isQRLine(line string) bool {
	for _, r := range qrBlockRunes {
		if strings.ContainsRune(line, r) {
			return true
		}
	}
	return false
}

// OutputMonitor consumes the bridge's combined console output. It keeps a
// bounded buffer of recent lines, publishes each line on the event bus, and
// runs a small state machine that captures terminal QR code renderings.
//
// Only the most recent QR code is kept; a newer rendering replaces an
// unconsumed older one.
type OutputMonitor struct {
	logger *zap.Logger
	bus    *bus.Bus

	lines chan string

	mu        sync.Mutex
	capturing bool
	qrBuf     []string
	qr        string
	consumed  bool
}

func NewOutputMonitor(b *bus.Bus, logger *zap.Logger) *OutputMonitor {
	return &OutputMonitor{
		logger: logger,
		bus:    b,
		lines:  make(chan string, outputBufferSize),
	}
}

// Run reads r line by line until EOF. It is meant to be run in its own
// goroutine against the bridge's combined stdout/stderr pipe.
func (m *OutputMonitor) Run(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		select {
		case m.lines <- line:
		default:
			// Consumer is behind; dropping is preferable to stalling
			// the bridge's output pipe.
		}
		if m.bus != nil {
			m.bus.Publish(bus.Event{
				Kind:      "bridge.output",
				Timestamp: time.Now(),
				Payload:   line,
			})
		}

		m.observe(line)
	}
	if err := scanner.Err(); err != nil {
		m.logger.Warn("bridge output scan ended", zap.Error(err))
	}
}

// observe advances the QR capture state machine by one line.
func (m *OutputMonitor) observe(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if strings.Contains(line, qrStartMarker) {
		m.capturing = true
		m.qrBuf = nil
		return
	}
	if !m.capturing {
		return
	}

	switch {
	case strings.Contains(line, authSuccessMarker), line == "":
		m.finishCaptureLocked()
	case isQRLine(line):
		m.qrBuf = append(m.qrBuf, line)
	}
}

func (m *OutputMonitor) finishCaptureLocked() {
	m.capturing = false
	if len(m.qrBuf) == 0 {
		return
	}
	m.qr = strings.Join(m.qrBuf, "\n")
	m.consumed = false
	m.qrBuf = nil
	m.logger.Info("qr code captured from bridge output")
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "bridge.qr_captured",
			Timestamp: time.Now(),
		})
	}
}

// Flush discards all buffered output lines. The supervisor flushes before
// each launch so lines left over from a previous process run are never
// mistaken for the new one's startup output.
func (m *OutputMonitor) Flush() {
	for {
		select {
		case <-m.lines:
		default:
			return
		}
	}
}

// TryLine returns the next buffered output line without blocking.
func (m *OutputMonitor) TryLine() (string, bool) {
	select {
	case line := <-m.lines:
		return line, true
	default:
		return "", false
	}
}

// HasQR reports whether an unconsumed QR code is available.
func (m *OutputMonitor) HasQR() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.qr != "" && !m.consumed
}

// ConsumeQR returns the captured QR code and marks it consumed, so each
// rendering is handed out at most once.
func (m *OutputMonitor) ConsumeQR() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.qr == "" || m.consumed {
		return "", false
	}
	m.consumed = true
	return m.qr, true
}
