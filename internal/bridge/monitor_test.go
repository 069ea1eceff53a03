package bridge

import (
	"strings"
	"testing"

	"github.com/orrbarkat/whatsapp-mcp/internal/bus"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// terminalQR renders a QR code the way the bridge prints one: half-block
// characters, one code per line block.
func terminalQR(t *testing.T, content string) string {
	t.Helper()
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		t.Fatal(err)
	}
	return q.ToSmallString(false)
}

// qrLinesOf extracts the trimmed block-character lines from a rendering,
// matching what the monitor is expected to capture.
func qrLinesOf(rendering string) []string {
	var out []string
	for _, line := range strings.Split(rendering, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && isQRLine(line) {
			out = append(out, line)
		}
	}
	return out
}

func TestMonitorCapturesQR(t *testing.T) {
	rendering := terminalQR(t, "pairing-code-1")
	input := "starting bridge\n" +
		qrStartMarker + "\n" +
		rendering + "\n" +
		"\n" +
		"waiting for scan\n"

	m := NewOutputMonitor(nil, zap.NewNop())
	m.Run(strings.NewReader(input))

	qr, ok := m.ConsumeQR()
	if !ok {
		t.Fatal("no QR captured")
	}
	want := strings.Join(qrLinesOf(rendering), "\n")
	if qr != want {
		t.Errorf("captured QR does not match rendering\ngot:\n%s\nwant:\n%s", qr, want)
	}

	// Each capture is handed out once.
	if _, ok := m.ConsumeQR(); ok {
		t.Error("second ConsumeQR should report nothing available")
	}
}

func TestMonitorQRTerminatedBySuccessMarker(t *testing.T) {
	rendering := terminalQR(t, "pairing-code-2")
	input := qrStartMarker + "\n" +
		rendering + "\n" +
		authSuccessMarker + "\n"

	m := NewOutputMonitor(nil, zap.NewNop())
	m.Run(strings.NewReader(input))

	if _, ok := m.ConsumeQR(); !ok {
		t.Fatal("QR terminated by the success marker should still be captured")
	}
}

func TestMonitorKeepsLatestQR(t *testing.T) {
	first := terminalQR(t, "stale-code")
	second := terminalQR(t, "fresh-code")
	input := qrStartMarker + "\n" + first + "\n\n" +
		"code expired, generating a new one\n" +
		qrStartMarker + "\n" + second + "\n\n"

	m := NewOutputMonitor(nil, zap.NewNop())
	m.Run(strings.NewReader(input))

	qr, ok := m.ConsumeQR()
	if !ok {
		t.Fatal("no QR captured")
	}
	if want := strings.Join(qrLinesOf(second), "\n"); qr != want {
		t.Error("monitor kept the stale rendering instead of the latest")
	}
}

func TestMonitorPublishesEvents(t *testing.T) {
	b := bus.New()
	outputCh, unsubOut := b.Subscribe("bridge.output", 64)
	defer unsubOut()
	qrCh, unsubQR := b.Subscribe("bridge.qr_captured", 4)
	defer unsubQR()

	m := NewOutputMonitor(b, zap.NewNop())
	rendering := terminalQR(t, "event-code")
	m.Run(strings.NewReader("hello\n" + qrStartMarker + "\n" + rendering + "\n\n"))

	if len(outputCh) == 0 {
		t.Error("no bridge.output events published")
	}
	if len(qrCh) != 1 {
		t.Errorf("bridge.qr_captured events = %d, want 1", len(qrCh))
	}
}

func TestMonitorTryLine(t *testing.T) {
	m := NewOutputMonitor(nil, zap.NewNop())
	m.Run(strings.NewReader("one\ntwo\n"))

	if line, ok := m.TryLine(); !ok || line != "one" {
		t.Errorf("TryLine() = %q, %v", line, ok)
	}
	if line, ok := m.TryLine(); !ok || line != "two" {
		t.Errorf("TryLine() = %q, %v", line, ok)
	}
	if _, ok := m.TryLine(); ok {
		t.Error("TryLine() on drained buffer should report nothing")
	}
}

func TestMonitorDropsWhenBufferFull(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < outputBufferSize*2; i++ {
		sb.WriteString("line\n")
	}

	m := NewOutputMonitor(nil, zap.NewNop())
	// Must return despite nobody draining the buffer.
	m.Run(strings.NewReader(sb.String()))

	drained := 0
	for {
		if _, ok := m.TryLine(); !ok {
			break
		}
		drained++
	}
	if drained != outputBufferSize {
		t.Errorf("buffered lines = %d, want cap of %d", drained, outputBufferSize)
	}
}

func TestIsFatalMarker(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"Required session table 'devices' does not exist", true},
		{"2024/05/01 Bridge initialization failed: no store", true},
		{"connected to WhatsApp", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsFatalMarker(tt.line); got != tt.want {
			t.Errorf("IsFatalMarker(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
