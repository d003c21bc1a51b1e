package openprotocol

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/opclient/internal/openprotocol/frame"
	"github.com/ehrlich-b/opclient/internal/openprotocol/mid"
)

// testHarness wires a Client to one end of a net.Pipe, with the other
// end available for the test to play the controller, and a fakeClock in
// place of wall-clock time.
type testHarness struct {
	client *Client
	server net.Conn
	clock  *fakeClock
	events chan Event
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	cfg := DefaultConfig("controller.local")
	c, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	fc := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c.clock = fc
	c.tracker.now = fc.Now
	c.dial = func(ctx context.Context, host string, port int) (Stream, error) {
		return clientConn, nil
	}

	events := make(chan Event, 256)
	c.AddListener(ListenerFunc(func(e Event) {
		select {
		case events <- e:
		default:
		}
	}))

	return &testHarness{client: c, server: serverConn, clock: fc, events: events}
}

// waitEvent drains h.events until it finds one whose eventName matches
// name, failing the test if none arrives within the timeout.
func (h *testHarness) waitEvent(t *testing.T, name string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-h.events:
			if e.eventName() == name {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", name)
		}
	}
}

func readFrame(t *testing.T, r io.Reader) frame.Frame {
	t.Helper()
	lenBuf := make([]byte, frame.LengthLen)
	_, err := io.ReadFull(r, lenBuf)
	require.NoError(t, err)
	n := 0
	for _, b := range lenBuf {
		n = n*10 + int(b-'0')
	}
	rest := make([]byte, n-frame.LengthLen)
	_, err = io.ReadFull(r, rest)
	require.NoError(t, err)
	buf := append(append([]byte{}, lenBuf...), rest...)
	_, fr, err := frame.Decode(buf)
	require.NoError(t, err)
	require.NotNil(t, fr)
	return *fr
}

// rawFrame builds a wire frame with an explicit revision, bypassing
// frame.Encode (which always emits revision "001") so tests can simulate
// a controller declaring Rev 2/3/4.
func rawFrame(mid, revision string, noAck bool, spindle string, payload []byte) []byte {
	ackByte := byte('0')
	if noAck {
		ackByte = '1'
	}
	if spindle == "" {
		spindle = "01"
	}
	body := make([]byte, 0, frame.HeaderLen+len(payload))
	body = append(body, mid...)
	body = append(body, revision...)
	body = append(body, ackByte)
	body = append(body, "01"...)
	body = append(body, spindle...)
	body = append(body, "    "...)
	body = append(body, payload...)
	total := len(body) + frame.LengthLen
	out := []byte(fmt.Sprintf("%04d", total))
	return append(out, body...)
}

func writeRaw(t *testing.T, w io.Writer, buf []byte) {
	t.Helper()
	_, err := w.Write(buf)
	require.NoError(t, err)
}

func TestConnectSendsCommStartAndAutoSubscribes(t *testing.T) {
	h := newTestHarness(t)
	defer h.server.Close()

	go func() {
		_ = h.client.Connect(context.Background())
	}()

	fr := readFrame(t, h.server)
	require.Equal(t, mid.CommStart, fr.Header.MID)

	writeRaw(t, h.server, rawFrame(mid.CommStartAck, "001", true, "", nil))

	subFr := readFrame(t, h.server)
	require.Equal(t, mid.SubscribeResults, subFr.Header.MID)
	alarmFr := readFrame(t, h.server)
	require.Equal(t, mid.SubscribeAlarms, alarmFr.Header.MID)

	le := h.waitEvent(t, "linkEstablished")
	require.Equal(t, 1, le.(LinkEstablished).Revision)
	require.True(t, h.client.IsReady())
}

func TestHeartbeatSentAfterIdleThreshold(t *testing.T) {
	h := newTestHarness(t)
	defer h.server.Close()

	go func() { _ = h.client.Connect(context.Background()) }()
	readFrame(t, h.server) // comm-start

	drained := make(chan struct{})
	go func() {
		writeRaw(t, h.server, rawFrame(mid.CommStartAck, "001", true, "", nil))
		readFrame(t, h.server) // subscribe results
		readFrame(t, h.server) // subscribe alarms
		close(drained)
	}()
	<-drained

	hbCh := make(chan struct{})
	go func() {
		hb := readFrame(t, h.server)
		if hb.Header.MID == mid.Heartbeat {
			close(hbCh)
		}
	}()

	h.clock.Advance(8 * time.Second)

	select {
	case <-hbCh:
	case <-time.After(2 * time.Second):
		t.Fatal("expected heartbeat frame after idle threshold")
	}
}

func TestCommandTimeoutFiresAfterDeadline(t *testing.T) {
	h := newTestHarness(t)
	defer h.server.Close()

	go func() { _ = h.client.Connect(context.Background()) }()
	readFrame(t, h.server) // comm-start
	go func() {
		writeRaw(t, h.server, rawFrame(mid.CommStartAck, "001", true, "", nil))
		readFrame(t, h.server) // subscribe results
		readFrame(t, h.server) // subscribe alarms
	}()
	h.waitEvent(t, "linkEstablished")

	go func() { _ = h.client.EnableTool() }()
	readFrame(t, h.server) // 0042, never acked

	h.clock.Advance(6 * time.Second)

	timeoutEvt := h.waitEvent(t, "commandTimeout")
	require.Equal(t, mid.EnableTool, timeoutEvt.(CommandTimeout).MID)
}

func TestInterlockBlocksStartTighteningWhenNotConnected(t *testing.T) {
	h := newTestHarness(t)
	err := h.client.StartTightening()
	require.Error(t, err)
	var ie *interlockError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, "NOT_CONNECTED", ie.Code)
}

func TestCycleAggregatesAllSpindlesAndCompletes(t *testing.T) {
	h := newTestHarness(t)
	defer h.server.Close()

	go func() { _ = h.client.Connect(context.Background()) }()
	readFrame(t, h.server) // comm-start
	go func() {
		writeRaw(t, h.server, rawFrame(mid.CommStartAck, "001", true, "", nil))
		readFrame(t, h.server) // subscribe results
		readFrame(t, h.server) // subscribe alarms
	}()
	h.waitEvent(t, "linkEstablished")

	h.client.mu.Lock()
	h.client.state.Tool.SpindleCount = 2
	h.client.state.Tool.SpindleCountSource = SpindleCountManual
	h.client.mu.Unlock()

	// tool status: controller ready, tool enabled, tool running rises -> starts cycle
	writeRaw(t, h.server, rawFrame(mid.ToolStatus, "001", true, "", []byte("1110")))
	h.waitEvent(t, "tighteningCycleStarted")

	result1 := []byte("T000000001" + "001234" + "000090" + "11")
	writeRaw(t, h.server, rawFrame(mid.LastResult, "001", true, "01", result1))
	ackFr := readFrame(t, h.server)
	require.Equal(t, mid.ResultAck, ackFr.Header.MID)
	h.waitEvent(t, "spindleResult")

	result2 := []byte("T000000002" + "001234" + "000090" + "11")
	writeRaw(t, h.server, rawFrame(mid.LastResult, "001", true, "02", result2))
	readFrame(t, h.server) // ack

	completed := h.waitEvent(t, "tighteningCycleCompleted")
	cc := completed.(TighteningCycleCompleted)
	require.Len(t, cc.Results, 2)
	require.True(t, cc.OverallOK)
}

func TestWatchdogFiresWhenSpindlesMissing(t *testing.T) {
	h := newTestHarness(t)
	defer h.server.Close()

	go func() { _ = h.client.Connect(context.Background()) }()
	readFrame(t, h.server)
	go func() {
		writeRaw(t, h.server, rawFrame(mid.CommStartAck, "001", true, "", nil))
		readFrame(t, h.server)
		readFrame(t, h.server)
	}()
	h.waitEvent(t, "linkEstablished")

	h.client.mu.Lock()
	h.client.state.Tool.SpindleCount = 2
	h.client.state.Tool.SpindleCountSource = SpindleCountManual
	h.client.mu.Unlock()

	writeRaw(t, h.server, rawFrame(mid.ToolStatus, "001", true, "", []byte("1110")))
	h.waitEvent(t, "tighteningCycleStarted")

	// The 7s-idle heartbeat is written during the advance; drain the
	// controller end so that write does not block the tick.
	go func() { _, _ = io.Copy(io.Discard, h.server) }()

	h.clock.Advance(9 * time.Second)

	incomplete := h.waitEvent(t, "tighteningIncomplete")
	ti := incomplete.(TighteningIncomplete)
	require.Equal(t, 2, ti.Expected)
	require.Equal(t, 0, ti.Received)
}

func TestDisconnectAbortsPendingCommands(t *testing.T) {
	h := newTestHarness(t)

	go func() { _ = h.client.Connect(context.Background()) }()
	readFrame(t, h.server)
	go func() {
		writeRaw(t, h.server, rawFrame(mid.CommStartAck, "001", true, "", nil))
		readFrame(t, h.server)
		readFrame(t, h.server)
	}()
	h.waitEvent(t, "linkEstablished")

	go func() { _ = h.client.EnableTool() }()
	readFrame(t, h.server) // 0042

	require.NoError(t, h.server.Close())

	h.waitEvent(t, "commandAborted")
	h.waitEvent(t, "disconnected")
}
