package protocol

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/avrkit/eiscp/internal/commands"
)

type recordingListener struct {
	updates     []commands.Update
	connects    int
	disconnects int
	lastErr     error
}

func (l *recordingListener) OnUpdate(u commands.Update) { l.updates = append(l.updates, u) }
func (l *recordingListener) OnConnect()                 { l.connects++ }
func (l *recordingListener) OnConnectionLost(err error) {
	l.disconnects++
	l.lastErr = err
}

func newTestHandler(t *testing.T) (*Handler, *recordingListener) {
	t.Helper()
	reg, err := commands.Default()
	if err != nil {
		t.Fatalf("loading command registry: %v", err)
	}
	l := &recordingListener{}
	return NewHandler(reg, l), l
}

func TestHandlerFeedSinglePacket(t *testing.T) {
	h, l := newTestHandler(t)

	h.Feed(EncodeCommand("PWR01"))

	if len(l.updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(l.updates))
	}
	want := commands.Update{Zone: "main", Command: "system-power", Value: "on"}
	if !reflect.DeepEqual(l.updates[0], want) {
		t.Errorf("update = %+v, want %+v", l.updates[0], want)
	}
}

func TestHandlerFeedSplitAcrossChunks(t *testing.T) {
	h, l := newTestHandler(t)

	packet := EncodeCommand("MVL32")
	for i := range packet {
		h.Feed(packet[i : i+1])
	}

	if len(l.updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(l.updates))
	}
	if l.updates[0].Value != 0x32 {
		t.Errorf("value = %v, want %d", l.updates[0].Value, 0x32)
	}
}

func TestHandlerFeedCoalescedPackets(t *testing.T) {
	h, l := newTestHandler(t)

	chunk := append(EncodeCommand("PWR01"), EncodeCommand("AMT00")...)
	h.Feed(chunk)

	if len(l.updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(l.updates))
	}
	if l.updates[0].Command != "system-power" || l.updates[1].Command != "audio-muting" {
		t.Errorf("updates out of order: %+v", l.updates)
	}
}

func TestHandlerResyncAfterCorruption(t *testing.T) {
	h, l := newTestHandler(t)

	stream := append([]byte("GARBAGE BYTES"), EncodeCommand("PWR00")...)
	h.Feed(stream)

	if len(l.updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(l.updates))
	}
	if l.updates[0].Value != "standby,off" {
		t.Errorf("value = %v, want standby,off", l.updates[0].Value)
	}
}

func TestHandlerDropsUntranslatableAndContinues(t *testing.T) {
	h, l := newTestHandler(t)

	// An unknown mnemonic between two known ones must not stall the stream.
	stream := EncodeCommand("PWR01")
	stream = append(stream, EncodeCommand("XYZ99")...)
	stream = append(stream, EncodeCommand("AMT01")...)
	h.Feed(stream)

	if len(l.updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(l.updates))
	}
	if l.updates[1].Command != "audio-muting" {
		t.Errorf("second update = %+v, want audio-muting", l.updates[1])
	}
}

func TestHandlerSend(t *testing.T) {
	h, _ := newTestHandler(t)
	var out bytes.Buffer
	h.AttachTransport(&out)

	if err := h.Send("zone2.volume=66"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !bytes.Equal(out.Bytes(), EncodeCommand("ZVL42")) {
		t.Errorf("wrote %q, want encoded ZVL42 packet", out.Bytes())
	}
}

func TestHandlerSendRejectsBadSpec(t *testing.T) {
	h, _ := newTestHandler(t)
	var out bytes.Buffer
	h.AttachTransport(&out)

	if err := h.Send("main.no-such-command=on"); !errors.Is(err, commands.ErrInvalidCommand) {
		t.Errorf("error = %v, want ErrInvalidCommand", err)
	}
	if out.Len() != 0 {
		t.Errorf("rejected command still wrote %d bytes", out.Len())
	}
}

func TestHandlerSendWithoutTransport(t *testing.T) {
	h, _ := newTestHandler(t)

	// Valid spec, no transport: logged and dropped, not an error.
	if err := h.Send("main.system-power=on"); err != nil {
		t.Errorf("Send without transport returned %v, want nil", err)
	}
}

func TestHandlerTransportLifecycle(t *testing.T) {
	h, l := newTestHandler(t)

	h.AttachTransport(io.Discard)
	if !h.Connected() {
		t.Error("Connected() = false after attach")
	}
	if l.connects != 1 {
		t.Errorf("connects = %d, want 1", l.connects)
	}

	wantErr := errors.New("connection reset")
	h.DetachTransport(wantErr)
	if h.Connected() {
		t.Error("Connected() = true after detach")
	}
	if l.disconnects != 1 || !errors.Is(l.lastErr, wantErr) {
		t.Errorf("disconnects = %d, lastErr = %v", l.disconnects, l.lastErr)
	}
}
