package protocol

import (
	"bytes"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/avrkit/eiscp/internal/commands"
	"github.com/avrkit/eiscp/internal/logging"
)

// Listener receives the handler's decoded events. Callbacks are invoked
// sequentially in wire order, never concurrently.
type Listener interface {
	// OnUpdate delivers one translated status message.
	OnUpdate(update commands.Update)
	// OnConnect fires when a transport is attached.
	OnConnect()
	// OnConnectionLost fires when the transport is detached. err is the
	// read error that ended the connection, or nil for a clean shutdown.
	OnConnectionLost(err error)
}

// Handler turns a raw eISCP byte stream into translated update events
// and translates outbound command specs onto the transport. A handler
// survives transport loss: detach it, attach the replacement, feed on.
type Handler struct {
	registry *commands.Registry
	listener Listener

	mu        sync.Mutex
	buf       []byte
	transport io.Writer
}

// NewHandler builds a handler translating through the given registry.
// listener may be nil when only sending is needed.
func NewHandler(registry *commands.Registry, listener Listener) *Handler {
	return &Handler{registry: registry, listener: listener}
}

// AttachTransport installs the writer used for outbound commands and
// discards any partial frame left over from a previous connection.
func (h *Handler) AttachTransport(w io.Writer) {
	h.mu.Lock()
	h.transport = w
	h.buf = nil
	h.mu.Unlock()
	if h.listener != nil {
		h.listener.OnConnect()
	}
}

// DetachTransport removes the current transport. err is the read error
// that ended the connection, or nil.
func (h *Handler) DetachTransport(err error) {
	h.mu.Lock()
	h.transport = nil
	h.mu.Unlock()
	if h.listener != nil {
		h.listener.OnConnectionLost(err)
	}
}

// Connected reports whether a transport is attached.
func (h *Handler) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transport != nil
}

// Feed consumes a chunk of the inbound byte stream. Chunks may split or
// merge packets arbitrarily; complete packets are decoded, translated
// and delivered in stream order. A packet that fails decoding or
// translation is logged and dropped, and processing continues with the
// next one.
func (h *Handler) Feed(data []byte) {
	h.mu.Lock()
	h.buf = append(h.buf, data...)
	updates := h.extractLocked()
	h.mu.Unlock()

	if h.listener == nil {
		return
	}
	for _, u := range updates {
		h.listener.OnUpdate(u)
	}
}

// extractLocked drains all complete packets from the buffer. Called
// with h.mu held; listener dispatch happens after the lock is released
// so a callback may call Send without deadlocking.
func (h *Handler) extractLocked() []commands.Update {
	var updates []commands.Update
	for len(h.buf) >= HeaderSize {
		header, err := ParseHeader(h.buf)
		if err != nil {
			logging.Warn("Dropping corrupt stream data", zap.Error(err))
			h.resyncLocked()
			continue
		}
		total := HeaderSize + int(header.DataSize)
		if len(h.buf) < total {
			break
		}
		frame := h.buf[:total]
		logging.LogFrame("recv", frame)

		if u, ok := h.decodeFrame(frame); ok {
			updates = append(updates, u)
		}
		h.buf = h.buf[total:]
	}
	if len(h.buf) == 0 {
		h.buf = nil
	}
	return updates
}

// resyncLocked skips past a corrupt header by scanning for the next
// packet magic in the buffer.
func (h *Handler) resyncLocked() {
	i := bytes.Index(h.buf[1:], magic)
	if i < 0 {
		h.buf = nil
		return
	}
	h.buf = h.buf[i+1:]
}

// decodeFrame runs one complete packet through the decode and translate
// pipeline. Failures are logged and reported as a skip, not an error:
// one unknown message must not stall the stream.
func (h *Handler) decodeFrame(frame []byte) (commands.Update, bool) {
	payload, err := ParsePacket(frame)
	if err != nil {
		logging.Warn("Dropping undecodable packet", zap.Error(err))
		return commands.Update{}, false
	}
	message, err := ParseMessage(payload)
	if err != nil {
		logging.Warn("Dropping malformed message", zap.Error(err))
		return commands.Update{}, false
	}
	update, err := h.registry.FromWire(message)
	if err != nil {
		logging.Debug("Dropping untranslatable message",
			zap.String("message", message), zap.Error(err))
		return commands.Update{}, false
	}
	return update, true
}

// Send resolves a free-text command spec ("zone2.volume=66") and writes
// it to the transport. A spec the registry rejects is returned as an
// error; a missing transport is only logged, since callers routinely
// send while a reconnect is in flight.
func (h *Handler) Send(spec string) error {
	wire, err := h.registry.ToWire(spec)
	if err != nil {
		return err
	}
	h.sendWire(wire)
	return nil
}

// SendCommand is Send for pre-split zone/command/argument tokens.
func (h *Handler) SendCommand(zone, command string, arguments ...string) error {
	wire, err := h.registry.ToWireParts(zone, command, arguments)
	if err != nil {
		return err
	}
	h.sendWire(wire)
	return nil
}

// SendRaw writes an already-encoded wire command ("PWR01") without
// consulting the registry.
func (h *Handler) SendRaw(command string) {
	h.sendWire(command)
}

func (h *Handler) sendWire(wire string) {
	packet := EncodeCommand(wire)

	h.mu.Lock()
	w := h.transport
	h.mu.Unlock()

	if w == nil {
		logging.Warn("Not connected, command dropped", zap.String("command", wire))
		return
	}
	logging.LogFrame("send", packet)
	if _, err := w.Write(packet); err != nil {
		logging.Warn("Failed to write command",
			zap.String("command", wire), zap.Error(err))
	}
}
