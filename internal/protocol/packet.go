package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Outer eISCP packet framing. Every TCP/UDP datagram carries a 16-byte
// big-endian header followed by the UTF-8 message payload.
const (
	// HeaderSize is the fixed length of the packet header.
	HeaderSize = 16
	// ProtocolVersion is stamped on every outbound packet. Inbound
	// packets are not checked against it; receivers keep the framing
	// stable across versions.
	ProtocolVersion = 0x01
)

// magic opens every packet header.
var magic = []byte("ISCP")

// ErrMalformedPacket indicates a packet whose header fails validation
// or whose payload is shorter than the header promises.
var ErrMalformedPacket = errors.New("malformed eISCP packet")

// Header is the decoded 16-byte packet header.
type Header struct {
	HeaderSize uint32
	DataSize   uint32
	Version    byte
}

// EncodePacket wraps a complete ISCP message in the eISCP packet
// envelope ready for the wire.
func EncodePacket(message []byte) []byte {
	buf := make([]byte, HeaderSize+len(message))
	copy(buf, magic)
	binary.BigEndian.PutUint32(buf[4:8], HeaderSize)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(message)))
	buf[12] = ProtocolVersion
	copy(buf[HeaderSize:], message)
	return buf
}

// EncodeCommand is the full outbound path: envelope a wire command
// string ("PWR01") into a ready-to-send packet.
func EncodeCommand(command string) []byte {
	return EncodePacket(EncodeMessage(command))
}

// ParseHeader validates and decodes a packet header. The input must be
// at least HeaderSize bytes; extra bytes are ignored.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d",
			ErrMalformedPacket, HeaderSize, len(data))
	}
	if !bytes.Equal(data[:4], magic) {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrMalformedPacket, data[:4])
	}
	h := Header{
		HeaderSize: binary.BigEndian.Uint32(data[4:8]),
		DataSize:   binary.BigEndian.Uint32(data[8:12]),
		Version:    data[12],
	}
	if h.HeaderSize != HeaderSize {
		return Header{}, fmt.Errorf("%w: header size %d", ErrMalformedPacket, h.HeaderSize)
	}
	return h, nil
}

// ParsePacket decodes a complete packet and returns the payload as a
// string. Bytes that are not valid UTF-8 are replaced rather than
// rejected; some firmware revisions emit stray high bytes in display
// messages.
func ParsePacket(data []byte) (string, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return "", err
	}
	end := HeaderSize + int(h.DataSize)
	if len(data) < end {
		return "", fmt.Errorf("%w: payload needs %d bytes, have %d",
			ErrMalformedPacket, h.DataSize, len(data)-HeaderSize)
	}
	return strings.ToValidUTF8(string(data[HeaderSize:end]), string(utf8.RuneError)), nil
}

// DeviceInfo is the receiver self-description carried in a discovery
// reply ("!1ECNTX-NR609/60128/DX/0009B04A1234").
type DeviceInfo struct {
	Model      string
	Port       int
	AreaCode   string
	Identifier string
}

// discoveryReplyPattern matches the ECN payload of a discovery reply.
var discoveryReplyPattern = regexp.MustCompile(
	`!(?:\d)ECN([^/]*)/(\d{5})/(\w{2})/(.{0,12})`)

// ParseDiscoveryInfo extracts the device description from a discovery
// reply datagram. The second return value is false when the datagram is
// not a well-formed discovery reply.
func ParseDiscoveryInfo(datagram []byte) (DeviceInfo, bool) {
	payload, err := ParsePacket(datagram)
	if err != nil {
		return DeviceInfo{}, false
	}
	m := discoveryReplyPattern.FindStringSubmatch(payload)
	if m == nil {
		return DeviceInfo{}, false
	}
	port, err := strconv.Atoi(m[2])
	if err != nil {
		return DeviceInfo{}, false
	}
	return DeviceInfo{
		Model:      m[1],
		Port:       port,
		AreaCode:   m[3],
		Identifier: strings.TrimRight(m[4], "\x00\x19\x1a\r\n "),
	}, true
}
