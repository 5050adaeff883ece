package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodePacket(t *testing.T) {
	packet := EncodeCommand("PWR01")

	if len(packet) != HeaderSize+8 {
		t.Fatalf("packet length = %d, want %d", len(packet), HeaderSize+8)
	}
	if !bytes.Equal(packet[:4], []byte("ISCP")) {
		t.Errorf("magic = %q, want ISCP", packet[:4])
	}
	if hs := binary.BigEndian.Uint32(packet[4:8]); hs != HeaderSize {
		t.Errorf("header size = %d, want %d", hs, HeaderSize)
	}
	if ds := binary.BigEndian.Uint32(packet[8:12]); ds != 8 {
		t.Errorf("data size = %d, want 8", ds)
	}
	if packet[12] != ProtocolVersion {
		t.Errorf("version = %d, want %d", packet[12], ProtocolVersion)
	}
	if !bytes.Equal(packet[13:16], []byte{0, 0, 0}) {
		t.Errorf("reserved bytes = %v, want zeros", packet[13:16])
	}
	if string(packet[HeaderSize:]) != "!1PWR01\x1a" {
		t.Errorf("payload = %q, want !1PWR01\\x1a", packet[HeaderSize:])
	}
}

func TestParsePacket(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		payload, err := ParsePacket(EncodeCommand("MVL32"))
		if err != nil {
			t.Fatalf("ParsePacket failed: %v", err)
		}
		if payload != "!1MVL32\x1a" {
			t.Errorf("payload = %q, want !1MVL32\\x1a", payload)
		}
	})

	t.Run("invalid utf8 replaced", func(t *testing.T) {
		packet := EncodePacket([]byte("!1NLS\xffC\x1a"))
		payload, err := ParsePacket(packet)
		if err != nil {
			t.Fatalf("ParsePacket failed: %v", err)
		}
		if payload != "!1NLS�C\x1a" {
			t.Errorf("payload = %q, want replacement rune for 0xff", payload)
		}
	})

	t.Run("truncated payload", func(t *testing.T) {
		packet := EncodeCommand("PWR01")
		if _, err := ParsePacket(packet[:len(packet)-2]); !errors.Is(err, ErrMalformedPacket) {
			t.Errorf("error = %v, want ErrMalformedPacket", err)
		}
	})
}

func TestParseHeader(t *testing.T) {
	valid := EncodeCommand("PWR01")

	tests := []struct {
		name   string
		mutate func([]byte)
	}{
		{name: "bad magic", mutate: func(b []byte) { b[0] = 'X' }},
		{name: "bad header size", mutate: func(b []byte) { binary.BigEndian.PutUint32(b[4:8], 32) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packet := append([]byte(nil), valid...)
			tt.mutate(packet)
			if _, err := ParseHeader(packet); !errors.Is(err, ErrMalformedPacket) {
				t.Errorf("error = %v, want ErrMalformedPacket", err)
			}
		})
	}

	t.Run("short input", func(t *testing.T) {
		if _, err := ParseHeader(valid[:10]); !errors.Is(err, ErrMalformedPacket) {
			t.Errorf("error = %v, want ErrMalformedPacket", err)
		}
	})

	t.Run("valid", func(t *testing.T) {
		h, err := ParseHeader(valid)
		if err != nil {
			t.Fatalf("ParseHeader failed: %v", err)
		}
		if h.DataSize != 8 {
			t.Errorf("DataSize = %d, want 8", h.DataSize)
		}
	})

	t.Run("unknown version accepted", func(t *testing.T) {
		packet := append([]byte(nil), valid...)
		packet[12] = 2
		h, err := ParseHeader(packet)
		if err != nil {
			t.Fatalf("ParseHeader failed: %v", err)
		}
		if h.Version != 2 {
			t.Errorf("Version = %d, want 2", h.Version)
		}
		if _, err := ParsePacket(packet); err != nil {
			t.Errorf("ParsePacket failed: %v", err)
		}
	})
}

func TestParseDiscoveryInfo(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    DeviceInfo
		ok      bool
	}{
		{
			name:    "receiver reply",
			payload: "!1ECNTX-NR609/60128/DX/0009B04A1234\x19\r\n",
			want:    DeviceInfo{Model: "TX-NR609", Port: 60128, AreaCode: "DX", Identifier: "0009B04A1234"},
			ok:      true,
		},
		{
			name:    "short identifier",
			payload: "!1ECNHT-R993/60128/XX/001122\x19",
			want:    DeviceInfo{Model: "HT-R993", Port: 60128, AreaCode: "XX", Identifier: "001122"},
			ok:      true,
		},
		{
			name:    "not a discovery reply",
			payload: "!1PWR01\x1a",
			ok:      false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, ok := ParseDiscoveryInfo(EncodePacket([]byte(tt.payload)))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && info != tt.want {
				t.Errorf("info = %+v, want %+v", info, tt.want)
			}
		})
	}

	t.Run("garbage datagram", func(t *testing.T) {
		if _, ok := ParseDiscoveryInfo([]byte("not a packet")); ok {
			t.Error("expected parse failure for a non-packet datagram")
		}
	})
}
