package protocol

import (
	"errors"
	"fmt"
)

// Inner ISCP message framing.
const (
	// StartChar opens every ISCP message.
	StartChar = '!'
	// UnitTypeReceiver addresses the AV receiver unit.
	UnitTypeReceiver = '1'
	// EOFChar terminates an ISCP message body.
	EOFChar = 0x1a
)

// ErrMalformedMessage indicates an ISCP message without the expected
// start character, unit type or terminator.
var ErrMalformedMessage = errors.New("malformed ISCP message")

// EncodeMessage wraps a wire command string (mnemonic plus value, e.g.
// "PWR01") in the ISCP message envelope: "!1" prefix and EOF terminator.
func EncodeMessage(command string) []byte {
	buf := make([]byte, 0, len(command)+3)
	buf = append(buf, StartChar, UnitTypeReceiver)
	buf = append(buf, command...)
	buf = append(buf, EOFChar)
	return buf
}

// ParseMessage strips the ISCP envelope from a received message and
// returns the inner command string. Receivers append up to two CR/LF
// characters after the EOF terminator; those are tolerated and removed.
func ParseMessage(raw string) (string, error) {
	s := raw
	for i := 0; i < 2 && len(s) > 0; i++ {
		last := s[len(s)-1]
		if last != '\r' && last != '\n' {
			break
		}
		s = s[:len(s)-1]
	}
	if len(s) < 3 {
		return "", fmt.Errorf("%w: %q is too short", ErrMalformedMessage, raw)
	}
	if s[0] != StartChar || s[1] != UnitTypeReceiver {
		return "", fmt.Errorf("%w: %q does not start with %q",
			ErrMalformedMessage, raw, string(StartChar)+string(UnitTypeReceiver))
	}
	if s[len(s)-1] != EOFChar {
		return "", fmt.Errorf("%w: %q is missing the EOF terminator", ErrMalformedMessage, raw)
	}
	return s[2 : len(s)-1], nil
}
