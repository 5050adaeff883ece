//go:build ignore

// Analyze-capture decodes a captured eISCP byte stream.
//
// The input is either a raw binary capture of a receiver session or a
// hex dump (whitespace ignored). Each packet is printed with its frame
// details and, where the command registry recognizes it, the
// translated zone/command/value.
//
// Usage: go run tools/analyze-capture.go <capture-file>
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/avrkit/eiscp/internal/commands"
	"github.com/avrkit/eiscp/internal/protocol"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: analyze-capture <capture-file>")
		fmt.Println("The file may be raw bytes or a hex dump.")
		os.Exit(1)
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Printf("Error reading file: %v\n", err)
		os.Exit(1)
	}
	data = normalize(data)

	registry, err := commands.Default()
	if err != nil {
		fmt.Printf("Error loading command registry: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== eISCP Capture Analyzer ===\n")
	fmt.Printf("File: %s (%d bytes)\n\n", os.Args[1], len(data))

	offset := 0
	packets := 0
	for len(data)-offset >= protocol.HeaderSize {
		header, err := protocol.ParseHeader(data[offset:])
		if err != nil {
			// Skip forward to the next plausible packet start.
			next := strings.Index(string(data[offset+1:]), "ISCP")
			if next < 0 {
				fmt.Printf("[%06x] %d trailing bytes of garbage\n", offset, len(data)-offset)
				break
			}
			fmt.Printf("[%06x] skipping %d garbage bytes\n", offset, next+1)
			offset += next + 1
			continue
		}

		total := protocol.HeaderSize + int(header.DataSize)
		if len(data)-offset < total {
			fmt.Printf("[%06x] truncated packet (%d of %d bytes)\n",
				offset, len(data)-offset, total)
			break
		}

		packets++
		frame := data[offset : offset+total]
		payload, err := protocol.ParsePacket(frame)
		if err != nil {
			fmt.Printf("[%06x] undecodable packet: %v\n", offset, err)
			offset += total
			continue
		}

		fmt.Printf("[%06x] packet %d, %d data bytes\n", offset, packets, header.DataSize)
		fmt.Printf("         payload: %q\n", payload)

		if message, err := protocol.ParseMessage(payload); err != nil {
			fmt.Printf("         message: malformed (%v)\n", err)
		} else if update, err := registry.FromWire(message); err != nil {
			fmt.Printf("         message: %q (untranslated)\n", message)
		} else {
			fmt.Printf("         decoded: %s.%s = %v\n", update.Zone, update.Command, update.Value)
		}
		offset += total
	}

	fmt.Printf("\n%d packet(s) decoded\n", packets)
}

// normalize returns the raw bytes of the capture, decoding hex dumps
// when the file contains only hex digits and whitespace.
func normalize(data []byte) []byte {
	compact := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			return -1
		}
		return r
	}, string(data))

	decoded, err := hex.DecodeString(compact)
	if err != nil {
		return data
	}
	return decoded
}
