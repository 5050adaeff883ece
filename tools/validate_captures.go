//go:build ignore

// Validate-captures runs captured eISCP traffic through the decoder in
// bulk and reports how much of it parses and translates.
//
// Each input file is a raw binary capture or a hex dump of one session.
// A directory argument processes every *.bin and *.hex file in it.
//
// Usage: go run tools/validate_captures.go <directory-or-file>
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/avrkit/eiscp/internal/commands"
	"github.com/avrkit/eiscp/internal/protocol"
)

// Statistics tracks decoding results across all files.
type Statistics struct {
	TotalFiles     int
	TotalPackets   int
	DecodeSuccess  int
	DecodeFailure  int
	GarbageBytes   int
	ZoneCounts     map[string]int
	CommandCounts  map[string]int
	FailedPackets  []FailedPacket
}

// FailedPacket stores information about decoding failures.
type FailedPacket struct {
	File   string
	Offset int
	Error  string
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: validate_captures <directory-or-file>")
		fmt.Println("Example: validate_captures captures/")
		fmt.Println("         validate_captures session-20260831.bin")
		os.Exit(1)
	}

	path := os.Args[1]
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("Error accessing path: %v\n", err)
		os.Exit(1)
	}

	var files []string
	if info.IsDir() {
		for _, pattern := range []string{"*.bin", "*.hex"} {
			matches, err := filepath.Glob(filepath.Join(path, pattern))
			if err != nil {
				fmt.Printf("Error finding capture files: %v\n", err)
				os.Exit(1)
			}
			files = append(files, matches...)
		}
		if len(files) == 0 {
			fmt.Printf("No capture files found in %s\n", path)
			os.Exit(1)
		}
	} else {
		files = []string{path}
	}

	registry, err := commands.Default()
	if err != nil {
		fmt.Printf("Error loading command registry: %v\n", err)
		os.Exit(1)
	}

	stats := Statistics{
		ZoneCounts:    make(map[string]int),
		CommandCounts: make(map[string]int),
	}

	fmt.Printf("=== eISCP Capture Validator ===\n")
	fmt.Printf("Files to process: %d\n\n", len(files))

	for _, file := range files {
		processFile(file, registry, &stats)
	}
	printStatistics(&stats)
}

func processFile(filename string, registry *commands.Registry, stats *Statistics) {
	stats.TotalFiles++

	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Printf("Error reading file %s: %v\n", filename, err)
		return
	}
	data = normalize(data)

	offset := 0
	for len(data)-offset >= protocol.HeaderSize {
		header, err := protocol.ParseHeader(data[offset:])
		if err != nil {
			next := strings.Index(string(data[offset+1:]), "ISCP")
			if next < 0 {
				stats.GarbageBytes += len(data) - offset
				return
			}
			stats.GarbageBytes += next + 1
			offset += next + 1
			continue
		}

		total := protocol.HeaderSize + int(header.DataSize)
		if len(data)-offset < total {
			stats.DecodeFailure++
			stats.FailedPackets = append(stats.FailedPackets, FailedPacket{
				File: filename, Offset: offset, Error: "truncated packet",
			})
			return
		}

		stats.TotalPackets++
		offset += total
		frame := data[offset-total : offset]

		payload, err := protocol.ParsePacket(frame)
		if err != nil {
			recordFailure(stats, filename, offset-total, "packet", err)
			continue
		}
		message, err := protocol.ParseMessage(payload)
		if err != nil {
			recordFailure(stats, filename, offset-total, "message", err)
			continue
		}
		update, err := registry.FromWire(message)
		if err != nil {
			recordFailure(stats, filename, offset-total, "translation", err)
			continue
		}

		stats.DecodeSuccess++
		stats.ZoneCounts[update.Zone]++
		stats.CommandCounts[update.Zone+"."+update.Command]++
	}
}

func recordFailure(stats *Statistics, file string, offset int, stage string, err error) {
	stats.DecodeFailure++
	stats.FailedPackets = append(stats.FailedPackets, FailedPacket{
		File:   file,
		Offset: offset,
		Error:  fmt.Sprintf("%s: %v", stage, err),
	})
}

func printStatistics(stats *Statistics) {
	fmt.Printf("\n========================================\n")
	fmt.Printf("VALIDATION RESULTS\n")
	fmt.Printf("========================================\n\n")

	fmt.Printf("Files Processed:    %d\n", stats.TotalFiles)
	fmt.Printf("Total Packets:      %d\n", stats.TotalPackets)
	if stats.TotalPackets > 0 {
		fmt.Printf("Decode Success:     %d (%.2f%%)\n", stats.DecodeSuccess,
			float64(stats.DecodeSuccess)/float64(stats.TotalPackets)*100)
		fmt.Printf("Decode Failure:     %d (%.2f%%)\n", stats.DecodeFailure,
			float64(stats.DecodeFailure)/float64(stats.TotalPackets)*100)
	}
	if stats.GarbageBytes > 0 {
		fmt.Printf("Garbage Bytes:      %d\n", stats.GarbageBytes)
	}

	fmt.Printf("\n----------------------------------------\n")
	fmt.Printf("ZONE DISTRIBUTION\n")
	fmt.Printf("----------------------------------------\n")
	for zone, count := range stats.ZoneCounts {
		fmt.Printf("%-8s %d (%.2f%%)\n", zone, count,
			float64(count)/float64(stats.DecodeSuccess)*100)
	}

	fmt.Printf("\n----------------------------------------\n")
	fmt.Printf("TOP COMMANDS\n")
	fmt.Printf("----------------------------------------\n")
	shown := 0
	for command, count := range stats.CommandCounts {
		if shown >= 15 {
			fmt.Printf("(%d more)\n", len(stats.CommandCounts)-shown)
			break
		}
		fmt.Printf("%-36s %d\n", command, count)
		shown++
	}

	if len(stats.FailedPackets) > 0 {
		fmt.Printf("\n----------------------------------------\n")
		fmt.Printf("DECODE FAILURES (%d total)\n", len(stats.FailedPackets))
		fmt.Printf("----------------------------------------\n")
		maxShow := 10
		if len(stats.FailedPackets) > maxShow {
			fmt.Printf("(Showing first %d of %d failures)\n", maxShow, len(stats.FailedPackets))
		}
		for i, failed := range stats.FailedPackets {
			if i >= maxShow {
				break
			}
			fmt.Printf("\nFailure #%d:\n", i+1)
			fmt.Printf("  File: %s (offset 0x%x)\n", failed.File, failed.Offset)
			fmt.Printf("  Error: %s\n", failed.Error)
		}
	}

	fmt.Printf("\n========================================\n")
	if stats.DecodeFailure == 0 {
		fmt.Printf("All packets decoded successfully\n")
	} else {
		fmt.Printf("%d packet(s) failed to decode\n", stats.DecodeFailure)
	}
	fmt.Printf("========================================\n")
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
