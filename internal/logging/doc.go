// Package logging provides structured logging for the eISCP engine.
//
// This package wraps zap logger with convenience functions for common logging
// patterns used throughout the engine. It provides both general logging
// functions and specialized functions for protocol-specific logging needs.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Detailed debugging info (hex dumps, frame reassembly, backoff timing)
//   - Info: Normal operations (connections, discovery results, state changes)
//   - Warn: Non-fatal issues (dropped sends, connection drops, retries)
//   - Error: Serious issues (malformed frames, rejected commands)
//
// # Structured Logging
//
// All log functions use structured fields for queryability:
//
//	logging.Info("Receiver discovered",
//	    zap.String("host", "192.168.1.100"),
//	    zap.String("model", "TX-NR609"),
//	    zap.String("identifier", "0009B0123456"),
//	)
//
// # Specialized Logging
//
// Connection lifecycle:
//
//	logging.LogConnection(addr, "connected")
//	logging.LogConnection(addr, "connection_lost")
//
// Raw wire traffic (debug level only):
//
//	logging.LogFrame("received", packet)
//	logging.LogRawBytes("discovery reply", datagram)
//
// # Configuration
//
// Logging is silent by default so library use and CLI output stay clean.
// Set the EISCP_LOG_LEVEL environment variable, or call Initialize with an
// explicit level:
//
//	if err := logging.InitializeFromEnv(); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. The underlying zap
// logger handles synchronization automatically.
package logging
