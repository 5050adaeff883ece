// Package config provides user configuration management.
//
// This package manages a YAML-based configuration file that stores
// known receivers (keyed by device identifier) and application
// preferences. The configuration follows OS-specific conventions for
// storage location.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/eiscp/config.yaml or $HOME/.config/eiscp/config.yaml
//   - macOS: $HOME/.config/eiscp/config.yaml
//   - Windows: %LOCALAPPDATA%\eiscp\config.yaml
//
// # Usage Example
//
//	// Load the global registry
//	registry, err := config.LoadRegistry()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Record a receiver found during discovery
//	registry.RecordDiscovery("0009B04A1234", "TX-NR609", "192.168.1.80", 60128)
//	registry.SetNickname("0009B04A1234", "Living Room")
//
//	// Save changes atomically
//	if err := registry.Save(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// The global registry uses sync.Once for safe initialization across
// goroutines. File operations are protected by a mutex to ensure
// atomic writes.
package config
