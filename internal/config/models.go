package config

import "time"

// Registry represents the entire user configuration file: known
// receivers plus application preferences.
type Registry struct {
	Version     int                  `yaml:"version"`
	Receivers   map[string]*Receiver `yaml:"receivers,omitempty"` // Keyed by device identifier (MAC)
	Preferences *Preferences         `yaml:"preferences,omitempty"`
}

// Receiver stores user-defined metadata and connection settings for a
// single receiver, keyed by its device identifier in the Registry.
type Receiver struct {
	Nickname string    `yaml:"nickname,omitempty"`  // User-friendly name
	Model    string    `yaml:"model,omitempty"`     // Model reported during discovery
	Host     string    `yaml:"host,omitempty"`      // Last known address
	Port     int       `yaml:"port,omitempty"`      // Control port, 0 means the default
	LastSeen time.Time `yaml:"last_seen,omitempty"` // Last discovery/connection time

	AutoReconnect    bool `yaml:"auto_reconnect"`               // Reconnect after unexpected losses
	MaxRetryInterval int  `yaml:"max_retry_interval,omitempty"` // Backoff cap in seconds, 0 means the default
}

// Preferences represents application-wide user preferences.
type Preferences struct {
	AutoDiscover    bool `yaml:"auto_discover"`    // Probe the network on startup
	DiscoverTimeout int  `yaml:"discover_timeout"` // Discovery listening window in seconds
	UseMDNS         bool `yaml:"use_mdns"`         // Also browse mDNS for candidates
}

func defaultPreferences() *Preferences {
	return &Preferences{
		AutoDiscover:    true,
		DiscoverTimeout: 5,
	}
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:     1,
		Receivers:   make(map[string]*Receiver),
		Preferences: defaultPreferences(),
	}
}

// GetReceiver retrieves receiver metadata by device identifier.
// Returns nil if the receiver is not in the registry.
func (r *Registry) GetReceiver(identifier string) *Receiver {
	return r.Receivers[identifier]
}

// FindByNickname retrieves a receiver by its user-assigned nickname.
func (r *Registry) FindByNickname(nickname string) (string, *Receiver) {
	for id, rcv := range r.Receivers {
		if rcv.Nickname == nickname {
			return id, rcv
		}
	}
	return "", nil
}

// EnsureReceiver returns the entry for the identifier, creating a
// default one if needed.
func (r *Registry) EnsureReceiver(identifier string) *Receiver {
	if r.Receivers == nil {
		r.Receivers = make(map[string]*Receiver)
	}
	if rcv, exists := r.Receivers[identifier]; exists {
		return rcv
	}
	rcv := &Receiver{AutoReconnect: true}
	r.Receivers[identifier] = rcv
	return rcv
}

// RecordDiscovery updates a receiver entry from a discovery reply.
func (r *Registry) RecordDiscovery(identifier, model, host string, port int) {
	rcv := r.EnsureReceiver(identifier)
	rcv.Model = model
	rcv.Host = host
	rcv.Port = port
	rcv.LastSeen = time.Now()
}

// SetNickname sets a user-friendly nickname for a receiver.
func (r *Registry) SetNickname(identifier, nickname string) {
	r.EnsureReceiver(identifier).Nickname = nickname
}
