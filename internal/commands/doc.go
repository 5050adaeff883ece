// Package commands holds the receiver command registry and the
// bidirectional translation between human-readable command specs and
// ISCP wire strings.
//
// The registry is loaded from an embedded YAML dataset covering the
// main, zone2, zone3, zone4 and dock zones. Outbound translation
// resolves "zone2.volume=66" style specs to wire strings like "ZVL42";
// inbound translation maps wire strings from the receiver back to zone,
// command name and a decoded value.
package commands
