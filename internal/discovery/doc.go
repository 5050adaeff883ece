// Package discovery locates receivers on the local network.
//
// The primary mechanism is the protocol's own UDP autodiscovery: an
// ECNQSTN probe broadcast on every capable interface (or unicast to a
// known host), with replies parsed into receiver descriptions and
// deduplicated by device identifier. An mDNS-assisted mode browses for
// candidate hosts first and confirms them with unicast probes, for
// networks where broadcast traffic is filtered.
package discovery
