// Package connection manages the TCP link to a receiver: dialing,
// stream reading, command submission, and automatic reconnection with
// capped exponential backoff.
//
// The reconnect backoff starts at one second and grows by half after
// each failed attempt, up to a configurable cap. It resets only when a
// connection is established. A halted connection stays down but polls
// every two seconds so Resume takes effect without an explicit kick.
package connection
