// Package bridge publishes receiver status updates to WebSocket
// subscribers as JSON events, so automation systems can follow a
// receiver without speaking eISCP.
package bridge
