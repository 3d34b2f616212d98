// Package ws provides WebSocket connection handling and output fan-out
// for the shared terminal.
//
// The package implements:
//   - Hub: viewer registry with per-viewer bounded delivery queues
//   - Client: one connected viewer and its send queue
//   - Handler: WebSocket upgrade, inbound request routing, read/write pumps
//
// Key properties:
//   - Attach ordering: a new viewer receives the replay snapshot first, then
//     every chunk published after attachment, with no gap and no duplication
//   - Slow-viewer isolation: delivery never blocks the stream reader; a
//     viewer whose queue stays full is dropped instead of stalling others
//   - Byte transparency: terminal output crosses the wire untouched, escape
//     sequences included
package ws
