// Package ws provides WebSocket connection handling and message
// fan-out for workspaces.
//
// The package implements:
//   - Client: One live connection with a buffered, best-effort send queue
//   - Hub / Registry: The set of clients subscribed to each workspace key
//   - Dispatcher: The append-and-broadcast pipeline keeping the log and
//     every subscriber on one total order per workspace
//   - Handler: The per-connection join/chat/task state machine
//
// A connection holds at most one subscription at a time. Joining a
// workspace replays its full message log before any live frame;
// disconnecting drops the subscription. Broadcast delivery is
// best-effort per client: a slow or dead client is closed and skipped
// without affecting the others.
package ws
