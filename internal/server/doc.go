// Package server exposes the operator surfaces:
//
//   - GET /health: liveness summary (uptime, heap, runner errors, account)
//   - GET /ws: websocket feed of runner events
//   - /api/*: key-protected status API (status, balance, runner, events)
//
// Both listeners shut down gracefully when their context is cancelled.
package server
