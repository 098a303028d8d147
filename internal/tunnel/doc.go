// Package tunnel implements the wsproxy listener and per-connection sessions.
//
// Features:
//   - Accepts plain TCP and, optionally, TLS connections with a bounded accept poll
//   - Admits each connection against a per-IP registry and rejects with 429 synchronously
//   - Parses the fake WebSocket upgrade (X-Real-Host, X-Split, X-Pass) and applies the passphrase policy
//   - Dials the requested target and answers 101 Switching Protocols
//   - Relays raw bytes in both directions until close, error or an idle threshold of empty polls
//   - Tears every session down exactly once, releasing its admission slot
//   - Reuses relay buffers from per-size pools
//
// Usage:
//  1. Create a Server with NewServer, passing Options and an Admitter such as *admission.Registry
//  2. Call ListenAndServe, or Serve with an existing listener
//  3. Call Shutdown to stop accepting and close all sessions; it returns once every slot is released
package tunnel
