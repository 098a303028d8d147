// Package admission decides which source IPs may open a session.
//
// Features:
//   - Registry caps concurrent sessions per IP and records when each IP was last admitted
//   - RateGate limits how fast a single IP may open new connections
//   - RedisMirror publishes registry snapshots so another process can read them
//
// Every successful Registry.TryAdmit must be paired with exactly one
// Registry.Release for the same IP.
package admission
