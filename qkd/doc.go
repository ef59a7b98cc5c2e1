// Package qkd talks to a quantum key distribution endpoint speaking the
// ETSI GS QKD 014 key delivery API, real or simulated.
//
// Key material obtained from the endpoint is consumable exactly once: the
// endpoint removes a key from its store when it is handed out, and a second
// redemption of the same key ID fails. The package also ships an in-memory
// single-use Store and an HTTP handler exposing it as a fake ETSI endpoint
// for development and tests.
package qkd
