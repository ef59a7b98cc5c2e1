// Package peerapi carries exchange messages between two qupskd instances
// over HTTP, addressed by relationship identifier.
//
// Three messages exist: REQUEST_NEW and REQUEST_ROTATE open a round and
// return the key identifier chosen by the responder; CONFIRM finalizes it.
// A message that does not match the responder's current state for the
// relationship is rejected with 409 rather than ignored, and the client
// surfaces that as a protocol violation distinct from transport failures.
//
// Securing this hop against a network adversary is out of scope; the
// secrecy of the derived keys rests on the QKD link, not on this channel.
package peerapi
