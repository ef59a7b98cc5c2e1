// Package chain implements the rolling key derivation at the heart of
// qupskd. Each completed exchange folds one unit of single-use key material
// into a per-peer internal secret and releases a derived secret for
// downstream consumers.
//
// Both ends of a relationship computing Advance over the same state and
// material produce the same outputs; this is how the two processes agree on
// a secret without ever transmitting one. The internal secret never leaves
// this package, and neither output allows recovery of the inputs.
package chain

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"time"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/qupskd/qupskd/qkd"
)

// SecretSize is the size of the internal and derived secrets.
const SecretSize = 32

// protocolLabel separates this protocol version's key space from any other
// use of the same key material. Changing it breaks compatibility.
const protocolLabel = "quPSKd Version 1"

// chainLabel binds the per-round expansion to the chain construction.
const chainLabel = "quPSKd chain v1"

// State is the rolling per-relationship chain state. It is a value type:
// Advance returns a new State and never mutates its input, so a speculative
// advance can be held and discarded without bookkeeping.
type State struct {
	secret [SecretSize]byte

	// Generation counts completed rounds, starting at 0 for the initial
	// state.
	Generation uint64

	// LastRotated is the commit time of the most recent round.
	LastRotated time.Time
}

// DerivedSecret is the externally released output of one completed round.
type DerivedSecret struct {
	// Alias names the output slot, e.g. the sink file stem.
	Alias string

	// Generation is the round that produced this secret.
	Generation uint64

	// Secret is the released key material.
	Secret []byte
}

// Encode returns the secret in its canonical external form.
func (d DerivedSecret) Encode() []byte {
	return []byte(base64.StdEncoding.EncodeToString(d.Secret))
}

// Initial derives the generation-zero state from an optional preshared
// seed. The derivation is bound to the protocol version label, so two
// independently started relationships never share a key space with
// anything else. An empty seed is valid; the state is then derived from
// the label alone.
func Initial(preshared []byte) State {
	var s State
	expand(preshared, protocolLabel, s.secret[:])
	return s
}

// Advance folds one unit of key material into the chain and returns the
// next state together with the released secret for this round. It is a
// pure function: identical inputs on both ends of a relationship yield
// identical outputs.
func Advance(s State, material qkd.Material) (State, DerivedSecret) {
	ikm := make([]byte, 0, SecretSize+len(material.Secret)+len(material.ID))
	ikm = append(ikm, s.secret[:]...)
	ikm = append(ikm, material.Secret...)
	ikm = append(ikm, material.ID...)

	var out [2 * SecretSize]byte
	expand(ikm, chainLabel, out[:])

	next := State{
		Generation:  s.Generation + 1,
		LastRotated: time.Now(),
	}
	copy(next.secret[:], out[:SecretSize])

	derived := DerivedSecret{
		Generation: s.Generation,
		Secret:     append([]byte(nil), out[SecretSize:]...),
	}
	return next, derived
}

// Random returns a derived secret filled from the system entropy source.
// Used as the stale-secret fallback when rotation has not succeeded for
// too long: a fresh random value is strictly safer than keeping a possibly
// compromised old one in place.
func Random(alias string, generation uint64) (DerivedSecret, error) {
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return DerivedSecret{}, fmt.Errorf("failed to read entropy: %w", err)
	}
	return DerivedSecret{Alias: alias, Generation: generation, Secret: secret}, nil
}

// LegacyCombine reproduces the pre-chaining secret construction: the
// SHA3-256 of both ends' raw keys, concatenated in sorted order so the
// result is symmetric.
//
// Insecure by modern standards: it offers no forward secrecy across rounds
// and exposes the full entropy of both keys to a single hash. Kept only
// for interoperability with legacy deployments; new relationships must use
// the chained construction.
func LegacyCombine(a, b []byte) []byte {
	parts := []string{string(a), string(b)}
	sort.Strings(parts)

	h := sha3.New256()
	h.Write([]byte(parts[0]))
	h.Write([]byte(parts[1]))
	return h.Sum(nil)
}

// Equal reports whether two states hold the same secret and generation.
// Constant-time over the secret.
func (s State) Equal(other State) bool {
	return s.Generation == other.Generation && hmac.Equal(s.secret[:], other.secret[:])
}

// Fingerprint returns a short non-reversible identifier of the state
// secret, safe to log.
func (s State) Fingerprint() string {
	h := sha3.Sum256(s.secret[:])
	return base64.StdEncoding.EncodeToString(h[:6])
}

// expand runs HKDF-SHA3-256 over ikm with a fixed info label, filling out.
func expand(ikm []byte, label string, out []byte) {
	hk := hkdf.New(sha3.New256, ikm, nil, []byte(label))
	if _, err := io.ReadFull(hk, out); err != nil {
		// HKDF over SHA3-256 cannot fail for outputs this small.
		panic(fmt.Sprintf("hkdf expand: %v", err))
	}
}
