package exchange

import (
	"time"

	"go.uber.org/atomic"

	"github.com/qupskd/qupskd/chain"
)

// Role distinguishes which end of a relationship this instance plays for a
// round. Roles are fixed by configuration; there is no leader election.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// RoundState tracks a round through the exchange.
type RoundState int

const (
	StateIdle RoundState = iota
	StateRequestingPeer
	StateAwaitingRequest
	StateRedeemingKey
	StateAwaitingConfirmation
	StateCommitted
)

func (s RoundState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestingPeer:
		return "requesting_peer"
	case StateAwaitingRequest:
		return "awaiting_request"
	case StateRedeemingKey:
		return "redeeming_key"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// RequestKind selects between the two request messages an initiator can
// open a round with.
type RequestKind int

const (
	// RequestNew starts a relationship from scratch; both ends reset to the
	// initial chain state before advancing.
	RequestNew RequestKind = iota

	// RequestRotate advances an established chain by one generation.
	RequestRotate
)

func (k RequestKind) String() string {
	if k == RequestNew {
		return "new"
	}
	return "rotate"
}

// round is the transient record of one in-flight exchange. It exists only
// between lease acquisition and release.
type round struct {
	role     Role
	state    RoundState
	keyID    string
	deadline time.Time

	// Speculative results of a responder round, committed only when the
	// initiator's confirmation arrives.
	pending       chain.State
	pendingSecret chain.DerivedSecret

	timer *time.Timer
}

// lease is the per-relationship single-flight guarantee: a round starts by
// acquiring it and every concurrent trigger fails until it is released.
// Holding the lease is what makes the owning round the sole writer of the
// relationship's chain state.
type lease struct {
	held atomic.Bool
}

// TryAcquire takes the lease if it is free.
func (l *lease) TryAcquire() bool {
	return l.held.CompareAndSwap(false, true)
}

// Release frees the lease.
func (l *lease) Release() {
	l.held.Store(false)
}

// Held reports whether a round currently holds the lease.
func (l *lease) Held() bool {
	return l.held.Load()
}
