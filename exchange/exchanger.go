package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/qupskd/qupskd/chain"
	"github.com/qupskd/qupskd/metrics"
	"github.com/qupskd/qupskd/qkd"
	"github.com/qupskd/qupskd/storage"
)

// DefaultConfirmWait bounds how long a responder holds a speculative chain
// advance before discarding it.
const DefaultConfirmWait = 30 * time.Second

// PeerClient carries exchange messages to the counterpart instance. The
// peerapi package provides the HTTP implementation.
type PeerClient interface {
	// RequestNew opens a relationship from scratch and returns the key
	// identifier chosen by the responder.
	RequestNew(ctx context.Context, relationship string) (string, error)

	// RequestRotate advances an established relationship and returns the
	// key identifier chosen by the responder.
	RequestRotate(ctx context.Context, relationship string) (string, error)

	// Confirm informs the responder that the round for the given generation
	// is committed on this end.
	Confirm(ctx context.Context, relationship string, generation uint64) error
}

// Relationship is the immutable per-peer configuration an Exchanger works
// with. One instance exists per configured peer for the process lifetime.
type Relationship struct {
	// ID is the stable relationship identifier shared by both ends.
	ID string

	// Alias names the output secret slot, e.g. the sink file stem.
	Alias string

	// Role fixes which end initiates rotations.
	Role Role

	// Preshared seeds the initial chain state. May be empty.
	Preshared []byte

	// ConfirmWait is how long a responder round waits for confirmation.
	ConfirmWait time.Duration

	// MaxSecretAge, when positive, bounds how long a derived secret may
	// stay in the sink without a successful rotation before it is replaced
	// with a random value.
	MaxSecretAge time.Duration
}

// Exchanger runs exchange rounds for one relationship. It is the sole
// owner of that relationship's chain state: the state is read and mutated
// only by the round holding the lease, and only a successful commit
// advances it.
type Exchanger struct {
	rel       Relationship
	keySource qkd.Client
	peer      PeerClient
	sink      storage.Sink
	log       *slog.Logger

	lease lease

	mu         sync.Mutex
	state      chain.State
	cur        *round
	lastCommit time.Time
}

// NewExchanger creates the exchanger for one configured relationship.
func NewExchanger(rel Relationship, keySource qkd.Client, peer PeerClient, sink storage.Sink, log *slog.Logger) *Exchanger {
	if rel.ConfirmWait <= 0 {
		rel.ConfirmWait = DefaultConfirmWait
	}

	return &Exchanger{
		rel:       rel,
		keySource: keySource,
		peer:      peer,
		sink:      sink,
		log:       log.With("relationship", rel.ID),
		state:     chain.Initial(rel.Preshared),

		lastCommit: time.Now(),
	}
}

// Relationship returns the immutable relationship configuration.
func (e *Exchanger) Relationship() Relationship {
	return e.rel
}

// Generation returns the current committed chain generation.
func (e *Exchanger) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Generation
}

// InFlight reports whether a round currently holds the lease.
func (e *Exchanger) InFlight() bool {
	return e.lease.Held()
}

// Rotate runs one full round as the initiator. Returns ErrRoundInFlight
// without side effects if a round is already running. Any failure before
// the local commit leaves the chain state untouched; failures are retried
// only by the next scheduled rotation.
func (e *Exchanger) Rotate(ctx context.Context) error {
	if !e.lease.TryAcquire() {
		return ErrRoundInFlight
	}

	start := time.Now()
	r := &round{role: RoleInitiator, state: StateRequestingPeer}

	e.mu.Lock()
	e.cur = r
	base := e.state
	e.mu.Unlock()

	err := e.runInitiatorRound(ctx, r, base)

	e.mu.Lock()
	e.cur = nil
	e.mu.Unlock()
	e.lease.Release()

	if err != nil {
		metrics.RoundsTotal.WithLabelValues(e.rel.ID, RoleInitiator.String(), "aborted").Inc()
		return err
	}

	metrics.RoundsTotal.WithLabelValues(e.rel.ID, RoleInitiator.String(), "committed").Inc()
	metrics.RoundDuration.WithLabelValues(e.rel.ID).Observe(time.Since(start).Seconds())
	return nil
}

func (e *Exchanger) runInitiatorRound(ctx context.Context, r *round, base chain.State) error {
	kind := RequestRotate
	if base.Generation == 0 {
		kind = RequestNew
	}

	var keyID string
	var err error
	if kind == RequestNew {
		keyID, err = e.peer.RequestNew(ctx, e.rel.ID)
	} else {
		keyID, err = e.peer.RequestRotate(ctx, e.rel.ID)
	}
	if err != nil {
		return fmt.Errorf("requesting %s from peer: %w", kind, err)
	}

	r.keyID = keyID
	r.state = StateRedeemingKey

	// Past this point the key is consumed on the source and cannot be
	// returned; the round runs to completion or timeout.
	material, err := e.keySource.Redeem(ctx, keyID)
	if err != nil {
		e.countKeySourceError(err)
		return fmt.Errorf("redeeming key %s: %w", keyID, err)
	}

	next, derived := chain.Advance(base, material)
	material.Zero()
	derived.Alias = e.rel.Alias

	r.state = StateAwaitingConfirmation
	if err := e.peer.Confirm(ctx, e.rel.ID, derived.Generation); err != nil {
		if errors.Is(err, ErrProtocolViolation) {
			// The responder refused the confirmation and did not commit;
			// aborting here keeps both ends at the previous generation.
			return fmt.Errorf("peer rejected confirmation: %w", err)
		}
		// Delivery failed in transit. The responder may or may not have
		// processed the confirmation, so committing here can diverge the
		// chains permanently. The protocol has no reconciliation handshake.
		e.log.Warn("Confirmation delivery failed, chains may diverge",
			"generation", derived.Generation, "err", err)
	}

	if err := e.sink.Put(ctx, derived); err != nil {
		return fmt.Errorf("writing derived secret: %w", err)
	}

	e.mu.Lock()
	e.state = next
	e.lastCommit = time.Now()
	e.mu.Unlock()

	r.state = StateCommitted
	e.log.Info("Committed new generation",
		"generation", next.Generation, "chain", next.Fingerprint())
	return nil
}

// HandleRequest runs the responder side of a round opening: it mints a
// fresh key from the key source, advances the chain speculatively, and
// returns the key identifier for the initiator to redeem. The speculative
// state is committed only by HandleConfirm; if no confirmation arrives
// before the confirm deadline, it is discarded and the minted key is
// forfeited.
func (e *Exchanger) HandleRequest(ctx context.Context, kind RequestKind) (string, error) {
	if !e.lease.TryAcquire() {
		return "", violationf("%s request while a round is in flight for %s", kind, e.rel.ID)
	}

	e.mu.Lock()
	base := e.state
	e.mu.Unlock()

	switch {
	case kind == RequestNew:
		// A new request restarts the relationship from the initial state,
		// whatever this end thought the generation was.
		base = chain.Initial(e.rel.Preshared)
	case base.Generation == 0:
		e.lease.Release()
		return "", violationf("rotate request for %s with no established chain", e.rel.ID)
	}

	material, err := e.keySource.Mint(ctx)
	if err != nil {
		e.lease.Release()
		e.countKeySourceError(err)
		return "", fmt.Errorf("minting key: %w", err)
	}

	keyID := material.ID
	next, derived := chain.Advance(base, material)
	material.Zero()
	derived.Alias = e.rel.Alias

	r := &round{
		role:          RoleResponder,
		state:         StateAwaitingConfirmation,
		keyID:         keyID,
		deadline:      time.Now().Add(e.rel.ConfirmWait),
		pending:       next,
		pendingSecret: derived,
	}

	e.mu.Lock()
	e.cur = r
	r.timer = time.AfterFunc(e.rel.ConfirmWait, func() { e.expire(r) })
	e.mu.Unlock()

	e.log.Debug("Advanced speculatively, awaiting confirmation",
		"kind", kind.String(), "generation", derived.Generation, "keyID", keyID)
	return keyID, nil
}

// HandleConfirm finalizes a responder round: the speculative chain state
// becomes current and the derived secret is handed to the sink. A
// confirmation with no round awaiting it, or for the wrong generation, is
// a protocol violation and leaves everything unchanged.
func (e *Exchanger) HandleConfirm(ctx context.Context, generation uint64) error {
	e.mu.Lock()
	r := e.cur
	if r == nil || r.role != RoleResponder || r.state != StateAwaitingConfirmation {
		e.mu.Unlock()
		return violationf("confirmation for %s with no round awaiting it", e.rel.ID)
	}
	if generation != r.pendingSecret.Generation {
		e.mu.Unlock()
		return violationf("stale generation %d for %s, expected %d",
			generation, e.rel.ID, r.pendingSecret.Generation)
	}

	r.timer.Stop()
	e.cur = nil
	pending, secret := r.pending, r.pendingSecret
	e.mu.Unlock()

	if err := e.sink.Put(ctx, secret); err != nil {
		// The initiator has committed; losing the sink write here diverges
		// the chains just like a lost confirmation would.
		e.lease.Release()
		metrics.RoundsTotal.WithLabelValues(e.rel.ID, RoleResponder.String(), "aborted").Inc()
		return fmt.Errorf("writing derived secret: %w", err)
	}

	e.mu.Lock()
	e.state = pending
	e.lastCommit = time.Now()
	e.mu.Unlock()
	e.lease.Release()

	metrics.RoundsTotal.WithLabelValues(e.rel.ID, RoleResponder.String(), "committed").Inc()
	e.log.Info("Committed new generation",
		"generation", pending.Generation, "chain", pending.Fingerprint())
	return nil
}

// expire discards a responder round whose confirmation never arrived. The
// chain does not advance; the minted key is gone and the next round mints
// a new one.
func (e *Exchanger) expire(r *round) {
	e.mu.Lock()
	if e.cur != r {
		e.mu.Unlock()
		return
	}
	e.cur = nil
	e.mu.Unlock()
	e.lease.Release()

	metrics.RoundsTotal.WithLabelValues(e.rel.ID, RoleResponder.String(), "expired").Inc()
	e.log.Warn("Confirmation deadline passed, discarding speculative chain state",
		"keyID", r.keyID, "generation", r.pendingSecret.Generation)
}

// FreshenStale replaces the sink secret with a random value when no round
// has committed within the configured max secret age, and resets the chain
// so the next initiator round starts the relationship over. Returns true
// when a replacement happened. A no-op while a round is in flight or when
// no max age is configured.
func (e *Exchanger) FreshenStale(ctx context.Context) (bool, error) {
	if e.rel.MaxSecretAge <= 0 {
		return false, nil
	}
	if !e.lease.TryAcquire() {
		return false, nil
	}
	defer e.lease.Release()

	e.mu.Lock()
	stale := time.Since(e.lastCommit) > e.rel.MaxSecretAge
	generation := e.state.Generation
	e.mu.Unlock()

	if !stale {
		return false, nil
	}

	secret, err := chain.Random(e.rel.Alias, generation)
	if err != nil {
		return false, err
	}
	if err := e.sink.Put(ctx, secret); err != nil {
		return false, fmt.Errorf("writing fallback secret: %w", err)
	}

	e.mu.Lock()
	e.state = chain.Initial(e.rel.Preshared)
	e.lastCommit = time.Now()
	e.mu.Unlock()

	metrics.StaleSecretsTotal.WithLabelValues(e.rel.ID).Inc()
	e.log.Warn("Secret exceeded max age, wrote random fallback and reset chain",
		"maxSecretAge", e.rel.MaxSecretAge)
	return true, nil
}

func (e *Exchanger) countKeySourceError(err error) {
	kind := "unavailable"
	switch {
	case errors.Is(err, qkd.ErrExhausted):
		kind = "exhausted"
	case errors.Is(err, qkd.ErrNotFound):
		kind = "not_found"
	}
	metrics.KeySourceErrorsTotal.WithLabelValues(e.rel.ID, kind).Inc()
}
