// Package exchange drives the key exchange rounds between two qupskd
// instances.
//
// Each configured relationship owns one Exchanger holding that
// relationship's chain state exclusively. A round runs either as the
// initiator (triggered by the rotation scheduler) or as the responder
// (triggered by incoming peer requests); by configuration, exactly one end
// of a relationship is the initiator. At most one round is ever in flight
// per relationship: a round starts by taking the relationship's lease and
// every other trigger is rejected until the round completes or times out.
//
// Key material redeemed from the key source is consumable exactly once and
// cannot be returned. A responder that advances speculatively and never
// receives the initiator's confirmation therefore forfeits the minted key,
// discards the speculative state and leaves its chain untouched; the next
// round simply mints a new key. This inefficiency is inherent to the
// protocol.
//
// Known limitation, by protocol design: if the initiator commits locally
// but the confirmation is lost in transit, the two chains diverge
// permanently. There is no reconciliation handshake; operators recover by
// restarting the relationship (the initiator's next round after a chain
// reset is a REQUEST_NEW, which resets the responder too).
package exchange
