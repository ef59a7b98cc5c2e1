package qkd

// Material is one unit of single-use key material handed out by the key
// source. It must be folded into the key chain and discarded; it is never
// persisted, logged, or retransmitted.
type Material struct {
	// ID is the key identifier assigned by the key source.
	ID string

	// Secret is the raw key bytes.
	Secret []byte
}

// Zero overwrites the secret bytes. Call after the material has been folded
// into the chain.
func (m *Material) Zero() {
	for i := range m.Secret {
		m.Secret[i] = 0
	}
	m.Secret = nil
}
