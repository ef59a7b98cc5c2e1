package qkd

import (
	"crypto/rand"
	"sync"

	"github.com/google/uuid"
)

// KeySize is the size of key material handed out by the store.
const KeySize = 32

// Store is an in-memory single-use key store simulating a QKD link buffer.
// A real link accumulates raw key material at a limited rate; the store
// models that as a replenishable budget of keys that can be minted. Every
// minted key is redeemable exactly once.
type Store struct {
	mu        sync.Mutex
	remaining int
	keys      map[string][]byte
}

// NewStore creates a store with an initial budget of capacity mintable keys.
func NewStore(capacity int) *Store {
	return &Store{
		remaining: capacity,
		keys:      make(map[string][]byte),
	}
}

// Mint generates a fresh key, consuming one unit of budget, and records it
// for a later Redeem. Returns ErrExhausted when the budget is spent.
func (s *Store) Mint() (Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remaining <= 0 {
		return Material{}, ErrExhausted
	}
	s.remaining--

	id := uuid.NewString()
	secret := make([]byte, KeySize)
	if _, err := rand.Read(secret); err != nil {
		return Material{}, err
	}

	stored := make([]byte, KeySize)
	copy(stored, secret)
	s.keys[id] = stored

	return Material{ID: id, Secret: secret}, nil
}

// Redeem removes and returns the key matching keyID. The second call for
// the same ID returns ErrNotFound.
func (s *Store) Redeem(keyID string) (Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.keys[keyID]
	if !ok {
		return Material{}, ErrNotFound
	}
	delete(s.keys, keyID)

	return Material{ID: keyID, Secret: secret}, nil
}

// Replenish adds n keys worth of budget, as a QKD link would over time.
func (s *Store) Replenish(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remaining += n
}

// Available reports the remaining mint budget.
func (s *Store) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}
