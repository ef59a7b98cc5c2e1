package exchange

import (
	"context"
	"fmt"
)

// Manager holds the exchanger for every configured relationship and
// dispatches incoming peer messages by relationship identifier. The table
// is built once at startup and never changes; exchangers are not shared
// across relationships.
type Manager struct {
	exchangers map[string]*Exchanger
}

// NewManager creates an empty relationship table.
func NewManager() *Manager {
	return &Manager{exchangers: make(map[string]*Exchanger)}
}

// Add registers an exchanger. Duplicate relationship identifiers are a
// configuration error.
func (m *Manager) Add(e *Exchanger) error {
	id := e.Relationship().ID
	if _, exists := m.exchangers[id]; exists {
		return fmt.Errorf("duplicate relationship %q", id)
	}
	m.exchangers[id] = e
	return nil
}

// Get returns the exchanger for a relationship identifier.
func (m *Manager) Get(relationship string) (*Exchanger, bool) {
	e, ok := m.exchangers[relationship]
	return e, ok
}

// All returns every registered exchanger.
func (m *Manager) All() []*Exchanger {
	out := make([]*Exchanger, 0, len(m.exchangers))
	for _, e := range m.exchangers {
		out = append(out, e)
	}
	return out
}

// HandleRequest dispatches a REQUEST_NEW or REQUEST_ROTATE message.
func (m *Manager) HandleRequest(ctx context.Context, relationship string, kind RequestKind) (string, error) {
	e, ok := m.exchangers[relationship]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRelationship, relationship)
	}
	return e.HandleRequest(ctx, kind)
}

// HandleConfirm dispatches a CONFIRM message.
func (m *Manager) HandleConfirm(ctx context.Context, relationship string, generation uint64) error {
	e, ok := m.exchangers[relationship]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRelationship, relationship)
	}
	return e.HandleConfirm(ctx, generation)
}
