package state

import (
	"errors"
	"sync"

	"custodia/core/events"
	"custodia/core/types"
)

var errNilFn = errors.New("state: nil transaction function")

// Txn is one in-flight transaction: a private deep copy of the ledger plus a
// staging emitter. Events emitted during the transaction are buffered and
// reach the outbox only if the transaction commits.
type Txn struct {
	*Ledger
	staged []*types.Event
}

// Emit buffers the event until commit. Emitters carrying no typed payload are
// dropped.
func (t *Txn) Emit(evt events.Event) {
	typed, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	if payload := typed.Event(); payload != nil {
		t.staged = append(t.staged, payload)
	}
}

// Manager owns the committed ledger and serialises transactions against it.
// Apply gives each operation all-or-nothing semantics: the function runs on a
// clone, and only a nil error swaps the clone in and releases the staged
// events to the outbox.
type Manager struct {
	mu     sync.RWMutex
	ledger *Ledger
	outbox *events.Outbox

	// Pauses are guarded separately because engines consult IsPaused from
	// inside Apply, while mu is already held.
	pauseMu sync.RWMutex
	pauses  map[string]bool
}

// NewManager creates a manager over an empty ledger and a fresh outbox.
func NewManager() *Manager {
	return &Manager{
		ledger: NewLedger(),
		outbox: events.NewOutbox(),
		pauses: make(map[string]bool),
	}
}

// Outbox exposes the committed event log.
func (m *Manager) Outbox() *events.Outbox { return m.outbox }

// Apply runs fn inside a transaction. On success the mutated clone becomes
// the committed ledger and every staged event is appended to the outbox in
// emission order. On failure nothing changes and the error is returned as-is.
func (m *Manager) Apply(fn func(*Txn) error) error {
	if fn == nil {
		return errNilFn
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	txn := &Txn{Ledger: m.ledger.Clone()}
	if err := fn(txn); err != nil {
		return err
	}
	m.ledger = txn.Ledger
	// Staged events reach the outbox before the commit lock is released, so
	// outbox sequence order always matches commit order. Append never blocks:
	// slow subscribers are skipped and fall back to polling.
	for _, evt := range txn.staged {
		m.outbox.Append(evt)
	}
	return nil
}

// View runs fn against a read-only snapshot of the committed ledger. The
// snapshot is a clone, so fn may not mutate committed state even by accident.
func (m *Manager) View(fn func(*Ledger) error) error {
	if fn == nil {
		return errNilFn
	}
	m.mu.RLock()
	snapshot := m.ledger.Clone()
	m.mu.RUnlock()
	return fn(snapshot)
}

// SetPaused flips the pause switch for a native module.
func (m *Manager) SetPaused(module string, paused bool) {
	m.pauseMu.Lock()
	defer m.pauseMu.Unlock()
	m.pauses[module] = paused
}

// IsPaused implements common.PauseView.
func (m *Manager) IsPaused(module string) bool {
	m.pauseMu.RLock()
	defer m.pauseMu.RUnlock()
	return m.pauses[module]
}
