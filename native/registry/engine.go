package registry

import (
	"errors"
	"fmt"
	"time"

	"custodia/core/events"
	"custodia/core/types"
	"custodia/native/common"
)

var errNilState = errors.New("registry engine: state not configured")

type engineState interface {
	credentialState
	RegistryMemberPut(kind Kind, m *Member) error
	RegistryMemberGet(kind Kind, addr [20]byte) (*Member, bool)
	RegistryMemberDelete(kind Kind, addr [20]byte) error
	RegistryListGet(kind Kind) ([][20]byte, error)
	RegistryListPut(kind Kind, list [][20]byte) error
}

type registryEvent struct {
	evt *types.Event
}

func (e registryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e registryEvent) Event() *types.Event { return e.evt }

// Engine manages the doctor, patient and insurer role registries. Membership
// is kept as a dense ordered list plus a per-member position index so removal
// is O(1) via swap-and-pop. Doctor and patient registrations mint a soulbound
// credential; the insurer registry tracks membership only.
type Engine struct {
	state       engineState
	emitter     events.Emitter
	pauses      common.PauseView
	credentials *CredentialLedger
	admin       [20]byte
	nowFn       func() int64
}

// NewEngine creates a registry engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend and the credential ledger on top of
// it.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.credentials = NewCredentialLedger(state)
	e.credentials.SetNowFunc(e.nowFn)
}

// SetAdmin fixes the administrator identity permitted to mutate registries.
func (e *Engine) SetAdmin(admin [20]byte) { e.admin = admin }

// SetPauses wires the operator pause switchboard.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter. Nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used for membership timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	e.nowFn = now
	if e.credentials != nil {
		e.credentials.SetNowFunc(now)
	}
}

// Credentials exposes the soulbound credential ledger.
func (e *Engine) Credentials() *CredentialLedger { return e.credentials }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(registryEvent{evt: event})
}

func (e *Engine) guard(caller [20]byte, kind Kind) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.Guard(e.pauses, common.ModuleRegistry); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown registry kind %q", ErrInvalidInput, kind)
	}
	if caller != e.admin {
		return fmt.Errorf("%w: administrator only", ErrUnauthorized)
	}
	return nil
}

func credentialed(kind Kind) bool {
	return kind == KindDoctor || kind == KindPatient
}

// Add registers a new member. Fails with ErrAlreadyRegistered when the
// identity is already present in the registry.
func (e *Engine) Add(kind Kind, caller, member [20]byte, name, profile, profileCID string) (*Member, error) {
	if err := e.guard(caller, kind); err != nil {
		return nil, err
	}
	if member == ([20]byte{}) {
		return nil, fmt.Errorf("%w: zero member address", ErrInvalidInput)
	}
	if _, ok := e.state.RegistryMemberGet(kind, member); ok {
		return nil, ErrAlreadyRegistered
	}
	list, err := e.state.RegistryListGet(kind)
	if err != nil {
		return nil, err
	}
	record := &Member{
		Address:    member,
		Name:       name,
		Profile:    profile,
		ProfileCID: profileCID,
		Position:   len(list),
		JoinedAt:   e.nowFn(),
	}
	sanitized, err := SanitizeMember(record)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if credentialed(kind) {
		id, err := e.credentials.Mint(kind, member)
		if err != nil {
			return nil, err
		}
		sanitized.CredentialID = id
	}
	if err := e.state.RegistryMemberPut(kind, sanitized); err != nil {
		return nil, err
	}
	if err := e.state.RegistryListPut(kind, append(list, member)); err != nil {
		return nil, err
	}
	e.emit(NewAddedEvent(kind, sanitized))
	return sanitized.Clone(), nil
}

// Remove deregisters a member using swap-and-pop: the last list entry moves
// into the removed slot and its stored position is updated in the same
// operation, keeping removal O(1).
func (e *Engine) Remove(kind Kind, caller, member [20]byte) error {
	if err := e.guard(caller, kind); err != nil {
		return err
	}
	record, ok := e.state.RegistryMemberGet(kind, member)
	if !ok {
		return ErrNotFound
	}
	list, err := e.state.RegistryListGet(kind)
	if err != nil {
		return err
	}
	pos := record.Position
	if pos < 0 || pos >= len(list) || list[pos] != member {
		return fmt.Errorf("registry: position index out of sync for %x", member)
	}
	lastIdx := len(list) - 1
	if pos != lastIdx {
		moved := list[lastIdx]
		list[pos] = moved
		movedRecord, ok := e.state.RegistryMemberGet(kind, moved)
		if !ok {
			return fmt.Errorf("registry: dangling list entry %x", moved)
		}
		movedRecord.Position = pos
		if err := e.state.RegistryMemberPut(kind, movedRecord); err != nil {
			return err
		}
	}
	if err := e.state.RegistryListPut(kind, list[:lastIdx]); err != nil {
		return err
	}
	if err := e.state.RegistryMemberDelete(kind, member); err != nil {
		return err
	}
	if credentialed(kind) && record.CredentialID != 0 {
		if err := e.credentials.Burn(record.CredentialID); err != nil {
			return err
		}
	}
	e.emit(NewRemovedEvent(kind, member))
	return nil
}

// IsMember reports whether the identity is registered under the kind.
func (e *Engine) IsMember(kind Kind, member [20]byte) bool {
	if e == nil || e.state == nil {
		return false
	}
	_, ok := e.state.RegistryMemberGet(kind, member)
	return ok
}

// Get returns the stored member record.
func (e *Engine) Get(kind Kind, member [20]byte) (*Member, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.RegistryMemberGet(kind, member)
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

// List returns the current ordered membership. Insertion order is not
// preserved across removals because of the swap-and-pop strategy.
func (e *Engine) List(kind Kind) ([][20]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	list, err := e.state.RegistryListGet(kind)
	if err != nil {
		return nil, err
	}
	return append([][20]byte(nil), list...), nil
}

// Count reports the number of registered members.
func (e *Engine) Count(kind Kind) (int, error) {
	list, err := e.List(kind)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}
