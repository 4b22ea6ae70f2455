package access

import (
	"errors"
	"fmt"
	"time"

	"custodia/core/events"
	"custodia/core/types"
	"custodia/native/common"
)

var (
	errNilState     = errors.New("access engine: state not configured")
	errNilDirectory = errors.New("access engine: directory not configured")
)

type engineState interface {
	AccessRequestPut(*Request) error
	AccessRequestGet(id uint64) (*Request, bool)
	NextAccessRequestID() (uint64, error)
	TicketPut(*Ticket) error
	TicketGet(id uint64) (*Ticket, bool)
	TicketsByPatient(patient [20]byte) ([]*Ticket, error)
	NextTicketID() (uint64, error)
	RecordPut(*Record) error
	RecordGet(id uint64) (*Record, bool)
	NextRecordID() (uint64, error)
	RecordsByPatient(patient [20]byte) ([]uint64, error)
}

// Directory answers role-membership questions for the access engine. The
// registry engine satisfies it through the adapter in directory.go.
type Directory interface {
	IsDoctor(addr [20]byte) bool
	IsPatient(addr [20]byte) bool
	DoctorCount() (int, error)
}

type accessEvent struct {
	evt *types.Event
}

func (e accessEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e accessEvent) Event() *types.Event { return e.evt }

// Engine governs third-party access to protected records through two
// parallel mechanisms: administrator-created direct requests approved by the
// named doctor, and emergency tickets resolved by a two-thirds quorum of the
// doctors registered when the ticket was raised.
type Engine struct {
	state     engineState
	directory Directory
	emitter   events.Emitter
	pauses    common.PauseView
	admin     [20]byte
	nowFn     func() int64
}

// NewEngine creates an access engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetDirectory wires the role directory consulted for eligibility checks.
func (e *Engine) SetDirectory(d Directory) { e.directory = d }

// SetAdmin fixes the administrator identity.
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

// SetNowFunc overrides the engine clock, primarily for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(accessEvent{evt: event})
}

func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.directory == nil {
		return errNilDirectory
	}
	return common.Guard(e.pauses, common.ModuleAccess)
}

// CreateRequest registers a direct access request naming a doctor/patient
// pair. Administrator only; both parties must be registered.
func (e *Engine) CreateRequest(caller, doctor, patient [20]byte) (*Request, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if caller != e.admin {
		return nil, fmt.Errorf("%w: administrator only", ErrUnauthorized)
	}
	if !e.directory.IsDoctor(doctor) {
		return nil, fmt.Errorf("%w: doctor not registered", ErrInvalidInput)
	}
	if !e.directory.IsPatient(patient) {
		return nil, fmt.Errorf("%w: patient not registered", ErrInvalidInput)
	}
	id, err := e.state.NextAccessRequestID()
	if err != nil {
		return nil, err
	}
	request := &Request{
		ID:        id,
		Doctor:    doctor,
		Patient:   patient,
		Status:    RequestPending,
		CreatedAt: e.nowFn(),
	}
	if err := e.state.AccessRequestPut(request); err != nil {
		return nil, err
	}
	e.emit(NewRequestCreatedEvent(request))
	return request.Clone(), nil
}

// ApproveRequest transitions a pending request to approved. Only the doctor
// named on the request may approve.
func (e *Engine) ApproveRequest(id uint64, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	request, ok := e.state.AccessRequestGet(id)
	if !ok {
		return ErrNotFound
	}
	if caller != request.Doctor {
		return fmt.Errorf("%w: only the named doctor may approve", ErrUnauthorized)
	}
	if request.Status != RequestPending {
		return fmt.Errorf("%w: request not pending", ErrWrongState)
	}
	request.Status = RequestApproved
	request.ApprovedAt = e.nowFn()
	if err := e.state.AccessRequestPut(request); err != nil {
		return err
	}
	e.emit(NewRequestApprovedEvent(request))
	return nil
}

// GetRequest returns a copy of the stored request.
func (e *Engine) GetRequest(id uint64) (*Request, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	request, ok := e.state.AccessRequestGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return request.Clone(), nil
}

// RaiseEmergency opens a quorum vote for emergency access to the patient's
// records. The doctor population and threshold are snapshotted at raise time.
func (e *Engine) RaiseEmergency(caller, patient [20]byte) (*Ticket, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if caller != e.admin {
		return nil, fmt.Errorf("%w: administrator only", ErrUnauthorized)
	}
	if !e.directory.IsPatient(patient) {
		return nil, fmt.Errorf("%w: patient not registered", ErrInvalidInput)
	}
	count, err := e.directory.DoctorCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: no registered doctors to vote", ErrInvalidState)
	}
	id, err := e.state.NextTicketID()
	if err != nil {
		return nil, err
	}
	ticket := &Ticket{
		ID:          id,
		Patient:     patient,
		DoctorCount: count,
		Threshold:   QuorumThreshold(count),
		Voters:      make(map[[20]byte]bool),
		RaisedAt:    e.nowFn(),
	}
	if err := e.state.TicketPut(ticket); err != nil {
		return nil, err
	}
	e.emit(NewEmergencyRaisedEvent(ticket))
	return ticket.Clone(), nil
}

// Vote records one registered doctor's ballot on the ticket. Each doctor
// votes at most once per ticket. The ticket flips to approved, and the
// approval event fires, on exactly the vote that reaches the threshold.
func (e *Engine) Vote(ticketID uint64, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	if !e.directory.IsDoctor(caller) {
		return fmt.Errorf("%w: only registered doctors can vote", ErrUnauthorized)
	}
	ticket, ok := e.state.TicketGet(ticketID)
	if !ok {
		return ErrNotFound
	}
	if ticket.Voters[caller] {
		return ErrAlreadyVoted
	}
	if ticket.Votes >= ticket.DoctorCount {
		return fmt.Errorf("%w: ticket has exhausted its eligible voters", ErrInvalidState)
	}
	ticket.Voters[caller] = true
	ticket.Votes++
	reached := !ticket.Approved && ticket.Votes >= ticket.Threshold
	if reached {
		ticket.Approved = true
	}
	if err := e.state.TicketPut(ticket); err != nil {
		return err
	}
	e.emit(NewEmergencyVotedEvent(ticket, caller))
	if reached {
		e.emit(NewEmergencyApprovedEvent(ticket))
	}
	return nil
}

// GetTicket returns a copy of the stored ticket.
func (e *Engine) GetTicket(id uint64) (*Ticket, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ticket, ok := e.state.TicketGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return ticket.Clone(), nil
}

// IsAccessGranted reports whether any emergency ticket naming the patient has
// reached quorum approval.
func (e *Engine) IsAccessGranted(patient [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	tickets, err := e.state.TicketsByPatient(patient)
	if err != nil {
		return false, err
	}
	for _, ticket := range tickets {
		if ticket != nil && ticket.Approved {
			return true, nil
		}
	}
	return false, nil
}
