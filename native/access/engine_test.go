package access

import (
	"bytes"
	"errors"
	"testing"

	"custodia/core/events"
	"custodia/core/types"
)

type mockState struct {
	requests    map[uint64]*Request
	tickets     map[uint64]*Ticket
	records     map[uint64]*Record
	nextRequest uint64
	nextTicket  uint64
	nextRecord  uint64
}

func newMockState() *mockState {
	return &mockState{
		requests:    make(map[uint64]*Request),
		tickets:     make(map[uint64]*Ticket),
		records:     make(map[uint64]*Record),
		nextRequest: 1,
		nextTicket:  1,
		nextRecord:  1,
	}
}

func (m *mockState) AccessRequestPut(r *Request) error {
	m.requests[r.ID] = r.Clone()
	return nil
}

func (m *mockState) AccessRequestGet(id uint64) (*Request, bool) {
	r, ok := m.requests[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (m *mockState) NextAccessRequestID() (uint64, error) {
	id := m.nextRequest
	m.nextRequest++
	return id, nil
}

func (m *mockState) TicketPut(t *Ticket) error {
	m.tickets[t.ID] = t.Clone()
	return nil
}

func (m *mockState) TicketGet(id uint64) (*Ticket, bool) {
	t, ok := m.tickets[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

func (m *mockState) TicketsByPatient(patient [20]byte) ([]*Ticket, error) {
	var out []*Ticket
	for _, t := range m.tickets {
		if t.Patient == patient {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (m *mockState) NextTicketID() (uint64, error) {
	id := m.nextTicket
	m.nextTicket++
	return id, nil
}

func (m *mockState) RecordPut(r *Record) error {
	m.records[r.ID] = r.Clone()
	return nil
}

func (m *mockState) RecordGet(id uint64) (*Record, bool) {
	r, ok := m.records[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (m *mockState) NextRecordID() (uint64, error) {
	id := m.nextRecord
	m.nextRecord++
	return id, nil
}

func (m *mockState) RecordsByPatient(patient [20]byte) ([]uint64, error) {
	var out []uint64
	for id, r := range m.records {
		if r.Patient == patient {
			out = append(out, id)
		}
	}
	return out, nil
}

type mockDirectory struct {
	doctors  map[[20]byte]bool
	patients map[[20]byte]bool
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		doctors:  make(map[[20]byte]bool),
		patients: make(map[[20]byte]bool),
	}
}

func (d *mockDirectory) IsDoctor(addr [20]byte) bool  { return d.doctors[addr] }
func (d *mockDirectory) IsPatient(addr [20]byte) bool { return d.patients[addr] }

func (d *mockDirectory) DoctorCount() (int, error) { return len(d.doctors), nil }

type capturingEmitter struct {
	types []string
}

func (c *capturingEmitter) Emit(evt events.Event) {
	typed, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	c.types = append(c.types, typed.Event().Type)
}

func (c *capturingEmitter) count(eventType string) int {
	n := 0
	for _, typ := range c.types {
		if typ == eventType {
			n++
		}
	}
	return n
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	admin   = testAddr(0xAD)
	doctor  = testAddr(0xD0)
	patient = testAddr(0x9A)
)

func newTestEngine() (*Engine, *mockDirectory, *capturingEmitter) {
	dir := newMockDirectory()
	dir.doctors[doctor] = true
	dir.patients[patient] = true
	engine := NewEngine()
	engine.SetState(newMockState())
	engine.SetDirectory(dir)
	engine.SetAdmin(admin)
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return engine, dir, emitter
}

func TestQuorumThreshold(t *testing.T) {
	cases := map[int]int{1: 1, 2: 2, 3: 2, 4: 3, 5: 4, 6: 4, 9: 6}
	for count, want := range cases {
		if got := QuorumThreshold(count); got != want {
			t.Errorf("QuorumThreshold(%d) = %d, want %d", count, got, want)
		}
	}
	for count := 1; count <= 100; count++ {
		got := QuorumThreshold(count)
		if 3*got < 2*count {
			t.Fatalf("threshold %d for %d doctors is below two thirds", got, count)
		}
		if 3*(got-1) >= 2*count {
			t.Fatalf("threshold %d for %d doctors is not minimal", got, count)
		}
	}
}

func TestCreateRequestGuards(t *testing.T) {
	engine, _, _ := newTestEngine()
	if _, err := engine.CreateRequest(doctor, doctor, patient); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin create: got %v", err)
	}
	if _, err := engine.CreateRequest(admin, testAddr(0x01), patient); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unregistered doctor: got %v", err)
	}
	if _, err := engine.CreateRequest(admin, doctor, testAddr(0x02)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unregistered patient: got %v", err)
	}
}

func TestApproveRequestFlow(t *testing.T) {
	engine, _, emitter := newTestEngine()
	request, err := engine.CreateRequest(admin, doctor, patient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if request.Status != RequestPending {
		t.Fatalf("new request status = %v", request.Status)
	}
	if err := engine.ApproveRequest(request.ID, patient); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("patient approve: got %v", err)
	}
	if err := engine.ApproveRequest(request.ID, admin); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("admin approve: got %v", err)
	}
	if err := engine.ApproveRequest(request.ID, doctor); err != nil {
		t.Fatalf("doctor approve: %v", err)
	}
	if err := engine.ApproveRequest(request.ID, doctor); !errors.Is(err, ErrWrongState) {
		t.Fatalf("second approve: got %v", err)
	}
	stored, err := engine.GetRequest(request.ID)
	if err != nil || stored.Status != RequestApproved {
		t.Fatalf("stored request = %+v err=%v", stored, err)
	}
	if emitter.count(EventTypeRequestApproved) != 1 {
		t.Fatalf("approved events = %d, want 1", emitter.count(EventTypeRequestApproved))
	}
	if err := engine.ApproveRequest(99, doctor); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown request: got %v", err)
	}
}

func TestRaiseEmergencySnapshotsDoctorCount(t *testing.T) {
	engine, dir, _ := newTestEngine()
	dir.doctors[testAddr(0xD1)] = true
	dir.doctors[testAddr(0xD2)] = true

	ticket, err := engine.RaiseEmergency(admin, patient)
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if ticket.DoctorCount != 3 || ticket.Threshold != 2 {
		t.Fatalf("snapshot = %d/%d, want 3/2", ticket.DoctorCount, ticket.Threshold)
	}

	// Registrations after the raise do not change the ticket.
	dir.doctors[testAddr(0xD3)] = true
	stored, err := engine.GetTicket(ticket.ID)
	if err != nil || stored.DoctorCount != 3 || stored.Threshold != 2 {
		t.Fatalf("stored ticket = %+v err=%v", stored, err)
	}
}

func TestRaiseEmergencyGuards(t *testing.T) {
	engine, dir, _ := newTestEngine()
	if _, err := engine.RaiseEmergency(doctor, patient); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin raise: got %v", err)
	}
	if _, err := engine.RaiseEmergency(admin, testAddr(0x01)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unregistered patient: got %v", err)
	}
	delete(dir.doctors, doctor)
	if _, err := engine.RaiseEmergency(admin, patient); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("zero doctors: got %v", err)
	}
}

func TestVoteReachesQuorumExactlyOnce(t *testing.T) {
	engine, dir, emitter := newTestEngine()
	d2, d3 := testAddr(0xD1), testAddr(0xD2)
	dir.doctors[d2] = true
	dir.doctors[d3] = true

	ticket, err := engine.RaiseEmergency(admin, patient)
	if err != nil {
		t.Fatalf("raise: %v", err)
	}

	if err := engine.Vote(ticket.ID, doctor); err != nil {
		t.Fatalf("vote 1: %v", err)
	}
	granted, err := engine.IsAccessGranted(patient)
	if err != nil || granted {
		t.Fatalf("access granted after 1/3 votes (err=%v)", err)
	}
	if emitter.count(EventTypeEmergencyApproved) != 0 {
		t.Fatal("approved event before threshold")
	}

	if err := engine.Vote(ticket.ID, d2); err != nil {
		t.Fatalf("vote 2: %v", err)
	}
	granted, err = engine.IsAccessGranted(patient)
	if err != nil || !granted {
		t.Fatalf("access not granted at threshold (err=%v)", err)
	}
	if emitter.count(EventTypeEmergencyApproved) != 1 {
		t.Fatalf("approved events = %d, want 1", emitter.count(EventTypeEmergencyApproved))
	}

	// The late vote is counted but does not re-fire approval.
	if err := engine.Vote(ticket.ID, d3); err != nil {
		t.Fatalf("vote 3: %v", err)
	}
	if emitter.count(EventTypeEmergencyApproved) != 1 {
		t.Fatalf("approved events after late vote = %d, want 1", emitter.count(EventTypeEmergencyApproved))
	}
	stored, err := engine.GetTicket(ticket.ID)
	if err != nil || stored.Votes != 3 || !stored.Approved {
		t.Fatalf("stored ticket = %+v err=%v", stored, err)
	}
}

func TestVoteGuards(t *testing.T) {
	engine, dir, _ := newTestEngine()
	ticket, err := engine.RaiseEmergency(admin, patient)
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if err := engine.Vote(ticket.ID, patient); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-doctor vote: got %v", err)
	}
	if err := engine.Vote(99, doctor); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown ticket: got %v", err)
	}
	if err := engine.Vote(ticket.ID, doctor); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := engine.Vote(ticket.ID, doctor); !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("double vote: got %v", err)
	}
	// One registered doctor means the tally is full.
	late := testAddr(0xD9)
	dir.doctors[late] = true
	if err := engine.Vote(ticket.ID, late); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("vote past snapshot count: got %v", err)
	}
}
