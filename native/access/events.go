package access

import (
	"encoding/hex"
	"strconv"

	"custodia/core/types"
	"custodia/crypto"
)

const (
	EventTypeRequestCreated    = "access.request_created"
	EventTypeRequestApproved   = "access.request_approved"
	EventTypeEmergencyRaised   = "access.emergency_raised"
	EventTypeEmergencyVoted    = "access.emergency_voted"
	EventTypeEmergencyApproved = "access.emergency_approved"
	EventTypeRecordAdded       = "access.record_added"
)

// NewRequestCreatedEvent returns the payload for a freshly created direct
// request.
func NewRequestCreatedEvent(r *Request) *types.Event {
	return newRequestEvent(EventTypeRequestCreated, r)
}

// NewRequestApprovedEvent returns the payload emitted when the named doctor
// approves the request.
func NewRequestApprovedEvent(r *Request) *types.Event {
	return newRequestEvent(EventTypeRequestApproved, r)
}

func newRequestEvent(eventType string, r *Request) *types.Event {
	attrs := make(map[string]string)
	evt := &types.Event{Type: eventType, Attributes: attrs}
	if r == nil {
		return evt
	}
	attrs["id"] = strconv.FormatUint(r.ID, 10)
	attrs["doctor"] = crypto.MustAddress(r.Doctor)
	attrs["patient"] = crypto.MustAddress(r.Patient)
	attrs["status"] = r.Status.String()
	return evt
}

// NewEmergencyRaisedEvent returns the payload for a freshly raised ticket,
// including the snapshot doctor count and computed threshold.
func NewEmergencyRaisedEvent(t *Ticket) *types.Event {
	return newTicketEvent(EventTypeEmergencyRaised, t, nil)
}

// NewEmergencyVotedEvent returns the payload for an individual ballot.
func NewEmergencyVotedEvent(t *Ticket, voter [20]byte) *types.Event {
	return newTicketEvent(EventTypeEmergencyVoted, t, &voter)
}

// NewEmergencyApprovedEvent fires exactly once, on the vote that reaches the
// quorum threshold.
func NewEmergencyApprovedEvent(t *Ticket) *types.Event {
	return newTicketEvent(EventTypeEmergencyApproved, t, nil)
}

func newTicketEvent(eventType string, t *Ticket, voter *[20]byte) *types.Event {
	attrs := make(map[string]string)
	evt := &types.Event{Type: eventType, Attributes: attrs}
	if t == nil {
		return evt
	}
	attrs["id"] = strconv.FormatUint(t.ID, 10)
	attrs["patient"] = crypto.MustAddress(t.Patient)
	attrs["votes"] = strconv.Itoa(t.Votes)
	attrs["threshold"] = strconv.Itoa(t.Threshold)
	attrs["doctorCount"] = strconv.Itoa(t.DoctorCount)
	attrs["approved"] = strconv.FormatBool(t.Approved)
	if voter != nil {
		attrs["voter"] = crypto.MustAddress(*voter)
	}
	return evt
}

// NewRecordAddedEvent returns the payload for a stored record. The CID never
// appears in events; only its blake3 digest does.
func NewRecordAddedEvent(r *Record) *types.Event {
	attrs := make(map[string]string)
	evt := &types.Event{Type: EventTypeRecordAdded, Attributes: attrs}
	if r == nil {
		return evt
	}
	attrs["id"] = strconv.FormatUint(r.ID, 10)
	attrs["patient"] = crypto.MustAddress(r.Patient)
	attrs["doctor"] = crypto.MustAddress(r.Doctor)
	attrs["digest"] = hex.EncodeToString(r.Digest[:])
	return evt
}
