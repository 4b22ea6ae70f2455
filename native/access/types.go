package access

// RequestStatus enumerates the lifecycle of a direct access request.
type RequestStatus uint8

const (
	// RequestUnknown is the zero value and never persisted.
	RequestUnknown RequestStatus = iota
	// RequestPending marks a request awaiting the named doctor's approval.
	RequestPending
	// RequestApproved marks a request the named doctor has signed off on.
	RequestApproved
)

// String renders the status for logs and event payloads.
func (s RequestStatus) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestApproved:
		return "approved"
	default:
		return "unknown"
	}
}

// Request is an administrator-created petition for access to a specific
// doctor/patient pair's records. Only the named doctor may approve it.
type Request struct {
	ID         uint64
	Doctor     [20]byte
	Patient    [20]byte
	Status     RequestStatus
	CreatedAt  int64
	ApprovedAt int64
}

// Clone returns a copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// Ticket is one raised emergency-access petition resolved by quorum vote.
// DoctorCount snapshots the registered doctor population at raise time; the
// vote tally can never exceed it.
type Ticket struct {
	ID          uint64
	Patient     [20]byte
	DoctorCount int
	Threshold   int
	Votes       int
	Voters      map[[20]byte]bool
	Approved    bool
	RaisedAt    int64
}

// Clone returns a deep copy of the ticket including its voter set.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Voters = make(map[[20]byte]bool, len(t.Voters))
	for voter, voted := range t.Voters {
		clone.Voters[voter] = voted
	}
	return &clone
}

// Record stores one protected medical record pointer. The CID itself is the
// protected value; Digest is a blake3 fingerprint safe to expose in events.
type Record struct {
	ID        uint64
	Patient   [20]byte
	Doctor    [20]byte
	CID       string
	Digest    [32]byte
	CreatedAt int64
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// QuorumThreshold computes the two-thirds majority required to approve an
// emergency ticket: ceil(2n/3). Two of three registered doctors pass the
// threshold, one of three does not.
func QuorumThreshold(doctorCount int) int {
	if doctorCount <= 0 {
		return 0
	}
	return (2*doctorCount + 2) / 3
}
