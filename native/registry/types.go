package registry

import (
	"fmt"
	"strings"
)

// Kind identifies which role registry a member belongs to.
type Kind string

const (
	KindDoctor  Kind = "doctor"
	KindPatient Kind = "patient"
	KindInsurer Kind = "insurer"
)

// Valid reports whether the kind is one of the supported registries.
func (k Kind) Valid() bool {
	switch k {
	case KindDoctor, KindPatient, KindInsurer:
		return true
	default:
		return false
	}
}

// Member captures one registered identity. Position indexes into the dense
// membership list and is updated whenever a swap-and-pop removal moves the
// member; it must always agree with the backing list.
type Member struct {
	Address      [20]byte
	Name         string
	Profile      string
	ProfileCID   string
	Position     int
	CredentialID uint64
	JoinedAt     int64
}

// Clone returns a copy of the member record.
func (m *Member) Clone() *Member {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// SanitizeMember validates and normalises a member record without mutating
// the input.
func SanitizeMember(m *Member) (*Member, error) {
	if m == nil {
		return nil, fmt.Errorf("nil member")
	}
	clone := m.Clone()
	clone.Name = strings.TrimSpace(clone.Name)
	clone.Profile = strings.TrimSpace(clone.Profile)
	clone.ProfileCID = strings.TrimSpace(clone.ProfileCID)
	if clone.Name == "" {
		return nil, fmt.Errorf("member name required")
	}
	if clone.Position < 0 {
		return nil, fmt.Errorf("member position must be non-negative")
	}
	return clone, nil
}

// Credential is the non-transferable token proving registry membership.
type Credential struct {
	ID       uint64
	Kind     Kind
	Owner    [20]byte
	IssuedAt int64
}

// Clone returns a copy of the credential.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
