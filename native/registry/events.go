package registry

import (
	"fmt"
	"strconv"

	"custodia/core/types"
	"custodia/crypto"
)

// Event types follow the registry.<kind>.<action> convention, e.g.
// registry.doctor.added.
func eventTypeAdded(kind Kind) string   { return fmt.Sprintf("registry.%s.added", kind) }
func eventTypeRemoved(kind Kind) string { return fmt.Sprintf("registry.%s.removed", kind) }

// NewAddedEvent returns the canonical payload emitted when an identity joins
// a registry.
func NewAddedEvent(kind Kind, m *Member) *types.Event {
	attrs := make(map[string]string)
	evt := &types.Event{Type: eventTypeAdded(kind), Attributes: attrs}
	if m == nil {
		return evt
	}
	attrs["member"] = crypto.MustAddress(m.Address)
	attrs["name"] = m.Name
	if m.Profile != "" {
		attrs["profile"] = m.Profile
	}
	if m.ProfileCID != "" {
		attrs["profileCID"] = m.ProfileCID
	}
	if m.CredentialID != 0 {
		attrs["credentialId"] = strconv.FormatUint(m.CredentialID, 10)
	}
	return evt
}

// NewRemovedEvent returns the canonical payload emitted when an identity is
// removed from a registry.
func NewRemovedEvent(kind Kind, addr [20]byte) *types.Event {
	return &types.Event{
		Type: eventTypeRemoved(kind),
		Attributes: map[string]string{
			"member": crypto.MustAddress(addr),
		},
	}
}
