package registry

import "errors"

var (
	ErrUnauthorized      = errors.New("registry: unauthorized caller")
	ErrAlreadyRegistered = errors.New("registry: already registered")
	ErrNotFound          = errors.New("registry: not found")
	ErrInvalidInput      = errors.New("registry: invalid input")
	// ErrTransferRestricted rejects any attempt to move a membership
	// credential between identities. Credentials are soulbound: minted on
	// registration, burned on removal, never transferred.
	ErrTransferRestricted = errors.New("registry: credential transfers are restricted")
)
