package access

import "errors"

var (
	ErrUnauthorized = errors.New("access: unauthorized caller")
	ErrWrongState   = errors.New("access: request status does not permit operation")
	ErrInvalidState = errors.New("access: invalid state")
	ErrInvalidInput = errors.New("access: invalid input")
	ErrNotFound     = errors.New("access: not found")
	ErrAlreadyVoted = errors.New("access: doctor has already voted")
)
