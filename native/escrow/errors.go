package escrow

import "errors"

// Guard failures surface one sentinel per precondition so callers (and the
// HTTP surface) can branch on the exact condition that failed.
var (
	ErrNotFound            = errors.New("escrow: listing not found")
	ErrUnauthorized        = errors.New("escrow: unauthorized caller")
	ErrWrongState          = errors.New("escrow: listing status does not permit operation")
	ErrInvalidState        = errors.New("escrow: invalid listing state")
	ErrInvalidInput        = errors.New("escrow: invalid input")
	ErrInvalidAmount       = errors.New("escrow: amount does not match required escrow")
	ErrInsufficientBalance = errors.New("escrow: insufficient balance")
	ErrNoBuyer             = errors.New("escrow: no buyer on record")
	ErrTermsNotSet         = errors.New("escrow: purchase terms not set")
	ErrBuyerNotApproved    = errors.New("escrow: buyer has not approved")
	ErrSellerNotApproved   = errors.New("escrow: seller has not approved")
	ErrLenderNotApproved   = errors.New("escrow: lender has not approved")
	ErrInspectionNotPassed = errors.New("escrow: inspection has not passed")
)
