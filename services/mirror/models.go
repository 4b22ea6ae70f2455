package mirror

import "time"

// ListingRow is the queryable projection of one escrow listing.
type ListingRow struct {
	ID               uint64 `gorm:"primaryKey"`
	Seller           string `gorm:"index"`
	Buyer            string `gorm:"index"`
	DeedURI          string
	Price            string
	EscrowAmount     string
	Status           string `gorm:"index"`
	InspectionPassed bool
	UpdatedSequence  uint64
	UpdatedAt        time.Time
}

// MemberRow is the projection of one registry membership.
type MemberRow struct {
	Kind            string `gorm:"primaryKey"`
	Address         string `gorm:"primaryKey"`
	Name            string
	Profile         string
	ProfileCID      string
	CredentialID    uint64
	Active          bool `gorm:"index"`
	UpdatedSequence uint64
	UpdatedAt       time.Time
}

// RequestRow is the projection of one direct access request.
type RequestRow struct {
	ID              uint64 `gorm:"primaryKey"`
	Doctor          string `gorm:"index"`
	Patient         string `gorm:"index"`
	Status          string `gorm:"index"`
	UpdatedSequence uint64
	UpdatedAt       time.Time
}

// TicketRow is the projection of one emergency ticket.
type TicketRow struct {
	ID              uint64 `gorm:"primaryKey"`
	Patient         string `gorm:"index"`
	DoctorCount     int
	Threshold       int
	Votes           int
	Approved        bool `gorm:"index"`
	UpdatedSequence uint64
	UpdatedAt       time.Time
}

// Cursor remembers the last applied outbox sequence so restarts resume
// without reprocessing.
type Cursor struct {
	Name     string `gorm:"primaryKey"`
	Sequence uint64
}
