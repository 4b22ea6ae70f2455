package escrow

import (
	"strconv"

	"custodia/core/types"
	"custodia/crypto"
)

const (
	EventTypeListingProposed  = "listing.proposed"
	EventTypeListingVerified  = "listing.verified"
	EventTypeListingRejected  = "listing.rejected"
	EventTypeTermsSet         = "listing.terms_set"
	EventTypeEarnestDeposited = "listing.deposited"
	EventTypeSaleApproved     = "listing.approved"
	EventTypeInspectionUpdate = "listing.inspection_updated"
	EventTypeSaleFinalized    = "listing.sale_finalized"
	EventTypeSaleCancelled    = "listing.sale_cancelled"
)

// NewProposedEvent returns the canonical payload for a freshly proposed
// listing, carrying the newly assigned identifier.
func NewProposedEvent(l *Listing) *types.Event { return newListingEvent(EventTypeListingProposed, l) }

// NewVerifiedEvent is emitted when the inspector verifies the listing and the
// deed token is minted to the seller.
func NewVerifiedEvent(l *Listing) *types.Event { return newListingEvent(EventTypeListingVerified, l) }

// NewRejectedEvent is emitted when the inspector rejects a pending listing.
func NewRejectedEvent(l *Listing) *types.Event { return newListingEvent(EventTypeListingRejected, l) }

// NewTermsSetEvent is emitted when the seller fixes price and earnest amount.
func NewTermsSetEvent(l *Listing) *types.Event { return newListingEvent(EventTypeTermsSet, l) }

// NewDepositedEvent is emitted when a buyer deposits the earnest amount.
func NewDepositedEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeEarnestDeposited, l)
}

// NewApprovedEvent is emitted the first time a party sets its approval flag.
func NewApprovedEvent(l *Listing, party [20]byte) *types.Event {
	evt := newListingEvent(EventTypeSaleApproved, l)
	evt.Attributes["party"] = crypto.MustAddress(party)
	return evt
}

// NewInspectionEvent is emitted when the inspector records an inspection
// outcome.
func NewInspectionEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeInspectionUpdate, l)
}

// NewFinalizedEvent is emitted exactly once when the sale settles, carrying
// both parties and the full purchase price.
func NewFinalizedEvent(l *Listing) *types.Event { return newListingEvent(EventTypeSaleFinalized, l) }

// NewCancelledEvent is emitted when a failed-inspection deal is aborted and
// the earnest deposit refunded.
func NewCancelledEvent(l *Listing) *types.Event { return newListingEvent(EventTypeSaleCancelled, l) }

func newListingEvent(eventType string, l *Listing) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeListing(l)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["seller"] = crypto.MustAddress(sanitized.Seller)
	attrs["status"] = sanitized.Status.String()
	attrs["price"] = sanitized.Price.String()
	attrs["escrowAmount"] = sanitized.EscrowAmount.String()
	attrs["inspectionPassed"] = strconv.FormatBool(sanitized.InspectionPassed)
	if sanitized.HasBuyer {
		attrs["buyer"] = crypto.MustAddress(sanitized.Buyer)
	}
	if sanitized.DeedURI != "" {
		attrs["deedURI"] = sanitized.DeedURI
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
