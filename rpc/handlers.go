package rpc

import (
	"encoding/hex"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"custodia/core/events"
	"custodia/crypto"
	"custodia/native/access"
	"custodia/native/escrow"
	"custodia/native/registry"
)

// --- escrow DTOs ---

type listingBody struct {
	ID               uint64 `json:"id"`
	Seller           string `json:"seller"`
	Buyer            string `json:"buyer,omitempty"`
	DeedURI          string `json:"deedUri"`
	Price            string `json:"price"`
	EscrowAmount     string `json:"escrowAmount"`
	Status           string `json:"status"`
	InspectionPassed bool   `json:"inspectionPassed"`
	BuyerApproved    bool   `json:"buyerApproved"`
	SellerApproved   bool   `json:"sellerApproved"`
	LenderApproved   bool   `json:"lenderApproved"`
	CreatedAt        int64  `json:"createdAt"`
}

func listingDTO(l *escrow.Listing) listingBody {
	body := listingBody{
		ID:               l.ID,
		Seller:           crypto.MustAddress(l.Seller),
		DeedURI:          l.DeedURI,
		Price:            l.Price.String(),
		EscrowAmount:     l.EscrowAmount.String(),
		Status:           l.Status.String(),
		InspectionPassed: l.InspectionPassed,
		BuyerApproved:    l.BuyerApproved,
		SellerApproved:   l.SellerApproved,
		LenderApproved:   l.LenderApproved,
		CreatedAt:        l.CreatedAt,
	}
	if l.HasBuyer {
		body.Buyer = crypto.MustAddress(l.Buyer)
	}
	return body
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	seller, err := caller(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req struct {
		DeedURI string `json:"deedUri"`
		Price   string `json:"price"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	listing, err := s.node.ProposeListing(seller, req.DeedURI, price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, listingDTO(listing))
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	listing, err := s.node.GetListing(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listingDTO(listing))
}

func (s *Server) handleVaultBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	balance, err := s.node.VaultBalance(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

func (s *Server) handleDeedOwner(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	owner, ok := s.node.DeedOwner(id)
	if !ok {
		s.writeError(w, escrow.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": crypto.MustAddress(owner)})
}

// callerOnly runs a mutation that needs only the listing id and the caller.
func (s *Server) callerOnly(w http.ResponseWriter, r *http.Request, op func(uint64, [20]byte) error) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	who, err := caller(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if err := op(id, who); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	s.callerOnly(w, r, s.node.VerifyListing)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.callerOnly(w, r, s.node.RejectListing)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	s.callerOnly(w, r, s.node.FinalizeSale)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.callerOnly(w, r, s.node.CancelSale)
}

func (s *Server) handleSetTerms(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	who, err := caller(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req struct {
		Price        string `json:"price"`
		EscrowAmount string `json:"escrowAmount"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	escrowAmount, err := parseAmount(req.EscrowAmount)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.node.SetListingTerms(id, who, price, escrowAmount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.amountOp(w, r, s.node.DepositEarnest)
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	s.amountOp(w, r, s.node.FundRemainder)
}

func (s *Server) amountOp(w http.ResponseWriter, r *http.Request, op func(uint64, [20]byte, *big.Int) error) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	who, err := caller(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if err := op(id, who, amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	who, err := caller(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req struct {
		Party string `json:"party"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	party := who
	if req.Party != "" {
		if party, err = parseAddress(req.Party); err != nil {
			s.badRequest(w, err)
			return
		}
	}
	if err := s.node.ApproveSale(id, who, party); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInspection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	who, err := caller(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req struct {
		Passed bool `json:"passed"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.node.UpdateInspection(id, who, req.Passed); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- registry handlers ---

type memberBody struct {
	Address      string `json:"address"`
	Name         string `json:"name"`
	Profile      string `json:"profile,omitempty"`
	ProfileCID   string `json:"profileCid,omitempty"`
	Position     int    `json:"position"`
	CredentialID uint64 `json:"credentialId,omitempty"`
	JoinedAt     int64  `json:"joinedAt"`
}

func memberDTO(m *registry.Member) memberBody {
	return memberBody{
		Address:      crypto.MustAddress(m.Address),
		Name:         m.Name,
		Profile:      m.Profile,
		ProfileCID:   m.ProfileCID,
		Position:     m.Position,
		CredentialID: m.CredentialID,
		JoinedAt:     m.JoinedAt,
	}
}

func pathKind(r *http.Request) registry.Kind {
	return registry.Kind(chi.URLParam(r, "kind"))
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req struct {
		Address    string `json:"address"`
		Name       string `json:"name"`
		Profile    string `json:"profile"`
		ProfileCID string `json:"profileCid"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	member, err := parseAddress(req.Address)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	added, err := s.node.AddMember(pathKind(r), who, member, req.Name, req.Profile, req.ProfileCID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, memberDTO(added))
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	member, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.node.RemoveMember(pathKind(r), who, member); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	member, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.badRequest(w, err)
		return
	}
	record, err := s.node.GetMember(pathKind(r), member)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memberDTO(record))
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	list, err := s.node.ListMembers(pathKind(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	members := make([]string, 0, len(list))
	for _, addr := range list {
		members = append(members, crypto.MustAddress(addr))
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members, "count": len(members)})
}

// --- access handlers ---

type requestBody struct {
	ID         uint64 `json:"id"`
	Doctor     string `json:"doctor"`
	Patient    string `json:"patient"`
	Status     string `json:"status"`
	CreatedAt  int64  `json:"createdAt"`
	ApprovedAt int64  `json:"approvedAt,omitempty"`
}

func requestDTO(r *access.Request) requestBody {
	return requestBody{
		ID:         r.ID,
		Doctor:     crypto.MustAddress(r.Doctor),
		Patient:    crypto.MustAddress(r.Patient),
		Status:     r.Status.String(),
		CreatedAt:  r.CreatedAt,
		ApprovedAt: r.ApprovedAt,
	}
}

type ticketBody struct {
	ID          uint64 `json:"id"`
	Patient     string `json:"patient"`
	DoctorCount int    `json:"doctorCount"`
	Threshold   int    `json:"threshold"`
	Votes       int    `json:"votes"`
	Approved    bool   `json:"approved"`
	RaisedAt    int64  `json:"raisedAt"`
}

func ticketDTO(t *access.Ticket) ticketBody {
	return ticketBody{
		ID:          t.ID,
		Patient:     crypto.MustAddress(t.Patient),
		DoctorCount: t.DoctorCount,
		Threshold:   t.Threshold,
		Votes:       t.Votes,
		Approved:    t.Approved,
		RaisedAt:    t.RaisedAt,
	}
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req struct {
		Doctor  string `json:"doctor"`
		Patient string `json:"patient"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	doctor, err := parseAddress(req.Doctor)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	patient, err := parseAddress(req.Patient)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	created, err := s.node.CreateAccessRequest(who, doctor, patient)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, requestDTO(created))
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	request, err := s.node.GetAccessRequest(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestDTO(request))
}

func (s *Server) handleApproveRequest(w http.ResponseWriter, r *http.Request) {
	s.callerOnly(w, r, s.node.ApproveAccessRequest)
}

func (s *Server) handleRaiseEmergency(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req struct {
		Patient string `json:"patient"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	patient, err := parseAddress(req.Patient)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	ticket, err := s.node.RaiseEmergency(who, patient)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticketDTO(ticket))
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	ticket, err := s.node.GetTicket(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticketDTO(ticket))
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	s.callerOnly(w, r, s.node.VoteEmergency)
}

func (s *Server) handleAccessGranted(w http.ResponseWriter, r *http.Request) {
	patient, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.badRequest(w, err)
		return
	}
	granted, err := s.node.IsAccessGranted(patient)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"granted": granted})
}

func (s *Server) handleAddRecord(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req struct {
		Patient string `json:"patient"`
		CID     string `json:"cid"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	patient, err := parseAddress(req.Patient)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	record, err := s.node.AddRecord(who, patient, req.CID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      record.ID,
		"patient": crypto.MustAddress(record.Patient),
		"doctor":  crypto.MustAddress(record.Doctor),
		"digest":  hex.EncodeToString(record.Digest[:]),
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	record, err := s.node.GetRecord(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        record.ID,
		"patient":   crypto.MustAddress(record.Patient),
		"doctor":    crypto.MustAddress(record.Doctor),
		"digest":    hex.EncodeToString(record.Digest[:]),
		"createdAt": record.CreatedAt,
	})
}

func (s *Server) handleGetRecordCID(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	who, err := caller(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var requestID uint64
	if raw := r.URL.Query().Get("request"); raw != "" {
		if requestID, err = strconv.ParseUint(raw, 10, 64); err != nil {
			s.badRequest(w, err)
			return
		}
	}
	cid, err := s.node.GetRecordCID(id, requestID, who)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cid": cid})
}

// --- events ---

type eventBody struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var after uint64
	var err error
	if raw := r.URL.Query().Get("after"); raw != "" {
		if after, err = strconv.ParseUint(raw, 10, 64); err != nil {
			s.badRequest(w, err)
			return
		}
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			s.badRequest(w, errors.New("limit must be a positive integer"))
			return
		}
	}
	records := s.node.Outbox().After(after)
	if len(records) > limit {
		records = records[:limit]
	}
	out := make([]eventBody, 0, len(records))
	for _, rec := range records {
		out = append(out, recordDTO(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": out,
		"latest": s.node.Outbox().Latest(),
	})
}

func recordDTO(rec events.Record) eventBody {
	body := eventBody{Sequence: rec.Sequence}
	if rec.Event != nil {
		body.Type = rec.Event.Type
		body.Attributes = rec.Event.Attributes
	}
	return body
}
