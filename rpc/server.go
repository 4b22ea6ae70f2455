package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"custodia/core/node"
	"custodia/crypto"
	"custodia/gateway/auth"
	"custodia/gateway/middleware"
	"custodia/native/access"
	"custodia/native/common"
	"custodia/native/escrow"
	"custodia/native/registry"
)

// Server exposes every ledger operation over JSON HTTP. Mutations are
// authenticated with bearer tokens whose subject is the caller's ledger
// address, rate limited per client, and deduplicated through the idempotency
// store when the caller supplies an Idempotency-Key header.
type Server struct {
	node    *node.Node
	store   *Store
	auth    *auth.Authenticator
	limiter *middleware.RateLimiter
	log     *slog.Logger
	reg     *prometheus.Registry
	metrics *metrics
	router  chi.Router
}

// Options configures the gateway server.
type Options struct {
	Node          *node.Node
	Store         *Store
	Authenticator *auth.Authenticator
	RateLimit     middleware.RateLimit
	Logger        *slog.Logger
}

// NewServer assembles the router. Store may be nil, in which case idempotency
// replay and auditing are disabled.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		node:    opts.Node,
		store:   opts.Store,
		auth:    opts.Authenticator,
		limiter: middleware.NewRateLimiter(opts.RateLimit),
		log:     logger,
		reg:     prometheus.NewRegistry(),
	}
	s.metrics = newMetrics(s.reg)
	s.router = s.buildRouter()
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "custodia-gateway")
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.metrics.middleware)
	r.Use(s.limiter.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			if s.auth != nil {
				r.Use(s.auth.Middleware)
			}
			r.Use(s.idempotency)
			r.Use(s.audit)

			r.Route("/escrow/listings", func(r chi.Router) {
				r.Post("/", s.handlePropose)
				r.Get("/{id}", s.handleGetListing)
				r.Get("/{id}/vault", s.handleVaultBalance)
				r.Get("/{id}/deed", s.handleDeedOwner)
				r.Post("/{id}/verify", s.handleVerify)
				r.Post("/{id}/reject", s.handleReject)
				r.Post("/{id}/terms", s.handleSetTerms)
				r.Post("/{id}/deposit", s.handleDeposit)
				r.Post("/{id}/approve", s.handleApprove)
				r.Post("/{id}/inspection", s.handleInspection)
				r.Post("/{id}/fund", s.handleFund)
				r.Post("/{id}/finalize", s.handleFinalize)
				r.Post("/{id}/cancel", s.handleCancel)
			})

			r.Route("/registry/{kind}/members", func(r chi.Router) {
				r.Post("/", s.handleAddMember)
				r.Get("/", s.handleListMembers)
				r.Get("/{address}", s.handleGetMember)
				r.Delete("/{address}", s.handleRemoveMember)
			})

			r.Route("/access", func(r chi.Router) {
				r.Post("/requests", s.handleCreateRequest)
				r.Get("/requests/{id}", s.handleGetRequest)
				r.Post("/requests/{id}/approve", s.handleApproveRequest)
				r.Post("/emergencies", s.handleRaiseEmergency)
				r.Get("/emergencies/{id}", s.handleGetTicket)
				r.Post("/emergencies/{id}/votes", s.handleVote)
				r.Get("/patients/{address}/granted", s.handleAccessGranted)
				r.Post("/records", s.handleAddRecord)
				r.Get("/records/{id}", s.handleGetRecord)
				r.Get("/records/{id}/cid", s.handleGetRecordCID)
			})
		})
	})
	return r
}

// --- middleware ---

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) audit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		subject, _ := auth.Subject(r.Context())
		entry := AuditEntry{
			Subject:   subject,
			RequestID: w.Header().Get("X-Request-ID"),
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    rec.status,
			Timestamp: time.Now().UTC(),
		}
		if err := s.store.InsertAudit(r.Context(), entry); err != nil {
			s.log.Warn("audit insert failed", "error", err)
		}
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error string `json:"error"`
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, registry.ErrNotFound),
		errors.Is(err, access.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrUnauthorized),
		errors.Is(err, registry.ErrUnauthorized),
		errors.Is(err, access.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, escrow.ErrInvalidInput),
		errors.Is(err, registry.ErrInvalidInput),
		errors.Is(err, access.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrIdempotencyMismatch):
		return http.StatusConflict
	case errors.Is(err, escrow.ErrWrongState),
		errors.Is(err, escrow.ErrInvalidState),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInsufficientBalance),
		errors.Is(err, escrow.ErrNoBuyer),
		errors.Is(err, escrow.ErrTermsNotSet),
		errors.Is(err, escrow.ErrBuyerNotApproved),
		errors.Is(err, escrow.ErrSellerNotApproved),
		errors.Is(err, escrow.ErrLenderNotApproved),
		errors.Is(err, escrow.ErrInspectionNotPassed),
		errors.Is(err, registry.ErrAlreadyRegistered),
		errors.Is(err, registry.ErrTransferRestricted),
		errors.Is(err, access.ErrWrongState),
		errors.Is(err, access.ErrInvalidState),
		errors.Is(err, access.ErrAlreadyVoted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Error("gateway request failed", "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func caller(r *http.Request) ([20]byte, error) {
	subject, ok := auth.Subject(r.Context())
	if !ok {
		return [20]byte{}, errors.New("missing authenticated subject")
	}
	return parseAddress(subject)
}

func parseAddress(raw string) ([20]byte, error) {
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return [20]byte{}, err
	}
	var out [20]byte
	copy(out[:], decoded.Bytes())
	return out, nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, errors.New("amount must be a base-10 integer")
	}
	return amount, nil
}

func pathID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

func decodeBody(r *http.Request, into any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(into)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
}
