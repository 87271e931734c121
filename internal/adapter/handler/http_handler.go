package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const (
	requestTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

type HTTPHandler struct {
	exchange *Exchange
	limiter  *RateLimiter
	observer RequestObserver
	metrics  http.Handler
	log      logrus.FieldLogger
}

type HTTPOption func(*HTTPHandler)

func WithRateLimiter(rl *RateLimiter) HTTPOption {
	return func(h *HTTPHandler) { h.limiter = rl }
}

// WithMetrics serves m on /metrics and counts requests into obs.
func WithMetrics(obs RequestObserver, m http.Handler) HTTPOption {
	return func(h *HTTPHandler) {
		h.observer = obs
		h.metrics = m
	}
}

func WithLogger(log logrus.FieldLogger) HTTPOption {
	return func(h *HTTPHandler) { h.log = log }
}

func NewHTTPHandler(exchange *Exchange, opts ...HTTPOption) *HTTPHandler {
	h := &HTTPHandler{
		exchange: exchange,
		observer: nopObserver{},
		log:      discardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes builds the router. Mutations require the X-Caller-ID header and
// honour an optional Idempotency-Key header.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(callerIdentity)
	r.Use(requestLogger(h.log, h.observer))

	r.Get("/health", h.HealthCheck)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Use(h.limiter.Handler)

		r.Post("/issuers/{issuer}/verify", h.VerifyIssuer)
		r.Post("/issuers/{issuer}/review", h.ReviewIssuer)
		r.Post("/mint", h.Mint)
		r.Post("/transfers", h.Transfer)
		r.Post("/batches/{id}/retire", h.Retire)
		r.Get("/batches/{id}", h.GetBatch)
		r.Post("/listings", h.CreateListing)
		r.Get("/listings/active", h.ActiveListings)
		r.Get("/listings/{id}", h.GetListing)
		r.Post("/listings/{id}/buy", h.Buy)
		r.Post("/listings/{id}/cancel", h.CancelListing)
		r.Get("/accounts/{id}", h.GetAccount)
		r.Post("/payments/{id}/deposit", h.Deposit)
		r.Get("/payments/{id}", h.GetPaymentBalance)
		r.Get("/projects/{id}/supply", h.ProjectSupply)
		r.Get("/supply", h.Supply)
		r.Get("/events", h.Events)
	})
	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) VerifyIssuer(w http.ResponseWriter, r *http.Request) {
	mutate(h, w, r, http.StatusOK, func(req *VerifyIssuerRequest) error {
		req.Issuer = chi.URLParam(r, "issuer")
		return nil
	}, h.exchange.VerifyIssuer)
}

func (h *HTTPHandler) ReviewIssuer(w http.ResponseWriter, r *http.Request) {
	mutate(h, w, r, http.StatusOK, func(req *VerifyIssuerRequest) error {
		req.Issuer = chi.URLParam(r, "issuer")
		return nil
	}, h.exchange.ReviewIssuer)
}

func (h *HTTPHandler) Mint(w http.ResponseWriter, r *http.Request) {
	mutate(h, w, r, http.StatusCreated, nil, h.exchange.Mint)
}

func (h *HTTPHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	mutate(h, w, r, http.StatusOK, nil, h.exchange.Transfer)
}

func (h *HTTPHandler) Retire(w http.ResponseWriter, r *http.Request) {
	mutate(h, w, r, http.StatusOK, func(req *RetireRequest) error {
		id, err := pathID(r)
		req.BatchID = id
		return err
	}, h.exchange.Retire)
}

func (h *HTTPHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	mutate(h, w, r, http.StatusCreated, nil, h.exchange.CreateListing)
}

func (h *HTTPHandler) Buy(w http.ResponseWriter, r *http.Request) {
	mutate(h, w, r, http.StatusOK, func(req *BuyRequest) error {
		id, err := pathID(r)
		req.ListingID = id
		return err
	}, h.exchange.Buy)
}

func (h *HTTPHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	mutate(h, w, r, http.StatusOK, func(req *CancelListingRequest) error {
		id, err := pathID(r)
		req.ListingID = id
		return err
	}, h.exchange.CancelListing)
}

func (h *HTTPHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	mutate(h, w, r, http.StatusOK, func(req *DepositRequest) error {
		req.Account = chi.URLParam(r, "id")
		return nil
	}, h.exchange.Deposit)
}

func (h *HTTPHandler) GetPaymentBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.exchange.PaymentBalance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *HTTPHandler) ActiveListings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.exchange.ActiveListings())
}

func (h *HTTPHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, "invalid listing id")
		return
	}
	l, err := h.exchange.Listing(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *HTTPHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, "invalid batch id")
		return
	}
	b, err := h.exchange.Batch(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *HTTPHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.exchange.Account(chi.URLParam(r, "id")))
}

func (h *HTTPHandler) ProjectSupply(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.exchange.ProjectSupply(chi.URLParam(r, "id")))
}

func (h *HTTPHandler) Supply(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.exchange.Supply())
}

func (h *HTTPHandler) Events(w http.ResponseWriter, r *http.Request) {
	var req EventsRequest
	q := r.URL.Query()
	if v := q.Get("after"); v != "" {
		after, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeBadRequest(w, "invalid after cursor")
			return
		}
		req.After = after
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "invalid limit")
			return
		}
		req.Limit = limit
	}

	resp, err := h.exchange.EventFeed(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// mutate decodes the body into Req, lets prepare fill in path parameters and
// runs call on behalf of the identified caller.
func mutate[Req, Resp any](
	h *HTTPHandler,
	w http.ResponseWriter,
	r *http.Request,
	okStatus int,
	prepare func(*Req) error,
	call func(ctx context.Context, caller, key string, req Req) (Resp, error),
) {
	caller := CallerFrom(r.Context())
	if caller == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthenticated",
			Message: "missing " + callerHeader + " header",
		})
		return
	}

	var req Req
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
	}
	if prepare != nil {
		if err := prepare(&req); err != nil {
			writeBadRequest(w, "invalid id")
			return
		}
	}

	resp, err := call(r.Context(), caller, r.Header.Get(idempotencyHeader), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, okStatus, resp)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	log := h.log.WithFields(logrus.Fields{
		"path":   r.URL.Path,
		"caller": CallerFrom(r.Context()),
		"kind":   body.Error,
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed")
	} else {
		log.Debug("request rejected")
	}
	writeJSON(w, status, body)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
