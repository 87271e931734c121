package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/carbon-exchange/internal/adapter/metrics"
	"github.com/rl1809/carbon-exchange/internal/core/domain"
)

type httpClient struct {
	t       *testing.T
	handler http.Handler
}

func (c httpClient) do(method, path, caller, key string, body any) *httptest.ResponseRecorder {
	c.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != "" {
		req.Header.Set(callerHeader, caller)
	}
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHTTP_TradeFlow(t *testing.T) {
	x := newTestExchange(t)
	x.deposit(t, "buyer", 1000)
	c := httpClient{t, NewHTTPHandler(x.Exchange).Routes()}

	rec := c.do(http.MethodPost, "/api/v1/mint", testOwner, "", MintRequest{
		To: "seller", Amount: 100, ProjectID: "mangrove-01", Vintage: 2024, Location: "KE",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), decode[MintResponse](t, rec).BatchID)

	rec = c.do(http.MethodPost, "/api/v1/listings", "seller", "", CreateListingRequest{
		Amount: 100, PricePerCredit: 10, Vintage: 2024, ProjectID: "mangrove-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), decode[CreateListingResponse](t, rec).ListingID)

	rec = c.do(http.MethodPost, "/api/v1/listings/1/buy", "buyer", "", BuyRequest{Amount: 30, Payment: 300})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	receipt := decode[domain.Receipt](t, rec)
	assert.Equal(t, int64(7), receipt.Fee)
	assert.Equal(t, int64(293), receipt.SellerPayment)
	assert.Equal(t, int64(70), receipt.Remaining)

	rec = c.do(http.MethodGet, "/api/v1/listings/active", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	active := decode[[]ListingView](t, rec)
	require.Len(t, active, 1)
	assert.Equal(t, domain.ListingStatusPartiallyFilled, active[0].Status)
	assert.Equal(t, int64(70), active[0].RemainingAmount)

	rec = c.do(http.MethodGet, "/api/v1/accounts/buyer", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(30), decode[domain.Account](t, rec).Balance)

	rec = c.do(http.MethodGet, "/api/v1/supply", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.Supply{Minted: 100, Escrowed: 70, Circulating: 30}, decode[domain.Supply](t, rec))

	rec = c.do(http.MethodGet, "/api/v1/projects/mangrove-01/supply", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(100), decode[ProjectSupply](t, rec).TotalMinted)

	rec = c.do(http.MethodPost, "/api/v1/listings/1/cancel", "seller", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = c.do(http.MethodGet, "/api/v1/listings/1", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ListingStatusCancelled, decode[ListingView](t, rec).Status)

	rec = c.do(http.MethodPost, "/api/v1/mint", testOwner, "", MintRequest{To: "buyer", Amount: 20, ProjectID: "kelp-02"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = c.do(http.MethodPost, "/api/v1/batches/2/retire", "buyer", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = c.do(http.MethodGet, "/api/v1/batches/2", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[domain.CreditBatch](t, rec).Retired)
	assert.Equal(t, int64(30), x.Ledger.Balance("buyer"))
}

func TestHTTP_ErrorMapping(t *testing.T) {
	x := newTestExchange(t)
	c := httpClient{t, NewHTTPHandler(x.Exchange).Routes()}

	rec := c.do(http.MethodPost, "/api/v1/mint", testOwner, "", MintRequest{To: "seller", Amount: 10, ProjectID: "p"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = c.do(http.MethodPost, "/api/v1/listings", "seller", "", CreateListingRequest{Amount: 10, PricePerCredit: 5})
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name   string
		method string
		path   string
		caller string
		body   any
		status int
		kind   domain.Kind
	}{
		{"missing caller", http.MethodPost, "/api/v1/mint", "", MintRequest{To: "a", Amount: 1}, http.StatusUnauthorized, "unauthenticated"},
		{"unauthorized mint", http.MethodPost, "/api/v1/mint", "mallory", MintRequest{To: "a", Amount: 1}, http.StatusForbidden, domain.KindUnauthorized},
		{"invalid amount", http.MethodPost, "/api/v1/mint", testOwner, MintRequest{To: "a", Amount: 0}, http.StatusBadRequest, domain.KindInvalidAmount},
		{"reserved recipient", http.MethodPost, "/api/v1/transfers", "seller", TransferRequest{To: domain.EscrowAccount, Amount: 1}, http.StatusBadRequest, domain.KindInvalidAccount},
		{"unknown listing", http.MethodPost, "/api/v1/listings/99/buy", "buyer", BuyRequest{Amount: 1, Payment: 5}, http.StatusNotFound, domain.KindNotFound},
		{"underpaid", http.MethodPost, "/api/v1/listings/1/buy", "buyer", BuyRequest{Amount: 2, Payment: 9}, http.StatusPaymentRequired, domain.KindInsufficientPayment},
		{"buyer has no funds", http.MethodPost, "/api/v1/listings/1/buy", "buyer", BuyRequest{Amount: 2, Payment: 10}, http.StatusPaymentRequired, domain.KindInsufficientFunds},
		{"deposit by non-owner", http.MethodPost, "/api/v1/payments/buyer/deposit", "buyer", DepositRequest{Amount: 10}, http.StatusForbidden, domain.KindUnauthorized},
		{"deposit to settlement", http.MethodPost, "/api/v1/payments/" + domain.SettlementAccount + "/deposit", testOwner, DepositRequest{Amount: 10}, http.StatusBadRequest, domain.KindInvalidAccount},
		{"insufficient balance", http.MethodPost, "/api/v1/transfers", "nobody", TransferRequest{To: "a", Amount: 1}, http.StatusConflict, domain.KindInsufficientBalance},
		{"unknown batch", http.MethodGet, "/api/v1/batches/7", "", nil, http.StatusNotFound, domain.KindNotFound},
		{"bad id", http.MethodGet, "/api/v1/listings/abc", "", nil, http.StatusBadRequest, "bad_request"},
		{"bad cursor", http.MethodGet, "/api/v1/events?after=x", "", nil, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := c.do(tt.method, tt.path, tt.caller, "", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, decode[ErrorResponse](t, rec).Error)
		})
	}

	t.Run("listing inactive", func(t *testing.T) {
		rec := c.do(http.MethodPost, "/api/v1/listings/1/cancel", "seller", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		rec = c.do(http.MethodPost, "/api/v1/listings/1/cancel", "seller", "", nil)
		assert.Equal(t, http.StatusGone, rec.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/mint", strings.NewReader(`{"to":"a","amount":1,"admin":true}`))
		req.Header.Set(callerHeader, testOwner)
		rec := httptest.NewRecorder()
		c.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHTTP_IdempotencyKey(t *testing.T) {
	x := newTestExchange(t)
	c := httpClient{t, NewHTTPHandler(x.Exchange).Routes()}
	mint := MintRequest{To: "seller", Amount: 10, ProjectID: "p"}

	rec := c.do(http.MethodPost, "/api/v1/mint", testOwner, "mint-1", mint)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = c.do(http.MethodPost, "/api/v1/mint", testOwner, "mint-1", mint)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, domain.KindDuplicateRequest, decode[ErrorResponse](t, rec).Error)
	assert.Equal(t, int64(10), x.Ledger.Balance("seller"))

	// A rejected request releases its key.
	rec = c.do(http.MethodPost, "/api/v1/mint", "mallory", "mint-2", mint)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = c.do(http.MethodPost, "/api/v1/mint", "mallory", "mint-2", mint)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHTTP_DepositFundsBuyer(t *testing.T) {
	x := newTestExchange(t)
	c := httpClient{t, NewHTTPHandler(x.Exchange).Routes()}

	rec := c.do(http.MethodPost, "/api/v1/mint", testOwner, "", MintRequest{To: "seller", Amount: 10, ProjectID: "p"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = c.do(http.MethodPost, "/api/v1/listings", "seller", "", CreateListingRequest{Amount: 10, PricePerCredit: 5})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = c.do(http.MethodPost, "/api/v1/listings/1/buy", "buyer", "", BuyRequest{Amount: 2, Payment: 10})
	require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())

	rec = c.do(http.MethodPost, "/api/v1/payments/buyer/deposit", testOwner, "fund-1", DepositRequest{Amount: 25})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, PaymentBalance{Account: "buyer", Balance: 25}, decode[PaymentBalance](t, rec))

	rec = c.do(http.MethodPost, "/api/v1/payments/buyer/deposit", testOwner, "fund-1", DepositRequest{Amount: 25})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = c.do(http.MethodPost, "/api/v1/listings/1/buy", "buyer", "", BuyRequest{Amount: 2, Payment: 10})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = c.do(http.MethodGet, "/api/v1/payments/buyer", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(15), decode[PaymentBalance](t, rec).Balance)
}

func TestHTTP_DepositWithoutRail(t *testing.T) {
	x := newTestExchange(t)
	x.Funds = nil
	c := httpClient{t, NewHTTPHandler(x.Exchange).Routes()}

	rec := c.do(http.MethodPost, "/api/v1/payments/buyer/deposit", testOwner, "", DepositRequest{Amount: 25})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, domain.KindPaymentFailed, decode[ErrorResponse](t, rec).Error)
}

func TestHTTP_ReviewIssuer(t *testing.T) {
	x := newTestExchange(t)
	c := httpClient{t, NewHTTPHandler(x.Exchange).Routes()}

	rec := c.do(http.MethodPost, "/api/v1/issuers/issuer/review", testOwner, "", VerifyIssuerRequest{ProjectID: "mangrove-01"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[ReviewIssuerResponse](t, rec).Approved)

	rec = c.do(http.MethodPost, "/api/v1/mint", "issuer", "", MintRequest{To: "issuer", Amount: 5, ProjectID: "mangrove-01"})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = c.do(http.MethodPost, "/api/v1/issuers/other/verify", testOwner, "", VerifyIssuerRequest{ProjectID: "kelp-02"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, x.Ledger.Account("other").VerifiedFor("kelp-02"))
}

func TestHTTP_EventFeed(t *testing.T) {
	x := newTestExchange(t)
	c := httpClient{t, NewHTTPHandler(x.Exchange).Routes()}

	for range 3 {
		rec := c.do(http.MethodPost, "/api/v1/mint", testOwner, "", MintRequest{To: "seller", Amount: 1, ProjectID: "p"})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := c.do(http.MethodGet, "/api/v1/events?after=1&limit=1", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[EventsResponse](t, rec)
	require.Len(t, page.Events, 1)
	assert.Equal(t, int64(2), page.Events[0].Seq)
	assert.Equal(t, domain.EventCreditMinted, page.Events[0].Type)
	assert.Equal(t, int64(2), page.Next)

	rec = c.do(http.MethodGet, "/api/v1/events?after=3", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[EventsResponse](t, rec)
	assert.Empty(t, page.Events)
	assert.Equal(t, int64(3), page.Next)
}

func TestHTTP_RateLimit(t *testing.T) {
	x := newTestExchange(t)
	h := NewHTTPHandler(x.Exchange, WithRateLimiter(NewRateLimiter(1, 1)))
	c := httpClient{t, h.Routes()}

	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/v1/supply", "alice", "", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, c.do(http.MethodGet, "/api/v1/supply", "alice", "", nil).Code)
	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/v1/supply", "bob", "", nil).Code)
	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/health", "alice", "", nil).Code)
}

func TestHTTP_HealthAndMetrics(t *testing.T) {
	x := newTestExchange(t)
	rec := metrics.NewRecorder()
	c := httpClient{t, NewHTTPHandler(x.Exchange, WithMetrics(rec, rec.Handler())).Routes()}

	resp := c.do(http.MethodGet, "/health", "", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])

	c.do(http.MethodGet, "/api/v1/listings/9", "", "", nil)

	resp = c.do(http.MethodGet, "/metrics", "", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `carbon_requests_total{status="404",transport="http"} 1`)
}
