package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"soulseer/internal/auth"
	"soulseer/internal/domain"
)

// router mounts the wallet routes behind a stub that trusts X-Test-User.
func (f *fixture) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.svc)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			auth.SetIdentity(c, id, c.GetHeader("X-Test-Role"))
		}
		c.Next()
	})
	r.GET("/wallet", h.GetBalance)
	r.GET("/wallet/transactions", h.ListTransactions)
	r.POST("/wallet/topups", h.TopUp)
	r.POST("/wallet/payouts", h.RequestPayout)
	r.GET("/admin/accounts/:id/entries", h.AccountEntries)
	r.GET("/admin/accounts/:id/reconcile", h.ReconcileAccount)
	r.GET("/admin/sessions/:id/entries", h.SessionEntries)
	r.POST("/admin/sessions/:id/refunds", h.Refund)
	r.POST("/admin/sessions/:id/dispute", h.Dispute)
	return r
}

func do(r http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
		req.Header.Set("X-Test-Role", auth.RoleClient)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_GetBalance(t *testing.T) {
	f := newFixture()
	f.fund(t, "client-1", domain.BucketSpendable, "25.50")
	r := f.router()

	w := do(r, "GET", "/wallet", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, "GET", "/wallet", "client-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var a domain.Account
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.True(t, a.SpendableBalance.Equal(d("25.50")), a.SpendableBalance.String())
}

func TestHandler_ListTransactions(t *testing.T) {
	f := newFixture()
	f.fund(t, "client-1", domain.BucketSpendable, "10.00")
	f.fund(t, "client-1", domain.BucketSpendable, "5.00")

	w := do(f.router(), "GET", "/wallet/transactions?limit=1", "client-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var entries []domain.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)
}

func TestHandler_TopUp(t *testing.T) {
	f := newFixture()
	f.gateway.On("CreateChargeIntent", mock.Anything, "client-1", d("20.00")).Return("pi_1", nil)

	w := do(f.router(), "POST", "/wallet/topups", "client-1", `{"amount":"20.00"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var intent TopUpIntent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &intent))
	assert.Equal(t, "pi_1", intent.IntentRef)
	assert.Equal(t, "pending", intent.Status)

	// nothing lands until the gateway confirms
	a, err := f.svc.Account(context.Background(), "client-1")
	require.NoError(t, err)
	assert.True(t, a.SpendableBalance.IsZero())
}

func TestHandler_TopUpRejectsBadAmounts(t *testing.T) {
	f := newFixture()
	r := f.router()

	for _, body := range []string{`{"amount":"-5"}`, `{"amount":"0"}`, `{"amount":"1.234"}`, `{}`} {
		w := do(r, "POST", "/wallet/topups", "client-1", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	f.gateway.AssertNotCalled(t, "CreateChargeIntent", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_TopUpGatewayError(t *testing.T) {
	f := newFixture()
	f.gateway.On("CreateChargeIntent", mock.Anything, "client-1", d("20.00")).
		Return("", errors.Join(domain.ErrGatewayError, errors.New("timeout")))

	w := do(f.router(), "POST", "/wallet/topups", "client-1", `{"amount":"20.00"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandler_RequestPayout(t *testing.T) {
	f := newFixture()
	f.fund(t, "reader-1", domain.BucketPendingPayout, "40.00")
	f.gateway.On("CreatePayout", mock.Anything, "reader-1", d("15.00"), mock.AnythingOfType("string")).Return("tr_1", nil)
	r := f.router()

	w := do(r, "POST", "/wallet/payouts", "reader-1", `{"amount":"15.00"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(r, "POST", "/wallet/payouts", "reader-1", `{"amount":"100.00"}`)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), `"shortfall"`)
}

func TestHandler_RequestPayoutReversalPending(t *testing.T) {
	f := newFixture()
	f.fund(t, "reader-1", domain.BucketPendingPayout, "40.00")
	f.withFlakyStore()

	w := do(f.router(), "POST", "/wallet/payouts", "reader-1", `{"amount":"30.00"}`)
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())

	var p Payout
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, PayoutReversalPending, p.Status)
	assert.NotEmpty(t, p.ID)
}

func TestHandler_RefundAndReplay(t *testing.T) {
	f := newFixture()
	f.settled(t, "18.00", "5.40")
	r := f.router()

	body := `{"refund_id":"rf_1","amount":"9.00","reason":"dropped call"}`
	w := do(r, "POST", "/admin/sessions/s-1/refunds", "admin-1", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(r, "POST", "/admin/sessions/s-1/refunds", "admin-1", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var refund Refund
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &refund))
	assert.True(t, refund.Amount.Equal(d("9.00")))

	w = do(r, "GET", "/admin/sessions/s-1/entries", "admin-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var entries []domain.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 6, "three settlement legs and three refund legs")

	w = do(r, "GET", "/admin/accounts/client-1/reconcile", "admin-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rec Reconciliation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.True(t, rec.Balanced)
}

func TestHandler_RefundValidation(t *testing.T) {
	f := newFixture()
	f.settled(t, "18.00", "5.40")

	w := do(f.router(), "POST", "/admin/sessions/s-1/refunds", "admin-1", `{"amount":"9.00"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(f.router(), "POST", "/admin/sessions/missing/refunds", "admin-1", `{"refund_id":"rf_2","amount":"1.00"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_Dispute(t *testing.T) {
	f := newFixture()
	f.settled(t, "18.00", "5.40")
	r := f.router()

	w := do(r, "POST", "/admin/sessions/s-1/dispute", "admin-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, "POST", "/admin/sessions/s-1/dispute", "admin-1", `{"reason":"client says reader never joined"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var sess domain.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, domain.StateDisputed, sess.State)

	// already disputed reads back unchanged
	w = do(r, "POST", "/admin/sessions/s-1/dispute", "admin-1", `{"reason":"again"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, "POST", "/admin/sessions/missing/dispute", "admin-1", `{"reason":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
