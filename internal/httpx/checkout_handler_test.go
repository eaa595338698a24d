package httpx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-checkout-core.git/internal/checkout"
	"github.com/ariefcatur/go-checkout-core.git/internal/finalize"
	"github.com/ariefcatur/go-checkout-core.git/internal/gateway"
	"github.com/ariefcatur/go-checkout-core.git/internal/hold"
)

type fakeHolds struct {
	result   hold.Result
	err      error
	owner    checkout.OwnerKey
	items    []checkout.HoldItem
	ttl      time.Duration
	released checkout.OwnerKey
}

func (f *fakeHolds) Hold(_ context.Context, owner checkout.OwnerKey, items []checkout.HoldItem, ttl time.Duration, _ string) (hold.Result, error) {
	f.owner, f.items, f.ttl = owner, items, ttl
	return f.result, f.err
}

func (f *fakeHolds) Release(_ context.Context, owner checkout.OwnerKey) error {
	f.released = owner
	return nil
}

type fakeFinalizer struct {
	order   *checkout.Order
	existed bool
	err     error
}

func (f *fakeFinalizer) Finalize(context.Context, string, string) (*checkout.Order, bool, error) {
	return f.order, f.existed, f.err
}

type fakeCarts struct{ lines []checkout.HeldLine }

func (f *fakeCarts) ActiveHolds(context.Context, checkout.OwnerKey) ([]checkout.HeldLine, error) {
	return f.lines, nil
}

type fakeSessions struct {
	session  gateway.Session
	err      error
	items    []gateway.Item
	metadata map[string]string
}

func (f *fakeSessions) Create(_ context.Context, items []gateway.Item, _, _ string, metadata map[string]string) (gateway.Session, error) {
	f.items, f.metadata = items, metadata
	return f.session, f.err
}

func (f *fakeSessions) Retrieve(context.Context, string) (gateway.Status, error) {
	return gateway.Status{}, errors.New("not used")
}

type memSink struct{ messages [][]byte }

func (s *memSink) Publish(_, value []byte, _ ...kafkago.Header) {
	s.messages = append(s.messages, value)
}

func newTestHandler() (*CheckoutHandler, *fakeHolds, *fakeFinalizer, *fakeCarts, *fakeSessions, *memSink) {
	holds := &fakeHolds{}
	fin := &fakeFinalizer{}
	carts := &fakeCarts{}
	gw := &fakeSessions{}
	sink := &memSink{}
	h := &CheckoutHandler{
		Holds: holds, Finalizer: fin, Carts: carts, Gateway: gw,
		Completed: sink, WebhookSecret: "whsec_test",
		SuccessURL: "https://shop/success", CancelURL: "https://shop/cancel",
		Service: "test",
	}
	return h, holds, fin, carts, gw, sink
}

func serve(h *CheckoutHandler, req *http.Request) *httptest.ResponseRecorder {
	r := NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestHoldEndpointSuccess(t *testing.T) {
	h, holds, _, _, _, _ := newTestHandler()
	expires := time.Now().UTC().Add(15 * time.Minute).Truncate(time.Second)
	holds.result = hold.Result{
		OK: true, ExpiresAt: expires, TTL: 15 * time.Minute,
		Items: []checkout.HeldItem{{VariantID: "v1", QuantityHeld: 2}},
	}

	body := `{"items":[{"variantId":"v1","quantity":2}]}`
	req := httptest.NewRequest(http.MethodPost, "/checkout/hold", bytes.NewBufferString(body))
	req.Header.Set("X-Cart-Id", "c1")
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, float64(15), resp["holdTtlMinutes"])
	items := resp["items"].([]any)
	require.Len(t, items, 1)
	first := items[0].(map[string]any)
	assert.Equal(t, "v1", first["variantId"])
	assert.Equal(t, float64(2), first["quantityHeld"])

	assert.Equal(t, checkout.CartOwner("c1"), holds.owner)
	assert.Equal(t, []checkout.HoldItem{{VariantID: "v1", Quantity: 2}}, holds.items)
}

func TestHoldEndpointConflict(t *testing.T) {
	h, holds, _, _, _, _ := newTestHandler()
	holds.result = hold.Result{
		Conflicts: []checkout.HoldConflict{
			{VariantID: "v1", Available: 1, Requested: 2},
			{VariantID: "v2", Available: 0, Requested: 1},
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/checkout/hold",
		bytes.NewBufferString(`{"items":[{"variantId":"v1","quantity":2},{"variantId":"v2","quantity":1}]}`))
	req.Header.Set("X-User-Id", "42")
	rec := serve(h, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, false, resp["ok"])
	assert.Equal(t, "OUT_OF_STOCK", resp["code"])
	details := resp["details"].([]any)
	require.Len(t, details, 2)
	d0 := details[0].(map[string]any)
	assert.Equal(t, "v1", d0["variantId"])
	assert.Equal(t, float64(1), d0["available"])
	assert.Equal(t, float64(2), d0["requested"])
	assert.Equal(t, checkout.UserOwner("42"), holds.owner)
}

func TestHoldEndpointValidation(t *testing.T) {
	h, holds, _, _, _, _ := newTestHandler()
	holds.err = fmt.Errorf("%w: quantity must be positive for variant v1", hold.ErrValidation)

	req := httptest.NewRequest(http.MethodPost, "/checkout/hold",
		bytes.NewBufferString(`{"items":[{"variantId":"v1","quantity":-1}]}`))
	req.Header.Set("X-Cart-Id", "c1")
	rec := serve(h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHoldEndpointRequiresIdentity(t *testing.T) {
	h, _, _, _, _, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/checkout/hold",
		bytes.NewBufferString(`{"items":[{"variantId":"v1","quantity":1}]}`))
	rec := serve(h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReleaseEndpoint(t *testing.T) {
	h, holds, _, _, _, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/checkout/release", nil)
	req.Header.Set("X-Cart-Id", "c1")
	rec := serve(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, checkout.CartOwner("c1"), holds.released)
}

func TestCreateSessionEndpoint(t *testing.T) {
	h, _, _, carts, gw, _ := newTestHandler()
	carts.lines = []checkout.HeldLine{
		{VariantID: "v1", Name: "Mug", Quantity: 2, PriceCents: 500, ExpiresAt: time.Now().Add(10 * time.Minute)},
	}
	gw.session = gateway.Session{ID: "sess_1", RedirectURL: "https://pay/s/1"}

	req := httptest.NewRequest(http.MethodPost, "/checkout/create-session", nil)
	req.Header.Set("X-User-Id", "42")
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "sess_1", resp["sessionId"])
	assert.Equal(t, "https://pay/s/1", resp["url"])

	// session carries the owner and the item snapshot in metadata
	assert.Equal(t, "user:42", gw.metadata[gateway.MetaOwnerKey])
	var purchased []checkout.PurchasedItem
	require.NoError(t, json.Unmarshal([]byte(gw.metadata[gateway.MetaItems]), &purchased))
	require.Len(t, purchased, 1)
	assert.Equal(t, checkout.PurchasedItem{VariantID: "v1", Name: "Mug", Qty: 2, PriceCents: 500}, purchased[0])
}

func TestCreateSessionWithoutHolds(t *testing.T) {
	h, _, _, _, _, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/checkout/create-session", nil)
	req.Header.Set("X-Cart-Id", "c1")
	rec := serve(h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifySessionSuccess(t *testing.T) {
	h, _, fin, _, _, _ := newTestHandler()
	fin.order = &checkout.Order{ID: "ord_1", Status: checkout.OrderFinalized}
	fin.existed = true

	req := httptest.NewRequest(http.MethodGet, "/checkout/verify-session/sess_1", nil)
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "ord_1", resp["orderNumber"])
	assert.Equal(t, true, resp["alreadyCreated"])
}

func TestVerifySessionNotPaid(t *testing.T) {
	h, _, fin, _, _, _ := newTestHandler()
	fin.err = finalize.ErrPaymentNotCompleted

	req := httptest.NewRequest(http.MethodPost, "/checkout/verify-session/sess_1", nil)
	rec := serve(h, req)

	// expected retryable state, never a 5xx
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "PAYMENT_NOT_COMPLETED", resp["code"])
}

func TestVerifySessionReconciliation(t *testing.T) {
	h, _, fin, _, _, _ := newTestHandler()
	fin.order = &checkout.Order{ID: "ord_1", Status: checkout.OrderReconciliationNeeded}

	req := httptest.NewRequest(http.MethodGet, "/checkout/verify-session/sess_1", nil)
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "RECONCILIATION_NEEDED", resp["code"])
	assert.Equal(t, "ord_1", resp["orderNumber"])
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookPublishesCompletedSession(t *testing.T) {
	h, _, _, _, _, sink := newTestHandler()
	body := []byte(`{"type":"checkout.session.completed","session_id":"sess_1"}`)

	req := httptest.NewRequest(http.MethodPost, "/checkout/webhook", bytes.NewReader(body))
	req.Header.Set("X-Gateway-Signature", sign("whsec_test", body))
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sink.messages, 1)

	var env checkout.Envelope
	require.NoError(t, json.Unmarshal(sink.messages[0], &env))
	assert.Equal(t, checkout.EventSessionCompleted, env.EventType)
	var p checkout.SessionCompletedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "sess_1", p.SessionID)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h, _, _, _, _, sink := newTestHandler()
	body := []byte(`{"type":"checkout.session.completed","session_id":"sess_1"}`)

	req := httptest.NewRequest(http.MethodPost, "/checkout/webhook", bytes.NewReader(body))
	req.Header.Set("X-Gateway-Signature", "deadbeef")
	rec := serve(h, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, sink.messages)
}

func TestWebhookIgnoresOtherEventTypes(t *testing.T) {
	h, _, _, _, _, sink := newTestHandler()
	body := []byte(`{"type":"checkout.session.expired","session_id":"sess_1"}`)

	req := httptest.NewRequest(http.MethodPost, "/checkout/webhook", bytes.NewReader(body))
	req.Header.Set("X-Gateway-Signature", sign("whsec_test", body))
	rec := serve(h, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, sink.messages)
}
