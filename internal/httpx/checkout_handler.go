package httpx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-checkout-core.git/internal/checkout"
	"github.com/ariefcatur/go-checkout-core.git/internal/finalize"
	"github.com/ariefcatur/go-checkout-core.git/internal/gateway"
	"github.com/ariefcatur/go-checkout-core.git/internal/hold"
	kafkax "github.com/ariefcatur/go-checkout-core.git/internal/kafka"
)

// HoldAPI and FinalizeAPI are the service slices the handler needs; the
// concrete services satisfy them, tests plug in fakes.
type HoldAPI interface {
	Hold(ctx context.Context, owner checkout.OwnerKey, items []checkout.HoldItem, ttl time.Duration, traceID string) (hold.Result, error)
	Release(ctx context.Context, owner checkout.OwnerKey) error
}

type FinalizeAPI interface {
	Finalize(ctx context.Context, sessionID, traceID string) (*checkout.Order, bool, error)
}

type CartReader interface {
	ActiveHolds(ctx context.Context, owner checkout.OwnerKey) ([]checkout.HeldLine, error)
}

type EventSink interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type CheckoutHandler struct {
	Holds     HoldAPI
	Finalizer FinalizeAPI
	Carts     CartReader
	Gateway   gateway.CheckoutSessions

	// Webhook relay.
	Completed     EventSink // checkout.session.completed
	WebhookSecret string

	SuccessURL string
	CancelURL  string
	Service    string
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.Post("/checkout/hold", h.holdStock)
	r.Post("/checkout/release", h.releaseStock)
	r.Post("/checkout/create-session", h.createSession)
	r.Get("/checkout/verify-session/{sessionID}", h.verifySession)
	r.Post("/checkout/verify-session/{sessionID}", h.verifySession)
	r.Post("/checkout/webhook", h.webhook)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ownerFromRequest resolves the reservation owner: an authenticated user id
// (set by the auth layer upstream) wins over a guest cart id.
func ownerFromRequest(r *http.Request) (checkout.OwnerKey, bool) {
	if uid := r.Header.Get("X-User-Id"); uid != "" {
		return checkout.UserOwner(uid), true
	}
	if cid := r.Header.Get("X-Cart-Id"); cid != "" {
		return checkout.CartOwner(cid), true
	}
	return checkout.OwnerKey{}, false
}

type holdItemReq struct {
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

type holdReq struct {
	Items      []holdItemReq `json:"items"`
	TTLMinutes int           `json:"ttlMinutes"`
}

type heldItemResp struct {
	VariantID    string `json:"variantId"`
	QuantityHeld int    `json:"quantityHeld"`
}

type conflictResp struct {
	VariantID string `json:"variantId"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

func (h *CheckoutHandler) holdStock(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing cart or user identity"})
		return
	}
	var req holdReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	items := make([]checkout.HoldItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, checkout.HoldItem{VariantID: it.VariantID, Quantity: it.Quantity})
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Holds.Hold(ctx, owner, items, time.Duration(req.TTLMinutes)*time.Minute, r.Header.Get("X-Request-Id"))
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, hold.ErrValidation) || errors.Is(err, checkout.ErrVariantNotFound) {
			code = http.StatusBadRequest
		}
		writeJSON(w, code, map[string]string{"error": err.Error()})
		return
	}
	if !res.OK {
		details := make([]conflictResp, 0, len(res.Conflicts))
		for _, c := range res.Conflicts {
			details = append(details, conflictResp{VariantID: c.VariantID, Available: c.Available, Requested: c.Requested})
		}
		writeJSON(w, http.StatusConflict, map[string]any{
			"ok":      false,
			"code":    "OUT_OF_STOCK",
			"details": details,
		})
		return
	}

	held := make([]heldItemResp, 0, len(res.Items))
	for _, it := range res.Items {
		held = append(held, heldItemResp{VariantID: it.VariantID, QuantityHeld: it.QuantityHeld})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"expiresAt":      res.ExpiresAt,
		"holdTtlMinutes": int(res.TTL / time.Minute),
		"items":          held,
	})
}

func (h *CheckoutHandler) releaseStock(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing cart or user identity"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.Holds.Release(ctx, owner); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *CheckoutHandler) createSession(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing cart or user identity"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	lines, err := h.Carts.ActiveHolds(ctx, owner)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(lines) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no active holds"})
		return
	}

	items := make([]gateway.Item, 0, len(lines))
	purchased := make([]checkout.PurchasedItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, gateway.Item{VariantID: l.VariantID, Name: l.Name, Qty: l.Quantity, PriceCents: l.PriceCents})
		purchased = append(purchased, checkout.PurchasedItem{VariantID: l.VariantID, Name: l.Name, Qty: l.Quantity, PriceCents: l.PriceCents})
	}
	metaItems, err := json.Marshal(purchased)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	sess, err := h.Gateway.Create(ctx, items, h.SuccessURL, h.CancelURL, map[string]string{
		gateway.MetaOwnerKey: owner.String(),
		gateway.MetaItems:    string(metaItems),
	})
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": sess.ID, "url": sess.RedirectURL})
}

func (h *CheckoutHandler) verifySession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing session id"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	order, existed, err := h.Finalizer.Finalize(ctx, sessionID, r.Header.Get("X-Request-Id"))
	if err != nil {
		if errors.Is(err, finalize.ErrPaymentNotCompleted) {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "code": "PAYMENT_NOT_COMPLETED"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if order.Status == checkout.OrderReconciliationNeeded {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":     false,
			"code":        "RECONCILIATION_NEEDED",
			"orderNumber": order.ID,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"orderNumber":    order.ID,
		"alreadyCreated": existed,
	})
}

type webhookReq struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// webhook relays gateway completion notifications onto Kafka; the worker
// finalizes asynchronously. Signature check keeps forged notifications out,
// though a forged session id would only trigger an idempotent no-op anyway.
func (h *CheckoutHandler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}
	if !h.validSignature(body, r.Header.Get("X-Gateway-Signature")) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad signature"})
		return
	}
	var req webhookReq
	if err := json.Unmarshal(body, &req); err != nil || req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if req.Type != "checkout.session.completed" {
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	ev := checkout.Envelope{
		EventID:       uuid.NewString(),
		EventType:     checkout.EventSessionCompleted,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: req.SessionID,
		Payload:       kafkax.MustMarshal(checkout.SessionCompletedPayload{SessionID: req.SessionID}),
	}
	h.Completed.Publish(checkout.PartitionKey(req.SessionID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(checkout.EventSessionCompleted)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (h *CheckoutHandler) validSignature(body []byte, sig string) bool {
	if h.WebhookSecret == "" || sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.WebhookSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(sig))
}
