// Package finalize converts completed payment sessions into durable orders,
// exactly once per session.
package finalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-checkout-core.git/internal/checkout"
	"github.com/ariefcatur/go-checkout-core.git/internal/gateway"
	kafkax "github.com/ariefcatur/go-checkout-core.git/internal/kafka"
	"github.com/ariefcatur/go-checkout-core.git/internal/redisx"
)

// ErrPaymentNotCompleted is a normal "check again later" signal, not a
// failure: the shopper may still be on the payment page.
var ErrPaymentNotCompleted = errors.New("payment not completed")

// Store is the slice of the order repo the finalizer needs.
type Store interface {
	GetBySession(ctx context.Context, sessionID string) (*checkout.Order, error)
	FinalizeTx(ctx context.Context, sessionID string, owner checkout.OwnerKey, items []checkout.PurchasedItem) (*checkout.Order, bool, error)
}

type EventSink interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Gateway     gateway.CheckoutSessions
	Store       Store
	Redis       *redis.Client // optional fast path, Postgres stays the truth
	Finalized   EventSink     // checkout.order.finalized
	Reconcile   EventSink     // checkout.order.reconciliation
	ServiceName string
}

// Finalize is safe to call any number of times for the same session; every
// call after the first returns the same order with existed=true.
func (s *Service) Finalize(ctx context.Context, sessionID string, traceID string) (order *checkout.Order, existed bool, err error) {
	if sessionID == "" {
		return nil, false, fmt.Errorf("session id required")
	}

	// Redis fast path for retried verify calls.
	if s.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderBySession, sessionID)
		if b, err := s.Redis.Get(ctx, key).Bytes(); err == nil {
			var cached checkout.Order
			if json.Unmarshal(b, &cached) == nil {
				return &cached, true, nil
			}
		}
	}

	if existing, err := s.Store.GetBySession(ctx, sessionID); err == nil {
		s.cache(ctx, existing)
		return existing, true, nil
	} else if !errors.Is(err, checkout.ErrOrderNotFound) {
		return nil, false, err
	}

	st, err := s.Gateway.Retrieve(ctx, sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("gateway retrieve: %w", err)
	}
	if !st.Paid {
		return nil, false, ErrPaymentNotCompleted
	}

	owner, items, err := decodeMetadata(st.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("session %s: %w", sessionID, err)
	}

	order, existed, err = s.Store.FinalizeTx(ctx, sessionID, owner, items)
	if err != nil {
		return nil, false, err
	}
	if !existed {
		s.publishOutcome(order, traceID)
	}
	s.cache(ctx, order)
	return order, existed, nil
}

func decodeMetadata(meta map[string]string) (checkout.OwnerKey, []checkout.PurchasedItem, error) {
	owner, err := checkout.ParseOwnerKey(meta[gateway.MetaOwnerKey])
	if err != nil {
		return checkout.OwnerKey{}, nil, fmt.Errorf("metadata owner: %w", err)
	}
	var items []checkout.PurchasedItem
	if err := json.Unmarshal([]byte(meta[gateway.MetaItems]), &items); err != nil {
		return checkout.OwnerKey{}, nil, fmt.Errorf("metadata items: %w", err)
	}
	if len(items) == 0 {
		return checkout.OwnerKey{}, nil, errors.New("metadata items empty")
	}
	return owner, items, nil
}

func (s *Service) cache(ctx context.Context, o *checkout.Order) {
	if s.Redis == nil {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderBySession, o.SessionID)
	if err := s.Redis.Set(ctx, key, b, redisx.TTLOrderCache).Err(); err != nil {
		log.Printf("order cache set: %v", err)
	}
}

func (s *Service) publishOutcome(o *checkout.Order, trace string) {
	eventType := checkout.EventOrderFinalized
	sink := s.Finalized
	if o.Status == checkout.OrderReconciliationNeeded {
		eventType = checkout.EventReconciliationNeeded
		sink = s.Reconcile
	}
	if sink == nil {
		return
	}
	ev := checkout.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       trace,
		CorrelationID: o.SessionID,
		Payload: kafkax.MustMarshal(checkout.OrderFinalizedPayload{
			OrderID: o.ID, SessionID: o.SessionID, Status: string(o.Status), TotalCents: o.TotalCents,
		}),
	}
	sink.Publish(checkout.PartitionKey(o.SessionID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
