// Package hold validates and commits hold batches: one owner's temporary,
// TTL-bounded claims on stock.
package hold

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-checkout-core.git/internal/checkout"
	kafkax "github.com/ariefcatur/go-checkout-core.git/internal/kafka"
)

// ErrValidation wraps every malformed-input failure so the HTTP layer can map
// the whole family to 400.
var ErrValidation = errors.New("validation")

// Ledger is the slice of the reservation store the service needs.
type Ledger interface {
	HoldAll(ctx context.Context, owner checkout.OwnerKey, items []checkout.HoldItem, ttl time.Duration) (time.Time, []checkout.HoldConflict, error)
	ReleaseAll(ctx context.Context, owner checkout.OwnerKey) error
}

// EventSink is satisfied by the kafka producer; tests use a memory sink.
type EventSink interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Ledger      Ledger
	Placed      EventSink // checkout.hold.placed
	Rejected    EventSink // checkout.hold.rejected
	ServiceName string
	DefaultTTL  time.Duration
	MaxTTL      time.Duration
}

type Result struct {
	OK        bool
	ExpiresAt time.Time
	TTL       time.Duration
	Items     []checkout.HeldItem
	Conflicts []checkout.HoldConflict
}

// Hold replaces the owner's reservations with the requested batch,
// all-or-nothing. ttl <= 0 selects the configured default; anything above the
// cap is clamped rather than rejected.
func (s *Service) Hold(ctx context.Context, owner checkout.OwnerKey, items []checkout.HoldItem, ttl time.Duration, traceID string) (Result, error) {
	if owner.IsZero() {
		return Result{}, fmt.Errorf("%w: owner identity required", ErrValidation)
	}
	if len(items) == 0 {
		return Result{}, fmt.Errorf("%w: at least one item required", ErrValidation)
	}
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if it.VariantID == "" {
			return Result{}, fmt.Errorf("%w: variant id required", ErrValidation)
		}
		if it.Quantity <= 0 {
			return Result{}, fmt.Errorf("%w: quantity must be positive for variant %s", ErrValidation, it.VariantID)
		}
		if seen[it.VariantID] {
			return Result{}, fmt.Errorf("%w: duplicate variant %s in batch", ErrValidation, it.VariantID)
		}
		seen[it.VariantID] = true
	}

	if ttl <= 0 {
		ttl = s.DefaultTTL
	}
	if s.MaxTTL > 0 && ttl > s.MaxTTL {
		ttl = s.MaxTTL
	}

	expiresAt, conflicts, err := s.Ledger.HoldAll(ctx, owner, items, ttl)
	if err != nil {
		return Result{}, err
	}
	if len(conflicts) > 0 {
		s.publishRejected(owner, conflicts, traceID)
		return Result{Conflicts: conflicts, TTL: ttl}, nil
	}

	held := make([]checkout.HeldItem, 0, len(items))
	for _, it := range items {
		held = append(held, checkout.HeldItem{VariantID: it.VariantID, QuantityHeld: it.Quantity})
	}
	s.publishPlaced(owner, held, expiresAt, traceID)
	return Result{OK: true, ExpiresAt: expiresAt, TTL: ttl, Items: held}, nil
}

// Release drops the owner's reservations immediately (cart clear, checkout
// abandon) instead of waiting out the TTL.
func (s *Service) Release(ctx context.Context, owner checkout.OwnerKey) error {
	if owner.IsZero() {
		return fmt.Errorf("%w: owner identity required", ErrValidation)
	}
	return s.Ledger.ReleaseAll(ctx, owner)
}

func (s *Service) publishPlaced(owner checkout.OwnerKey, items []checkout.HeldItem, expiresAt time.Time, trace string) {
	ev := checkout.Envelope{
		EventID:       uuid.NewString(),
		EventType:     checkout.EventHoldPlaced,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       trace,
		CorrelationID: owner.String(),
		Payload: kafkax.MustMarshal(checkout.HoldPlacedPayload{
			OwnerKey: owner.String(), Items: items, ExpiresAt: expiresAt,
		}),
	}
	s.Placed.Publish(checkout.PartitionKey(owner.String()), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(checkout.EventHoldPlaced)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) publishRejected(owner checkout.OwnerKey, details []checkout.HoldConflict, trace string) {
	ev := checkout.Envelope{
		EventID:       uuid.NewString(),
		EventType:     checkout.EventHoldRejected,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       trace,
		CorrelationID: owner.String(),
		Payload: kafkax.MustMarshal(checkout.HoldRejectedPayload{
			OwnerKey: owner.String(), Reason: "OUT_OF_STOCK", Details: details,
		}),
	}
	s.Rejected.Publish(checkout.PartitionKey(owner.String()), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(checkout.EventHoldRejected)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
