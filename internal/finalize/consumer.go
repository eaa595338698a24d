package finalize

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-checkout-core.git/internal/checkout"
	"github.com/ariefcatur/go-checkout-core.git/internal/redisx"
)

// HandleSessionCompleted consumes checkout.session.completed events from the
// webhook relay and drives the finalizer. Returning an error leaves the
// offset uncommitted so the message is retried; the finalizer itself is
// idempotent, so retries are harmless.
func (s *Service) HandleSessionCompleted(ctx context.Context, m kafkago.Message) error {
	var env checkout.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		log.Printf("session.completed: bad envelope, dropping: %v", err)
		return nil
	}
	if env.EventType != checkout.EventSessionCompleted {
		return nil
	}

	if s.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyDedup, "finalizer", env.EventID)
		if n, err := s.Redis.Exists(ctx, dkey).Result(); err == nil && n > 0 {
			return nil
		}
	}

	var p checkout.SessionCompletedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Printf("session.completed: bad payload, dropping: %v", err)
		return nil
	}

	if _, _, err := s.Finalize(ctx, p.SessionID, env.TraceID); err != nil {
		// ErrPaymentNotCompleted means the webhook raced the provider's own
		// read model; leaving the offset uncommitted retries it later.
		return err
	}

	if s.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyDedup, "finalizer", env.EventID)
		_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}
	return nil
}
