// Package sweeper garbage-collects expired reservation rows. Availability
// reads already exclude expired rows, so the sweep interval only bounds
// storage growth, never correctness.
package sweeper

import (
	"context"
	"log"
	"time"
)

type Ledger interface {
	SweepExpired(ctx context.Context) (int64, error)
}

type Sweeper struct {
	Ledger   Ledger
	Interval time.Duration
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Ledger.SweepExpired(ctx)
			if err != nil {
				log.Printf("sweep expired: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("swept %d expired reservations", n)
			}
		}
	}
}
