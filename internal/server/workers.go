package server

import (
	"context"
	"log"
	"time"
)

// StartWorkers launches all background goroutines. Call with a cancellable
// context for graceful shutdown.
func (s *Server) StartWorkers(ctx context.Context) {
	go s.runAbandonmentSweeper(ctx)
	go s.runLimiterCleanup(ctx)
}

// runAbandonmentSweeper periodically marks stale in-progress sessions
// abandoned (every minute).
func (s *Server) runAbandonmentSweeper(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Minute):
			n := s.sweepAbandoned()
			if n > 0 {
				log.Printf("[worker] marked %d sessions abandoned", n)
			}
		}
	}
}

// sweepAbandoned abandons sessions idle past the configured cutoff. Returns
// the number of sessions updated.
func (s *Server) sweepAbandoned() int {
	now := time.Now()
	cutoff := now.Add(-time.Duration(s.cfg.AbandonAfterMinutes) * time.Minute)
	n, err := s.db.MarkAbandonedBefore(cutoff.UnixMilli(), now.UnixMilli())
	if err != nil {
		log.Printf("[worker] mark abandoned sessions: %v", err)
		return 0
	}
	sessionsAbandonedTotal.Add(float64(n))
	return n
}

// runLimiterCleanup prunes expired per-IP limiter windows (every minute).
func (s *Server) runLimiterCleanup(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Minute):
			s.limiter.cleanup()
		}
	}
}
