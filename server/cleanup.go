package server

import (
	"context"
	"time"
)

// Cleanup sweeps expired states and codes from the flow store. Expiry is
// already enforced when a record is consumed, so this only bounds memory.
func (s *Server) Cleanup(ctx context.Context) (int, error) {
	removed, err := s.flowStore.Sweep(ctx)
	if err != nil {
		s.Logger.Warn("Flow store sweep failed", "error", err)
		return removed, err
	}
	if removed > 0 {
		s.Logger.Debug("Cleaned up expired flow records", "removed", removed)
	}
	return removed, nil
}

// StartCleanup runs Cleanup every Config.CleanupInterval until ctx is done.
// The returned channel is closed once the loop has exited.
func (s *Server) StartCleanup(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	interval := s.Config.CleanupInterval

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.Logger.Debug("Started flow record cleanup", "interval", interval)
		for {
			select {
			case <-ticker.C:
				_, _ = s.Cleanup(ctx)
			case <-ctx.Done():
				s.Logger.Debug("Stopped flow record cleanup")
				return
			}
		}
	}()

	return done
}
