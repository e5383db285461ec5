package flow

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Supervisor ends flows whose prompt went unanswered past its deadline
type Supervisor struct {
	machine  *Machine
	interval time.Duration
	logger   *zap.Logger
}

// NewSupervisor creates a supervisor that sweeps every interval
func NewSupervisor(machine *Machine, interval time.Duration, logger *zap.Logger) *Supervisor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Supervisor{machine: machine, interval: interval, logger: logger}
}

// Run sweeps until ctx is done
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Timeout supervisor started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				s.logger.Info("Expired flows closed", zap.Int("count", n))
			}
		}
	}
}

// Sweep ends every expired flow and returns how many were ended. Deadlines
// are only read under the user's lock, inside Expire.
func (s *Supervisor) Sweep(ctx context.Context) int {
	expired := 0
	for _, userID := range s.machine.store.UserIDs() {
		if s.machine.Expire(ctx, userID) {
			expired++
		}
	}
	return expired
}
