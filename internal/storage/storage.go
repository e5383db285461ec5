package storage

import (
	"context"

	"sessionbot/internal/models"
)

// Registry defines the auxiliary persistence used by stats and broadcast.
// The session flow itself never reads from it.
type Registry interface {
	// User operations
	RegisterUser(ctx context.Context, user models.User) error
	ListUserIDs(ctx context.Context) ([]int64, error)
	CountUsers(ctx context.Context) (int, error)

	// Outcome operations

	// RecordOutcome appends a finished flow. Secrets are never part of it.
	RecordOutcome(ctx context.Context, outcome models.FlowOutcome) error
	// OutcomeStats returns flow counts grouped by outcome, ordered by outcome
	OutcomeStats(ctx context.Context) ([]models.OutcomeStat, error)

	// Lifecycle
	Initialize(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
