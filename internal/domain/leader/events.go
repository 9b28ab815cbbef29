package leader

import (
	"context"

	"github.com/ahrav/syncd/pkg/common/logger"
)

// EventPublisher receives best-effort notifications about election
// transitions. Implementations may do anything; exceptions they raise are
// caught at the publish boundary and never reach the election loop.
type EventPublisher interface {
	// OnGranted fires after the candidate became leader.
	OnGranted(ctx context.Context, leaderCtx Context, role string)

	// OnRevoked fires after the candidate stopped being leader.
	OnRevoked(ctx context.Context, leaderCtx Context, role string)

	// OnFailedToAcquire fires after a failed acquisition attempt, when the
	// initiator is configured to publish failures.
	OnFailedToAcquire(ctx context.Context, leaderCtx Context, role string)
}

// LoggingEventPublisher is the default publisher; it records transitions in
// the log and nothing else.
type LoggingEventPublisher struct {
	log *logger.Logger
}

// NewLoggingEventPublisher creates a publisher writing to the given logger.
func NewLoggingEventPublisher(log *logger.Logger) *LoggingEventPublisher {
	return &LoggingEventPublisher{log: log}
}

// OnGranted implements EventPublisher.
func (p *LoggingEventPublisher) OnGranted(ctx context.Context, leaderCtx Context, role string) {
	p.log.Info(ctx, "leadership granted", "role", role)
}

// OnRevoked implements EventPublisher.
func (p *LoggingEventPublisher) OnRevoked(ctx context.Context, leaderCtx Context, role string) {
	p.log.Info(ctx, "leadership revoked", "role", role)
}

// OnFailedToAcquire implements EventPublisher.
func (p *LoggingEventPublisher) OnFailedToAcquire(ctx context.Context, leaderCtx Context, role string) {
	p.log.Debug(ctx, "failed to acquire leadership", "role", role)
}
