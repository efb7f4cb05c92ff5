package background

import (
	"context"
	"log/slog"
	"time"
)

// RevocationCleaner removes expired session revocation rows
type RevocationCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// ResetTokenCleaner removes dead password reset tokens
type ResetTokenCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// InviteSweeper transitions overdue pending invites to expired
type InviteSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// LimiterPruner drops stale in-memory rate limit windows
type LimiterPruner interface {
	Prune() int
}

// CleanupManager periodically sweeps expired invites, dead reset tokens,
// expired revocation rows, and stale rate limit windows.
type CleanupManager struct {
	revocations RevocationCleaner
	resetTokens ResetTokenCleaner
	invites     InviteSweeper
	limiters    []LimiterPruner
	logger      *slog.Logger
	interval    time.Duration
	stopCh      chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	revocations RevocationCleaner,
	resetTokens ResetTokenCleaner,
	invites InviteSweeper,
	limiters []LimiterPruner,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		revocations: revocations,
		resetTokens: resetTokens,
		invites:     invites,
		limiters:    limiters,
		logger:      logger,
		interval:    interval,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if n, err := cm.revocations.CleanupExpired(cleanupCtx); err != nil {
		cm.logger.Error("failed to clean up revocation rows", slog.Any("error", err))
	} else if n > 0 {
		cm.logger.Info("revocation cleanup completed", slog.Int64("rows_deleted", n))
	}

	if n, err := cm.resetTokens.CleanupExpired(cleanupCtx); err != nil {
		cm.logger.Error("failed to clean up reset tokens", slog.Any("error", err))
	} else if n > 0 {
		cm.logger.Info("reset token cleanup completed", slog.Int64("rows_deleted", n))
	}

	if n, err := cm.invites.SweepExpired(cleanupCtx); err != nil {
		cm.logger.Error("failed to sweep expired invites", slog.Any("error", err))
	} else if n > 0 {
		cm.logger.Info("invite sweep completed", slog.Int64("invites_expired", n))
	}

	for _, limiter := range cm.limiters {
		if n := limiter.Prune(); n > 0 {
			cm.logger.Debug("pruned rate limit windows", slog.Int("windows", n))
		}
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
