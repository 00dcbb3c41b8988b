package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fincal/internal/amqp"
	"fincal/internal/core"
	"fincal/internal/services"
)

// Ledger is the part of the account service the worker drives.
type Ledger interface {
	RefreshUser(ctx context.Context, userID string) services.Result[core.Grid]
	ReprojectAll(ctx context.Context) (int, error)
}

// UserLister enumerates the users whose ledgers the worker maintains.
type UserLister interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

// RefreshWorker regenerates ledgers on request and keeps running totals
// current as days pass.
type RefreshWorker struct {
	ledger Ledger
	users  UserLister
}

func NewRefreshWorker(ledger Ledger, users UserLister) *RefreshWorker {
	return &RefreshWorker{ledger: ledger, users: users}
}

// HandleRefreshMessage processes a single ledger refresh message from AMQP.
func (w *RefreshWorker) HandleRefreshMessage(ctx context.Context, msg *amqp.LedgerRefreshMessage) error {
	slog.InfoContext(ctx, "Processing refresh message",
		"user_id", msg.UserID,
		"reason", msg.Reason,
		"requested_at", msg.RequestedAt)

	res := w.ledger.RefreshUser(ctx, msg.UserID)
	if !res.Success {
		return fmt.Errorf("refresh ledger for %s: %w", msg.UserID, res.Err)
	}
	return nil
}

// StartupRefresh regenerates every user's ledger once, catching up on
// requests published while no worker was running.
func (w *RefreshWorker) StartupRefresh(ctx context.Context) error {
	ids, err := w.users.ListUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list users for startup refresh: %w", err)
	}
	if len(ids) == 0 {
		slog.InfoContext(ctx, "No users found on startup")
		return nil
	}

	successCount, errorCount := 0, 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if res := w.ledger.RefreshUser(ctx, id); !res.Success {
			slog.ErrorContext(ctx, "Failed to refresh ledger during startup",
				"user_id", id, "error", res.Err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup refresh completed",
		"total", len(ids),
		"refreshed", successCount,
		"errors", errorCount)
	return nil
}

// RunPeriodicProjection re-projects every ledger on each tick until ctx is
// done.
func (w *RefreshWorker) RunPeriodicProjection(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			count, err := w.ledger.ReprojectAll(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "Periodic projection failed", "error", err)
				continue
			}
			slog.InfoContext(ctx, "Periodic projection complete",
				"users", count,
				"next_check", now.Add(interval).Format("15:04:05"))
		}
	}
}
