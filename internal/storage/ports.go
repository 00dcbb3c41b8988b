package storage

import (
	"context"

	"fincal/internal/core"

	"github.com/shopspring/decimal"
)

// Ports consumed by the services layer.
type (
	// LedgerStore holds the materialized ledger entries of each user.
	// Lists are ordered by date, then insertion sequence.
	LedgerStore interface {
		EntriesForUser(ctx context.Context, userID string) ([]core.LedgerEntry, error)
		// EntriesInRange returns entries with from <= date < to.
		EntriesInRange(ctx context.Context, userID string, from, to core.Date) ([]core.LedgerEntry, error)
		EntriesByRecurrence(ctx context.Context, userID, recurrenceID string) ([]core.LedgerEntry, error)
		GetEntry(ctx context.Context, userID, id string) (core.LedgerEntry, error)
		// ReplaceAll deletes every entry of the user and inserts entries,
		// assigning sequence numbers in slice order.
		ReplaceAll(ctx context.Context, userID string, entries []core.LedgerEntry) error
		UpsertEntry(ctx context.Context, e core.LedgerEntry) error
		DeleteEntry(ctx context.Context, userID, id string) (int64, error)
		DeleteByRecurrence(ctx context.Context, userID, recurrenceID string) (int64, error)
		UpdateRunningTotals(ctx context.Context, userID string, totals map[string]decimal.Decimal) error
	}

	UserStore interface {
		// GetUser returns the user with Account expenses and debts populated.
		GetUser(ctx context.Context, id string) (core.User, error)
		CreateUser(ctx context.Context, u core.User) error
		SetCheckingBalance(ctx context.Context, userID string, balance decimal.Decimal) error
		SetViewedMonth(ctx context.Context, userID string, year, month int) error
		ListUserIDs(ctx context.Context) ([]string, error)
	}

	ExpenseStore interface {
		ListExpenses(ctx context.Context, userID string) ([]core.RecurringExpense, error)
		GetExpense(ctx context.Context, userID, id string) (core.RecurringExpense, error)
		SaveExpense(ctx context.Context, e core.RecurringExpense) error
		DeleteExpense(ctx context.Context, userID, id string) (int64, error)
	}

	DebtStore interface {
		ListDebts(ctx context.Context, userID string) ([]core.Debt, error)
		GetDebt(ctx context.Context, userID, id string) (core.Debt, error)
		SaveDebt(ctx context.Context, d core.Debt) error
		// DeleteDebt also clears the debt reference on ledger entries.
		DeleteDebt(ctx context.Context, userID, id string) (int64, error)
	}

	// Store is the full transactional store. InTx runs fn against a Store
	// bound to one transaction; fn's error rolls everything back.
	Store interface {
		LedgerStore
		UserStore
		ExpenseStore
		DebtStore
		InTx(ctx context.Context, fn func(Store) error) error
		Close() error
	}
)
