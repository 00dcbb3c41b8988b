package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"fincal/internal/core"
	"fincal/internal/storage"

	"github.com/shopspring/decimal"
)

// ExcludePolicy decides how entries flagged Exclude affect the running total.
type ExcludePolicy string

const (
	// ExcludeInclude counts excluded entries like any other.
	ExcludeInclude ExcludePolicy = "include"
	// ExcludeSkip leaves the accumulator untouched for excluded entries;
	// they still carry the accumulator value as their total.
	ExcludeSkip ExcludePolicy = "skip"
)

func ParseExcludePolicy(s string) (ExcludePolicy, error) {
	switch p := ExcludePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", ExcludeInclude:
		return ExcludeInclude, nil
	case ExcludeSkip:
		return ExcludeSkip, nil
	default:
		return "", fmt.Errorf("%w: unknown exclude policy %q", core.ErrValidation, s)
	}
}

// SortEntries orders entries by date, then insertion sequence. The sort is
// stable so entries without a sequence keep their input order.
func SortEntries(entries []core.LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Seq < b.Seq
	})
}

// ProjectTotals returns a sorted copy of entries with running totals set.
// Entries dated before asOf are historical and get zero; the rest get
// start plus the prefix sum of amounts up to and including themselves.
func ProjectTotals(entries []core.LedgerEntry, asOf core.Date, start decimal.Decimal, policy ExcludePolicy) []core.LedgerEntry {
	out := make([]core.LedgerEntry, len(entries))
	copy(out, entries)
	SortEntries(out)

	acc := start
	for i := range out {
		e := &out[i]
		if e.Date.Before(asOf) {
			e.RunningTotal = decimal.Zero
			continue
		}
		if !(e.Exclude && policy == ExcludeSkip) {
			acc = acc.Add(e.Amount)
		}
		e.RunningTotal = acc
	}
	return out
}

// Projector persists running totals for a user's ledger.
type Projector struct {
	policy ExcludePolicy
}

func NewProjector(policy ExcludePolicy) *Projector {
	if policy == "" {
		policy = ExcludeInclude
	}
	return &Projector{policy: policy}
}

func (p *Projector) Policy() ExcludePolicy { return p.policy }

// Project recomputes every running total of userID and writes the ones that
// changed. Callers wanting atomicity run it inside Store.InTx.
func (p *Projector) Project(ctx context.Context, store storage.LedgerStore, userID string, asOf core.Date, start decimal.Decimal) error {
	entries, err := store.EntriesForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}

	projected := ProjectTotals(entries, asOf, start, p.policy)
	before := make(map[string]decimal.Decimal, len(entries))
	for _, e := range entries {
		before[e.ID] = e.RunningTotal
	}
	changed := make(map[string]decimal.Decimal)
	for _, e := range projected {
		if !before[e.ID].Equal(e.RunningTotal) {
			changed[e.ID] = e.RunningTotal
		}
	}

	if err := store.UpdateRunningTotals(ctx, userID, changed); err != nil {
		return fmt.Errorf("update running totals: %w", err)
	}

	slog.DebugContext(ctx, "Projected running totals",
		"user_id", userID,
		"as_of", asOf.String(),
		"entries", len(projected),
		"changed", len(changed))
	return nil
}
