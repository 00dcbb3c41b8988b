// Package services provides business logic and orchestration services.
//
// This file implements recurrence expansion. Each frequency has a Stepper
// strategy that advances a cursor from one occurrence to the next.
package services

import (
	"iter"

	"fincal/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stepper returns the occurrence following cur.
type Stepper interface {
	Next(cur core.Date) core.Date
}

// DayStepper advances a fixed number of days per occurrence.
type DayStepper int

func (d DayStepper) Next(cur core.Date) core.Date {
	return cur.AddDays(int(d))
}

// MonthlyStepper advances one calendar month from the previous occurrence,
// clamped to the last day of shorter months. A clamped day stays clamped:
// Jan 31 -> Feb 29 -> Mar 29.
type MonthlyStepper struct{}

func (MonthlyStepper) Next(cur core.Date) core.Date {
	return cur.AddMonthsClamped(1)
}

var steppers = map[core.Frequency]Stepper{
	core.Daily:    DayStepper(1),
	core.Weekly:   DayStepper(7),
	core.Biweekly: DayStepper(14),
	core.Monthly:  MonthlyStepper{},
}

// GetStepper returns the stepper for a frequency. Unknown frequencies step
// one day at a time.
func GetStepper(f core.Frequency) Stepper {
	if s, ok := steppers[f]; ok {
		return s
	}
	return DayStepper(1)
}

// IDGenerator returns a fresh unique identifier.
type IDGenerator func() string

// NewUUID is the default IDGenerator.
func NewUUID() string { return uuid.NewString() }

type Expander struct {
	newID IDGenerator
}

func NewExpander(newID IDGenerator) *Expander {
	if newID == nil {
		newID = NewUUID
	}
	return &Expander{newID: newID}
}

// Expand lazily yields one ledger entry per occurrence of exp, from its
// start date up to but excluding its end date. Every pass over the sequence
// is a new expansion with its own recurrence id; dates and amounts are
// identical across passes.
func (x *Expander) Expand(exp core.RecurringExpense) iter.Seq[core.LedgerEntry] {
	start := core.DateOf(exp.StartDate.Time)
	end := core.DateOf(exp.EndDate.Time)
	step := GetStepper(exp.Frequency)

	return func(yield func(core.LedgerEntry) bool) {
		if !start.Before(end) {
			return
		}
		groupID := x.newID()
		for date := start; date.Before(end); date = step.Next(date) {
			e := core.LedgerEntry{
				ID:                x.newID(),
				RecurrenceID:      groupID,
				UserID:            exp.UserID,
				Summary:           exp.Name,
				Date:              date,
				RecurrenceEndDate: end,
				Amount:            exp.Amount,
				RunningTotal:      decimal.Zero,
				Frequency:         exp.Frequency,
			}
			if !yield(e) {
				return
			}
		}
	}
}

// ExpandAll materializes every expense in input order.
func (x *Expander) ExpandAll(expenses []core.RecurringExpense) []core.LedgerEntry {
	var out []core.LedgerEntry
	for _, exp := range expenses {
		for e := range x.Expand(exp) {
			out = append(out, e)
		}
	}
	return out
}
