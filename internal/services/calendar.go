package services

import (
	"context"
	"fmt"
	"time"

	"fincal/internal/clock"
	"fincal/internal/core"
	"fincal/internal/storage"

	"github.com/shopspring/decimal"
)

const minGridWeeks = 6

// GridWindow returns the first day shown for year/month and the day after
// the last one. The grid starts on the Sunday on or before the 1st and runs
// for at least six weeks, continuing while still inside the month.
func GridWindow(year, month int) (first, end core.Date) {
	first = gridStart(year, month)
	cursor := first
	for weeks := 0; weeks < minGridWeeks || inMonth(cursor, year, month); weeks++ {
		cursor = cursor.AddDays(7)
	}
	return first, cursor
}

func gridStart(year, month int) core.Date {
	firstOfMonth := core.NewDate(year, month, 1)
	return firstOfMonth.AddDays(-int(firstOfMonth.Weekday()))
}

func inMonth(d core.Date, year, month int) bool {
	return d.Year() == year && int(d.Month()) == month
}

// BuildWeeks lays entries out on the grid for year/month. today is the
// user's local date; balance is shown on today's cell in place of any
// running total. Entries outside the window are ignored.
func BuildWeeks(year, month int, today core.Date, balance decimal.Decimal, entries []core.LedgerEntry) core.Grid {
	first, end := GridWindow(year, month)
	var grid core.Grid
	for cursor := first; cursor.Before(end); {
		var week core.Week
		for i := range week {
			week[i] = buildDay(cursor, today, balance, entries)
			cursor = cursor.AddDays(1)
		}
		grid = append(grid, week)
	}
	return grid
}

func buildDay(date, today core.Date, balance decimal.Decimal, entries []core.LedgerEntry) core.Day {
	day := core.Day{
		Date:           date,
		Day:            date.Day(),
		Name:           date.Weekday().String(),
		Year:           date.Year(),
		Month:          int(date.Month()),
		IsToday:        date.Equal(today),
		IsTodayOrLater: !date.Before(today),
		Total:          decimal.Zero,
	}
	for _, e := range entries {
		if e.Date.Equal(date) {
			day.Events = append(day.Events, e)
			day.Total = e.RunningTotal
		}
	}
	if day.IsToday {
		day.Total = balance
	}
	return day
}

// CalendarBuilder reads the entries for a user's viewed month and builds
// its grid.
type CalendarBuilder struct {
	clock clock.Clock
	zones *clock.Zones
}

func NewCalendarBuilder(c clock.Clock, zones *clock.Zones) *CalendarBuilder {
	if c == nil {
		c = clock.System{}
	}
	if zones == nil {
		zones = clock.NewZones("", 64, 24*time.Hour)
	}
	return &CalendarBuilder{clock: c, zones: zones}
}

// Today returns the user's local calendar date.
func (b *CalendarBuilder) Today(user core.User) (core.Date, error) {
	return b.zones.Today(b.clock, user.TimeZone)
}

// ViewedMonth returns the user's anchor month, defaulting to the current
// local month when none has been chosen yet.
func (b *CalendarBuilder) ViewedMonth(user core.User) (year, month int, err error) {
	year, month = user.Account.Year, user.Account.Month
	if year > 0 && month >= 1 && month <= 12 {
		return year, month, nil
	}
	today, err := b.Today(user)
	if err != nil {
		return 0, 0, err
	}
	return today.Year(), int(today.Month()), nil
}

func (b *CalendarBuilder) Build(ctx context.Context, store storage.LedgerStore, user core.User) (core.Grid, error) {
	year, month, err := b.ViewedMonth(user)
	if err != nil {
		return nil, err
	}
	today, err := b.Today(user)
	if err != nil {
		return nil, err
	}
	first, end := GridWindow(year, month)
	entries, err := store.EntriesInRange(ctx, user.ID, first, end)
	if err != nil {
		return nil, fmt.Errorf("load grid entries: %w", err)
	}
	return BuildWeeks(year, month, today, user.CheckingBalance, entries), nil
}
