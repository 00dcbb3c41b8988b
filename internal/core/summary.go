package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// SummaryLine is an amount aggregated by entry summary text.
type SummaryLine struct {
	Summary string          `json:"summary"`
	Amount  decimal.Decimal `json:"amount"`
}

// MonthSummary is a compact overview of one calendar month of the ledger.
type MonthSummary struct {
	Year    int             `json:"year"`
	Month   int             `json:"month"` // 1-12
	Inflow  decimal.Decimal `json:"inflow"`
	Outflow decimal.Decimal `json:"outflow"`
	Net     decimal.Decimal `json:"net"`
	// Closing is the running total of the month's last entry dated on or
	// after today, zero when the month has no such entry.
	Closing   decimal.Decimal `json:"closing"`
	BySummary []SummaryLine   `json:"bySummary"`
}

// SummarizeMonth aggregates the entries dated in year/month. Entries outside
// the month are ignored, so callers may pass a wider window. Entries before
// today are historical and never set Closing.
func SummarizeMonth(year, month int, today Date, entries []LedgerEntry) MonthSummary {
	s := MonthSummary{Year: year, Month: month}
	from := NewDate(year, month, 1)
	to := from.AddMonthsClamped(1)

	byName := make(map[string]decimal.Decimal)
	var last *LedgerEntry
	for i := range entries {
		e := &entries[i]
		if e.Date.Before(from) || !e.Date.Before(to) {
			continue
		}
		if e.Amount.IsNegative() {
			s.Outflow = s.Outflow.Add(e.Amount)
		} else {
			s.Inflow = s.Inflow.Add(e.Amount)
		}
		byName[e.Summary] = byName[e.Summary].Add(e.Amount)
		if !e.Date.Before(today) && (last == nil || !e.Date.Before(last.Date)) {
			last = e
		}
	}
	s.Net = s.Inflow.Add(s.Outflow)
	if last != nil {
		s.Closing = last.RunningTotal
	}
	for name, amt := range byName {
		s.BySummary = append(s.BySummary, SummaryLine{Summary: name, Amount: amt})
	}
	sort.Slice(s.BySummary, func(i, j int) bool {
		return s.BySummary[i].Summary < s.BySummary[j].Summary
	})
	return s
}
