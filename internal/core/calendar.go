package core

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Day is one cell of the calendar grid.
type Day struct {
	Date           Date            `json:"date"`
	Day            int             `json:"day"`
	Name           string          `json:"name"`
	Year           int             `json:"year"`
	Month          int             `json:"month"`
	IsToday        bool            `json:"isToday"`
	IsTodayOrLater bool            `json:"isTodayOrLater"`
	Events         []LedgerEntry   `json:"events"`
	Total          decimal.Decimal `json:"total"`
}

// Week is always seven days, Sunday first.
type Week [7]Day

// Grid is the ordered list of weeks for one viewed month.
type Grid []Week

// MarshalJSON keeps empty day event lists as [] rather than null.
func (d Day) MarshalJSON() ([]byte, error) {
	type plain Day
	p := plain(d)
	if p.Events == nil {
		p.Events = []LedgerEntry{}
	}
	return json.Marshal(p)
}

// Days flattens the grid in display order.
func (g Grid) Days() []Day {
	out := make([]Day, 0, len(g)*7)
	for _, w := range g {
		out = append(out, w[:]...)
	}
	return out
}

// First returns the first date shown, or the zero Date for an empty grid.
func (g Grid) First() Date {
	if len(g) == 0 {
		return Date{}
	}
	return g[0][0].Date
}

// Last returns the last date shown, or the zero Date for an empty grid.
func (g Grid) Last() Date {
	if len(g) == 0 {
		return Date{}
	}
	return g[len(g)-1][6].Date
}
