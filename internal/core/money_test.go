package core

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.0", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"-1500", "-1500", true},
		{"+50", "50", true},
		{"1.005", "1.01", true}, // half-up rounding
		{" 2.50 ", "2.5", true},
		{"0", "0", true},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"1e3", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(decimal.NewFromInt(-1500)); got != "-1500.00" {
		t.Fatalf("unexpected %s", got)
	}
}

func TestAmountsEncodeAsNumbers(t *testing.T) {
	b, err := json.Marshal(LedgerEntry{Amount: decimal.RequireFromString("-12.5")})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"amount":-12.5`) {
		t.Fatalf("expected numeric amount, got %s", b)
	}
}

func TestSummarizeMonth(t *testing.T) {
	entries := []LedgerEntry{
		{Summary: "Pay", Date: NewDate(2024, 2, 1), Amount: decimal.NewFromInt(3000), RunningTotal: decimal.NewFromInt(4000)},
		{Summary: "Rent", Date: NewDate(2024, 2, 3), Amount: decimal.NewFromInt(-1500), RunningTotal: decimal.NewFromInt(2500)},
		{Summary: "Rent", Date: NewDate(2024, 3, 3), Amount: decimal.NewFromInt(-1500), RunningTotal: decimal.NewFromInt(1000)},
	}
	s := SummarizeMonth(2024, 2, NewDate(2024, 2, 1), entries)
	if !s.Inflow.Equal(decimal.NewFromInt(3000)) || !s.Outflow.Equal(decimal.NewFromInt(-1500)) {
		t.Fatalf("unexpected flows: %+v", s)
	}
	if !s.Net.Equal(decimal.NewFromInt(1500)) || !s.Closing.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("unexpected net/closing: %+v", s)
	}
	if len(s.BySummary) != 2 || s.BySummary[0].Summary != "Pay" {
		t.Fatalf("unexpected breakdown: %+v", s.BySummary)
	}
}

func TestSummarizeMonthClosing(t *testing.T) {
	entries := []LedgerEntry{
		{Summary: "Old", Date: NewDate(2024, 3, 1), Amount: decimal.NewFromInt(-50), RunningTotal: decimal.Zero},
		{Summary: "Pay", Date: NewDate(2024, 3, 5), Amount: decimal.NewFromInt(100), RunningTotal: decimal.NewFromInt(100)},
		{Summary: "Rent", Date: NewDate(2024, 3, 15), Amount: decimal.NewFromInt(-100), RunningTotal: decimal.Zero},
	}

	tests := []struct {
		name  string
		today Date
		want  decimal.Decimal
	}{
		{"balance lands on zero", NewDate(2024, 3, 2), decimal.Zero},
		{"last entry is today", NewDate(2024, 3, 15), decimal.Zero},
		{"whole month in the past", NewDate(2024, 4, 1), decimal.Zero},
		{"today on an earlier entry", NewDate(2024, 3, 5), decimal.Zero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := SummarizeMonth(2024, 3, tt.today, entries)
			if !s.Closing.Equal(tt.want) {
				t.Fatalf("closing = %s, want %s", s.Closing, tt.want)
			}
		})
	}

	s := SummarizeMonth(2024, 3, NewDate(2024, 3, 2), entries[:2])
	if !s.Closing.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("closing = %s, want 100", s.Closing)
	}
}
