package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestAddMonthsClamped(t *testing.T) {
	cases := []struct {
		from Date
		n    int
		want Date
	}{
		{NewDate(2024, 1, 31), 1, NewDate(2024, 2, 29)},
		{NewDate(2023, 1, 31), 1, NewDate(2023, 2, 28)},
		{NewDate(2024, 3, 31), 1, NewDate(2024, 4, 30)},
		{NewDate(2024, 1, 31), 2, NewDate(2024, 3, 31)},
		{NewDate(2024, 12, 15), 1, NewDate(2025, 1, 15)},
		{NewDate(2024, 1, 15), -1, NewDate(2023, 12, 15)},
	}
	for _, tc := range cases {
		if got := tc.from.AddMonthsClamped(tc.n); !got.Equal(tc.want) {
			t.Fatalf("%s + %d months: expected %s, got %s", tc.from, tc.n, tc.want, got)
		}
	}
}

func TestDateOfNormalizesToUTCMidnight(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	instant := time.Date(2024, 3, 1, 1, 30, 0, 0, tokyo)
	got := DateOf(instant)
	if got.Location() != time.UTC || got.Hour() != 0 {
		t.Fatalf("expected UTC midnight, got %v", got.Time)
	}
	if !got.Equal(NewDate(2024, 3, 1)) {
		t.Fatalf("expected 2024-03-01, got %s", got)
	}
}

func TestDateJSONRoundTrip(t *testing.T) {
	b, err := json.Marshal(NewDate(2024, 2, 29))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"2024-02-29"` {
		t.Fatalf("unexpected encoding %s", b)
	}
	var d Date
	if err := json.Unmarshal([]byte(`"2024-02-29T10:00:00Z"`), &d); err != nil {
		t.Fatal(err)
	}
	if !d.Equal(NewDate(2024, 2, 29)) {
		t.Fatalf("expected 2024-02-29, got %s", d)
	}
	if err := json.Unmarshal([]byte(`"29/02/2024"`), &d); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDateScan(t *testing.T) {
	var d Date
	inputs := []any{"2024-05-06", []byte("2024-05-06"), time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)}
	for _, in := range inputs {
		if err := d.Scan(in); err != nil {
			t.Fatalf("scan %T: %v", in, err)
		}
		if !d.Equal(NewDate(2024, 5, 6)) {
			t.Fatalf("scan %T: got %s", in, d)
		}
	}
	if err := d.Scan(42); err == nil {
		t.Fatalf("expected error for int")
	}
}

func TestRecurringExpenseValidate(t *testing.T) {
	good := RecurringExpense{
		UserID:    "u1",
		Name:      "Rent",
		Amount:    decimal.NewFromInt(-1500),
		StartDate: NewDate(2024, 1, 1),
		EndDate:   NewDate(2024, 4, 1),
		Frequency: Monthly,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []RecurringExpense{
		{Name: "a", StartDate: good.StartDate, EndDate: good.EndDate, Frequency: Monthly},
		{UserID: "u1", Name: " ", StartDate: good.StartDate, EndDate: good.EndDate, Frequency: Monthly},
		{UserID: "u1", Name: "a", EndDate: good.EndDate, Frequency: Monthly},
		{UserID: "u1", Name: "a", StartDate: good.EndDate, EndDate: good.StartDate, Frequency: Monthly},
		{UserID: "u1", Name: "a", StartDate: good.StartDate, EndDate: good.EndDate, Frequency: "yearly"},
	}
	for i, e := range bads {
		err := e.Validate()
		if err == nil {
			t.Fatalf("case %d expected error", i)
		}
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d expected ErrValidation, got %v", i, err)
		}
	}
}

func TestDebtProjectedBalance(t *testing.T) {
	simple := Debt{Balance: decimal.NewFromInt(1200), InterestRate: decimal.NewFromInt(12), InterestType: SimpleInterest}
	if got := simple.ProjectedBalance(12); !got.Equal(decimal.NewFromInt(1344)) {
		t.Fatalf("simple: expected 1344, got %s", got)
	}
	compound := Debt{Balance: decimal.NewFromInt(1000), InterestRate: decimal.NewFromInt(12), InterestType: CompoundInterest}
	if got := compound.ProjectedBalance(2); !got.Equal(decimal.RequireFromString("1020.10")) {
		t.Fatalf("compound: expected 1020.10, got %s", got)
	}
	if got := compound.ProjectedBalance(0); !got.Equal(compound.Balance) {
		t.Fatalf("zero months should return balance, got %s", got)
	}
}

func TestDebtValidate(t *testing.T) {
	d := Debt{UserID: "u1", Name: "Card", InterestRate: decimal.NewFromInt(20), InterestType: CompoundInterest}
	if err := d.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	d.InterestType = "weird"
	if err := d.Validate(); !errors.Is(err, ErrInvalidInterest) {
		t.Fatalf("expected ErrInvalidInterest, got %v", err)
	}
}

func TestEntryPatchApply(t *testing.T) {
	debt := "d1"
	orig := LedgerEntry{ID: "e1", RecurrenceID: "g1", UserID: "u1", Summary: "Rent", Date: NewDate(2024, 1, 1), Amount: decimal.NewFromInt(-10), RunningTotal: decimal.NewFromInt(5)}
	p := EntryPatch{Summary: "Rent (new)", Date: NewDate(2024, 1, 9), Amount: decimal.NewFromInt(-20), Frequency: Monthly, DebtID: &debt}

	kept := p.ApplyKeepingDate(orig)
	if !kept.Date.Equal(orig.Date) || kept.Summary != "Rent (new)" || kept.DebtID == nil {
		t.Fatalf("unexpected keep-date merge: %+v", kept)
	}
	moved := p.ApplyTo(orig)
	if !moved.Date.Equal(p.Date) {
		t.Fatalf("expected date moved, got %s", moved.Date)
	}
	if moved.ID != "e1" || moved.RecurrenceID != "g1" || moved.UserID != "u1" || !moved.RunningTotal.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("identity fields must not change: %+v", moved)
	}
}
