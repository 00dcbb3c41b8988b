package core

import "github.com/shopspring/decimal"

// EntryPatch names the user-editable fields of a ledger entry. Identity,
// owner, recurrence group and running total are never copied.
type EntryPatch struct {
	Summary           string
	Date              Date
	RecurrenceEndDate Date
	Amount            decimal.Decimal
	Exclude           bool
	Frequency         Frequency
	DebtID            *string
}

// PatchFromEntry captures the editable fields of e.
func PatchFromEntry(e LedgerEntry) EntryPatch {
	return EntryPatch{
		Summary:           e.Summary,
		Date:              e.Date,
		RecurrenceEndDate: e.RecurrenceEndDate,
		Amount:            e.Amount,
		Exclude:           e.Exclude,
		Frequency:         e.Frequency,
		DebtID:            e.DebtID,
	}
}

// ApplyTo returns dst with every editable field replaced.
func (p EntryPatch) ApplyTo(dst LedgerEntry) LedgerEntry {
	dst = p.ApplyKeepingDate(dst)
	dst.Date = p.Date
	return dst
}

// ApplyKeepingDate is ApplyTo without touching dst.Date.
func (p EntryPatch) ApplyKeepingDate(dst LedgerEntry) LedgerEntry {
	dst.Summary = p.Summary
	dst.RecurrenceEndDate = p.RecurrenceEndDate
	dst.Amount = p.Amount
	dst.Exclude = p.Exclude
	dst.Frequency = p.Frequency
	dst.DebtID = p.DebtID
	return dst
}

// ExpensePatch names the editable fields of a recurring expense.
type ExpensePatch struct {
	Name      string
	Amount    decimal.Decimal
	StartDate Date
	EndDate   Date
	Frequency Frequency
}

func PatchFromExpense(e RecurringExpense) ExpensePatch {
	return ExpensePatch{
		Name:      e.Name,
		Amount:    e.Amount,
		StartDate: e.StartDate,
		EndDate:   e.EndDate,
		Frequency: e.Frequency,
	}
}

func (p ExpensePatch) ApplyTo(dst RecurringExpense) RecurringExpense {
	dst.Name = p.Name
	dst.Amount = p.Amount
	dst.StartDate = p.StartDate
	dst.EndDate = p.EndDate
	dst.Frequency = p.Frequency
	return dst
}

// DebtPatch names the editable fields of a debt.
type DebtPatch struct {
	Name         string
	Balance      decimal.Decimal
	InterestRate decimal.Decimal
	InterestType InterestType
	Link         string
}

func PatchFromDebt(d Debt) DebtPatch {
	return DebtPatch{
		Name:         d.Name,
		Balance:      d.Balance,
		InterestRate: d.InterestRate,
		InterestType: d.InterestType,
		Link:         d.Link,
	}
}

func (p DebtPatch) ApplyTo(dst Debt) Debt {
	dst.Name = p.Name
	dst.Balance = p.Balance
	dst.InterestRate = p.InterestRate
	dst.InterestType = p.InterestType
	dst.Link = p.Link
	return dst
}
