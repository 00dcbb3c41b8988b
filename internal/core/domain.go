package core

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"

	SimpleInterest   InterestType = "simple"
	CompoundInterest InterestType = "compound"

	dateLayout = "2006-01-02"
)

func init() {
	// Amounts go over the wire as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

type (
	Frequency    string
	InterestType string

	// Date is a calendar date held at UTC midnight.
	Date struct {
		time.Time
	}

	RecurringExpense struct {
		ID        string          `json:"id"`
		UserID    string          `json:"userId"`
		Name      string          `json:"name"`
		Amount    decimal.Decimal `json:"amount"`
		StartDate Date            `json:"startDate"`
		EndDate   Date            `json:"recurrenceEndDate"` // exclusive
		Frequency Frequency       `json:"frequency"`
	}

	Debt struct {
		ID           string          `json:"id"`
		UserID       string          `json:"userId"`
		Name         string          `json:"name"`
		Balance      decimal.Decimal `json:"balance"`
		InterestRate decimal.Decimal `json:"interestRate"` // annual, percent
		InterestType InterestType    `json:"interestType"`
		Link         string          `json:"link,omitempty"`
	}

	// LedgerEntry is one materialized event on the calendar.
	LedgerEntry struct {
		ID                string          `json:"id"`
		RecurrenceID      string          `json:"recurrenceId"`
		UserID            string          `json:"userId"`
		Summary           string          `json:"summary"`
		Date              Date            `json:"date"`
		RecurrenceEndDate Date            `json:"recurrenceEndDate"`
		Amount            decimal.Decimal `json:"amount"`
		RunningTotal      decimal.Decimal `json:"total"`
		Exclude           bool            `json:"exclude"`
		Manual            bool            `json:"manual"`
		Frequency         Frequency       `json:"frequency"`
		DebtID            *string         `json:"debtId,omitempty"`
		Seq               int64           `json:"-"`
	}

	// Account is the per-session view state plus the user's definitions.
	Account struct {
		Month    int                `json:"month"`
		Year     int                `json:"year"`
		Expenses []RecurringExpense `json:"expenses"`
		Debts    []Debt             `json:"debts"`
	}

	User struct {
		ID              string          `json:"id"`
		UserName        string          `json:"userName"`
		CheckingBalance decimal.Decimal `json:"checkingBalance"`
		TimeZone        string          `json:"timeZone"`
		Account         Account         `json:"account"`
	}
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrStore      = errors.New("store failure")

	ErrInvalidDate      = fmt.Errorf("%w: invalid date", ErrValidation)
	ErrEmptyName        = fmt.Errorf("%w: empty name", ErrValidation)
	ErrNameTooLong      = fmt.Errorf("%w: name too long (max 200 characters)", ErrValidation)
	ErrInvalidFrequency = fmt.Errorf("%w: invalid frequency", ErrValidation)
	ErrInvalidRange     = fmt.Errorf("%w: end date must be after start date", ErrValidation)
	ErrInvalidInterest  = fmt.Errorf("%w: invalid interest", ErrValidation)
	ErrMissingUser      = fmt.Errorf("%w: missing user id", ErrValidation)
)

// Valid reports whether f is one of the supported recurrence tags.
func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Biweekly, Monthly:
		return true
	}
	return false
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t, read in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{Time: t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// AddMonthsClamped moves n calendar months keeping the day of month,
// clamped to the last day of the target month (Jan 31 + 1 = Feb 29 in 2024).
func (d Date) AddMonthsClamped(n int) Date {
	y, m, day := d.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return NewDate(first.Year(), int(first.Month()), day)
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }

// After reports whether d is strictly later than o.
func (d Date) After(o Date) bool { return d.Time.After(o.Time) }

func (d Date) Equal(o Date) bool { return d.Time.Equal(o.Time) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDate, string(b))
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value stores dates as YYYY-MM-DD, which sorts lexically in every dialect.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
	case time.Time:
		*d = DateOf(v.UTC())
	case string:
		parsed, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = parsed
	case []byte:
		return d.Scan(string(v))
	default:
		return fmt.Errorf("scan date: unsupported type %T", src)
	}
	return nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("%w: date cannot be zero", ErrInvalidDate)
	}
	return nil
}

func validateName(name string) error {
	if len(strings.TrimSpace(name)) == 0 {
		return ErrEmptyName
	}
	if len(name) > 200 {
		return ErrNameTooLong
	}
	return nil
}

func (re RecurringExpense) Validate() error {
	if re.UserID == "" {
		return ErrMissingUser
	}
	if err := validateName(re.Name); err != nil {
		return err
	}
	if err := re.StartDate.Validate(); err != nil {
		return fmt.Errorf("start date: %w", err)
	}
	if err := re.EndDate.Validate(); err != nil {
		return fmt.Errorf("end date: %w", err)
	}
	if !re.EndDate.After(re.StartDate) {
		return ErrInvalidRange
	}
	if !re.Frequency.Valid() {
		return ErrInvalidFrequency
	}
	return nil
}

func (e LedgerEntry) Validate() error {
	if e.UserID == "" {
		return ErrMissingUser
	}
	if err := validateName(e.Summary); err != nil {
		return err
	}
	return e.Date.Validate()
}

func (d Debt) Validate() error {
	if d.UserID == "" {
		return ErrMissingUser
	}
	if err := validateName(d.Name); err != nil {
		return err
	}
	if d.InterestRate.IsNegative() {
		return ErrInvalidInterest
	}
	switch d.InterestType {
	case SimpleInterest, CompoundInterest:
	default:
		return ErrInvalidInterest
	}
	return nil
}

// ProjectedBalance returns the debt balance after the given number of months
// of interest accrual, rounded to cents. Compound debts compound monthly.
func (d Debt) ProjectedBalance(months int) decimal.Decimal {
	if months <= 0 {
		return d.Balance
	}
	monthly := d.InterestRate.Div(decimal.NewFromInt(1200))
	n := decimal.NewFromInt(int64(months))
	switch d.InterestType {
	case CompoundInterest:
		factor := decimal.NewFromInt(1).Add(monthly).Pow(n)
		return d.Balance.Mul(factor).Round(2)
	default:
		return d.Balance.Add(d.Balance.Mul(monthly).Mul(n)).Round(2)
	}
}
