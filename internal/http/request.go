package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"fincal/internal/core"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// requestError is a rejected request body. It matches core.ErrValidation.
type requestError struct {
	msg     string
	details map[string]string
}

func (e *requestError) Error() string { return e.msg }
func (e *requestError) Unwrap() error { return core.ErrValidation }

// decodeJSON reads a single JSON object into dst and validates its tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return &requestError{msg: "request body is empty"}
		case errors.As(err, &maxErr):
			return &requestError{msg: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)}
		case errors.Is(err, core.ErrValidation):
			return err
		default:
			return &requestError{msg: "invalid JSON: " + err.Error()}
		}
	}
	if dec.More() {
		return &requestError{msg: "request body must hold a single JSON object"}
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &requestError{msg: err.Error()}
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[jsonName(fe.Field())] = describe(fe)
	}
	return &requestError{msg: "request validation failed", details: details}
}

func jsonName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

type (
	balanceRequest struct {
		Balance *decimal.Decimal `json:"balance" validate:"required"`
	}

	monthRequest struct {
		Direction *int `json:"direction" validate:"required"`
	}

	eventRequest struct {
		ID                string           `json:"id"`
		RecurrenceID      string           `json:"recurrenceId"`
		Summary           string           `json:"summary" validate:"required,max=200"`
		Date              core.Date        `json:"date"`
		RecurrenceEndDate core.Date        `json:"recurrenceEndDate"`
		Amount            *decimal.Decimal `json:"amount" validate:"required"`
		Exclude           bool             `json:"exclude"`
		Frequency         core.Frequency   `json:"frequency" validate:"omitempty,oneof=daily weekly biweekly monthly"`
		DebtID            *string          `json:"debtId"`
		ApplyToAllFuture  bool             `json:"applyToAllFuture"`
	}

	expenseRequest struct {
		Name      string           `json:"name" validate:"required,max=200"`
		Amount    *decimal.Decimal `json:"amount" validate:"required"`
		StartDate core.Date        `json:"startDate"`
		EndDate   core.Date        `json:"recurrenceEndDate"`
		Frequency core.Frequency   `json:"frequency" validate:"required,oneof=daily weekly biweekly monthly"`
	}

	debtRequest struct {
		Name         string            `json:"name" validate:"required,max=200"`
		Balance      *decimal.Decimal  `json:"balance" validate:"required"`
		InterestRate decimal.Decimal   `json:"interestRate"`
		InterestType core.InterestType `json:"interestType" validate:"omitempty,oneof=simple compound"`
		Link         string            `json:"link" validate:"omitempty,url"`
	}
)

func (r eventRequest) entry(id string) core.LedgerEntry {
	if id == "" {
		id = r.ID
	}
	return core.LedgerEntry{
		ID:                id,
		RecurrenceID:      r.RecurrenceID,
		Summary:           strings.TrimSpace(r.Summary),
		Date:              r.Date,
		RecurrenceEndDate: r.RecurrenceEndDate,
		Amount:            *r.Amount,
		Exclude:           r.Exclude,
		Frequency:         r.Frequency,
		DebtID:            r.DebtID,
	}
}

func (r expenseRequest) expense() core.RecurringExpense {
	return core.RecurringExpense{
		Name:      r.Name,
		Amount:    *r.Amount,
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
		Frequency: r.Frequency,
	}
}

func (r debtRequest) debt() core.Debt {
	return core.Debt{
		Name:         r.Name,
		Balance:      *r.Balance,
		InterestRate: r.InterestRate,
		InterestType: r.InterestType,
		Link:         r.Link,
	}
}
