package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"fincal/internal/core"
	applog "fincal/internal/log"
	"fincal/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const maxProjectionMonths = 600

type handlers struct {
	svc *services.AccountService
}

func newHandlers(svc *services.AccountService) *handlers {
	return &handlers{svc: svc}
}

// loadUser resolves the authenticated user. Tokens for unknown users are
// rejected like invalid ones.
func (h *handlers) loadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := UserIDFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, envelope{Message: "Authentication required", Error: "unauthorized"})
			return
		}
		user, err := h.svc.LoadUser(r.Context(), id)
		if err != nil {
			if services.KindOf(err) == services.KindNotFound {
				writeJSON(w, http.StatusUnauthorized, envelope{Message: "Unknown user", Error: "unauthorized"})
				return
			}
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userKey, user)
		ctx = applog.WithLogger(ctx, applog.FromContext(ctx).With(applog.FieldUserID, user.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) core.User {
	u, _ := r.Context().Value(userKey).(core.User)
	return u
}

func (h *handlers) getCalendar(w http.ResponseWriter, r *http.Request) {
	writeResult(w, r, h.svc.Grid(r.Context(), userFrom(r)), http.StatusOK)
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	writeResult(w, r, h.svc.Refresh(r.Context(), userFrom(r)), http.StatusOK)
}

func (h *handlers) changeMonth(w http.ResponseWriter, r *http.Request) {
	var req monthRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, r, h.svc.ChangeMonth(r.Context(), userFrom(r), *req.Direction), http.StatusOK)
}

func (h *handlers) summary(w http.ResponseWriter, r *http.Request) {
	writeResult(w, r, h.svc.Summary(r.Context(), userFrom(r)), http.StatusOK)
}

func (h *handlers) updateBalance(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, r, h.svc.UpdateCheckingBalance(r.Context(), userFrom(r), *req.Balance), http.StatusOK)
}

// saveEvent handles both POST /events and PUT /events/{id}. A path id wins
// over the body id.
func (h *handlers) saveEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user := userFrom(r)
	res := h.svc.SaveEventScoped(r.Context(), user, req.entry(chi.URLParam(r, "id")), req.ApplyToAllFuture)
	if res.Success {
		applog.LogLedgerChange(r.Context(), applog.OpUpdate, res.Data.ID, res.Data.RecurrenceID)
	}
	writeResult(w, r, res, http.StatusOK)
}

// deleteEvent removes one entry by path id, or a whole group when only
// ?recurrenceId= is given.
func (h *handlers) deleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	recurrenceID := r.URL.Query().Get("recurrenceId")
	if id == "" && recurrenceID == "" {
		writeError(w, r, &requestError{msg: "id or recurrenceId is required"})
		return
	}
	user := userFrom(r)
	res := h.svc.DeleteEvent(r.Context(), user, id, recurrenceID)
	if res.Success {
		applog.LogLedgerChange(r.Context(), applog.OpDelete, id, recurrenceID)
	}
	writeResult(w, r, res, http.StatusOK)
}

func (h *handlers) listExpenses(w http.ResponseWriter, r *http.Request) {
	expenses := userFrom(r).Account.Expenses
	if expenses == nil {
		expenses = []core.RecurringExpense{}
	}
	writeJSON(w, http.StatusOK, envelope{Message: fmt.Sprintf("%d expenses", len(expenses)), Data: expenses})
}

func (h *handlers) addExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, r, h.svc.AddExpense(r.Context(), userFrom(r), req.expense()), http.StatusCreated)
}

func (h *handlers) updateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	patch := core.PatchFromExpense(req.expense())
	writeResult(w, r, h.svc.UpdateExpense(r.Context(), userFrom(r), chi.URLParam(r, "id"), patch), http.StatusOK)
}

func (h *handlers) deleteExpense(w http.ResponseWriter, r *http.Request) {
	writeResult(w, r, h.svc.DeleteExpense(r.Context(), userFrom(r), chi.URLParam(r, "id")), http.StatusOK)
}

func (h *handlers) listDebts(w http.ResponseWriter, r *http.Request) {
	debts := userFrom(r).Account.Debts
	if debts == nil {
		debts = []core.Debt{}
	}
	writeJSON(w, http.StatusOK, envelope{Message: fmt.Sprintf("%d debts", len(debts)), Data: debts})
}

func (h *handlers) addDebt(w http.ResponseWriter, r *http.Request) {
	var req debtRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, r, h.svc.AddDebt(r.Context(), userFrom(r), req.debt()), http.StatusCreated)
}

func (h *handlers) updateDebt(w http.ResponseWriter, r *http.Request) {
	var req debtRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	d := req.debt()
	if d.InterestType == "" {
		d.InterestType = core.SimpleInterest
	}
	writeResult(w, r, h.svc.UpdateDebt(r.Context(), userFrom(r), chi.URLParam(r, "id"), core.PatchFromDebt(d)), http.StatusOK)
}

func (h *handlers) deleteDebt(w http.ResponseWriter, r *http.Request) {
	writeResult(w, r, h.svc.DeleteDebt(r.Context(), userFrom(r), chi.URLParam(r, "id")), http.StatusOK)
}

type debtProjection struct {
	Debt    core.Debt       `json:"debt"`
	Months  int             `json:"months"`
	Balance decimal.Decimal `json:"balance"`
}

func (h *handlers) debtProjection(w http.ResponseWriter, r *http.Request) {
	months := 12
	if raw := r.URL.Query().Get("months"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxProjectionMonths {
			writeError(w, r, &requestError{
				msg:     "invalid months",
				details: map[string]string{"months": fmt.Sprintf("must be between 0 and %d", maxProjectionMonths)},
			})
			return
		}
		months = n
	}

	id := chi.URLParam(r, "id")
	for _, d := range userFrom(r).Account.Debts {
		if d.ID == id {
			writeJSON(w, http.StatusOK, envelope{
				Message: "debt projected",
				Data:    debtProjection{Debt: d, Months: months, Balance: d.ProjectedBalance(months)},
			})
			return
		}
	}
	writeError(w, r, fmt.Errorf("debt %s: %w", id, core.ErrNotFound))
}
