package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fincal/internal/clock"
	"fincal/internal/core"
	"fincal/internal/storage"

	"github.com/shopspring/decimal"
)

// RefreshPublisher announces that a user's ledger should be regenerated.
type RefreshPublisher interface {
	PublishRefresh(ctx context.Context, userID, reason string) error
}

// Locker serializes ledger rewrites per user across processes.
type Locker interface {
	Acquire(ctx context.Context, userID string) (release func(context.Context) error, err error)
}

// EventChange is a ledger entry edit, either for one occurrence or for the
// rest of its recurrence group.
type EventChange interface {
	change() core.LedgerEntry
}

// ThisOccurrence edits a single entry, inserting it when its id is unknown.
type ThisOccurrence struct{ Entry core.LedgerEntry }

// AllOccurrences propagates the edit to every entry of the group dated on or
// after the edited entry. Each entry keeps its own date.
type AllOccurrences struct{ Entry core.LedgerEntry }

func (c ThisOccurrence) change() core.LedgerEntry { return c.Entry }
func (c AllOccurrences) change() core.LedgerEntry { return c.Entry }

// AccountService orchestrates expansion, projection and grid building over
// the store.
type AccountService struct {
	store     storage.Store
	expander  *Expander
	projector *Projector
	calendar  *CalendarBuilder
	clock     clock.Clock
	zones     *clock.Zones
	newID     IDGenerator
	publisher RefreshPublisher
	locker    Locker
}

type Option func(*AccountService)

func WithClock(c clock.Clock) Option { return func(s *AccountService) { s.clock = c } }
func WithZones(z *clock.Zones) Option { return func(s *AccountService) { s.zones = z } }
func WithIDGenerator(g IDGenerator) Option { return func(s *AccountService) { s.newID = g } }
func WithExcludePolicy(p ExcludePolicy) Option { return func(s *AccountService) { s.projector = NewProjector(p) } }
func WithPublisher(p RefreshPublisher) Option { return func(s *AccountService) { s.publisher = p } }
func WithLocker(l Locker) Option { return func(s *AccountService) { s.locker = l } }

func NewAccountService(store storage.Store, opts ...Option) *AccountService {
	s := &AccountService{
		store:     store,
		clock:     clock.System{},
		newID:     NewUUID,
		projector: NewProjector(ExcludeInclude),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.zones == nil {
		s.zones = clock.NewZones("", 64, 24*time.Hour)
	}
	s.expander = NewExpander(s.newID)
	s.calendar = NewCalendarBuilder(s.clock, s.zones)
	return s
}

// LoadUser resolves a user with their account definitions.
func (s *AccountService) LoadUser(ctx context.Context, userID string) (core.User, error) {
	return s.store.GetUser(ctx, userID)
}

func (s *AccountService) today(user core.User) (core.Date, error) {
	return s.calendar.Today(user)
}

func (s *AccountService) lock(ctx context.Context, userID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			slog.WarnContext(ctx, "Failed to release refresh lock", "user_id", userID, "error", err)
		}
	}, nil
}

func (s *AccountService) grid(ctx context.Context, user core.User, msg string) Result[core.Grid] {
	g, err := s.calendar.Build(ctx, s.store, user)
	if err != nil {
		return fail[core.Grid](err)
	}
	return succeed(g, msg)
}

// regenerate rebuilds every expense-derived entry of userID and re-projects
// totals. Manual one-off entries are carried over. Must run inside InTx.
func (s *AccountService) regenerate(ctx context.Context, tx storage.Store, userID string, today core.Date, balance decimal.Decimal) (int, error) {
	expenses, err := tx.ListExpenses(ctx, userID)
	if err != nil {
		return 0, err
	}
	existing, err := tx.EntriesForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	entries := s.expander.ExpandAll(expenses)
	for _, e := range existing {
		if e.Manual {
			entries = append(entries, e)
		}
	}
	if err := tx.ReplaceAll(ctx, userID, entries); err != nil {
		return 0, fmt.Errorf("replace ledger: %w", err)
	}
	if err := s.projector.Project(ctx, tx, userID, today, balance); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Refresh regenerates the user's ledger from their recurring expenses and
// returns the grid of the viewed month.
func (s *AccountService) Refresh(ctx context.Context, user core.User) Result[core.Grid] {
	today, err := s.today(user)
	if err != nil {
		return fail[core.Grid](err)
	}
	unlock, err := s.lock(ctx, user.ID)
	if err != nil {
		return fail[core.Grid](err)
	}
	defer unlock()

	var count int
	err = s.store.InTx(ctx, func(tx storage.Store) error {
		var err error
		count, err = s.regenerate(ctx, tx, user.ID, today, user.CheckingBalance)
		return err
	})
	if err != nil {
		slog.ErrorContext(ctx, "Ledger refresh failed", "user_id", user.ID, "error", err)
		return fail[core.Grid](fmt.Errorf("refresh ledger: %w", err))
	}

	slog.InfoContext(ctx, "Ledger refreshed",
		"user_id", user.ID,
		"entries", count,
		"as_of", today.String())
	return s.grid(ctx, user, "ledger refreshed")
}

// RefreshUser loads userID and refreshes their ledger.
func (s *AccountService) RefreshUser(ctx context.Context, userID string) Result[core.Grid] {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return fail[core.Grid](err)
	}
	return s.Refresh(ctx, user)
}

// UpdateCheckingBalance stores the new balance and regenerates the ledger
// against it in one transaction.
func (s *AccountService) UpdateCheckingBalance(ctx context.Context, user core.User, balance decimal.Decimal) Result[core.Grid] {
	today, err := s.today(user)
	if err != nil {
		return fail[core.Grid](err)
	}
	unlock, err := s.lock(ctx, user.ID)
	if err != nil {
		return fail[core.Grid](err)
	}
	defer unlock()

	err = s.store.InTx(ctx, func(tx storage.Store) error {
		if err := tx.SetCheckingBalance(ctx, user.ID, balance); err != nil {
			return err
		}
		if err := s.projector.Project(ctx, tx, user.ID, today, balance); err != nil {
			return err
		}
		_, err := s.regenerate(ctx, tx, user.ID, today, balance)
		return err
	})
	if err != nil {
		return fail[core.Grid](fmt.Errorf("update checking balance: %w", err))
	}

	slog.InfoContext(ctx, "Checking balance updated", "user_id", user.ID, "balance", balance.String())
	user.CheckingBalance = balance
	return s.grid(ctx, user, "balance updated")
}

// ChangeMonth moves the viewed month by direction. Zero jumps back to the
// current month; other values are added to the month and rolled over once.
func (s *AccountService) ChangeMonth(ctx context.Context, user core.User, direction int) Result[core.Grid] {
	year, month, err := s.calendar.ViewedMonth(user)
	if err != nil {
		return fail[core.Grid](err)
	}

	if direction == 0 {
		today, err := s.today(user)
		if err != nil {
			return fail[core.Grid](err)
		}
		year, month = today.Year(), int(today.Month())
	} else {
		month += direction
		if month > 12 {
			month = 1
			year++
		} else if month < 1 {
			month = 12
			year--
		}
	}

	if err := s.store.SetViewedMonth(ctx, user.ID, year, month); err != nil {
		return fail[core.Grid](err)
	}
	user.Account.Year, user.Account.Month = year, month
	return s.grid(ctx, user, fmt.Sprintf("viewing %04d-%02d", year, month))
}

// Grid returns the grid of the viewed month without modifying anything.
func (s *AccountService) Grid(ctx context.Context, user core.User) Result[core.Grid] {
	return s.grid(ctx, user, "")
}

// Summary aggregates the viewed month.
func (s *AccountService) Summary(ctx context.Context, user core.User) Result[core.MonthSummary] {
	year, month, err := s.calendar.ViewedMonth(user)
	if err != nil {
		return fail[core.MonthSummary](err)
	}
	today, err := s.today(user)
	if err != nil {
		return fail[core.MonthSummary](err)
	}
	from := core.NewDate(year, month, 1)
	entries, err := s.store.EntriesInRange(ctx, user.ID, from, from.AddMonthsClamped(1))
	if err != nil {
		return fail[core.MonthSummary](err)
	}
	return succeed(core.SummarizeMonth(year, month, today, entries), "")
}

// SaveEventScoped maps the applyToAllFuture flag onto an EventChange.
func (s *AccountService) SaveEventScoped(ctx context.Context, user core.User, entry core.LedgerEntry, applyToAllFuture bool) Result[core.LedgerEntry] {
	if applyToAllFuture {
		return s.SaveEvent(ctx, user, AllOccurrences{Entry: entry})
	}
	return s.SaveEvent(ctx, user, ThisOccurrence{Entry: entry})
}

// SaveEvent applies an entry edit and re-projects totals in the same
// transaction. It returns the saved entry with its new running total.
func (s *AccountService) SaveEvent(ctx context.Context, user core.User, change EventChange) Result[core.LedgerEntry] {
	if change == nil {
		return fail[core.LedgerEntry](fmt.Errorf("%w: missing event", core.ErrValidation))
	}
	entry := change.change()
	entry.UserID = user.ID
	entry.Date = core.DateOf(entry.Date.Time)
	if err := entry.Validate(); err != nil {
		return fail[core.LedgerEntry](err)
	}
	today, err := s.today(user)
	if err != nil {
		return fail[core.LedgerEntry](err)
	}

	var saved core.LedgerEntry
	err = s.store.InTx(ctx, func(tx storage.Store) error {
		var id string
		var err error
		switch change.(type) {
		case ThisOccurrence:
			id, err = s.saveOccurrence(ctx, tx, entry)
		case AllOccurrences:
			id, err = s.propagateToSeries(ctx, tx, entry)
		default:
			err = fmt.Errorf("%w: unsupported event change %T", core.ErrValidation, change)
		}
		if err != nil {
			return err
		}
		if err := s.projector.Project(ctx, tx, user.ID, today, user.CheckingBalance); err != nil {
			return err
		}
		saved, err = tx.GetEntry(ctx, user.ID, id)
		return err
	})
	if err != nil {
		return fail[core.LedgerEntry](fmt.Errorf("save event: %w", err))
	}
	return succeed(saved, "event saved")
}

func (s *AccountService) saveOccurrence(ctx context.Context, tx storage.Store, entry core.LedgerEntry) (string, error) {
	if entry.ID == "" {
		return s.insertOneOff(ctx, tx, entry)
	}
	existing, err := tx.GetEntry(ctx, entry.UserID, entry.ID)
	if errors.Is(err, core.ErrNotFound) {
		return s.insertOneOff(ctx, tx, entry)
	}
	if err != nil {
		return "", err
	}
	updated := s.detachOnDateChange(existing, core.PatchFromEntry(entry))
	return updated.ID, tx.UpsertEntry(ctx, updated)
}

// insertOneOff stores a manual entry that forms its own recurrence group.
func (s *AccountService) insertOneOff(ctx context.Context, tx storage.Store, entry core.LedgerEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = s.newID()
	}
	entry.RecurrenceID = entry.ID
	entry.Manual = true
	entry.RunningTotal = decimal.Zero
	entry.Seq = 0
	return entry.ID, tx.UpsertEntry(ctx, entry)
}

// detachOnDateChange applies the patch to existing and, when the date
// moved, gives the entry a recurrence group of its own so later series
// edits leave it alone.
func (s *AccountService) detachOnDateChange(existing core.LedgerEntry, patch core.EntryPatch) core.LedgerEntry {
	updated := patch.ApplyTo(existing)
	if !existing.Date.Equal(patch.Date) {
		updated.RecurrenceID = s.newID()
	}
	return updated
}

// propagateToSeries copies the patch onto every entry of the edited entry's
// group dated on or after it, keeping each entry's own date.
func (s *AccountService) propagateToSeries(ctx context.Context, tx storage.Store, entry core.LedgerEntry) (string, error) {
	if entry.ID == "" {
		return "", fmt.Errorf("%w: series edit needs an entry id", core.ErrValidation)
	}
	existing, err := tx.GetEntry(ctx, entry.UserID, entry.ID)
	if err != nil {
		return "", err
	}
	group, err := tx.EntriesByRecurrence(ctx, entry.UserID, existing.RecurrenceID)
	if err != nil {
		return "", err
	}
	patch := core.PatchFromEntry(entry)
	for _, g := range group {
		if g.Date.Before(existing.Date) {
			continue
		}
		if err := tx.UpsertEntry(ctx, patch.ApplyKeepingDate(g)); err != nil {
			return "", err
		}
	}
	return existing.ID, nil
}

// DeleteEvent removes a whole recurrence group when recurrenceID is set,
// otherwise the single entry id. It reports how many entries were removed.
func (s *AccountService) DeleteEvent(ctx context.Context, user core.User, id, recurrenceID string) Result[int64] {
	id, recurrenceID = strings.TrimSpace(id), strings.TrimSpace(recurrenceID)
	if id == "" && recurrenceID == "" {
		return fail[int64](fmt.Errorf("%w: event id or recurrence id required", core.ErrValidation))
	}
	today, err := s.today(user)
	if err != nil {
		return fail[int64](err)
	}

	var n int64
	err = s.store.InTx(ctx, func(tx storage.Store) error {
		var err error
		if recurrenceID != "" {
			n, err = tx.DeleteByRecurrence(ctx, user.ID, recurrenceID)
		} else {
			n, err = tx.DeleteEntry(ctx, user.ID, id)
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("event %s%s: %w", id, recurrenceID, core.ErrNotFound)
		}
		return s.projector.Project(ctx, tx, user.ID, today, user.CheckingBalance)
	})
	if err != nil {
		return fail[int64](fmt.Errorf("delete event: %w", err))
	}
	return succeed(n, fmt.Sprintf("%d event(s) deleted", n))
}

// ReprojectAll re-runs the projector for every user against their own
// "today". Failures are logged and skipped; the count of projected users is
// returned.
func (s *AccountService) ReprojectAll(ctx context.Context) (int, error) {
	ids, err := s.store.ListUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	projected := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return projected, err
		}
		user, err := s.store.GetUser(ctx, id)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to load user for projection", "user_id", id, "error", err)
			continue
		}
		today, err := s.today(user)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to resolve user date", "user_id", id, "error", err)
			continue
		}
		err = s.store.InTx(ctx, func(tx storage.Store) error {
			return s.projector.Project(ctx, tx, id, today, user.CheckingBalance)
		})
		if err != nil {
			slog.ErrorContext(ctx, "Failed to project ledger", "user_id", id, "error", err)
			continue
		}
		projected++
	}
	return projected, nil
}

func (s *AccountService) requestRefresh(ctx context.Context, userID, reason string) {
	if s.publisher == nil {
		slog.DebugContext(ctx, "No refresh publisher configured, skipping refresh request", "user_id", userID)
		return
	}
	if err := s.publisher.PublishRefresh(ctx, userID, reason); err != nil {
		// The definition is saved; the next refresh picks it up anyway.
		slog.ErrorContext(ctx, "Failed to publish refresh request", "user_id", userID, "reason", reason, "error", err)
	}
}

func normalizeExpense(e core.RecurringExpense) core.RecurringExpense {
	e.Name = strings.TrimSpace(e.Name)
	e.StartDate = core.DateOf(e.StartDate.Time)
	e.EndDate = core.DateOf(e.EndDate.Time)
	return e
}

// AddExpense stores a new recurring expense definition. Its entries appear
// on the next refresh.
func (s *AccountService) AddExpense(ctx context.Context, user core.User, e core.RecurringExpense) Result[core.RecurringExpense] {
	e = normalizeExpense(e)
	e.UserID = user.ID
	if e.ID == "" {
		e.ID = s.newID()
	}
	if err := e.Validate(); err != nil {
		return fail[core.RecurringExpense](err)
	}
	if err := s.store.SaveExpense(ctx, e); err != nil {
		return fail[core.RecurringExpense](fmt.Errorf("add expense: %w", err))
	}
	s.requestRefresh(ctx, user.ID, "expense_added")
	return succeed(e, "expense added")
}

// UpdateExpense applies patch to expense id, creating it when absent.
func (s *AccountService) UpdateExpense(ctx context.Context, user core.User, id string, patch core.ExpensePatch) Result[core.RecurringExpense] {
	var saved core.RecurringExpense
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		cur, err := tx.GetExpense(ctx, user.ID, id)
		if errors.Is(err, core.ErrNotFound) {
			cur = core.RecurringExpense{ID: id, UserID: user.ID}
			if cur.ID == "" {
				cur.ID = s.newID()
			}
		} else if err != nil {
			return err
		}
		saved = normalizeExpense(patch.ApplyTo(cur))
		if err := saved.Validate(); err != nil {
			return err
		}
		return tx.SaveExpense(ctx, saved)
	})
	if err != nil {
		return fail[core.RecurringExpense](fmt.Errorf("update expense: %w", err))
	}
	s.requestRefresh(ctx, user.ID, "expense_updated")
	return succeed(saved, "expense updated")
}

// DeleteExpense removes the definition only; existing ledger entries stay
// until the next refresh.
func (s *AccountService) DeleteExpense(ctx context.Context, user core.User, id string) Result[int64] {
	n, err := s.store.DeleteExpense(ctx, user.ID, id)
	if err != nil {
		return fail[int64](fmt.Errorf("delete expense: %w", err))
	}
	if n == 0 {
		return fail[int64](fmt.Errorf("expense %s: %w", id, core.ErrNotFound))
	}
	s.requestRefresh(ctx, user.ID, "expense_deleted")
	return succeed(n, "expense deleted")
}

func (s *AccountService) AddDebt(ctx context.Context, user core.User, d core.Debt) Result[core.Debt] {
	d.UserID = user.ID
	d.Name = strings.TrimSpace(d.Name)
	if d.ID == "" {
		d.ID = s.newID()
	}
	if d.InterestType == "" {
		d.InterestType = core.SimpleInterest
	}
	if err := d.Validate(); err != nil {
		return fail[core.Debt](err)
	}
	if err := s.store.SaveDebt(ctx, d); err != nil {
		return fail[core.Debt](fmt.Errorf("add debt: %w", err))
	}
	return succeed(d, "debt added")
}

func (s *AccountService) UpdateDebt(ctx context.Context, user core.User, id string, patch core.DebtPatch) Result[core.Debt] {
	var saved core.Debt
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		cur, err := tx.GetDebt(ctx, user.ID, id)
		if err != nil {
			return err
		}
		saved = patch.ApplyTo(cur)
		saved.Name = strings.TrimSpace(saved.Name)
		if err := saved.Validate(); err != nil {
			return err
		}
		return tx.SaveDebt(ctx, saved)
	})
	if err != nil {
		return fail[core.Debt](fmt.Errorf("update debt: %w", err))
	}
	return succeed(saved, "debt updated")
}

// DeleteDebt removes the debt and clears references to it from entries.
func (s *AccountService) DeleteDebt(ctx context.Context, user core.User, id string) Result[int64] {
	n, err := s.store.DeleteDebt(ctx, user.ID, id)
	if err != nil {
		return fail[int64](fmt.Errorf("delete debt: %w", err))
	}
	if n == 0 {
		return fail[int64](fmt.Errorf("debt %s: %w", id, core.ErrNotFound))
	}
	return succeed(n, "debt deleted")
}

// Close releases the store.
func (s *AccountService) Close() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
