package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"fincal/internal/clock"
	"fincal/internal/core"
	"fincal/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	reasons []string
	err     error
}

func (p *fakePublisher) PublishRefresh(_ context.Context, userID, reason string) error {
	p.reasons = append(p.reasons, userID+":"+reason)
	return p.err
}

type fakeLocker struct {
	err      error
	acquired int
	released int
}

func (l *fakeLocker) Acquire(context.Context, string) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func(context.Context) error { l.released++; return nil }, nil
}

type fixture struct {
	store *memory.Store
	svc   *AccountService
	pub   *fakePublisher
	user  core.User
}

// today is 2024-02-14 for every fixture.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	user := core.User{ID: "u1", UserName: "alice", CheckingBalance: amt(1000), TimeZone: "UTC"}
	require.NoError(t, store.CreateUser(ctx, user))
	pub := &fakePublisher{}
	base := []Option{WithClock(clock.At(2024, 2, 14, 12)), WithIDGenerator(sequentialIDs()), WithPublisher(pub)}
	return &fixture{
		store: store,
		svc:   NewAccountService(store, append(base, opts...)...),
		pub:   pub,
		user:  user,
	}
}

func (f *fixture) addExpense(t *testing.T, name string, amount int64, start, end core.Date, freq core.Frequency) core.RecurringExpense {
	t.Helper()
	res := f.svc.AddExpense(context.Background(), f.user, core.RecurringExpense{
		Name: name, Amount: amt(amount), StartDate: start, EndDate: end, Frequency: freq,
	})
	require.True(t, res.Success, res.Message)
	return res.Data
}

func (f *fixture) entries(t *testing.T) []core.LedgerEntry {
	t.Helper()
	got, err := f.store.EntriesForUser(context.Background(), "u1")
	require.NoError(t, err)
	return got
}

func (f *fixture) find(t *testing.T, date core.Date) core.LedgerEntry {
	t.Helper()
	for _, e := range f.entries(t) {
		if e.Date.Equal(date) {
			return e
		}
	}
	t.Fatalf("no entry on %s", date)
	return core.LedgerEntry{}
}

// gridFingerprint renders a grid without entry identities.
func gridFingerprint(g core.Grid) []string {
	var out []string
	for _, d := range g.Days() {
		var b strings.Builder
		fmt.Fprintf(&b, "%s|%s|%t", d.Date, d.Total.StringFixed(2), d.IsToday)
		for _, e := range d.Events {
			fmt.Fprintf(&b, "|%s:%s:%s", e.Summary, e.Amount.StringFixed(2), e.RunningTotal.StringFixed(2))
		}
		out = append(out, b.String())
	}
	return out
}

func TestRefreshExpandsRent(t *testing.T) {
	f := newFixture(t)
	f.addExpense(t, "Rent", -1500, core.NewDate(2024, 1, 1), core.NewDate(2024, 4, 1), core.Monthly)

	res := f.svc.Refresh(context.Background(), f.user)
	require.True(t, res.Success, res.Message)

	got := f.entries(t)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"2024-01-01", "2024-02-01", "2024-03-01"}, dates(got))
	assert.True(t, got[0].RunningTotal.IsZero(), "past entries carry zero")
	assert.True(t, got[1].RunningTotal.IsZero())
	assert.True(t, got[2].RunningTotal.Equal(amt(-500)))

	grid := res.Data
	assert.True(t, grid.First().Equal(core.NewDate(2024, 1, 28)))
	for _, d := range grid.Days() {
		if d.Date.Equal(core.NewDate(2024, 2, 14)) {
			assert.True(t, d.IsToday)
			assert.True(t, d.Total.Equal(amt(1000)))
		}
		if d.Date.Equal(core.NewDate(2024, 3, 1)) {
			assert.True(t, d.Total.Equal(amt(-500)))
		}
	}
}

func TestRefreshOrdersTiesByExpense(t *testing.T) {
	f := newFixture(t)
	f.addExpense(t, "Rent", -1500, core.NewDate(2024, 1, 1), core.NewDate(2024, 4, 1), core.Monthly)
	f.addExpense(t, "Pay", 2000, core.NewDate(2024, 2, 2), core.NewDate(2024, 3, 30), core.Biweekly)

	require.True(t, f.svc.Refresh(context.Background(), f.user).Success)

	var future []string
	for _, e := range f.entries(t) {
		if !e.Date.Before(core.NewDate(2024, 2, 14)) {
			future = append(future, fmt.Sprintf("%s %s %s", e.Date, e.Summary, e.RunningTotal))
		}
	}
	assert.Equal(t, []string{
		"2024-02-16 Pay 3000",
		"2024-03-01 Rent 1500",
		"2024-03-01 Pay 3500",
		"2024-03-15 Pay 5500",
		"2024-03-29 Pay 7500",
	}, future)
}

func TestRefreshIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addExpense(t, "Rent", -1500, core.NewDate(2024, 1, 1), core.NewDate(2024, 6, 1), core.Monthly)
	f.addExpense(t, "Coffee", -4, core.NewDate(2024, 2, 10), core.NewDate(2024, 2, 25), core.Daily)
	require.True(t, f.svc.SaveEvent(ctx, f.user, ThisOccurrence{Entry: core.LedgerEntry{Summary: "Gift", Date: core.NewDate(2024, 2, 20), Amount: amt(75)}}).Success)

	first := f.svc.Refresh(ctx, f.user)
	second := f.svc.Refresh(ctx, f.user)
	require.True(t, first.Success, first.Message)
	require.True(t, second.Success, second.Message)
	assert.Equal(t, gridFingerprint(first.Data), gridFingerprint(second.Data))
}

func TestRefreshKeepsManualEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	saved := f.svc.SaveEvent(ctx, f.user, ThisOccurrence{Entry: core.LedgerEntry{Summary: "Gift", Date: core.NewDate(2024, 2, 20), Amount: amt(-100)}})
	require.True(t, saved.Success, saved.Message)
	assert.True(t, saved.Data.Manual)
	assert.Equal(t, saved.Data.ID, saved.Data.RecurrenceID, "one-offs form their own group")
	assert.True(t, saved.Data.RunningTotal.Equal(amt(900)))

	f.addExpense(t, "Rent", -1500, core.NewDate(2024, 2, 1), core.NewDate(2024, 4, 1), core.Monthly)
	require.True(t, f.svc.Refresh(ctx, f.user).Success)

	got := f.entries(t)
	require.Len(t, got, 3)
	gift := f.find(t, core.NewDate(2024, 2, 20))
	assert.Equal(t, saved.Data.ID, gift.ID)
	assert.True(t, gift.RunningTotal.Equal(amt(900)))
	assert.True(t, f.find(t, core.NewDate(2024, 3, 1)).RunningTotal.Equal(amt(-600)))
}

func TestRefreshFailureLeavesLedgerIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addExpense(t, "Rent", -1500, core.NewDate(2024, 2, 1), core.NewDate(2024, 4, 1), core.Monthly)
	require.True(t, f.svc.Refresh(ctx, f.user).Success)
	before := f.entries(t)

	f.addExpense(t, "Gym", -30, core.NewDate(2024, 2, 1), core.NewDate(2024, 4, 1), core.Weekly)
	f.store.FailOn("UpdateRunningTotals", errors.New("connection reset"))

	res := f.svc.Refresh(ctx, f.user)
	require.False(t, res.Success)
	assert.Equal(t, KindStore, res.Kind())
	assert.Equal(t, before, f.entries(t), "failed refresh must not be observable")
}

func TestRefreshLocking(t *testing.T) {
	locker := &fakeLocker{}
	f := newFixture(t, WithLocker(locker))
	require.True(t, f.svc.Refresh(context.Background(), f.user).Success)
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)

	busy := newFixture(t, WithLocker(&fakeLocker{err: fmt.Errorf("refresh in progress: %w", core.ErrConflict)}))
	res := busy.svc.Refresh(context.Background(), busy.user)
	assert.False(t, res.Success)
	assert.Equal(t, KindConflict, res.Kind())
}

func TestUpdateCheckingBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addExpense(t, "Rent", -1500, core.NewDate(2024, 2, 1), core.NewDate(2024, 5, 1), core.Monthly)

	res := f.svc.UpdateCheckingBalance(ctx, f.user, amt(4000))
	require.True(t, res.Success, res.Message)

	u, err := f.store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.CheckingBalance.Equal(amt(4000)))
	assert.True(t, f.find(t, core.NewDate(2024, 3, 1)).RunningTotal.Equal(amt(2500)))
	assert.True(t, f.find(t, core.NewDate(2024, 4, 1)).RunningTotal.Equal(amt(1000)))
	for _, d := range res.Data.Days() {
		if d.IsToday {
			assert.True(t, d.Total.Equal(amt(4000)))
		}
	}
}

func TestChangeMonth(t *testing.T) {
	tests := []struct {
		name                string
		year, month, dir    int
		wantYear, wantMonth int
	}{
		{"unset defaults to current then advances", 0, 0, 1, 2024, 3},
		{"next", 2024, 5, 1, 2024, 6},
		{"previous", 2024, 5, -1, 2024, 4},
		{"december rolls into january", 2024, 12, 1, 2025, 1},
		{"january rolls back to december", 2024, 1, -1, 2023, 12},
		{"zero resets to current month", 2030, 7, 0, 2024, 2},
		{"multi-month jump rolls over once", 2024, 11, 3, 2025, 1},
		{"multi-month jump within year", 2024, 3, 4, 2024, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			user := f.user
			user.Account.Year, user.Account.Month = tt.year, tt.month

			res := f.svc.ChangeMonth(ctx, user, tt.dir)
			require.True(t, res.Success, res.Message)

			stored, err := f.store.GetUser(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantYear, stored.Account.Year)
			assert.Equal(t, tt.wantMonth, stored.Account.Month)

			first := core.NewDate(tt.wantYear, tt.wantMonth, 1)
			assert.True(t, res.Data.First().Equal(first.AddDays(-int(first.Weekday()))))
		})
	}
}

func seriesFixture(t *testing.T) (*fixture, map[string]core.LedgerEntry) {
	f := newFixture(t)
	f.addExpense(t, "Rent", -1500, core.NewDate(2024, 2, 1), core.NewDate(2024, 6, 1), core.Monthly)
	require.True(t, f.svc.Refresh(context.Background(), f.user).Success)
	byDate := map[string]core.LedgerEntry{}
	for _, e := range f.entries(t) {
		byDate[e.Date.String()] = e
	}
	require.Len(t, byDate, 4)
	return f, byDate
}

func TestSaveEventThisOccurrenceDetachesOnDateChange(t *testing.T) {
	f, byDate := seriesFixture(t)
	ctx := context.Background()
	group := byDate["2024-03-01"].RecurrenceID

	moved := byDate["2024-03-01"]
	moved.Date = core.NewDate(2024, 3, 5)
	res := f.svc.SaveEvent(ctx, f.user, ThisOccurrence{Entry: moved})
	require.True(t, res.Success, res.Message)
	assert.NotEqual(t, group, res.Data.RecurrenceID)
	assert.True(t, res.Data.Date.Equal(core.NewDate(2024, 3, 5)))

	same := byDate["2024-04-01"]
	same.Amount = amt(-1400)
	res = f.svc.SaveEvent(ctx, f.user, ThisOccurrence{Entry: same})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, group, res.Data.RecurrenceID, "same-date edits stay in the series")
	assert.True(t, res.Data.Amount.Equal(amt(-1400)))

	// 1000 -1500 (Mar 5) -1400 (Apr 1)
	assert.True(t, res.Data.RunningTotal.Equal(amt(-1900)))

	grp, err := f.store.EntriesByRecurrence(ctx, "u1", group)
	require.NoError(t, err)
	assert.Len(t, grp, 3)
}

func TestSaveEventAllOccurrencesPreservesDates(t *testing.T) {
	f, byDate := seriesFixture(t)
	ctx := context.Background()

	edit := byDate["2024-04-01"]
	edit.Summary = "Rent (new lease)"
	edit.Amount = amt(-1600)
	edit.Date = core.NewDate(2024, 4, 9)
	res := f.svc.SaveEventScoped(ctx, f.user, edit, true)
	require.True(t, res.Success, res.Message)
	assert.True(t, res.Data.Date.Equal(core.NewDate(2024, 4, 1)), "dates are never collapsed")

	got := map[string]core.LedgerEntry{}
	for _, e := range f.entries(t) {
		got[e.Date.String()] = e
	}
	require.Len(t, got, 4)
	assert.Equal(t, "Rent", got["2024-02-01"].Summary, "earlier entries are untouched")
	assert.True(t, got["2024-03-01"].Amount.Equal(amt(-1500)))
	assert.Equal(t, "Rent (new lease)", got["2024-04-01"].Summary)
	assert.Equal(t, "Rent (new lease)", got["2024-05-01"].Summary)
	assert.True(t, got["2024-05-01"].Amount.Equal(amt(-1600)))
	assert.True(t, got["2024-05-01"].RunningTotal.Equal(amt(-3700)))
}

func TestSaveEventErrors(t *testing.T) {
	f, byDate := seriesFixture(t)
	ctx := context.Background()

	res := f.svc.SaveEvent(ctx, f.user, AllOccurrences{Entry: core.LedgerEntry{ID: "missing", Summary: "x", Date: core.NewDate(2024, 3, 1)}})
	assert.Equal(t, KindNotFound, res.Kind())

	bad := byDate["2024-03-01"]
	bad.Summary = " "
	res = f.svc.SaveEvent(ctx, f.user, ThisOccurrence{Entry: bad})
	assert.Equal(t, KindValidation, res.Kind())
	assert.Equal(t, "Rent", f.find(t, core.NewDate(2024, 3, 1)).Summary)

	res = f.svc.SaveEvent(ctx, f.user, nil)
	assert.Equal(t, KindValidation, res.Kind())
}

func TestDeleteEvent(t *testing.T) {
	f, byDate := seriesFixture(t)
	ctx := context.Background()

	res := f.svc.DeleteEvent(ctx, f.user, byDate["2024-02-01"].ID, "")
	require.True(t, res.Success, res.Message)
	assert.Equal(t, int64(1), res.Data)

	res = f.svc.DeleteEvent(ctx, f.user, "does-not-exist", byDate["2024-03-01"].RecurrenceID)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, int64(3), res.Data)
	assert.Empty(t, f.entries(t))

	res = f.svc.DeleteEvent(ctx, f.user, "does-not-exist", "")
	assert.Equal(t, KindNotFound, res.Kind())

	res = f.svc.DeleteEvent(ctx, f.user, "", "")
	assert.Equal(t, KindValidation, res.Kind())
}

func TestDeleteEventReprojects(t *testing.T) {
	f, byDate := seriesFixture(t)
	ctx := context.Background()
	require.True(t, f.svc.DeleteEvent(ctx, f.user, byDate["2024-03-01"].ID, "").Success)
	assert.True(t, f.find(t, core.NewDate(2024, 4, 1)).RunningTotal.Equal(amt(-500)))
}

func TestExpenseLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exp := f.addExpense(t, "Rent", -1500, core.NewDate(2024, 2, 1), core.NewDate(2024, 4, 1), core.Monthly)
	assert.NotEmpty(t, exp.ID)
	assert.Equal(t, "u1", exp.UserID)
	assert.Equal(t, []string{"u1:expense_added"}, f.pub.reasons)

	bad := f.svc.AddExpense(ctx, f.user, core.RecurringExpense{Name: "x", StartDate: core.NewDate(2024, 2, 1), EndDate: core.NewDate(2024, 1, 1), Frequency: core.Monthly})
	assert.Equal(t, KindValidation, bad.Kind())
	assert.Len(t, f.pub.reasons, 1, "rejected input must not trigger a refresh")

	patch := core.PatchFromExpense(exp)
	patch.Amount = amt(-1600)
	upd := f.svc.UpdateExpense(ctx, f.user, exp.ID, patch)
	require.True(t, upd.Success, upd.Message)
	assert.True(t, upd.Data.Amount.Equal(amt(-1600)))

	created := f.svc.UpdateExpense(ctx, f.user, "new-id", core.ExpensePatch{Name: "Gym", Amount: amt(-30), StartDate: core.NewDate(2024, 2, 1), EndDate: core.NewDate(2024, 3, 1), Frequency: core.Weekly})
	require.True(t, created.Success, created.Message)
	assert.Equal(t, "new-id", created.Data.ID)

	require.True(t, f.svc.Refresh(ctx, f.user).Success)
	n := len(f.entries(t))

	del := f.svc.DeleteExpense(ctx, f.user, exp.ID)
	require.True(t, del.Success, del.Message)
	assert.Len(t, f.entries(t), n, "entries remain until the next refresh")
	require.True(t, f.svc.Refresh(ctx, f.user).Success)
	assert.Len(t, f.entries(t), n-2)

	assert.Equal(t, KindNotFound, f.svc.DeleteExpense(ctx, f.user, exp.ID).Kind())
	assert.Equal(t, []string{"u1:expense_added", "u1:expense_updated", "u1:expense_updated", "u1:expense_deleted"}, f.pub.reasons)
}

func TestExpensePublishFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")
	f.addExpense(t, "Rent", -1500, core.NewDate(2024, 2, 1), core.NewDate(2024, 4, 1), core.Monthly)
}

func TestDebtLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	add := f.svc.AddDebt(ctx, f.user, core.Debt{Name: "Card", Balance: amt(2500), InterestRate: amt(19)})
	require.True(t, add.Success, add.Message)
	assert.Equal(t, core.SimpleInterest, add.Data.InterestType)

	debtID := add.Data.ID
	saved := f.svc.SaveEvent(ctx, f.user, ThisOccurrence{Entry: core.LedgerEntry{Summary: "Card payment", Date: core.NewDate(2024, 2, 20), Amount: amt(-200), DebtID: &debtID}})
	require.True(t, saved.Success, saved.Message)

	patch := core.PatchFromDebt(add.Data)
	patch.InterestType = core.CompoundInterest
	upd := f.svc.UpdateDebt(ctx, f.user, debtID, patch)
	require.True(t, upd.Success, upd.Message)
	assert.Equal(t, core.CompoundInterest, upd.Data.InterestType)

	assert.Equal(t, KindNotFound, f.svc.UpdateDebt(ctx, f.user, "nope", patch).Kind())

	del := f.svc.DeleteDebt(ctx, f.user, debtID)
	require.True(t, del.Success, del.Message)
	assert.Nil(t, f.find(t, core.NewDate(2024, 2, 20)).DebtID)
	assert.Equal(t, KindNotFound, f.svc.DeleteDebt(ctx, f.user, debtID).Kind())
}

func TestReprojectAllAdvancesToday(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addExpense(t, "Rent", -1500, core.NewDate(2024, 2, 1), core.NewDate(2024, 5, 1), core.Monthly)
	require.True(t, f.svc.Refresh(ctx, f.user).Success)
	require.True(t, f.find(t, core.NewDate(2024, 3, 1)).RunningTotal.Equal(amt(-500)))

	later := NewAccountService(f.store, WithClock(clock.At(2024, 3, 2, 0)))
	n, err := later.ReprojectAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.find(t, core.NewDate(2024, 3, 1)).RunningTotal.IsZero())
	assert.True(t, f.find(t, core.NewDate(2024, 4, 1)).RunningTotal.Equal(amt(-500)))
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addExpense(t, "Rent", -1500, core.NewDate(2024, 2, 1), core.NewDate(2024, 5, 1), core.Monthly)
	f.addExpense(t, "Pay", 2000, core.NewDate(2024, 2, 15), core.NewDate(2024, 5, 1), core.Monthly)
	require.True(t, f.svc.Refresh(ctx, f.user).Success)

	res := f.svc.Summary(ctx, f.user)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 2, res.Data.Month)
	assert.True(t, res.Data.Net.Equal(amt(500)))
	assert.True(t, res.Data.Closing.Equal(amt(3000)))
}

func TestSummaryClosingAtZeroBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addExpense(t, "Pay", 500, core.NewDate(2024, 2, 16), core.NewDate(2024, 2, 17), core.Monthly)
	f.addExpense(t, "Rent", -1500, core.NewDate(2024, 2, 20), core.NewDate(2024, 2, 21), core.Monthly)
	require.True(t, f.svc.Refresh(ctx, f.user).Success)

	res := f.svc.Summary(ctx, f.user)
	require.True(t, res.Success, res.Message)
	assert.True(t, f.find(t, core.NewDate(2024, 2, 16)).RunningTotal.Equal(amt(1500)))
	assert.True(t, f.find(t, core.NewDate(2024, 2, 20)).RunningTotal.IsZero())
	assert.True(t, res.Data.Closing.IsZero(), "closing = %s", res.Data.Closing)
}

func TestResultKind(t *testing.T) {
	assert.Equal(t, KindNone, succeed(1, "").Kind())
	assert.Equal(t, KindValidation, fail[int](core.ErrEmptyName).Kind())
	assert.Equal(t, KindStore, fail[int](fmt.Errorf("x: %w", core.ErrStore)).Kind())
	assert.Equal(t, KindInternal, fail[int](errors.New("boom")).Kind())
}
