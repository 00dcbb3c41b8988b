// Package memory is an in-process storage.Store used by tests and the
// memory backend. Transactions work on a copy of the data that replaces
// the shared copy only when the unit of work succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fincal/internal/core"
	"fincal/internal/storage"

	"github.com/shopspring/decimal"
)

type state struct {
	users    map[string]core.User
	expenses map[string]core.RecurringExpense
	debts    map[string]core.Debt
	entries  []core.LedgerEntry
}

func newState() *state {
	return &state{
		users:    map[string]core.User{},
		expenses: map[string]core.RecurringExpense{},
		debts:    map[string]core.Debt{},
	}
}

func (st *state) clone() *state {
	c := &state{
		users:    make(map[string]core.User, len(st.users)),
		expenses: make(map[string]core.RecurringExpense, len(st.expenses)),
		debts:    make(map[string]core.Debt, len(st.debts)),
		entries:  make([]core.LedgerEntry, len(st.entries)),
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.expenses {
		c.expenses[k] = v
	}
	for k, v := range st.debts {
		c.debts[k] = v
	}
	copy(c.entries, st.entries)
	return c
}

type db struct {
	mu       sync.RWMutex // guards st
	writeMu  sync.Mutex   // serializes transactions
	st       *state
	failMu   sync.Mutex
	failures map[string]error
}

type Store struct {
	db *db
	st *state // set only on transaction views
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{db: &db{st: newState(), failures: map[string]error{}}}
}

// FailOn makes every later call of the named operation return err.
// Operation names match the method names, e.g. "ReplaceAll".
func (s *Store) FailOn(op string, err error) {
	s.db.failMu.Lock()
	defer s.db.failMu.Unlock()
	if err == nil {
		delete(s.db.failures, op)
		return
	}
	s.db.failures[op] = err
}

func (s *Store) fail(op string) error {
	s.db.failMu.Lock()
	defer s.db.failMu.Unlock()
	if err, ok := s.db.failures[op]; ok {
		return fmt.Errorf("%s: %w: %w", op, core.ErrStore, err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) InTx(ctx context.Context, fn func(storage.Store) error) error {
	if s.st != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	s.db.mu.RLock()
	work := s.db.st.clone()
	s.db.mu.RUnlock()

	if err := fn(&Store{db: s.db, st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.db.mu.Lock()
	s.db.st = work
	s.db.mu.Unlock()
	return nil
}

func (s *Store) read(op string, fn func(*state) error) error {
	if s.st != nil {
		if err := s.fail(op); err != nil {
			return err
		}
		return fn(s.st)
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	if err := s.fail(op); err != nil {
		return err
	}
	return fn(s.db.st)
}

func (s *Store) write(op string, fn func(*state) error) error {
	return s.InTx(context.Background(), func(tx storage.Store) error {
		view := tx.(*Store)
		if err := view.fail(op); err != nil {
			return err
		}
		return fn(view.st)
	})
}

// ---- ledger entries ----

func (st *state) filterEntries(keep func(core.LedgerEntry) bool) []core.LedgerEntry {
	var out []core.LedgerEntry
	for _, e := range st.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func (st *state) nextSeq(userID string) int64 {
	var max int64
	for _, e := range st.entries {
		if e.UserID == userID && e.Seq > max {
			max = e.Seq
		}
	}
	return max + 1
}

func (s *Store) EntriesForUser(_ context.Context, userID string) ([]core.LedgerEntry, error) {
	var out []core.LedgerEntry
	err := s.read("EntriesForUser", func(st *state) error {
		out = st.filterEntries(func(e core.LedgerEntry) bool { return e.UserID == userID })
		return nil
	})
	return out, err
}

func (s *Store) EntriesInRange(_ context.Context, userID string, from, to core.Date) ([]core.LedgerEntry, error) {
	var out []core.LedgerEntry
	err := s.read("EntriesInRange", func(st *state) error {
		out = st.filterEntries(func(e core.LedgerEntry) bool {
			return e.UserID == userID && !e.Date.Before(from) && e.Date.Before(to)
		})
		return nil
	})
	return out, err
}

func (s *Store) EntriesByRecurrence(_ context.Context, userID, recurrenceID string) ([]core.LedgerEntry, error) {
	var out []core.LedgerEntry
	err := s.read("EntriesByRecurrence", func(st *state) error {
		out = st.filterEntries(func(e core.LedgerEntry) bool {
			return e.UserID == userID && e.RecurrenceID == recurrenceID
		})
		return nil
	})
	return out, err
}

func (s *Store) GetEntry(_ context.Context, userID, id string) (core.LedgerEntry, error) {
	var out core.LedgerEntry
	err := s.read("GetEntry", func(st *state) error {
		for _, e := range st.entries {
			if e.ID == id && e.UserID == userID {
				out = e
				return nil
			}
		}
		return fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	})
	return out, err
}

func (s *Store) ReplaceAll(_ context.Context, userID string, entries []core.LedgerEntry) error {
	return s.write("ReplaceAll", func(st *state) error {
		kept := st.entries[:0:0]
		for _, e := range st.entries {
			if e.UserID != userID {
				kept = append(kept, e)
			}
		}
		for i, e := range entries {
			if e.UserID != userID {
				return fmt.Errorf("%w: entry %s belongs to another user", core.ErrValidation, e.ID)
			}
			e.Seq = int64(i + 1)
			kept = append(kept, e)
		}
		st.entries = kept
		return nil
	})
}

func (s *Store) UpsertEntry(_ context.Context, e core.LedgerEntry) error {
	return s.write("UpsertEntry", func(st *state) error {
		for i, cur := range st.entries {
			if cur.ID != e.ID {
				continue
			}
			if cur.UserID != e.UserID {
				return fmt.Errorf("entry %s: %w", e.ID, core.ErrConflict)
			}
			e.Seq = cur.Seq
			st.entries[i] = e
			return nil
		}
		e.Seq = st.nextSeq(e.UserID)
		st.entries = append(st.entries, e)
		return nil
	})
}

func (st *state) deleteEntries(match func(core.LedgerEntry) bool) int64 {
	kept := st.entries[:0:0]
	var n int64
	for _, e := range st.entries {
		if match(e) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	st.entries = kept
	return n
}

func (s *Store) DeleteEntry(_ context.Context, userID, id string) (int64, error) {
	var n int64
	err := s.write("DeleteEntry", func(st *state) error {
		n = st.deleteEntries(func(e core.LedgerEntry) bool { return e.UserID == userID && e.ID == id })
		return nil
	})
	return n, err
}

func (s *Store) DeleteByRecurrence(_ context.Context, userID, recurrenceID string) (int64, error) {
	var n int64
	err := s.write("DeleteByRecurrence", func(st *state) error {
		n = st.deleteEntries(func(e core.LedgerEntry) bool {
			return e.UserID == userID && e.RecurrenceID == recurrenceID
		})
		return nil
	})
	return n, err
}

func (s *Store) UpdateRunningTotals(_ context.Context, userID string, totals map[string]decimal.Decimal) error {
	return s.write("UpdateRunningTotals", func(st *state) error {
		for i, e := range st.entries {
			if e.UserID != userID {
				continue
			}
			if t, ok := totals[e.ID]; ok {
				st.entries[i].RunningTotal = t
			}
		}
		return nil
	})
}

// ---- users ----

func (s *Store) GetUser(_ context.Context, id string) (core.User, error) {
	var out core.User
	err := s.read("GetUser", func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return fmt.Errorf("user %s: %w", id, core.ErrNotFound)
		}
		u.Account.Expenses = st.expensesOf(id)
		u.Account.Debts = st.debtsOf(id)
		out = u
		return nil
	})
	return out, err
}

func (s *Store) CreateUser(_ context.Context, u core.User) error {
	return s.write("CreateUser", func(st *state) error {
		for _, cur := range st.users {
			if cur.UserName == u.UserName || cur.ID == u.ID {
				return fmt.Errorf("user name %q: %w", u.UserName, core.ErrConflict)
			}
		}
		u.Account.Expenses, u.Account.Debts = nil, nil
		st.users[u.ID] = u
		return nil
	})
}

func (s *Store) updateUser(op, id string, fn func(*core.User)) error {
	return s.write(op, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return fmt.Errorf("user %s: %w", id, core.ErrNotFound)
		}
		fn(&u)
		st.users[id] = u
		return nil
	})
}

func (s *Store) SetCheckingBalance(_ context.Context, userID string, balance decimal.Decimal) error {
	return s.updateUser("SetCheckingBalance", userID, func(u *core.User) { u.CheckingBalance = balance })
}

func (s *Store) SetViewedMonth(_ context.Context, userID string, year, month int) error {
	return s.updateUser("SetViewedMonth", userID, func(u *core.User) {
		u.Account.Year, u.Account.Month = year, month
	})
}

func (s *Store) ListUserIDs(_ context.Context) ([]string, error) {
	var ids []string
	err := s.read("ListUserIDs", func(st *state) error {
		for id := range st.users {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return nil
	})
	return ids, err
}

// ---- recurring expenses ----

func (st *state) expensesOf(userID string) []core.RecurringExpense {
	out := []core.RecurringExpense{}
	for _, e := range st.expenses {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.StartDate.Equal(b.StartDate) {
			return a.StartDate.Before(b.StartDate)
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	return out
}

func (s *Store) ListExpenses(_ context.Context, userID string) ([]core.RecurringExpense, error) {
	var out []core.RecurringExpense
	err := s.read("ListExpenses", func(st *state) error {
		out = st.expensesOf(userID)
		return nil
	})
	return out, err
}

func (s *Store) GetExpense(_ context.Context, userID, id string) (core.RecurringExpense, error) {
	var out core.RecurringExpense
	err := s.read("GetExpense", func(st *state) error {
		e, ok := st.expenses[id]
		if !ok || e.UserID != userID {
			return fmt.Errorf("expense %s: %w", id, core.ErrNotFound)
		}
		out = e
		return nil
	})
	return out, err
}

func (s *Store) SaveExpense(_ context.Context, e core.RecurringExpense) error {
	return s.write("SaveExpense", func(st *state) error {
		if cur, ok := st.expenses[e.ID]; ok && cur.UserID != e.UserID {
			return fmt.Errorf("expense %s: %w", e.ID, core.ErrConflict)
		}
		st.expenses[e.ID] = e
		return nil
	})
}

func (s *Store) DeleteExpense(_ context.Context, userID, id string) (int64, error) {
	var n int64
	err := s.write("DeleteExpense", func(st *state) error {
		if e, ok := st.expenses[id]; ok && e.UserID == userID {
			delete(st.expenses, id)
			n = 1
		}
		return nil
	})
	return n, err
}

// ---- debts ----

func (st *state) debtsOf(userID string) []core.Debt {
	out := []core.Debt{}
	for _, d := range st.debts {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) ListDebts(_ context.Context, userID string) ([]core.Debt, error) {
	var out []core.Debt
	err := s.read("ListDebts", func(st *state) error {
		out = st.debtsOf(userID)
		return nil
	})
	return out, err
}

func (s *Store) GetDebt(_ context.Context, userID, id string) (core.Debt, error) {
	var out core.Debt
	err := s.read("GetDebt", func(st *state) error {
		d, ok := st.debts[id]
		if !ok || d.UserID != userID {
			return fmt.Errorf("debt %s: %w", id, core.ErrNotFound)
		}
		out = d
		return nil
	})
	return out, err
}

func (s *Store) SaveDebt(_ context.Context, d core.Debt) error {
	return s.write("SaveDebt", func(st *state) error {
		if cur, ok := st.debts[d.ID]; ok && cur.UserID != d.UserID {
			return fmt.Errorf("debt %s: %w", d.ID, core.ErrConflict)
		}
		st.debts[d.ID] = d
		return nil
	})
}

func (s *Store) DeleteDebt(_ context.Context, userID, id string) (int64, error) {
	var n int64
	err := s.write("DeleteDebt", func(st *state) error {
		d, ok := st.debts[id]
		if !ok || d.UserID != userID {
			return nil
		}
		delete(st.debts, id)
		n = 1
		for i, e := range st.entries {
			if e.UserID == userID && e.DebtID != nil && *e.DebtID == id {
				st.entries[i].DebtID = nil
			}
		}
		return nil
	})
	return n, err
}
