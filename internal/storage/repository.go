package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fincal/internal/core"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

func (d Dialect) driverName() string { return string(d) }

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLRepository implements Store over database/sql.
type SQLRepository struct {
	db      *sql.DB
	q       queryer
	tx      *sql.Tx
	dialect Dialect
}

var _ Store = (*SQLRepository)(nil)

// Open connects to the database, applies migrations and returns a ready
// repository. For sqlite, dsn is a file path.
func Open(ctx context.Context, dialect Dialect, dsn string) (*SQLRepository, error) {
	connStr := dsn
	if dialect == SQLite {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		connStr = dsn + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open(dialect.driverName(), connStr)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if dialect == SQLite {
		// One writer at a time; sqlite would otherwise return SQLITE_BUSY
		// for concurrent refresh transactions.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dialect, connStr); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.InfoContext(ctx, "Database ready", "dialect", dialect)
	return NewSQLRepository(db, dialect), nil
}

// NewSQLRepository wraps an already-migrated database handle.
func NewSQLRepository(db *sql.DB, dialect Dialect) *SQLRepository {
	return &SQLRepository{db: db, q: db, dialect: dialect}
}

func (r *SQLRepository) Close() error {
	if r.tx != nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// InTx runs fn inside one transaction. Calls made on an already
// transactional repository join the outer transaction.
func (r *SQLRepository) InTx(ctx context.Context, fn func(Store) error) error {
	if r.tx != nil {
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&SQLRepository{db: r.db, q: tx, tx: tx, dialect: r.dialect}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit transaction", err)
	}
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, core.ErrStore, err)
}

// rebind rewrites ? placeholders to $n for postgres.
func (r *SQLRepository) rebind(query string) string {
	if r.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (r *SQLRepository) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := r.q.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return 0, storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(op, err)
	}
	return n, nil
}

// ---- ledger entries ----

const entryColumns = `id, recurrence_id, user_id, summary, entry_date, recurrence_end_date,
	amount, running_total, exclude, manual, frequency, debt_id, seq`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(s rowScanner) (core.LedgerEntry, error) {
	var (
		e     core.LedgerEntry
		debt  sql.NullString
		freq  string
		total decimal.NullDecimal
	)
	err := s.Scan(&e.ID, &e.RecurrenceID, &e.UserID, &e.Summary, &e.Date, &e.RecurrenceEndDate,
		&e.Amount, &total, &e.Exclude, &e.Manual, &freq, &debt, &e.Seq)
	if err != nil {
		return core.LedgerEntry{}, err
	}
	e.Frequency = core.Frequency(freq)
	if total.Valid {
		e.RunningTotal = total.Decimal
	}
	if debt.Valid {
		id := debt.String
		e.DebtID = &id
	}
	return e, nil
}

func (r *SQLRepository) queryEntries(ctx context.Context, op, where string, args ...any) ([]core.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE ` + where + ` ORDER BY entry_date, seq`
	rows, err := r.q.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var out []core.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

func (r *SQLRepository) EntriesForUser(ctx context.Context, userID string) ([]core.LedgerEntry, error) {
	return r.queryEntries(ctx, "list entries", `user_id = ?`, userID)
}

func (r *SQLRepository) EntriesInRange(ctx context.Context, userID string, from, to core.Date) ([]core.LedgerEntry, error) {
	return r.queryEntries(ctx, "list entries in range", `user_id = ? AND entry_date >= ? AND entry_date < ?`, userID, from, to)
}

func (r *SQLRepository) EntriesByRecurrence(ctx context.Context, userID, recurrenceID string) ([]core.LedgerEntry, error) {
	return r.queryEntries(ctx, "list recurrence group", `user_id = ? AND recurrence_id = ?`, userID, recurrenceID)
}

func (r *SQLRepository) GetEntry(ctx context.Context, userID, id string) (core.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE user_id = ? AND id = ?`
	e, err := scanEntry(r.q.QueryRowContext(ctx, r.rebind(query), userID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.LedgerEntry{}, fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.LedgerEntry{}, storeErr("get entry", err)
	}
	return e, nil
}

const insertEntry = `INSERT INTO ledger_entries (` + entryColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func entryArgs(e core.LedgerEntry, seq int64) []any {
	var debt sql.NullString
	if e.DebtID != nil {
		debt = sql.NullString{String: *e.DebtID, Valid: true}
	}
	return []any{e.ID, e.RecurrenceID, e.UserID, e.Summary, e.Date, e.RecurrenceEndDate,
		e.Amount, e.RunningTotal, e.Exclude, e.Manual, string(e.Frequency), debt, seq}
}

// ReplaceAll must run inside InTx to be atomic; called outside a
// transaction it opens its own.
func (r *SQLRepository) ReplaceAll(ctx context.Context, userID string, entries []core.LedgerEntry) error {
	if r.tx == nil {
		return r.InTx(ctx, func(s Store) error { return s.ReplaceAll(ctx, userID, entries) })
	}
	if _, err := r.exec(ctx, "clear ledger", `DELETE FROM ledger_entries WHERE user_id = ?`, userID); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	stmt, err := r.tx.PrepareContext(ctx, r.rebind(insertEntry))
	if err != nil {
		return storeErr("prepare insert entry", err)
	}
	defer stmt.Close()
	for i, e := range entries {
		if e.UserID != userID {
			return fmt.Errorf("%w: entry %s belongs to another user", core.ErrValidation, e.ID)
		}
		if _, err := stmt.ExecContext(ctx, entryArgs(e, int64(i+1))...); err != nil {
			return storeErr("insert entry", err)
		}
	}
	return nil
}

func (r *SQLRepository) UpsertEntry(ctx context.Context, e core.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (` + entryColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		(SELECT COALESCE(MAX(seq), 0) + 1 FROM ledger_entries WHERE user_id = ?))
	ON CONFLICT (id) DO UPDATE SET
		recurrence_id = excluded.recurrence_id,
		summary = excluded.summary,
		entry_date = excluded.entry_date,
		recurrence_end_date = excluded.recurrence_end_date,
		amount = excluded.amount,
		running_total = excluded.running_total,
		exclude = excluded.exclude,
		manual = excluded.manual,
		frequency = excluded.frequency,
		debt_id = excluded.debt_id
	WHERE ledger_entries.user_id = excluded.user_id`
	args := entryArgs(e, 0)
	args = append(args[:len(args)-1], e.UserID)
	n, err := r.exec(ctx, "upsert entry", query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("entry %s: %w", e.ID, core.ErrConflict)
	}
	return nil
}

func (r *SQLRepository) DeleteEntry(ctx context.Context, userID, id string) (int64, error) {
	return r.exec(ctx, "delete entry", `DELETE FROM ledger_entries WHERE user_id = ? AND id = ?`, userID, id)
}

func (r *SQLRepository) DeleteByRecurrence(ctx context.Context, userID, recurrenceID string) (int64, error) {
	return r.exec(ctx, "delete recurrence group", `DELETE FROM ledger_entries WHERE user_id = ? AND recurrence_id = ?`, userID, recurrenceID)
}

func (r *SQLRepository) UpdateRunningTotals(ctx context.Context, userID string, totals map[string]decimal.Decimal) error {
	if len(totals) == 0 {
		return nil
	}
	if r.tx == nil {
		return r.InTx(ctx, func(s Store) error { return s.UpdateRunningTotals(ctx, userID, totals) })
	}
	stmt, err := r.tx.PrepareContext(ctx, r.rebind(`UPDATE ledger_entries SET running_total = ? WHERE user_id = ? AND id = ?`))
	if err != nil {
		return storeErr("prepare update totals", err)
	}
	defer stmt.Close()
	for id, total := range totals {
		if _, err := stmt.ExecContext(ctx, total, userID, id); err != nil {
			return storeErr("update running total", err)
		}
	}
	return nil
}

// ---- users ----

func (r *SQLRepository) GetUser(ctx context.Context, id string) (core.User, error) {
	var u core.User
	err := r.q.QueryRowContext(ctx, r.rebind(`SELECT id, user_name, checking_balance, time_zone, view_year, view_month
		FROM users WHERE id = ?`), id).
		Scan(&u.ID, &u.UserName, &u.CheckingBalance, &u.TimeZone, &u.Account.Year, &u.Account.Month)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.User{}, storeErr("get user", err)
	}
	if u.Account.Expenses, err = r.ListExpenses(ctx, id); err != nil {
		return core.User{}, err
	}
	if u.Account.Debts, err = r.ListDebts(ctx, id); err != nil {
		return core.User{}, err
	}
	return u, nil
}

func (r *SQLRepository) CreateUser(ctx context.Context, u core.User) error {
	_, err := r.exec(ctx, "create user", `INSERT INTO users (id, user_name, checking_balance, time_zone, view_year, view_month)
		VALUES (?, ?, ?, ?, ?, ?)`, u.ID, u.UserName, u.CheckingBalance, u.TimeZone, u.Account.Year, u.Account.Month)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("user name %q: %w", u.UserName, core.ErrConflict)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *SQLRepository) SetCheckingBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	n, err := r.exec(ctx, "set checking balance", `UPDATE users SET checking_balance = ? WHERE id = ?`, balance, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", userID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLRepository) SetViewedMonth(ctx context.Context, userID string, year, month int) error {
	n, err := r.exec(ctx, "set viewed month", `UPDATE users SET view_year = ?, view_month = ? WHERE id = ?`, year, month, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", userID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, storeErr("list users", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("list users", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list users", err)
	}
	return ids, nil
}

// ---- recurring expenses ----

const expenseColumns = `id, user_id, name, amount, start_date, end_date, frequency`

func scanExpense(s rowScanner) (core.RecurringExpense, error) {
	var (
		e    core.RecurringExpense
		freq string
	)
	if err := s.Scan(&e.ID, &e.UserID, &e.Name, &e.Amount, &e.StartDate, &e.EndDate, &freq); err != nil {
		return core.RecurringExpense{}, err
	}
	e.Frequency = core.Frequency(freq)
	return e, nil
}

// ListExpenses is ordered deterministically so repeated refreshes expand
// expenses in the same order.
func (r *SQLRepository) ListExpenses(ctx context.Context, userID string) ([]core.RecurringExpense, error) {
	rows, err := r.q.QueryContext(ctx, r.rebind(`SELECT `+expenseColumns+` FROM recurring_expenses
		WHERE user_id = ? ORDER BY start_date, name, id`), userID)
	if err != nil {
		return nil, storeErr("list expenses", err)
	}
	defer rows.Close()
	out := []core.RecurringExpense{}
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, storeErr("list expenses", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list expenses", err)
	}
	return out, nil
}

func (r *SQLRepository) GetExpense(ctx context.Context, userID, id string) (core.RecurringExpense, error) {
	e, err := scanExpense(r.q.QueryRowContext(ctx, r.rebind(`SELECT `+expenseColumns+` FROM recurring_expenses
		WHERE user_id = ? AND id = ?`), userID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringExpense{}, fmt.Errorf("expense %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.RecurringExpense{}, storeErr("get expense", err)
	}
	return e, nil
}

func (r *SQLRepository) SaveExpense(ctx context.Context, e core.RecurringExpense) error {
	n, err := r.exec(ctx, "save expense", `INSERT INTO recurring_expenses (`+expenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			amount = excluded.amount,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			frequency = excluded.frequency
		WHERE recurring_expenses.user_id = excluded.user_id`,
		e.ID, e.UserID, e.Name, e.Amount, e.StartDate, e.EndDate, string(e.Frequency))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("expense %s: %w", e.ID, core.ErrConflict)
	}
	return nil
}

func (r *SQLRepository) DeleteExpense(ctx context.Context, userID, id string) (int64, error) {
	return r.exec(ctx, "delete expense", `DELETE FROM recurring_expenses WHERE user_id = ? AND id = ?`, userID, id)
}

// ---- debts ----

const debtColumns = `id, user_id, name, balance, interest_rate, interest_type, link`

func scanDebt(s rowScanner) (core.Debt, error) {
	var (
		d  core.Debt
		it string
	)
	if err := s.Scan(&d.ID, &d.UserID, &d.Name, &d.Balance, &d.InterestRate, &it, &d.Link); err != nil {
		return core.Debt{}, err
	}
	d.InterestType = core.InterestType(it)
	return d, nil
}

func (r *SQLRepository) ListDebts(ctx context.Context, userID string) ([]core.Debt, error) {
	rows, err := r.q.QueryContext(ctx, r.rebind(`SELECT `+debtColumns+` FROM debts WHERE user_id = ? ORDER BY name, id`), userID)
	if err != nil {
		return nil, storeErr("list debts", err)
	}
	defer rows.Close()
	out := []core.Debt{}
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, storeErr("list debts", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list debts", err)
	}
	return out, nil
}

func (r *SQLRepository) GetDebt(ctx context.Context, userID, id string) (core.Debt, error) {
	d, err := scanDebt(r.q.QueryRowContext(ctx, r.rebind(`SELECT `+debtColumns+` FROM debts WHERE user_id = ? AND id = ?`), userID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Debt{}, fmt.Errorf("debt %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Debt{}, storeErr("get debt", err)
	}
	return d, nil
}

func (r *SQLRepository) SaveDebt(ctx context.Context, d core.Debt) error {
	n, err := r.exec(ctx, "save debt", `INSERT INTO debts (`+debtColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			balance = excluded.balance,
			interest_rate = excluded.interest_rate,
			interest_type = excluded.interest_type,
			link = excluded.link
		WHERE debts.user_id = excluded.user_id`,
		d.ID, d.UserID, d.Name, d.Balance, d.InterestRate, string(d.InterestType), d.Link)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("debt %s: %w", d.ID, core.ErrConflict)
	}
	return nil
}

func (r *SQLRepository) DeleteDebt(ctx context.Context, userID, id string) (int64, error) {
	if r.tx == nil {
		var n int64
		err := r.InTx(ctx, func(s Store) error {
			var err error
			n, err = s.DeleteDebt(ctx, userID, id)
			return err
		})
		return n, err
	}
	if _, err := r.exec(ctx, "unlink debt", `UPDATE ledger_entries SET debt_id = NULL WHERE user_id = ? AND debt_id = ?`, userID, id); err != nil {
		return 0, err
	}
	return r.exec(ctx, "delete debt", `DELETE FROM debts WHERE user_id = ? AND id = ?`, userID, id)
}
