package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/microloans/pkg/models"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// SQLStore implements Storage on SQLite or PostgreSQL through database/sql.
type SQLStore struct {
	db      *sql.DB
	q       querier
	dialect Dialect
	inTx    bool
}

// Open connects to the database named by driver and dsn and initializes the
// schema.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if dialect == DialectSQLite {
		// PRAGMA foreign_keys is per connection; keep a single one.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := New(db, dialect)
	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// New wraps an already opened database.
func New(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, q: db, dialect: dialect}
}

// InitSchema creates the tables if they don't already exist. Money is kept
// as TEXT so no precision is lost, dates as TEXT in YYYY-MM-DD form.
func (s *SQLStore) InitSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		dni TEXT UNIQUE,
		phone TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		dni TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		worker_id TEXT REFERENCES workers(id) ON DELETE SET NULL,
		registered_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
		principal TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		total TEXT NOT NULL,
		balance TEXT NOT NULL,
		frequency TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		daily_installment TEXT NOT NULL,
		status TEXT NOT NULL,
		overdue_debt TEXT NOT NULL DEFAULT '0',
		loan_type TEXT NOT NULL DEFAULT 'CR',
		refinanced_from_id TEXT REFERENCES loans(id) ON DELETE SET NULL,
		paid_off_date TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id) ON DELETE CASCADE,
		amount TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		timing TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_clients_worker ON clients(worker_id);
	CREATE INDEX IF NOT EXISTS idx_loans_client ON loans(client_id);
	CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(status);
	CREATE INDEX IF NOT EXISTS idx_installments_loan ON installments(loan_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.q.ExecContext(ctx, s.dialect.rebind(query), args...)
	return res, mapError(err)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// WithTx runs fn inside a transaction. Nested calls reuse the outer one.
func (s *SQLStore) WithTx(ctx context.Context, fn func(Storage) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&SQLStore{db: s.db, q: tx, dialect: s.dialect, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) withTx(ctx context.Context, fn func(*SQLStore) error) error {
	return s.WithTx(ctx, func(st Storage) error {
		return fn(st.(*SQLStore))
	})
}

func checkAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}

// Workers

const workerColumns = `id, username, name, dni, phone, created_at, updated_at`

func scanWorker(row rowScanner) (*models.Worker, error) {
	var w models.Worker
	var dni sql.NullString
	if err := row.Scan(&w.ID, &w.Username, &w.Name, &dni, &w.Phone, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.DNI = dni.String
	return &w, nil
}

func (s *SQLStore) CreateWorker(ctx context.Context, w *models.Worker) error {
	_, err := s.exec(ctx,
		`INSERT INTO workers (`+workerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Username, w.Name, nullString(w.DNI), w.Phone, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	return nil
}

func (s *SQLStore) GetWorker(ctx context.Context, id uuid.UUID) (*models.Worker, error) {
	w, err := scanWorker(s.queryRow(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("worker %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}
	return w, nil
}

func (s *SQLStore) UpdateWorker(ctx context.Context, w *models.Worker) error {
	res, err := s.exec(ctx,
		`UPDATE workers SET username = ?, name = ?, dni = ?, phone = ?, updated_at = ? WHERE id = ?`,
		w.Username, w.Name, nullString(w.DNI), w.Phone, w.UpdatedAt, w.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update worker: %w", err)
	}
	return checkAffected(res, "worker")
}

func (s *SQLStore) DeleteWorker(ctx context.Context, id uuid.UUID) error {
	return s.withTx(ctx, func(tx *SQLStore) error {
		if _, err := tx.exec(ctx, `UPDATE clients SET worker_id = NULL WHERE worker_id = ?`, id); err != nil {
			return fmt.Errorf("failed to detach clients: %w", err)
		}
		res, err := tx.exec(ctx, `DELETE FROM workers WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete worker: %w", err)
		}
		return checkAffected(res, "worker")
	})
}

func (s *SQLStore) ListWorkers(ctx context.Context) ([]*models.Worker, error) {
	rows, err := s.query(ctx, `SELECT `+workerColumns+` FROM workers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	defer rows.Close()

	var workers []*models.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker row: %w", err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return workers, nil
}

// Clients

const clientColumns = `id, dni, name, address, phone, worker_id, registered_at`

func scanClient(row rowScanner) (*models.Client, error) {
	var c models.Client
	var workerID uuid.NullUUID
	if err := row.Scan(&c.ID, &c.DNI, &c.Name, &c.Address, &c.Phone, &workerID, &c.RegisteredAt); err != nil {
		return nil, err
	}
	c.WorkerID = uuidPtr(workerID)
	return &c, nil
}

func (s *SQLStore) scanClients(rows *sql.Rows) ([]*models.Client, error) {
	defer rows.Close()
	var clients []*models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client row: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return clients, nil
}

func (s *SQLStore) CreateClient(ctx context.Context, c *models.Client) error {
	_, err := s.exec(ctx,
		`INSERT INTO clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.DNI, c.Name, c.Address, c.Phone, nullUUID(c.WorkerID), c.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

func (s *SQLStore) GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	c, err := scanClient(s.queryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("client %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return c, nil
}

func (s *SQLStore) UpdateClient(ctx context.Context, c *models.Client) error {
	res, err := s.exec(ctx,
		`UPDATE clients SET dni = ?, name = ?, address = ?, phone = ?, worker_id = ? WHERE id = ?`,
		c.DNI, c.Name, c.Address, c.Phone, nullUUID(c.WorkerID), c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	return checkAffected(res, "client")
}

func (s *SQLStore) DeleteClient(ctx context.Context, id uuid.UUID) error {
	return s.withTx(ctx, func(tx *SQLStore) error {
		if _, err := tx.exec(ctx, `DELETE FROM installments WHERE loan_id IN (SELECT id FROM loans WHERE client_id = ?)`, id); err != nil {
			return fmt.Errorf("failed to delete associated installments: %w", err)
		}
		if _, err := tx.exec(ctx, `UPDATE loans SET refinanced_from_id = NULL WHERE client_id = ?`, id); err != nil {
			return fmt.Errorf("failed to unlink refinanced loans: %w", err)
		}
		if _, err := tx.exec(ctx, `DELETE FROM loans WHERE client_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete associated loans: %w", err)
		}
		res, err := tx.exec(ctx, `DELETE FROM clients WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete client: %w", err)
		}
		return checkAffected(res, "client")
	})
}

func (s *SQLStore) ListClients(ctx context.Context) ([]*models.Client, error) {
	rows, err := s.query(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return s.scanClients(rows)
}

// likeEscaper makes LIKE wildcards in a search term match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *SQLStore) SearchClients(ctx context.Context, term string) ([]*models.Client, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
	rows, err := s.query(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE LOWER(name) LIKE ? ESCAPE '\' OR LOWER(dni) LIKE ? ESCAPE '\' ORDER BY name`,
		pattern, pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search clients: %w", err)
	}
	return s.scanClients(rows)
}

// Loans

const loanColumns = `id, client_id, principal, interest_rate, total, balance, frequency, start_date, end_date, daily_installment, status, overdue_debt, loan_type, refinanced_from_id, paid_off_date, created_at, updated_at`

func scanLoan(row rowScanner) (*models.Loan, error) {
	var l models.Loan
	var refinancedFrom uuid.NullUUID
	var paidOff models.Date
	err := row.Scan(&l.ID, &l.ClientID, &l.Principal, &l.InterestRate, &l.Total, &l.Balance, &l.Frequency,
		&l.StartDate, &l.EndDate, &l.DailyInstallment, &l.Status, &l.OverdueDebt, &l.Type,
		&refinancedFrom, &paidOff, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.RefinancedFromID = uuidPtr(refinancedFrom)
	if !paidOff.IsZero() {
		l.PaidOffDate = &paidOff
	}
	return &l, nil
}

func (s *SQLStore) scanLoans(rows *sql.Rows) ([]*models.Loan, error) {
	defer rows.Close()
	var loans []*models.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

func (s *SQLStore) CreateLoan(ctx context.Context, l *models.Loan) error {
	_, err := s.exec(ctx,
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ClientID, l.Principal, l.InterestRate, l.Total, l.Balance, l.Frequency,
		l.StartDate, l.EndDate, l.DailyInstallment, l.Status, l.OverdueDebt, l.Type,
		nullUUID(l.RefinancedFromID), l.PaidOffDate, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

func (s *SQLStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	l, err := scanLoan(s.queryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loan %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return l, nil
}

func (s *SQLStore) UpdateLoan(ctx context.Context, l *models.Loan) error {
	res, err := s.exec(ctx,
		`UPDATE loans SET principal = ?, interest_rate = ?, total = ?, balance = ?, frequency = ?, start_date = ?, end_date = ?,
		daily_installment = ?, status = ?, overdue_debt = ?, loan_type = ?, refinanced_from_id = ?, paid_off_date = ?, updated_at = ?
		WHERE id = ?`,
		l.Principal, l.InterestRate, l.Total, l.Balance, l.Frequency, l.StartDate, l.EndDate,
		l.DailyInstallment, l.Status, l.OverdueDebt, l.Type, nullUUID(l.RefinancedFromID), l.PaidOffDate, l.UpdatedAt,
		l.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return checkAffected(res, "loan")
}

// DeleteLoan removes a loan and its installments within a transaction.
func (s *SQLStore) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	return s.withTx(ctx, func(tx *SQLStore) error {
		if _, err := tx.exec(ctx, `DELETE FROM installments WHERE loan_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete associated installments: %w", err)
		}
		if _, err := tx.exec(ctx, `UPDATE loans SET refinanced_from_id = NULL WHERE refinanced_from_id = ?`, id); err != nil {
			return fmt.Errorf("failed to unlink refinancing: %w", err)
		}
		res, err := tx.exec(ctx, `DELETE FROM loans WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete loan: %w", err)
		}
		return checkAffected(res, "loan")
	})
}

func (s *SQLStore) ListLoans(ctx context.Context) ([]*models.Loan, error) {
	rows, err := s.query(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY start_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	return s.scanLoans(rows)
}

func (s *SQLStore) ListOpenLoans(ctx context.Context) ([]*models.Loan, error) {
	rows, err := s.query(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE status IN (?, ?) ORDER BY end_date`,
		models.LoanStatusActive, models.LoanStatusOverdue,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get open loans: %w", err)
	}
	return s.scanLoans(rows)
}

func (s *SQLStore) ListLoansByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Loan, error) {
	rows, err := s.query(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE client_id = ? ORDER BY start_date DESC, created_at DESC`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get loans for client %s: %w", clientID, err)
	}
	return s.scanLoans(rows)
}

// Installments

func (s *SQLStore) CreateInstallment(ctx context.Context, inst *models.Installment) error {
	_, err := s.exec(ctx,
		`INSERT INTO installments (id, loan_id, amount, payment_date, description, timing, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.LoanID, inst.Amount, inst.PaymentDate, inst.Description, inst.Timing, inst.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create installment: %w", err)
	}
	return nil
}

func (s *SQLStore) ListInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	rows, err := s.query(ctx,
		`SELECT id, loan_id, amount, payment_date, description, timing, created_at
		FROM installments WHERE loan_id = ? ORDER BY payment_date ASC, created_at ASC`,
		loanID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var installments []*models.Installment
	for rows.Next() {
		var inst models.Installment
		if err := rows.Scan(&inst.ID, &inst.LoanID, &inst.Amount, &inst.PaymentDate, &inst.Description, &inst.Timing, &inst.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		installments = append(installments, &inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan installments: %w", err)
	}
	return installments, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
