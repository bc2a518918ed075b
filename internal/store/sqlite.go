package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/cmokmz/stock-exchange/internal/model"
)

// sqlQuerier is the subset of database/sql satisfied by both *sql.DB and
// *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store on a single-file SQLite database. Decimal
// values are stored as TEXT to keep exact precision. Suitable for
// single-node deployments where running PostgreSQL is not worth it.
type SQLiteStore struct {
	db   *sql.DB
	q    sqlQuerier
	mu   *sync.Mutex // serializes write transactions
	inTx bool
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode for concurrent readers alongside the single writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, q: db, mu: &sync.Mutex{}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS companies (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL UNIQUE,
			price      TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			username   TEXT NOT NULL UNIQUE,
			balance    TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS shares (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			company_id INTEGER NOT NULL REFERENCES companies(id),
			owner_id   INTEGER REFERENCES users(id),
			price      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_shares_company ON shares(company_id)`,
		`CREATE INDEX IF NOT EXISTS idx_shares_owner ON shares(owner_id)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id         TEXT PRIMARY KEY,
			user_id    INTEGER NOT NULL,
			company_id INTEGER NOT NULL,
			kind       TEXT NOT NULL,
			quantity   INTEGER NOT NULL,
			unit_price TEXT NOT NULL,
			cash_delta TEXT NOT NULL,
			ts         TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_company ON trades(company_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	return scanCompanyRow(s.q.QueryRowContext(ctx,
		`SELECT id, name, price, created_at FROM companies WHERE id = ?`, id))
}

func (s *SQLiteStore) GetCompanyByName(ctx context.Context, name string) (*model.Company, error) {
	return scanCompanyRow(s.q.QueryRowContext(ctx,
		`SELECT id, name, price, created_at FROM companies WHERE name = ?`, name))
}

func (s *SQLiteStore) PutCompany(ctx context.Context, c *model.Company) (*model.Company, error) {
	if c.ID == 0 {
		res, err := s.q.ExecContext(ctx,
			`INSERT INTO companies (name, price, created_at) VALUES (?, ?, ?)`,
			c.Name, c.Price.String(), c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert company: %w", err)
		}
		c.ID, err = res.LastInsertId()
		return c, err
	}
	_, err := s.q.ExecContext(ctx,
		`UPDATE companies SET name = ?, price = ? WHERE id = ?`,
		c.Name, c.Price.String(), c.ID)
	if err != nil {
		return nil, fmt.Errorf("update company %d: %w", c.ID, err)
	}
	return c, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return scanUserRow(s.q.QueryRowContext(ctx,
		`SELECT id, username, balance, created_at FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return scanUserRow(s.q.QueryRowContext(ctx,
		`SELECT id, username, balance, created_at FROM users WHERE username = ?`, username))
}

func (s *SQLiteStore) PutUser(ctx context.Context, u *model.User) (*model.User, error) {
	if u.ID == 0 {
		res, err := s.q.ExecContext(ctx,
			`INSERT INTO users (username, balance, created_at) VALUES (?, ?, ?)`,
			u.Username, u.Balance.String(), u.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert user: %w", err)
		}
		u.ID, err = res.LastInsertId()
		return u, err
	}
	_, err := s.q.ExecContext(ctx,
		`UPDATE users SET username = ?, balance = ? WHERE id = ?`,
		u.Username, u.Balance.String(), u.ID)
	if err != nil {
		return nil, fmt.Errorf("update user %d: %w", u.ID, err)
	}
	return u, nil
}

func (s *SQLiteStore) GetShare(ctx context.Context, id int64) (*model.Share, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, company_id, owner_id, price FROM shares WHERE id = ?`, id)

	sh := &model.Share{}
	var owner sql.NullInt64
	var price string
	err := row.Scan(&sh.ID, &sh.CompanyID, &owner, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get share %d: %w", id, err)
	}
	if owner.Valid {
		sh.OwnerID = &owner.Int64
	}
	sh.Price, _ = decimal.NewFromString(price)
	return sh, nil
}

func (s *SQLiteStore) PutShares(ctx context.Context, shares []*model.Share) error {
	for _, sh := range shares {
		var owner any
		if sh.OwnerID != nil {
			owner = *sh.OwnerID
		}
		if sh.ID == 0 {
			res, err := s.q.ExecContext(ctx,
				`INSERT INTO shares (company_id, owner_id, price) VALUES (?, ?, ?)`,
				sh.CompanyID, owner, sh.Price.String())
			if err != nil {
				return fmt.Errorf("insert share: %w", err)
			}
			if sh.ID, err = res.LastInsertId(); err != nil {
				return err
			}
			continue
		}
		_, err := s.q.ExecContext(ctx,
			`UPDATE shares SET owner_id = ?, price = ? WHERE id = ?`,
			owner, sh.Price.String(), sh.ID)
		if err != nil {
			return fmt.Errorf("update share %d: %w", sh.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) CountSharesByCompany(ctx context.Context, companyID int64) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM shares WHERE company_id = ?`, companyID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) FreeSharesByCompany(ctx context.Context, companyID int64) ([]*model.Share, error) {
	return s.queryShares(ctx,
		`SELECT id, company_id, owner_id, price FROM shares
		 WHERE company_id = ? AND owner_id IS NULL ORDER BY id`, companyID)
}

func (s *SQLiteStore) SharesByCompany(ctx context.Context, companyID int64) ([]*model.Share, error) {
	return s.queryShares(ctx,
		`SELECT id, company_id, owner_id, price FROM shares
		 WHERE company_id = ? ORDER BY id`, companyID)
}

func (s *SQLiteStore) SharesByOwner(ctx context.Context, ownerID int64) ([]*model.Share, error) {
	return s.queryShares(ctx,
		`SELECT id, company_id, owner_id, price FROM shares
		 WHERE owner_id = ? ORDER BY id`, ownerID)
}

func (s *SQLiteStore) SharesByOwnerAndCompany(ctx context.Context, ownerID, companyID int64) ([]*model.Share, error) {
	return s.queryShares(ctx,
		`SELECT id, company_id, owner_id, price FROM shares
		 WHERE owner_id = ? AND company_id = ? ORDER BY id`, ownerID, companyID)
}

func (s *SQLiteStore) AppendTrade(ctx context.Context, t *model.TradeRecord) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO trades (id, user_id, company_id, kind, quantity, unit_price, cash_delta, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.CompanyID, t.Kind, t.Quantity,
		t.UnitPrice.String(), t.CashDelta.String(), t.Timestamp)
	return err
}

func (s *SQLiteStore) TradesByUser(ctx context.Context, userID int64) ([]model.TradeRecord, error) {
	return s.queryTrades(ctx,
		`SELECT id, user_id, company_id, kind, quantity, unit_price, cash_delta, ts
		 FROM trades WHERE user_id = ? ORDER BY ts`, userID)
}

func (s *SQLiteStore) TradesByCompany(ctx context.Context, companyID int64) ([]model.TradeRecord, error) {
	return s.queryTrades(ctx,
		`SELECT id, user_id, company_id, kind, quantity, unit_price, cash_delta, ts
		 FROM trades WHERE company_id = ? ORDER BY ts`, companyID)
}

// RunAtomically executes fn inside a database transaction. Write
// transactions are additionally serialized behind a process-local mutex so
// concurrent callers never hit SQLITE_BUSY. When already inside a
// transaction, fn joins it.
func (s *SQLiteStore) RunAtomically(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	txStore := &SQLiteStore{db: s.db, q: tx, mu: s.mu, inTx: true}
	if err := fn(ctx, txStore); err != nil {
		return err
	}
	return tx.Commit()
}

// --- scan helpers ---

func scanCompanyRow(row *sql.Row) (*model.Company, error) {
	c := &model.Company{}
	var price string
	err := row.Scan(&c.ID, &c.Name, &price, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan company: %w", err)
	}
	c.Price, _ = decimal.NewFromString(price)
	return c, nil
}

func scanUserRow(row *sql.Row) (*model.User, error) {
	u := &model.User{}
	var balance string
	err := row.Scan(&u.ID, &u.Username, &balance, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Balance, _ = decimal.NewFromString(balance)
	return u, nil
}

func (s *SQLiteStore) queryShares(ctx context.Context, query string, args ...any) ([]*model.Share, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shares []*model.Share
	for rows.Next() {
		sh := &model.Share{}
		var owner sql.NullInt64
		var price string
		if err := rows.Scan(&sh.ID, &sh.CompanyID, &owner, &price); err != nil {
			return nil, err
		}
		if owner.Valid {
			ownerID := owner.Int64
			sh.OwnerID = &ownerID
		}
		sh.Price, _ = decimal.NewFromString(price)
		shares = append(shares, sh)
	}
	return shares, rows.Err()
}

func (s *SQLiteStore) queryTrades(ctx context.Context, query string, args ...any) ([]model.TradeRecord, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.TradeRecord
	for rows.Next() {
		var t model.TradeRecord
		var unitPrice, cashDelta string
		if err := rows.Scan(&t.ID, &t.UserID, &t.CompanyID, &t.Kind, &t.Quantity,
			&unitPrice, &cashDelta, &t.Timestamp); err != nil {
			return nil, err
		}
		t.UnitPrice, _ = decimal.NewFromString(unitPrice)
		t.CashDelta, _ = decimal.NewFromString(cashDelta)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
