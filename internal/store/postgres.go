package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cmokmz/stock-exchange/internal/model"
)

// pgxQuerier is the subset of pgx satisfied by both *pgxpool.Pool and
// pgx.Tx, so the same query methods serve plain and transactional use.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    pgxQuerier
	inTx bool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS companies (
			id         BIGSERIAL PRIMARY KEY,
			name       TEXT NOT NULL UNIQUE,
			price      NUMERIC NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id         BIGSERIAL PRIMARY KEY,
			username   TEXT NOT NULL UNIQUE,
			balance    NUMERIC NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS shares (
			id         BIGSERIAL PRIMARY KEY,
			company_id BIGINT NOT NULL REFERENCES companies(id),
			owner_id   BIGINT REFERENCES users(id),
			price      NUMERIC NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_shares_company ON shares(company_id)`,
		`CREATE INDEX IF NOT EXISTS idx_shares_owner ON shares(owner_id)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id         TEXT PRIMARY KEY,
			user_id    BIGINT NOT NULL,
			company_id BIGINT NOT NULL,
			kind       TEXT NOT NULL,
			quantity   BIGINT NOT NULL,
			unit_price NUMERIC NOT NULL,
			cash_delta NUMERIC NOT NULL,
			ts         TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_company ON trades(company_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	return scanCompany(s.q.QueryRow(ctx,
		`SELECT id, name, price::TEXT, created_at FROM companies WHERE id = $1`, id))
}

func (s *PostgresStore) GetCompanyByName(ctx context.Context, name string) (*model.Company, error) {
	return scanCompany(s.q.QueryRow(ctx,
		`SELECT id, name, price::TEXT, created_at FROM companies WHERE name = $1`, name))
}

func (s *PostgresStore) PutCompany(ctx context.Context, c *model.Company) (*model.Company, error) {
	if c.ID == 0 {
		err := s.q.QueryRow(ctx,
			`INSERT INTO companies (name, price, created_at) VALUES ($1, $2::NUMERIC, $3) RETURNING id`,
			c.Name, c.Price.String(), c.CreatedAt).Scan(&c.ID)
		if err != nil {
			return nil, fmt.Errorf("insert company: %w", err)
		}
		return c, nil
	}
	_, err := s.q.Exec(ctx,
		`UPDATE companies SET name = $2, price = $3::NUMERIC WHERE id = $1`,
		c.ID, c.Name, c.Price.String())
	if err != nil {
		return nil, fmt.Errorf("update company %d: %w", c.ID, err)
	}
	return c, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(s.q.QueryRow(ctx,
		`SELECT id, username, balance::TEXT, created_at FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return scanUser(s.q.QueryRow(ctx,
		`SELECT id, username, balance::TEXT, created_at FROM users WHERE username = $1`, username))
}

func (s *PostgresStore) PutUser(ctx context.Context, u *model.User) (*model.User, error) {
	if u.ID == 0 {
		err := s.q.QueryRow(ctx,
			`INSERT INTO users (username, balance, created_at) VALUES ($1, $2::NUMERIC, $3) RETURNING id`,
			u.Username, u.Balance.String(), u.CreatedAt).Scan(&u.ID)
		if err != nil {
			return nil, fmt.Errorf("insert user: %w", err)
		}
		return u, nil
	}
	_, err := s.q.Exec(ctx,
		`UPDATE users SET username = $2, balance = $3::NUMERIC WHERE id = $1`,
		u.ID, u.Username, u.Balance.String())
	if err != nil {
		return nil, fmt.Errorf("update user %d: %w", u.ID, err)
	}
	return u, nil
}

func (s *PostgresStore) GetShare(ctx context.Context, id int64) (*model.Share, error) {
	sh := &model.Share{}
	var price string
	err := s.q.QueryRow(ctx,
		`SELECT id, company_id, owner_id, price::TEXT FROM shares WHERE id = $1`, id).
		Scan(&sh.ID, &sh.CompanyID, &sh.OwnerID, &price)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get share %d: %w", id, err)
	}
	sh.Price, _ = decimal.NewFromString(price)
	return sh, nil
}

func (s *PostgresStore) PutShares(ctx context.Context, shares []*model.Share) error {
	for _, sh := range shares {
		if sh.ID == 0 {
			err := s.q.QueryRow(ctx,
				`INSERT INTO shares (company_id, owner_id, price) VALUES ($1, $2, $3::NUMERIC) RETURNING id`,
				sh.CompanyID, sh.OwnerID, sh.Price.String()).Scan(&sh.ID)
			if err != nil {
				return fmt.Errorf("insert share: %w", err)
			}
			continue
		}
		_, err := s.q.Exec(ctx,
			`UPDATE shares SET owner_id = $2, price = $3::NUMERIC WHERE id = $1`,
			sh.ID, sh.OwnerID, sh.Price.String())
		if err != nil {
			return fmt.Errorf("update share %d: %w", sh.ID, err)
		}
	}
	return nil
}

func (s *PostgresStore) CountSharesByCompany(ctx context.Context, companyID int64) (int64, error) {
	var n int64
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM shares WHERE company_id = $1`, companyID).Scan(&n)
	return n, err
}

func (s *PostgresStore) FreeSharesByCompany(ctx context.Context, companyID int64) ([]*model.Share, error) {
	return s.queryShares(ctx,
		`SELECT id, company_id, owner_id, price::TEXT FROM shares
		 WHERE company_id = $1 AND owner_id IS NULL ORDER BY id`, companyID)
}

func (s *PostgresStore) SharesByCompany(ctx context.Context, companyID int64) ([]*model.Share, error) {
	return s.queryShares(ctx,
		`SELECT id, company_id, owner_id, price::TEXT FROM shares
		 WHERE company_id = $1 ORDER BY id`, companyID)
}

func (s *PostgresStore) SharesByOwner(ctx context.Context, ownerID int64) ([]*model.Share, error) {
	return s.queryShares(ctx,
		`SELECT id, company_id, owner_id, price::TEXT FROM shares
		 WHERE owner_id = $1 ORDER BY id`, ownerID)
}

func (s *PostgresStore) SharesByOwnerAndCompany(ctx context.Context, ownerID, companyID int64) ([]*model.Share, error) {
	return s.queryShares(ctx,
		`SELECT id, company_id, owner_id, price::TEXT FROM shares
		 WHERE owner_id = $1 AND company_id = $2 ORDER BY id`, ownerID, companyID)
}

func (s *PostgresStore) AppendTrade(ctx context.Context, t *model.TradeRecord) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO trades (id, user_id, company_id, kind, quantity, unit_price, cash_delta, ts)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		t.ID, t.UserID, t.CompanyID, t.Kind, t.Quantity,
		t.UnitPrice.String(), t.CashDelta.String(), t.Timestamp)
	return err
}

func (s *PostgresStore) TradesByUser(ctx context.Context, userID int64) ([]model.TradeRecord, error) {
	return s.queryTrades(ctx,
		`SELECT id, user_id, company_id, kind, quantity, unit_price::TEXT, cash_delta::TEXT, ts
		 FROM trades WHERE user_id = $1 ORDER BY ts`, userID)
}

func (s *PostgresStore) TradesByCompany(ctx context.Context, companyID int64) ([]model.TradeRecord, error) {
	return s.queryTrades(ctx,
		`SELECT id, user_id, company_id, kind, quantity, unit_price::TEXT, cash_delta::TEXT, ts
		 FROM trades WHERE company_id = $1 ORDER BY ts`, companyID)
}

// RunAtomically executes fn in a serializable transaction, retrying a
// bounded number of times on serialization failure (SQLSTATE 40001).
// When already inside a transaction, fn joins it.
func (s *PostgresStore) RunAtomically(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "40001" {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("transaction retries exhausted: %w", lastErr)
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	txStore := &PostgresStore{pool: s.pool, q: tx, inTx: true}
	if err := fn(ctx, txStore); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- scan helpers ---

func scanCompany(row pgx.Row) (*model.Company, error) {
	c := &model.Company{}
	var price string
	err := row.Scan(&c.ID, &c.Name, &price, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan company: %w", err)
	}
	c.Price, _ = decimal.NewFromString(price)
	return c, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	u := &model.User{}
	var balance string
	err := row.Scan(&u.ID, &u.Username, &balance, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Balance, _ = decimal.NewFromString(balance)
	return u, nil
}

func (s *PostgresStore) queryShares(ctx context.Context, query string, args ...any) ([]*model.Share, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shares []*model.Share
	for rows.Next() {
		sh := &model.Share{}
		var price string
		if err := rows.Scan(&sh.ID, &sh.CompanyID, &sh.OwnerID, &price); err != nil {
			return nil, err
		}
		sh.Price, _ = decimal.NewFromString(price)
		shares = append(shares, sh)
	}
	return shares, rows.Err()
}

func (s *PostgresStore) queryTrades(ctx context.Context, query string, args ...any) ([]model.TradeRecord, error) {
	rows, err := s.q.Query(ctx, query, args...)
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
