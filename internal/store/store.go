// Package store defines the persistence interface for the exchange ledger.
// Implementations include PostgreSQL (source of truth), SQLite (single-node
// durable), Redis (read-through cache wrapper), and in-memory (for testing).
package store

import (
	"context"

	"github.com/cmokmz/stock-exchange/internal/model"
)

// Store is the persistence contract consumed by the ledger core.
//
// Point lookups return (nil, nil) when the row is absent; the core maps
// absence to its own not-found taxonomy. Put methods assign an ID when the
// entity carries a zero ID and return/retain the assigned value. All share
// scans return shares ordered by ID ascending; allocation takes a
// deterministic prefix, so this ordering is part of the contract.
type Store interface {
	// --- Companies ---

	GetCompany(ctx context.Context, id int64) (*model.Company, error)
	GetCompanyByName(ctx context.Context, name string) (*model.Company, error)
	PutCompany(ctx context.Context, c *model.Company) (*model.Company, error)

	// --- Users ---

	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	PutUser(ctx context.Context, u *model.User) (*model.User, error)

	// --- Shares ---

	GetShare(ctx context.Context, id int64) (*model.Share, error)

	// PutShares batch-upserts shares, assigning IDs to new ones.
	PutShares(ctx context.Context, shares []*model.Share) error

	// CountSharesByCompany returns the total number of shares ever issued
	// for the company, owned and free alike.
	CountSharesByCompany(ctx context.Context, companyID int64) (int64, error)

	// FreeSharesByCompany returns the company's unowned shares, ID ascending.
	FreeSharesByCompany(ctx context.Context, companyID int64) ([]*model.Share, error)

	SharesByCompany(ctx context.Context, companyID int64) ([]*model.Share, error)
	SharesByOwner(ctx context.Context, ownerID int64) ([]*model.Share, error)
	SharesByOwnerAndCompany(ctx context.Context, ownerID, companyID int64) ([]*model.Share, error)

	// --- Trade journal (append-only) ---

	AppendTrade(ctx context.Context, t *model.TradeRecord) error
	TradesByUser(ctx context.Context, userID int64) ([]model.TradeRecord, error)
	TradesByCompany(ctx context.Context, companyID int64) ([]model.TradeRecord, error)

	// RunAtomically executes fn against a transactional view of the store.
	// Either every write performed through tx commits, or none do. The
	// ledger core wraps every multi-entity mutation (reprice, acquire,
	// sell, registration uniqueness check + insert) in one such unit.
	// Implementations may use a real transaction, optimistic retry, or a
	// global lock; fn must therefore be side-effect free apart from tx
	// writes, as it can run more than once.
	RunAtomically(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
