package exchange

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cmokmz/stock-exchange/internal/model"
	"github.com/cmokmz/stock-exchange/internal/store"
)

// RegisterUser creates a user account with a unique username. The
// uniqueness check and the insert run in one atomic unit.
func (s *Service) RegisterUser(ctx context.Context, username string, balance decimal.Decimal) (*model.User, error) {
	var created *model.User
	err := s.store.RunAtomically(ctx, func(ctx context.Context, tx store.Store) error {
		existing, err := tx.GetUserByUsername(ctx, username)
		if err != nil {
			return err
		}
		if existing != nil {
			return domainErr(KindDuplicateUsername,
				"cannot create user with username %q, as a user with this username already exists", username)
		}
		created, err = tx.PutUser(ctx, &model.User{
			Username:  username,
			Balance:   balance,
			CreatedAt: time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("user registered", "id", created.ID, "username", username, "balance", balance.String())
	return created, nil
}

// Deposit adds delta to the user's cash balance. Delta may be negative;
// this primitive does not enforce non-negativity itself; the trading
// engine pre-checks sufficiency before debiting, and plain deposits never
// produce a negative balance from valid inputs.
func (s *Service) Deposit(ctx context.Context, userID int64, delta decimal.Decimal) (*model.User, error) {
	var updated *model.User
	err := s.store.RunAtomically(ctx, func(ctx context.Context, tx store.Store) error {
		var err error
		updated, err = adjustBalance(ctx, tx, userID, delta)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("balance updated", "user", userID, "delta", delta.String(), "balance", updated.Balance.String())
	return updated, nil
}

// BalanceOf returns the user's cash balance only.
func (s *Service) BalanceOf(ctx context.Context, userID int64) (decimal.Decimal, error) {
	u, err := getUser(ctx, s.store, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return u.Balance, nil
}

// PortfolioValue returns the user's cash balance plus the current prices
// of all shares they own. This is what the balance endpoint reports.
func (s *Service) PortfolioValue(ctx context.Context, userID int64) (decimal.Decimal, error) {
	u, err := getUser(ctx, s.store, userID)
	if err != nil {
		return decimal.Zero, err
	}
	shares, err := s.store.SharesByOwner(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	total := u.Balance
	for _, sh := range shares {
		total = total.Add(sh.Price)
	}
	return total, nil
}

// SharesOf returns all shares currently owned by the user.
func (s *Service) SharesOf(ctx context.Context, userID int64) ([]*model.Share, error) {
	return s.store.SharesByOwner(ctx, userID)
}

// adjustBalance is the sole balance mutator: loads the user, adds delta,
// persists. Callers that pass a negative delta are responsible for the
// sufficiency check, inside the same transaction.
func adjustBalance(ctx context.Context, tx store.Store, userID int64, delta decimal.Decimal) (*model.User, error) {
	u, err := getUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	u.Balance = u.Balance.Add(delta)
	return tx.PutUser(ctx, u)
}
