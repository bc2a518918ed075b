package exchange

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cmokmz/stock-exchange/internal/metrics"
	"github.com/cmokmz/stock-exchange/internal/model"
	"github.com/cmokmz/stock-exchange/internal/store"
)

// AcquireShares buys amount shares of the company from the free pool for
// the user, debiting price*amount from their balance. Debit, allocation
// and the journal entry commit as one atomic unit: a failed availability
// check rolls the debit back.
func (s *Service) AcquireShares(ctx context.Context, userID, companyID, amount int64) error {
	if amount < 0 {
		return domainErr(KindInvalidAmount, "shares amount should be non-negative, but got %d", amount)
	}

	var cost decimal.Decimal
	err := s.store.RunAtomically(ctx, func(ctx context.Context, tx store.Store) error {
		company, err := getCompany(ctx, tx, companyID)
		if err != nil {
			return err
		}
		cost = company.Price.Mul(decimal.NewFromInt(amount))

		user, err := getUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user.Balance.LessThan(cost) {
			return domainErr(KindInsufficientFunds,
				"failed to acquire shares of company %d for user %d: the balance is not sufficient, required %s but have only %s",
				companyID, userID, cost, user.Balance)
		}
		if _, err := adjustBalance(ctx, tx, userID, cost.Neg()); err != nil {
			return err
		}

		free, err := tx.FreeSharesByCompany(ctx, companyID)
		if err != nil {
			return err
		}
		if amount > int64(len(free)) {
			return domainErr(KindInsufficientShares,
				"required shares amount exceeds the number of free shares of company %d: required %d, but only %d are available",
				companyID, amount, len(free))
		}
		if err := setOwner(ctx, tx, free, &userID, amount); err != nil {
			return err
		}

		return tx.AppendTrade(ctx, &model.TradeRecord{
			ID:        uuid.New().String(),
			UserID:    userID,
			CompanyID: companyID,
			Kind:      model.TradeAcquire,
			Quantity:  amount,
			UnitPrice: company.Price,
			CashDelta: cost.Neg(),
			Timestamp: time.Now().UTC(),
		})
	})
	if err != nil {
		return err
	}

	metrics.TradesTotal.WithLabelValues(model.TradeAcquire).Inc()
	s.publish(Event{Type: "shares_acquired", CompanyID: companyID, UserID: userID, Quantity: amount})
	slog.Info("shares acquired", "user", userID, "company", companyID, "amount", amount, "cost", cost.String())
	return nil
}

// SellShares releases amount of the user's shares in the company back to
// the free pool and credits the user.
//
// The credit is a single unit's price regardless of amount. That matches
// the long-standing behavior this ledger reproduces; see the test suite,
// which flags it explicitly.
func (s *Service) SellShares(ctx context.Context, userID, companyID, amount int64) error {
	if amount < 0 {
		return domainErr(KindInvalidAmount, "shares amount should be non-negative, but got %d", amount)
	}

	var credit decimal.Decimal
	err := s.store.RunAtomically(ctx, func(ctx context.Context, tx store.Store) error {
		company, err := getCompany(ctx, tx, companyID)
		if err != nil {
			return err
		}
		credit = company.Price

		if _, err := adjustBalance(ctx, tx, userID, credit); err != nil {
			return err
		}

		owned, err := tx.SharesByOwnerAndCompany(ctx, userID, companyID)
		if err != nil {
			return err
		}
		if amount > int64(len(owned)) {
			return domainErr(KindInsufficientShares,
				"required shares amount exceeds the number of shares owned by user %d: required %d, but only %d are available",
				userID, amount, len(owned))
		}
		if err := setOwner(ctx, tx, owned, nil, amount); err != nil {
			return err
		}

		return tx.AppendTrade(ctx, &model.TradeRecord{
			ID:        uuid.New().String(),
			UserID:    userID,
			CompanyID: companyID,
			Kind:      model.TradeSell,
			Quantity:  amount,
			UnitPrice: company.Price,
			CashDelta: credit,
			Timestamp: time.Now().UTC(),
		})
	})
	if err != nil {
		return err
	}

	metrics.TradesTotal.WithLabelValues(model.TradeSell).Inc()
	s.publish(Event{Type: "shares_sold", CompanyID: companyID, UserID: userID, Quantity: amount})
	slog.Info("shares sold", "user", userID, "company", companyID, "amount", amount, "credit", credit.String())
	return nil
}

// GrantShares assigns amount free shares of the company to the user
// without payment, the company-side allocation path. No company or user
// lookup happens: a missing company simply has no free shares.
func (s *Service) GrantShares(ctx context.Context, userID, companyID, amount int64) error {
	if amount < 0 {
		return domainErr(KindInvalidAmount, "shares amount should be non-negative, but got %d", amount)
	}

	err := s.store.RunAtomically(ctx, func(ctx context.Context, tx store.Store) error {
		free, err := tx.FreeSharesByCompany(ctx, companyID)
		if err != nil {
			return err
		}
		if amount > int64(len(free)) {
			return domainErr(KindInsufficientShares,
				"required shares amount exceeds the number of free shares of company %d: required %d, but only %d are available",
				companyID, amount, len(free))
		}
		if err := setOwner(ctx, tx, free, &userID, amount); err != nil {
			return err
		}
		if amount == 0 {
			return nil
		}

		return tx.AppendTrade(ctx, &model.TradeRecord{
			ID:        uuid.New().String(),
			UserID:    userID,
			CompanyID: companyID,
			Kind:      model.TradeGrant,
			Quantity:  amount,
			UnitPrice: free[0].Price,
			CashDelta: decimal.Zero,
			Timestamp: time.Now().UTC(),
		})
	})
	if err != nil {
		return err
	}

	metrics.TradesTotal.WithLabelValues(model.TradeGrant).Inc()
	slog.Info("shares granted", "user", userID, "company", companyID, "amount", amount)
	return nil
}

// TradesOf returns the user's journal entries.
func (s *Service) TradesOf(ctx context.Context, userID int64) ([]model.TradeRecord, error) {
	return s.store.TradesByUser(ctx, userID)
}

// CompanyTrades returns the company's journal entries.
func (s *Service) CompanyTrades(ctx context.Context, companyID int64) ([]model.TradeRecord, error) {
	return s.store.TradesByCompany(ctx, companyID)
}

// setOwner reassigns ownership of the first amount shares and persists
// them. Callers guarantee amount <= len(shares); the scan order (ID
// ascending) makes the chosen prefix deterministic.
func setOwner(ctx context.Context, tx store.Store, shares []*model.Share, owner *int64, amount int64) error {
	changed := shares[:amount]
	for _, sh := range changed {
		sh.OwnerID = owner
	}
	return tx.PutShares(ctx, changed)
}
