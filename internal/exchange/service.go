// Package exchange implements the transactional ledger core: company
// registry, share pool, account ledger, and the trading engine that
// combines them. Every mutating operation runs inside a single
// store.RunAtomically unit, so cross-entity invariants hold under
// concurrent callers.
//
// All monetary values use shopspring/decimal, never float64.
package exchange

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cmokmz/stock-exchange/internal/metrics"
	"github.com/cmokmz/stock-exchange/internal/model"
	"github.com/cmokmz/stock-exchange/internal/pricing"
	"github.com/cmokmz/stock-exchange/internal/store"
)

// Event is published to subscribers when ledger state changes.
type Event struct {
	Type      string `json:"type"`
	CompanyID int64  `json:"company_id"`
	UserID    int64  `json:"user_id,omitempty"`
	Price     string `json:"price,omitempty"`
	Quantity  int64  `json:"quantity,omitempty"`
}

// Publisher receives ledger events. The WebSocket hub implements this;
// pass nil to NewService if broadcasting is not needed.
type Publisher interface {
	Publish(Event)
}

// Service is the ledger core. It is safe for concurrent use: consistency
// comes from the store's RunAtomically contract, not from locks held here.
type Service struct {
	store store.Store
	pub   Publisher
}

// NewService creates a ledger service on top of st.
// Pass nil for pub if event broadcasting is not needed.
func NewService(st store.Store, pub Publisher) *Service {
	return &Service{store: st, pub: pub}
}

func (s *Service) publish(ev Event) {
	if s.pub != nil {
		s.pub.Publish(ev)
	}
}

// --- Company registry ---

// RegisterCompany creates a company with a unique name. The uniqueness
// check and the insert run in one atomic unit so two concurrent
// registrations cannot both succeed.
func (s *Service) RegisterCompany(ctx context.Context, name string, price decimal.Decimal) (*model.Company, error) {
	var created *model.Company
	err := s.store.RunAtomically(ctx, func(ctx context.Context, tx store.Store) error {
		existing, err := tx.GetCompanyByName(ctx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return domainErr(KindDuplicateName, "company with name %q already exists", name)
		}
		created, err = tx.PutCompany(ctx, &model.Company{
			Name:      name,
			Price:     price,
			CreatedAt: time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("company registered", "id", created.ID, "name", name, "price", price.String())
	return created, nil
}

// Company looks up a company by ID.
func (s *Service) Company(ctx context.Context, companyID int64) (*model.Company, error) {
	return getCompany(ctx, s.store, companyID)
}

// CompanyPrice returns the company's current per-unit price.
func (s *Service) CompanyPrice(ctx context.Context, companyID int64) (decimal.Decimal, error) {
	c, err := getCompany(ctx, s.store, companyID)
	if err != nil {
		return decimal.Zero, err
	}
	return c.Price, nil
}

// Reprice adjusts the company's price by percent and overwrites the price
// of every share the company has issued, owned and free alike. The company
// row and all share rows commit as one atomic unit.
//
// Percent may be negative; the result is not clamped at zero.
func (s *Service) Reprice(ctx context.Context, companyID int64, percent decimal.Decimal) error {
	var newPrice decimal.Decimal
	err := s.store.RunAtomically(ctx, func(ctx context.Context, tx store.Store) error {
		company, err := getCompany(ctx, tx, companyID)
		if err != nil {
			return err
		}
		newPrice = pricing.Recalculate(company.Price, percent)
		company.Price = newPrice
		if _, err := tx.PutCompany(ctx, company); err != nil {
			return err
		}

		shares, err := tx.SharesByCompany(ctx, companyID)
		if err != nil {
			return err
		}
		for _, sh := range shares {
			sh.Price = newPrice
		}
		return tx.PutShares(ctx, shares)
	})
	if err != nil {
		return err
	}

	metrics.RepricesTotal.Inc()
	s.publish(Event{Type: "price_updated", CompanyID: companyID, Price: newPrice.String()})
	slog.Info("company repriced", "company", companyID, "percent", percent.String(), "price", newPrice.String())
	return nil
}

// --- Share pool ---

// IssueShares creates amount new free shares for the company, each priced
// at the company's current price. Later reprices overwrite that price; the
// issuance price is not retroactive in any other way.
func (s *Service) IssueShares(ctx context.Context, companyID, amount int64) error {
	if amount < 0 {
		return domainErr(KindInvalidAmount, "shares amount should be non-negative, but got %d", amount)
	}

	err := s.store.RunAtomically(ctx, func(ctx context.Context, tx store.Store) error {
		company, err := getCompany(ctx, tx, companyID)
		if err != nil {
			return err
		}
		shares := make([]*model.Share, amount)
		for i := range shares {
			shares[i] = &model.Share{CompanyID: companyID, Price: company.Price}
		}
		return tx.PutShares(ctx, shares)
	})
	if err != nil {
		return err
	}

	metrics.SharesIssuedTotal.Add(float64(amount))
	slog.Info("shares issued", "company", companyID, "amount", amount)
	return nil
}

// CountShares returns the total number of shares ever issued for the
// company, owned and free alike. A company that does not exist has zero.
func (s *Service) CountShares(ctx context.Context, companyID int64) (int64, error) {
	return s.store.CountSharesByCompany(ctx, companyID)
}

// getCompany loads a company through st, mapping absence to NotFound.
func getCompany(ctx context.Context, st store.Store, companyID int64) (*model.Company, error) {
	c, err := st.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, domainErr(KindNotFound, "company %d does not exist", companyID)
	}
	return c, nil
}

// getUser loads a user through st, mapping absence to NotFound.
func getUser(ctx context.Context, st store.Store, userID int64) (*model.User, error) {
	u, err := st.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, domainErr(KindNotFound, "user %d does not exist", userID)
	}
	return u, nil
}
