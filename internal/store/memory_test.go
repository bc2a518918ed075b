package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cmokmz/stock-exchange/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestMemoryStore_CompanyRoundTrip(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	created, err := ms.PutCompany(ctx, &model.Company{Name: "Dell", Price: d(5), CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("put company: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected assigned ID")
	}

	got, err := ms.GetCompany(ctx, created.ID)
	if err != nil {
		t.Fatalf("get company: %v", err)
	}
	if got == nil || got.Name != "Dell" || !got.Price.Equal(d(5)) {
		t.Errorf("unexpected company: %+v", got)
	}

	byName, err := ms.GetCompanyByName(ctx, "Dell")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if byName == nil || byName.ID != created.ID {
		t.Errorf("lookup by name mismatch: %+v", byName)
	}

	absent, err := ms.GetCompany(ctx, 999)
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if absent != nil {
		t.Errorf("expected nil for absent company, got %+v", absent)
	}
}

func TestMemoryStore_SharesAssignedSequentialIDs(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	shares := []*model.Share{
		{CompanyID: 1, Price: d(5)},
		{CompanyID: 1, Price: d(5)},
		{CompanyID: 1, Price: d(5)},
	}
	if err := ms.PutShares(ctx, shares); err != nil {
		t.Fatalf("put shares: %v", err)
	}
	for i, sh := range shares {
		if sh.ID != int64(i+1) {
			t.Errorf("share %d: expected ID %d, got %d", i, i+1, sh.ID)
		}
	}
}

func TestMemoryStore_FreeSharesOrderedByID(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	var shares []*model.Share
	for i := 0; i < 10; i++ {
		shares = append(shares, &model.Share{CompanyID: 1, Price: d(5)})
	}
	if err := ms.PutShares(ctx, shares); err != nil {
		t.Fatalf("put shares: %v", err)
	}

	// Take some out of the pool so the free scan has gaps.
	owner := int64(7)
	shares[2].OwnerID = &owner
	shares[5].OwnerID = &owner
	if err := ms.PutShares(ctx, []*model.Share{shares[2], shares[5]}); err != nil {
		t.Fatalf("update shares: %v", err)
	}

	free, err := ms.FreeSharesByCompany(ctx, 1)
	if err != nil {
		t.Fatalf("free scan: %v", err)
	}
	if len(free) != 8 {
		t.Fatalf("expected 8 free shares, got %d", len(free))
	}
	for i := 1; i < len(free); i++ {
		if free[i].ID <= free[i-1].ID {
			t.Fatalf("free shares not ordered by ID: %d after %d", free[i].ID, free[i-1].ID)
		}
	}

	owned, err := ms.SharesByOwnerAndCompany(ctx, owner, 1)
	if err != nil {
		t.Fatalf("owned scan: %v", err)
	}
	if len(owned) != 2 {
		t.Errorf("expected 2 owned shares, got %d", len(owned))
	}

	n, err := ms.CountSharesByCompany(ctx, 1)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 10 {
		t.Errorf("expected count 10, got %d", n)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	created, _ := ms.PutCompany(ctx, &model.Company{Name: "HP", Price: d(6)})
	created.Price = d(999) // mutate the returned copy

	got, _ := ms.GetCompany(ctx, created.ID)
	if !got.Price.Equal(d(6)) {
		t.Errorf("store leaked internal state: price %s", got.Price)
	}
}

func TestMemoryStore_RunAtomicallyCommits(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	err := ms.RunAtomically(ctx, func(ctx context.Context, tx Store) error {
		if _, err := tx.PutCompany(ctx, &model.Company{Name: "Dell", Price: d(5)}); err != nil {
			return err
		}
		_, err := tx.PutUser(ctx, &model.User{Username: "andrew", Balance: d(100)})
		return err
	})
	if err != nil {
		t.Fatalf("atomic commit: %v", err)
	}

	c, _ := ms.GetCompanyByName(ctx, "Dell")
	u, _ := ms.GetUserByUsername(ctx, "andrew")
	if c == nil || u == nil {
		t.Error("expected committed rows to be visible")
	}
}

func TestMemoryStore_RunAtomicallyRollsBackOnError(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	user, _ := ms.PutUser(ctx, &model.User{Username: "andrew", Balance: d(100)})

	boom := errors.New("boom")
	err := ms.RunAtomically(ctx, func(ctx context.Context, tx Store) error {
		user.Balance = d(0)
		if _, err := tx.PutUser(ctx, user); err != nil {
			return err
		}
		if err := tx.PutShares(ctx, []*model.Share{{CompanyID: 1, Price: d(5)}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := ms.GetUser(ctx, user.ID)
	if !got.Balance.Equal(d(100)) {
		t.Errorf("balance not rolled back: %s", got.Balance)
	}
	n, _ := ms.CountSharesByCompany(ctx, 1)
	if n != 0 {
		t.Errorf("share insert not rolled back: %d", n)
	}
}
