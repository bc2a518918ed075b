package store

import (
	"context"
	"sort"
	"sync"

	"github.com/cmokmz/stock-exchange/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
//
// RunAtomically serializes all transactions behind a single mutex and rolls
// back to a snapshot when fn fails; trivially correct at the cost of
// throughput, which is fine for the use cases this store serves.
type MemoryStore struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	companies map[int64]*model.Company
	users     map[int64]*model.User
	shares    map[int64]*model.Share
	trades    []model.TradeRecord

	companySeq int64
	userSeq    int64
	shareSeq   int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		companies: make(map[int64]*model.Company),
		users:     make(map[int64]*model.User),
		shares:    make(map[int64]*model.Share),
	}
}

func copyCompany(c *model.Company) *model.Company {
	cp := *c
	return &cp
}

func copyUser(u *model.User) *model.User {
	cp := *u
	return &cp
}

func copyShare(s *model.Share) *model.Share {
	cp := *s
	if s.OwnerID != nil {
		owner := *s.OwnerID
		cp.OwnerID = &owner
	}
	return &cp
}

func (s *MemoryStore) GetCompany(_ context.Context, id int64) (*model.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.companies[id]
	if !ok {
		return nil, nil
	}
	return copyCompany(c), nil
}

func (s *MemoryStore) GetCompanyByName(_ context.Context, name string) (*model.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.companies {
		if c.Name == name {
			return copyCompany(c), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) PutCompany(_ context.Context, c *model.Company) (*model.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == 0 {
		s.companySeq++
		c.ID = s.companySeq
	}
	s.companies[c.ID] = copyCompany(c)
	return copyCompany(c), nil
}

func (s *MemoryStore) GetUser(_ context.Context, id int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return copyUser(u), nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) PutUser(_ context.Context, u *model.User) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == 0 {
		s.userSeq++
		u.ID = s.userSeq
	}
	s.users[u.ID] = copyUser(u)
	return copyUser(u), nil
}

func (s *MemoryStore) GetShare(_ context.Context, id int64) (*model.Share, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sh, ok := s.shares[id]
	if !ok {
		return nil, nil
	}
	return copyShare(sh), nil
}

func (s *MemoryStore) PutShares(_ context.Context, shares []*model.Share) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sh := range shares {
		if sh.ID == 0 {
			s.shareSeq++
			sh.ID = s.shareSeq
		}
		s.shares[sh.ID] = copyShare(sh)
	}
	return nil
}

func (s *MemoryStore) CountSharesByCompany(_ context.Context, companyID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, sh := range s.shares {
		if sh.CompanyID == companyID {
			n++
		}
	}
	return n, nil
}

// scanShares collects shares matching the filter, ID ascending.
func (s *MemoryStore) scanShares(match func(*model.Share) bool) []*model.Share {
	var result []*model.Share
	for _, sh := range s.shares {
		if match(sh) {
			result = append(result, copyShare(sh))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *MemoryStore) FreeSharesByCompany(_ context.Context, companyID int64) ([]*model.Share, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanShares(func(sh *model.Share) bool {
		return sh.CompanyID == companyID && sh.OwnerID == nil
	}), nil
}

func (s *MemoryStore) SharesByCompany(_ context.Context, companyID int64) ([]*model.Share, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanShares(func(sh *model.Share) bool {
		return sh.CompanyID == companyID
	}), nil
}

func (s *MemoryStore) SharesByOwner(_ context.Context, ownerID int64) ([]*model.Share, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanShares(func(sh *model.Share) bool {
		return sh.OwnerID != nil && *sh.OwnerID == ownerID
	}), nil
}

func (s *MemoryStore) SharesByOwnerAndCompany(_ context.Context, ownerID, companyID int64) ([]*model.Share, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanShares(func(sh *model.Share) bool {
		return sh.CompanyID == companyID && sh.OwnerID != nil && *sh.OwnerID == ownerID
	}), nil
}

func (s *MemoryStore) AppendTrade(_ context.Context, t *model.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) TradesByUser(_ context.Context, userID int64) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeRecord
	for _, t := range s.trades {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) TradesByCompany(_ context.Context, companyID int64) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeRecord
	for _, t := range s.trades {
		if t.CompanyID == companyID {
			result = append(result, t)
		}
	}
	return result, nil
}

// snapshot captures the full store state for rollback.
type memorySnapshot struct {
	companies map[int64]*model.Company
	users     map[int64]*model.User
	shares    map[int64]*model.Share
	tradesLen int

	companySeq int64
	userSeq    int64
	shareSeq   int64
}

func (s *MemoryStore) snapshot() *memorySnapshot {
	snap := &memorySnapshot{
		companies:  make(map[int64]*model.Company, len(s.companies)),
		users:      make(map[int64]*model.User, len(s.users)),
		shares:     make(map[int64]*model.Share, len(s.shares)),
		tradesLen:  len(s.trades),
		companySeq: s.companySeq,
		userSeq:    s.userSeq,
		shareSeq:   s.shareSeq,
	}
	for id, c := range s.companies {
		snap.companies[id] = copyCompany(c)
	}
	for id, u := range s.users {
		snap.users[id] = copyUser(u)
	}
	for id, sh := range s.shares {
		snap.shares[id] = copyShare(sh)
	}
	return snap
}

func (s *MemoryStore) restore(snap *memorySnapshot) {
	s.companies = snap.companies
	s.users = snap.users
	s.shares = snap.shares
	s.trades = s.trades[:snap.tradesLen]
	s.companySeq = snap.companySeq
	s.userSeq = snap.userSeq
	s.shareSeq = snap.shareSeq
}

// RunAtomically serializes transactions behind txMu and restores a snapshot
// when fn fails, so a mid-transaction error never leaves a partial multi-row
// mutation behind. Must not be nested.
func (s *MemoryStore) RunAtomically(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.snapshot()
	s.mu.Unlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.restore(snap)
		s.mu.Unlock()
		return err
	}
	return nil
}
