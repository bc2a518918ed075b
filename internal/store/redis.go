package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cmokmz/stock-exchange/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// company and user point lookups. Writes go to the primary store and
// invalidate the affected keys; share scans and the trade journal always
// hit the primary. TTL bounds any staleness window.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func companyKey(id int64) string     { return fmt.Sprintf("company:%d", id) }
func companyNameKey(n string) string { return fmt.Sprintf("company:name:%s", n) }
func userKey(id int64) string        { return fmt.Sprintf("user:%d", id) }
func usernameKey(n string) string    { return fmt.Sprintf("user:name:%s", n) }

// --- Read-through ---

func (s *CachedStore) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	data, err := s.rdb.Get(ctx, companyKey(id)).Bytes()
	if err == nil {
		var c model.Company
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	c, err := s.primary.GetCompany(ctx, id)
	if err != nil || c == nil {
		return c, err
	}
	s.cacheJSON(ctx, companyKey(id), c)
	return c, nil
}

func (s *CachedStore) GetCompanyByName(ctx context.Context, name string) (*model.Company, error) {
	// name→ID mapping, then the ID-keyed entry.
	if idStr, err := s.rdb.Get(ctx, companyNameKey(name)).Result(); err == nil {
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			return s.GetCompany(ctx, id)
		}
	}

	c, err := s.primary.GetCompanyByName(ctx, name)
	if err != nil || c == nil {
		return c, err
	}
	s.cacheJSON(ctx, companyKey(c.ID), c)
	s.rdb.Set(ctx, companyNameKey(name), strconv.FormatInt(c.ID, 10), s.ttl)
	return c, nil
}

func (s *CachedStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	data, err := s.rdb.Get(ctx, userKey(id)).Bytes()
	if err == nil {
		var u model.User
		if json.Unmarshal(data, &u) == nil {
			return &u, nil
		}
	}

	u, err := s.primary.GetUser(ctx, id)
	if err != nil || u == nil {
		return u, err
	}
	s.cacheJSON(ctx, userKey(id), u)
	return u, nil
}

func (s *CachedStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	if idStr, err := s.rdb.Get(ctx, usernameKey(username)).Result(); err == nil {
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			return s.GetUser(ctx, id)
		}
	}

	u, err := s.primary.GetUserByUsername(ctx, username)
	if err != nil || u == nil {
		return u, err
	}
	s.cacheJSON(ctx, userKey(u.ID), u)
	s.rdb.Set(ctx, usernameKey(username), strconv.FormatInt(u.ID, 10), s.ttl)
	return u, nil
}

// --- Write-through (write to primary, invalidate) ---

func (s *CachedStore) PutCompany(ctx context.Context, c *model.Company) (*model.Company, error) {
	out, err := s.primary.PutCompany(ctx, c)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, companyKey(out.ID), companyNameKey(out.Name))
	return out, nil
}

func (s *CachedStore) PutUser(ctx context.Context, u *model.User) (*model.User, error) {
	out, err := s.primary.PutUser(ctx, u)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, userKey(out.ID), usernameKey(out.Username))
	return out, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetShare(ctx context.Context, id int64) (*model.Share, error) {
	return s.primary.GetShare(ctx, id)
}

func (s *CachedStore) PutShares(ctx context.Context, shares []*model.Share) error {
	return s.primary.PutShares(ctx, shares)
}

func (s *CachedStore) CountSharesByCompany(ctx context.Context, companyID int64) (int64, error) {
	return s.primary.CountSharesByCompany(ctx, companyID)
}

func (s *CachedStore) FreeSharesByCompany(ctx context.Context, companyID int64) ([]*model.Share, error) {
	return s.primary.FreeSharesByCompany(ctx, companyID)
}

func (s *CachedStore) SharesByCompany(ctx context.Context, companyID int64) ([]*model.Share, error) {
	return s.primary.SharesByCompany(ctx, companyID)
}

func (s *CachedStore) SharesByOwner(ctx context.Context, ownerID int64) ([]*model.Share, error) {
	return s.primary.SharesByOwner(ctx, ownerID)
}

func (s *CachedStore) SharesByOwnerAndCompany(ctx context.Context, ownerID, companyID int64) ([]*model.Share, error) {
	return s.primary.SharesByOwnerAndCompany(ctx, ownerID, companyID)
}

func (s *CachedStore) AppendTrade(ctx context.Context, t *model.TradeRecord) error {
	return s.primary.AppendTrade(ctx, t)
}

func (s *CachedStore) TradesByUser(ctx context.Context, userID int64) ([]model.TradeRecord, error) {
	return s.primary.TradesByUser(ctx, userID)
}

func (s *CachedStore) TradesByCompany(ctx context.Context, companyID int64) ([]model.TradeRecord, error) {
	return s.primary.TradesByCompany(ctx, companyID)
}

// RunAtomically delegates to the primary store's transaction, collecting
// cache invalidations from writes and flushing them after commit. Reads
// inside the transaction bypass the cache so preconditions are always
// checked against the primary.
func (s *CachedStore) RunAtomically(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	var stale []string
	err := s.primary.RunAtomically(ctx, func(ctx context.Context, tx Store) error {
		return fn(ctx, &cachedTx{Store: tx, stale: &stale})
	})
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		s.rdb.Del(ctx, stale...)
	}
	return nil
}

// cachedTx records which cache keys a transaction dirtied.
type cachedTx struct {
	Store
	stale *[]string
}

func (t *cachedTx) PutCompany(ctx context.Context, c *model.Company) (*model.Company, error) {
	out, err := t.Store.PutCompany(ctx, c)
	if err != nil {
		return nil, err
	}
	*t.stale = append(*t.stale, companyKey(out.ID), companyNameKey(out.Name))
	return out, nil
}

func (t *cachedTx) PutUser(ctx context.Context, u *model.User) (*model.User, error) {
	out, err := t.Store.PutUser(ctx, u)
	if err != nil {
		return nil, err
	}
	*t.stale = append(*t.stale, userKey(out.ID), usernameKey(out.Username))
	return out, nil
}

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}
