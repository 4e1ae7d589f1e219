// Package service holds the accounts manager: the only code path that
// writes accounts.  It keeps the MySQL store, the Redis cache and the
// discovery directory in step, running every dependency call through an
// isolation.Executor.
//
// Failure policy:
//   - cache reads and writes are swallowed; the cache is only an optimization
//   - store calls propagate unchanged
//   - directory calls propagate wrapped in ErrDirectorySync; by then the
//     store mutation has committed and is never rolled back
package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/account-service/internal/cache"
	"github.com/iliyamo/account-service/internal/isolation"
	"github.com/iliyamo/account-service/internal/metrics"
	"github.com/iliyamo/account-service/internal/model"
	"github.com/iliyamo/account-service/internal/repository"
)

// ErrDirectorySync marks a create or update whose store write succeeded
// but whose directory update failed.  The caller owns any retry.
var ErrDirectorySync = errors.New("directory update failed after store write")

// Store is the authoritative account store.
type Store interface {
	Get(ctx context.Context, number string) (model.Account, bool, error)
	Create(ctx context.Context, a model.Account) (fresh bool, err error)
	Update(ctx context.Context, a model.Account) error
	Count(ctx context.Context) (int64, error)
	Page(ctx context.Context, offset, limit int) ([]model.Account, error)
	PageFrom(ctx context.Context, cursor string, limit int) ([]model.Account, error)
	All(ctx context.Context) iter.Seq2[model.Account, error]
}

// Cache is a volatile key/value store for serialized accounts.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Directory is the contact-discovery index.
type Directory interface {
	Add(ctx context.Context, c model.ClientContact) error
	Remove(ctx context.Context, number string) error
}

const commandPrefix = "AccountsManager."

// AccountsManager implements create, update and get for accounts.
type AccountsManager struct {
	store     Store
	cache     Cache
	directory Directory
	exec      *isolation.Executor
	sink      metrics.Sink
	log       *zap.Logger

	cacheVersion string
	now          func() time.Time
}

// NewAccountsManager wires the manager.  sink and log may be nil.
func NewAccountsManager(store Store, directory Directory, c Cache, exec *isolation.Executor, sink metrics.Sink, log *zap.Logger) *AccountsManager {
	if sink == nil {
		sink = metrics.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountsManager{
		store:        store,
		cache:        c,
		directory:    directory,
		exec:         exec,
		sink:         sink,
		log:          log,
		cacheVersion: cache.Version,
		now:          time.Now,
	}
}

func (m *AccountsManager) timed(op string) func() {
	start := time.Now()
	return func() { m.sink.RecordOperation(op, time.Since(start)) }
}

// Create stores a as the account for its number, replacing any earlier
// registration, and reports whether no account existed before.
//
// The cache is written after the store so a reader can never find a cached
// account whose row does not exist yet.  When the directory update fails
// the error matches ErrDirectorySync and fresh still reflects the
// committed store write.
func (m *AccountsManager) Create(ctx context.Context, a model.Account) (fresh bool, err error) {
	defer m.timed("create")()

	fresh, err = isolation.Do(ctx, m.exec, isolation.Store, commandPrefix+"databaseCreate",
		func(ctx context.Context) (bool, error) {
			fresh, err := m.store.Create(ctx, a)
			return fresh, badRequestIfInput(err)
		})
	if err != nil {
		m.log.Error("account create failed", zap.Error(err))
		return false, err
	}

	m.cacheSet(ctx, a)

	if err := m.updateDirectory(ctx, a); err != nil {
		return fresh, err
	}
	return fresh, nil
}

// Update overwrites the stored account.  The cache is written first so
// that readers racing the update see the new document as early as
// possible.  Updating a number with no stored account fails with
// repository.ErrAccountNotFound; the entry just cached is dropped again
// and the directory is left alone.
func (m *AccountsManager) Update(ctx context.Context, a model.Account) error {
	defer m.timed("update")()

	m.cacheSet(ctx, a)

	_, err := isolation.Do(ctx, m.exec, isolation.Store, commandPrefix+"databaseUpdate",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, badRequestIfInput(m.store.Update(ctx, a))
		})
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			m.cacheDelete(ctx, a.Number)
		}
		m.log.Error("account update failed", zap.Error(err))
		return err
	}

	return m.updateDirectory(ctx, a)
}

type lookup struct {
	account model.Account
	found   bool
}

// Get returns the account for number.  A cache hit never touches the
// store; a miss or a failing cache falls through to the store and
// repopulates the cache.  ok is false when the store has no account.
func (m *AccountsManager) Get(ctx context.Context, number string) (acc model.Account, ok bool, err error) {
	defer m.timed("get")()

	if hit := m.cacheGet(ctx, number); hit.found {
		return hit.account, true, nil
	}

	res, err := isolation.Do(ctx, m.exec, isolation.Store, commandPrefix+"databaseGet",
		func(ctx context.Context) (lookup, error) {
			a, ok, err := m.store.Get(ctx, number)
			return lookup{account: a, found: ok}, badRequestIfInput(err)
		})
	if err != nil {
		m.log.Error("account get failed", zap.Error(err))
		return model.Account{}, false, err
	}
	if !res.found {
		return model.Account{}, false, nil
	}

	m.cacheSet(ctx, res.account)
	return res.account, true, nil
}

// Count returns the number of stored accounts.
func (m *AccountsManager) Count(ctx context.Context) (int64, error) {
	return isolation.Do(ctx, m.exec, isolation.Store, commandPrefix+"databaseCount",
		func(ctx context.Context) (int64, error) {
			return m.store.Count(ctx)
		})
}

// Page returns accounts by offset.
func (m *AccountsManager) Page(ctx context.Context, offset, limit int) ([]model.Account, error) {
	return isolation.Do(ctx, m.exec, isolation.Store, commandPrefix+"databasePage",
		func(ctx context.Context) ([]model.Account, error) {
			accs, err := m.store.Page(ctx, offset, limit)
			return accs, badRequestIfInput(err)
		})
}

// PageFrom returns up to limit accounts whose number sorts after cursor.
func (m *AccountsManager) PageFrom(ctx context.Context, cursor string, limit int) ([]model.Account, error) {
	return isolation.Do(ctx, m.exec, isolation.Store, commandPrefix+"databasePageFrom",
		func(ctx context.Context) ([]model.Account, error) {
			accs, err := m.store.PageFrom(ctx, cursor, limit)
			return accs, badRequestIfInput(err)
		})
}

// All streams every stored account.  A full scan outlives any per-call
// timeout, so it runs outside the store bulkhead; its errors are still
// reported as store dependency errors.
func (m *AccountsManager) All(ctx context.Context) iter.Seq2[model.Account, error] {
	return func(yield func(model.Account, error) bool) {
		defer m.timed("scan")()
		for a, err := range m.store.All(ctx) {
			if err != nil {
				err = &isolation.DependencyError{Group: isolation.Store, Command: commandPrefix + "databaseScan", Err: err}
			}
			if !yield(a, err) {
				return
			}
		}
	}
}

// updateDirectory lists an active account and unlists an inactive one.
func (m *AccountsManager) updateDirectory(ctx context.Context, a model.Account) error {
	_, err := isolation.Do(ctx, m.exec, isolation.Index, commandPrefix+"updateDirectory",
		func(ctx context.Context) (struct{}, error) {
			if a.IsActiveAt(m.now()) {
				return struct{}{}, m.directory.Add(ctx, model.FullVisibilityContact(a.Number))
			}
			return struct{}{}, m.directory.Remove(ctx, a.Number)
		})
	if err != nil {
		m.log.Error("directory update failed", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrDirectorySync, err)
	}
	return nil
}

func (m *AccountsManager) cacheKey(number string) string {
	return cache.KeyFor(m.cacheVersion, number)
}

func (m *AccountsManager) cacheSet(ctx context.Context, a model.Account) {
	isolation.DoOr(ctx, m.exec, isolation.Cache, commandPrefix+"redisSet", false,
		func(ctx context.Context) (bool, error) {
			data, err := model.MarshalPayload(a)
			if err != nil {
				return false, isolation.BadRequest(err)
			}
			if err := m.cache.Set(ctx, m.cacheKey(a.Number), data); err != nil {
				return false, err
			}
			return true, nil
		})
}

// cacheGet treats an undecodable cached document as a miss so that the
// store copy replaces it.
func (m *AccountsManager) cacheGet(ctx context.Context, number string) lookup {
	return isolation.DoOr(ctx, m.exec, isolation.Cache, commandPrefix+"redisGet", lookup{},
		func(ctx context.Context) (lookup, error) {
			data, ok, err := m.cache.Get(ctx, m.cacheKey(number))
			if err != nil || !ok {
				return lookup{}, err
			}
			a, err := model.UnmarshalPayload(number, data)
			if err != nil {
				m.log.Warn("cached account not decodable", zap.Error(err))
				return lookup{}, nil
			}
			return lookup{account: a, found: true}, nil
		})
}

func (m *AccountsManager) cacheDelete(ctx context.Context, number string) {
	isolation.DoOr(ctx, m.exec, isolation.Cache, commandPrefix+"redisDelete", false,
		func(ctx context.Context) (bool, error) {
			return true, m.cache.Delete(ctx, m.cacheKey(number))
		})
}

// badRequestIfInput marks store errors caused by the request itself so
// they do not count against the store circuit.
func badRequestIfInput(err error) error {
	switch {
	case errors.Is(err, model.ErrSerialization),
		errors.Is(err, repository.ErrEmptyNumber),
		errors.Is(err, repository.ErrInvalidPage),
		errors.Is(err, repository.ErrAccountNotFound):
		return isolation.BadRequest(err)
	}
	return err
}
