package service

import (
	"context"
	"errors"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/account-service/internal/isolation"
	"github.com/iliyamo/account-service/internal/model"
	"github.com/iliyamo/account-service/internal/repository"
)

var errBackend = errors.New("backend unavailable")

var fixedNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

// journal records the order in which dependencies are touched.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(e string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type memStore struct {
	mu       sync.Mutex
	rows     map[string][]byte
	getCalls int
	fail     error
	hang     bool // block reads until ctx ends
	journal  *journal
}

func newMemStore(j *journal) *memStore {
	return &memStore{rows: map[string][]byte{}, journal: j}
}

// put seeds a row without touching the journal.
func (s *memStore) put(a model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, _ := model.MarshalPayload(a)
	s.rows[a.Number] = data
}

func (s *memStore) wait(ctx context.Context) error {
	s.mu.Lock()
	hang := s.hang
	s.mu.Unlock()
	if !hang {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *memStore) Get(ctx context.Context, number string) (model.Account, bool, error) {
	if err := s.wait(ctx); err != nil {
		return model.Account{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	s.journal.add("store.get")
	if s.fail != nil {
		return model.Account{}, false, s.fail
	}
	data, ok := s.rows[number]
	if !ok {
		return model.Account{}, false, nil
	}
	a, err := model.UnmarshalPayload(number, data)
	return a, err == nil, err
}

func (s *memStore) Create(_ context.Context, a model.Account) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal.add("store.create")
	if s.fail != nil {
		return false, s.fail
	}
	data, err := model.MarshalPayload(a)
	if err != nil {
		return false, err
	}
	_, existed := s.rows[a.Number]
	delete(s.rows, a.Number)
	s.rows[a.Number] = data
	return !existed, nil
}

func (s *memStore) Update(_ context.Context, a model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal.add("store.update")
	if s.fail != nil {
		return s.fail
	}
	if _, ok := s.rows[a.Number]; !ok {
		return repository.ErrAccountNotFound
	}
	data, err := model.MarshalPayload(a)
	if err != nil {
		return err
	}
	s.rows[a.Number] = data
	return nil
}

func (s *memStore) Count(ctx context.Context) (int64, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	return int64(len(s.rows)), nil
}

func (s *memStore) sorted() []model.Account {
	numbers := make([]string, 0, len(s.rows))
	for n := range s.rows {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)
	out := make([]model.Account, 0, len(numbers))
	for _, n := range numbers {
		a, _ := model.UnmarshalPayload(n, s.rows[n])
		out = append(out, a)
	}
	return out
}

func (s *memStore) Page(_ context.Context, offset, limit int) ([]model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	if offset < 0 || limit <= 0 {
		return nil, repository.ErrInvalidPage
	}
	all := s.sorted()
	if offset >= len(all) {
		return []model.Account{}, nil
	}
	return all[offset:min(offset+limit, len(all))], nil
}

func (s *memStore) PageFrom(_ context.Context, cursor string, limit int) ([]model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	out := []model.Account{}
	for _, a := range s.sorted() {
		if a.Number > cursor && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) All(context.Context) iter.Seq2[model.Account, error] {
	return func(yield func(model.Account, error) bool) {
		s.mu.Lock()
		fail := s.fail
		all := s.sorted()
		s.mu.Unlock()
		if fail != nil {
			yield(model.Account{}, fail)
			return
		}
		for _, a := range all {
			if !yield(a, nil) {
				return
			}
		}
	}
}

func (s *memStore) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *memStore) gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

type memCache struct {
	mu      sync.Mutex
	values  map[string][]byte
	fail    error
	journal *journal
}

func newMemCache(j *journal) *memCache { return &memCache{values: map[string][]byte{}, journal: j} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.journal.add("cache.get")
	if c.fail != nil {
		return nil, false, c.fail
	}
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.journal.add("cache.set")
	if c.fail != nil {
		return c.fail
	}
	c.values[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.journal.add("cache.delete")
	if c.fail != nil {
		return c.fail
	}
	delete(c.values, key)
	return nil
}

func (c *memCache) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.values))
	for k := range c.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type memDirectory struct {
	mu      sync.Mutex
	entries map[string]model.ClientContact
	fail    error
	journal *journal
}

func newMemDirectory(j *journal) *memDirectory {
	return &memDirectory{entries: map[string]model.ClientContact{}, journal: j}
}

func (d *memDirectory) Add(_ context.Context, c model.ClientContact) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.journal.add("directory.add")
	if d.fail != nil {
		return d.fail
	}
	d.entries[string(c.Token)] = c
	return nil
}

func (d *memDirectory) Remove(_ context.Context, number string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.journal.add("directory.remove")
	if d.fail != nil {
		return d.fail
	}
	delete(d.entries, string(model.ContactToken(number)))
	return nil
}

func (d *memDirectory) has(number string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[string(model.ContactToken(number))]
	return ok
}

func activeAccount(number, name string) model.Account {
	return model.Account{
		Number: number,
		Name:   name,
		Devices: []model.Device{{
			ID:              model.MasterDeviceID,
			FetchesMessages: true,
			SignedPreKey:    &model.SignedPreKey{KeyID: 7, PublicKey: "pk", Signature: "sig"},
			LastSeen:        fixedNow.Add(-time.Hour).UnixMilli(),
		}},
	}
}

func inactiveAccount(number, name string) model.Account {
	a := activeAccount(number, name)
	a.Devices[0].FetchesMessages = false
	return a
}

type harness struct {
	store     *memStore
	cache     *memCache
	directory *memDirectory
	journal   *journal
	manager   *AccountsManager
}

func newHarness() *harness {
	j := &journal{}
	h := &harness{
		store:     newMemStore(j),
		cache:     newMemCache(j),
		directory: newMemDirectory(j),
		journal:   j,
	}
	// thresholds high enough that tests injecting failures never open a circuit
	limits := map[isolation.Group]isolation.Limits{}
	for _, g := range isolation.Groups {
		limits[g] = isolation.Limits{FailureThreshold: 1000}
	}
	h.manager = NewAccountsManager(h.store, h.directory, h.cache, isolation.NewExecutor(limits), nil, nil)
	h.manager.now = func() time.Time { return fixedNow }
	return h
}
