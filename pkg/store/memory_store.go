package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory RevisionStore used by tests and mock mode.
type MemoryStore struct {
	mu         sync.RWMutex
	nextID     uint
	accounts   map[string]*Account
	items      map[uint]*Item
	revisions  map[uint][]*ItemRevision // item id -> revisions, append order
	issues     map[uint][]Issue
	exceptions []ExceptionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:    1,
		accounts:  make(map[string]*Account),
		items:     make(map[uint]*Item),
		revisions: make(map[uint][]*ItemRevision),
		issues:    make(map[uint][]Issue),
	}
}

func (s *MemoryStore) id() uint {
	id := s.nextID
	s.nextID++
	return id
}

func (s *MemoryStore) GetAccount(_ context.Context, name string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[name]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindAccountByAlias(_ context.Context, value string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.Identifier == value {
			cp := *a
			return &cp, nil
		}
		for _, alias := range a.Aliases {
			if alias == value {
				cp := *a
				return &cp, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, *a)
	}
	return out, nil
}

func (s *MemoryStore) UpsertAccount(_ context.Context, acct *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.accounts[acct.Name]; ok {
		acct.ID = existing.ID
	} else if acct.ID == 0 {
		acct.ID = s.id()
	}
	cp := *acct
	s.accounts[acct.Name] = &cp
	return nil
}

func (s *MemoryStore) GetItem(_ context.Context, account string, tech Technology, name string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items {
		if it.Account == account && it.Technology == tech && it.Name == name {
			cp := *it
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListItems(_ context.Context, account string, tech Technology, includeInactive bool) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for _, it := range s.items {
		if it.Account != account || it.Technology != tech {
			continue
		}
		if !includeInactive && !s.latestActiveLocked(it.ID) {
			continue
		}
		out = append(out, *it)
	}
	return out, nil
}

func (s *MemoryStore) latestActiveLocked(itemID uint) bool {
	revs := s.revisions[itemID]
	if len(revs) == 0 {
		return false
	}
	return revs[len(revs)-1].Active
}

func (s *MemoryStore) LatestRevision(_ context.Context, itemID uint) (*ItemRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	revs := s.revisions[itemID]
	if len(revs) == 0 {
		return nil, ErrNotFound
	}
	cp := *revs[len(revs)-1]
	return &cp, nil
}

func (s *MemoryStore) AppendRevision(_ context.Context, item *Item, config map[string]any, active bool, completeHash, durableHash string) (*ItemRevision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// First sighting creates the item row.
	if item.ID == 0 {
		for _, it := range s.items {
			if it.Account == item.Account && it.Technology == item.Technology && it.Name == item.Name {
				item.ID = it.ID
				break
			}
		}
		if item.ID == 0 {
			item.ID = s.id()
		}
	}

	rev := &ItemRevision{
		ID:           s.id(),
		ItemID:       item.ID,
		Config:       config,
		Active:       active,
		CompleteHash: completeHash,
		DurableHash:  durableHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.revisions[item.ID] = append(s.revisions[item.ID], rev)

	item.LatestRevisionID = rev.ID
	item.CompleteHash = completeHash
	item.DurableHash = durableHash
	cp := *item
	s.items[item.ID] = &cp

	out := *rev
	return &out, nil
}

// PutItem inserts or overwrites a raw item row. Fixture helper for tests
// and mock mode; normal writes go through AppendRevision.
func (s *MemoryStore) PutItem(item Item) uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == 0 {
		for _, it := range s.items {
			if it.Account == item.Account && it.Technology == item.Technology && it.Name == item.Name {
				item.ID = it.ID
				break
			}
		}
		if item.ID == 0 {
			item.ID = s.id()
		}
	}
	cp := item
	s.items[item.ID] = &cp
	return item.ID
}

func (s *MemoryStore) OrphanedItems(_ context.Context, account string, tech Technology) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for _, it := range s.items {
		if it.Account == account && it.Technology == tech && it.LatestRevisionID == 0 {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (s *MemoryStore) IssuesFor(_ context.Context, itemID uint) ([]Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Issue, len(s.issues[itemID]))
	copy(out, s.issues[itemID])
	return out, nil
}

func (s *MemoryStore) ReplaceIssues(_ context.Context, itemID uint, issues []Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Issue, len(issues))
	for i, iss := range issues {
		if iss.ID == 0 {
			iss.ID = s.id()
		}
		iss.ItemID = itemID
		cp[i] = iss
	}
	s.issues[itemID] = cp
	return nil
}

func (s *MemoryStore) RecordException(_ context.Context, rec *ExceptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.id()
	s.exceptions = append(s.exceptions, *rec)
	return nil
}

func (s *MemoryStore) ListExceptions(_ context.Context, account string, tech Technology) ([]ExceptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ExceptionRecord
	for _, e := range s.exceptions {
		if e.Account == account && e.Technology == tech {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) PruneExceptions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.exceptions[:0]
	pruned := 0
	for _, e := range s.exceptions {
		if e.ExpiresAt.After(now) {
			kept = append(kept, e)
		} else {
			pruned++
		}
	}
	s.exceptions = kept
	return pruned, nil
}
