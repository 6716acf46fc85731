package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MockSource is a scripted Source for tests and mock mode. Snapshots are
// set per account; individual calls can be failed by name.
type MockSource struct {
	mu        sync.RWMutex
	snapshots map[string]map[string]map[string]any // account -> name -> config
	listErr   map[string]error
	getErr    map[string]error // account/name -> error
	getCalls  int
}

func NewMockSource() *MockSource {
	return &MockSource{
		snapshots: make(map[string]map[string]map[string]any),
		listErr:   make(map[string]error),
		getErr:    make(map[string]error),
	}
}

// SetSnapshot replaces the full object set for an account.
func (m *MockSource) SetSnapshot(account string, objects map[string]map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]map[string]any, len(objects))
	for k, v := range objects {
		cp[k] = v
	}
	m.snapshots[account] = cp
}

// FailList makes List for the account return err.
func (m *MockSource) FailList(account string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr[account] = err
}

// FailGet makes Get for one object return err.
func (m *MockSource) FailGet(account, name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr[account+"/"+name] = err
}

func (m *MockSource) List(_ context.Context, account string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.listErr[account]; err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m.snapshots[account]))
	for name := range m.snapshots[account] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MockSource) Get(_ context.Context, account, name string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if err := m.getErr[account+"/"+name]; err != nil {
		return nil, err
	}
	cfg, ok := m.snapshots[account][name]
	if !ok {
		return nil, fmt.Errorf("mock: no such object %s/%s", account, name)
	}
	return cfg, nil
}

// GetCalls reports how many Get calls were made.
func (m *MockSource) GetCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCalls
}
