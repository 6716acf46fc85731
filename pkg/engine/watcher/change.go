package watcher

import (
	"fmt"

	"github.com/halcyon-sec/driftwatch/pkg/store"
)

// ChangeType classifies one object against the last known revision.
type ChangeType string

const (
	Created   ChangeType = "created"
	Changed   ChangeType = "changed"
	Unchanged ChangeType = "unchanged"
	Deleted   ChangeType = "deleted"
)

// ChangeItem tracks one object across two revisions.
type ChangeItem struct {
	Item      store.Item
	Type      ChangeType
	OldConfig map[string]any
	NewConfig map[string]any

	CompleteHash string
	DurableHash  string

	// Ephemeral marks a change whose complete hash moved while the
	// durable hash held: only ignored fields differ.
	Ephemeral bool
}

// Location identifies where a fetch failure happened. Name may be empty
// for region- or account-wide failures.
type Location struct {
	Technology store.Technology
	Account    string
	Region     string
	Name       string
}

func (l Location) String() string {
	s := fmt.Sprintf("%s/%s", l.Technology, l.Account)
	if l.Region != "" {
		s += "/" + l.Region
	}
	if l.Name != "" {
		s += "/" + l.Name
	}
	return s
}

// ExceptionMap records fetch failures keyed by location. A broader entry
// covers every location beneath it.
type ExceptionMap map[Location]error

// Add records a failure, keeping the first error per location.
func (m ExceptionMap) Add(loc Location, err error) {
	if _, ok := m[loc]; ok {
		return
	}
	m[loc] = err
}

// Covers reports whether loc falls under any recorded failure, at name,
// region, account or technology granularity. Name-level entries may have
// been recorded without a region when the fetch failed before one was
// known, so the name is probed both with and without loc's region.
func (m ExceptionMap) Covers(loc Location) bool {
	probes := []Location{
		loc,
		{Technology: loc.Technology, Account: loc.Account, Name: loc.Name},
		{Technology: loc.Technology, Account: loc.Account, Region: loc.Region},
		{Technology: loc.Technology, Account: loc.Account},
		{Technology: loc.Technology},
	}
	for _, p := range probes {
		if _, ok := m[p]; ok {
			return true
		}
	}
	return false
}

// ChangeSet is the full classification result of one watcher run. Every
// object in the union of the store and the snapshot lands in exactly one
// of the four buckets.
type ChangeSet struct {
	Account    string
	Technology store.Technology

	Created   []ChangeItem
	Changed   []ChangeItem
	Unchanged []ChangeItem
	Deleted   []ChangeItem

	Exceptions ExceptionMap
}

// HasChanges reports whether anything was created, changed or deleted.
func (c *ChangeSet) HasChanges() bool {
	return len(c.Created) > 0 || len(c.Changed) > 0 || len(c.Deleted) > 0
}

// HasDurableChanges reports whether any change survives ephemeral-field
// filtering; dependency fan-out keys off this.
func (c *ChangeSet) HasDurableChanges() bool {
	if len(c.Created) > 0 || len(c.Deleted) > 0 {
		return true
	}
	for _, ch := range c.Changed {
		if !ch.Ephemeral {
			return true
		}
	}
	return false
}

// AuditScope returns the created and changed items, optionally filtering
// out pure-ephemeral changes.
func (c *ChangeSet) AuditScope(includeEphemeral bool) []ChangeItem {
	scope := make([]ChangeItem, 0, len(c.Created)+len(c.Changed))
	scope = append(scope, c.Created...)
	for _, ch := range c.Changed {
		if ch.Ephemeral && !includeEphemeral {
			continue
		}
		scope = append(scope, ch)
	}
	return scope
}

func (c *ChangeSet) merge(other *ChangeSet) {
	c.Created = append(c.Created, other.Created...)
	c.Changed = append(c.Changed, other.Changed...)
	c.Unchanged = append(c.Unchanged, other.Unchanged...)
	c.Deleted = append(c.Deleted, other.Deleted...)
	for loc, err := range other.Exceptions {
		c.Exceptions.Add(loc, err)
	}
}
