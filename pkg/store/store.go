// Package store defines the persisted inventory model: accounts, tracked
// items, their immutable revision history, audit issues and diagnostic
// exception records. Implementations live in subpackages; the engine only
// depends on the RevisionStore interface.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup misses.
var ErrNotFound = errors.New("store: not found")

// Account is one monitored cloud account. Aliases hold every identifier the
// account is known by externally (account number, canonical storage id,
// subscription id) and are what entity classification resolves against.
type Account struct {
	ID         uint     `json:"id"`
	Name       string   `json:"name"`
	Identifier string   `json:"identifier"`
	Active     bool     `json:"active"`
	ThirdParty bool     `json:"third_party"`
	Aliases    []string `json:"aliases,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

// Technology is a named object type, used as a join key everywhere.
type Technology string

// Item is one tracked object instance. Items are never hard-deleted while
// history exists; deletion is an inactive empty-config revision.
type Item struct {
	ID         uint       `json:"id"`
	Account    string     `json:"account"`
	Technology Technology `json:"technology"`
	Name       string     `json:"name"`
	Region     string     `json:"region"`
	ResourceID string     `json:"resource_id,omitempty"`

	LatestRevisionID uint   `json:"latest_revision_id"`
	CompleteHash     string `json:"complete_hash"`
	DurableHash      string `json:"durable_hash"`
}

// ItemRevision is an immutable configuration snapshot. For a given item,
// revisions are totally ordered by CreatedAt and exactly one is referenced
// by the item as current.
type ItemRevision struct {
	ID           uint           `json:"id"`
	ItemID       uint           `json:"item_id"`
	Config       map[string]any `json:"config"`
	Active       bool           `json:"active"`
	CompleteHash string         `json:"complete_hash"`
	DurableHash  string         `json:"durable_hash"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Issue is one finding produced by one rule execution against one item.
// Issues are recomputed wholesale each audit run; surviving issues keep
// their justification state.
type Issue struct {
	ID       uint   `json:"id"`
	ItemID   uint   `json:"item_id"`
	Score    int    `json:"score"`
	Category string `json:"category"`
	Notes    string `json:"notes"`

	Justified     bool       `json:"justified"`
	Justification string     `json:"justification,omitempty"`
	JustifiedAt   *time.Time `json:"justified_at,omitempty"`

	// SupportingItemID links to another item whose own issues caused this
	// one, e.g. a managed policy referenced by a role.
	SupportingItemID uint `json:"supporting_item_id,omitempty"`
}

// Key identifies an issue for replacement purposes: two issues with the
// same key are the same finding across runs.
func (i Issue) Key() string {
	return i.Category + " -- " + i.Notes
}

// ExceptionRecord captures a fetch or audit failure. Purely diagnostic;
// pruned once ExpiresAt passes.
type ExceptionRecord struct {
	ID         uint       `json:"id"`
	Source     string     `json:"source"`
	Account    string     `json:"account"`
	Technology Technology `json:"technology"`
	Region     string     `json:"region"`
	Name       string     `json:"name,omitempty"`
	Message    string     `json:"message"`
	OccurredAt time.Time  `json:"occurred_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// RevisionStore is the engine's only shared mutable resource. All mutation
// is append-of-revision plus latest-pointer swap on Item, safe under
// per-(account, technology) mutual exclusion.
type RevisionStore interface {
	// Accounts.
	GetAccount(ctx context.Context, name string) (*Account, error)
	FindAccountByAlias(ctx context.Context, value string) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	UpsertAccount(ctx context.Context, acct *Account) error

	// Items and revisions.
	GetItem(ctx context.Context, account string, tech Technology, name string) (*Item, error)
	ListItems(ctx context.Context, account string, tech Technology, includeInactive bool) ([]Item, error)
	LatestRevision(ctx context.Context, itemID uint) (*ItemRevision, error)

	// AppendRevision persists a new revision for the item, creating the
	// item row on first sighting, and swaps the latest-revision pointer.
	// The revision write is a single atomic record.
	AppendRevision(ctx context.Context, item *Item, config map[string]any, active bool, completeHash, durableHash string) (*ItemRevision, error)

	// OrphanedItems returns items with no latest revision pointer, so a
	// run can repair them with a deletion record before classifying.
	OrphanedItems(ctx context.Context, account string, tech Technology) ([]Item, error)

	// Issues.
	IssuesFor(ctx context.Context, itemID uint) ([]Issue, error)
	ReplaceIssues(ctx context.Context, itemID uint, issues []Issue) error

	// Exceptions.
	RecordException(ctx context.Context, rec *ExceptionRecord) error
	ListExceptions(ctx context.Context, account string, tech Technology) ([]ExceptionRecord, error)
	PruneExceptions(ctx context.Context, now time.Time) (int, error)
}
