package watcher

import (
	"context"
	"fmt"
)

// State tracks a batched run's progress through its cursor machine.
type State int

const (
	NotStarted State = iota
	Listing
	Paging
	Draining
	Done
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Listing:
		return "listing"
	case Paging:
		return "paging"
	case Draining:
		return "draining"
	case Done:
		return "done"
	}
	return "unknown"
}

// AuditFunc receives each slice's created and changed items as soon as the
// slice is classified and persisted, so audit results stream out before
// the full fetch completes.
type AuditFunc func(ctx context.Context, items []ChangeItem) error

// BatchedWatcher handles technologies whose object count is too large to
// snapshot atomically. The universe of names is listed up front (cheap);
// full detail is pulled and classified in fixed-size slices behind an
// explicit cursor, so a crashed run restarts cleanly by re-listing.
type BatchedWatcher struct {
	*Watcher
	BatchSize int

	// ReauditEphemeral forwards pure-ephemeral changes to the audit
	// callback; off by default.
	ReauditEphemeral bool

	state  State
	names  []string
	cursor int
	seen   map[string]bool
}

// NewBatched wraps a Watcher with slice-at-a-time fetching.
func NewBatched(w *Watcher, batchSize int) *BatchedWatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &BatchedWatcher{Watcher: w, BatchSize: batchSize, state: NotStarted}
}

// State reports where the cursor machine currently is.
func (b *BatchedWatcher) State() State { return b.state }

// Run drives the state machine to completion for one account: Listing →
// Paging → Draining → Done. Each page's created/changed items are handed
// to audit immediately. The union of classified names across all pages
// equals the initial list exactly once each.
func (b *BatchedWatcher) Run(ctx context.Context, account string, audit AuditFunc) (*ChangeSet, error) {
	total := &ChangeSet{
		Account:    account,
		Technology: b.Technology,
		Exceptions: make(ExceptionMap),
	}

	b.state = Listing
	names, err := b.Source.List(ctx, account)
	if err != nil {
		// Nothing can proceed without the universe of names.
		b.state = Done
		total.Exceptions.Add(Location{Technology: b.Technology, Account: account}, err)
		return total, fmt.Errorf("%w: %s/%s: %v", ErrListFailed, b.Technology, account, err)
	}
	b.names = names
	b.cursor = 0
	b.seen = make(map[string]bool, len(names))

	b.state = Paging
	for b.cursor < len(b.names) {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		page, err := b.page(ctx, account)
		if err != nil {
			return total, err
		}
		total.merge(page)

		if audit != nil {
			scope := page.AuditScope(b.ReauditEphemeral)
			if len(scope) > 0 {
				if err := audit(ctx, scope); err != nil {
					b.Logger.Error("incremental audit failed", "account", account, "error", err)
				}
			}
		}
	}

	b.state = Draining
	if err := b.findDeleted(ctx, account, b.seen, total); err != nil {
		return total, err
	}

	b.state = Done
	b.Logger.Info("batched run complete",
		"account", account,
		"pages", (len(b.names)+b.BatchSize-1)/b.BatchSize,
		"created", len(total.Created),
		"changed", len(total.Changed),
		"unchanged", len(total.Unchanged),
		"deleted", len(total.Deleted),
	)
	return total, nil
}

// page classifies and persists one fixed-size slice of names.
func (b *BatchedWatcher) page(ctx context.Context, account string) (*ChangeSet, error) {
	cs := &ChangeSet{
		Account:    account,
		Technology: b.Technology,
		Exceptions: make(ExceptionMap),
	}

	end := b.cursor + b.BatchSize
	if end > len(b.names) {
		end = len(b.names)
	}
	slice := b.names[b.cursor:end]
	b.cursor = end

	for _, name := range slice {
		if b.ignored(name) {
			continue
		}
		b.seen[name] = true

		cfg, err := b.Source.Get(ctx, account, name)
		if err != nil {
			b.Logger.Warn("object fetch failed", "account", account, "name", name, "error", err)
			cs.Exceptions.Add(b.location(account, cfg, name), err)
			continue
		}

		ci, err := b.classify(ctx, account, name, cfg)
		if err != nil {
			cs.Exceptions.Add(b.location(account, cfg, name), err)
			continue
		}
		if err := b.persist(ctx, ci); err != nil {
			return cs, fmt.Errorf("persist %s/%s/%s: %w", b.Technology, account, name, err)
		}
		cs.add(ci)
	}
	return cs, nil
}
