// Package watcher obtains the current configuration snapshot for one
// technology in one account and compares it against the last recorded
// revisions to find created, changed, unchanged and deleted objects.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/halcyon-sec/driftwatch/pkg/hashing"
	"github.com/halcyon-sec/driftwatch/pkg/inventory"
	"github.com/halcyon-sec/driftwatch/pkg/store"
)

// ErrListFailed wraps a failure to enumerate the technology's objects.
// Fatal for the run: without the universe of names, deletions cannot be
// classified safely.
var ErrListFailed = errors.New("watcher: list failed")

// Watcher compares one technology's live snapshot against the store.
type Watcher struct {
	Technology     store.Technology
	Source         inventory.Source
	Store          store.RevisionStore
	EphemeralPaths []hashing.Path

	// Ignore lists name prefixes to skip entirely (never fetched, never
	// classified, never deleted).
	Ignore []string

	Logger *slog.Logger
}

// New constructs a Watcher with a namespaced logger.
func New(tech store.Technology, src inventory.Source, st store.RevisionStore, ephemeral []string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		Technology:     tech,
		Source:         src,
		Store:          st,
		EphemeralPaths: hashing.ParsePaths(ephemeral),
		Logger:         logger.With("technology", string(tech)),
	}
}

// FetchAndClassify pulls the full current snapshot, classifies every
// object, persists new revisions for created/changed/deleted items and
// returns the resulting ChangeSet. Per-object fetch failures land in the
// exception map and do not abort the run.
func (w *Watcher) FetchAndClassify(ctx context.Context, account string) (*ChangeSet, error) {
	cs := &ChangeSet{
		Account:    account,
		Technology: w.Technology,
		Exceptions: make(ExceptionMap),
	}

	names, err := w.Source.List(ctx, account)
	if err != nil {
		cs.Exceptions.Add(Location{Technology: w.Technology, Account: account}, err)
		return cs, fmt.Errorf("%w: %s/%s: %v", ErrListFailed, w.Technology, account, err)
	}

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if w.ignored(name) {
			continue
		}
		seen[name] = true

		cfg, err := w.Source.Get(ctx, account, name)
		if err != nil {
			// A transient fetch failure must never be misclassified as a
			// deletion; the object keeps its last known revision.
			w.Logger.Warn("object fetch failed", "account", account, "name", name, "error", err)
			cs.Exceptions.Add(w.location(account, cfg, name), err)
			continue
		}

		ci, err := w.classify(ctx, account, name, cfg)
		if err != nil {
			cs.Exceptions.Add(w.location(account, cfg, name), err)
			continue
		}
		if err := w.persist(ctx, ci); err != nil {
			return cs, fmt.Errorf("persist %s/%s/%s: %w", w.Technology, account, name, err)
		}
		cs.add(ci)
	}

	if err := w.findDeleted(ctx, account, seen, cs); err != nil {
		return cs, err
	}

	w.Logger.Info("classification complete",
		"account", account,
		"created", len(cs.Created),
		"changed", len(cs.Changed),
		"unchanged", len(cs.Unchanged),
		"deleted", len(cs.Deleted),
		"exceptions", len(cs.Exceptions),
	)
	return cs, nil
}

// classify compares one fetched document against the item's last revision.
func (w *Watcher) classify(ctx context.Context, account, name string, cfg map[string]any) (*ChangeItem, error) {
	complete := hashing.CompleteHash(cfg)
	durable := hashing.DurableHash(cfg, w.EphemeralPaths)

	item, err := w.Store.GetItem(ctx, account, w.Technology, name)
	if errors.Is(err, store.ErrNotFound) {
		return &ChangeItem{
			Item: store.Item{
				Account:    account,
				Technology: w.Technology,
				Name:       name,
				Region:     w.region(name),
				ResourceID: resourceID(cfg),
			},
			Type:         Created,
			NewConfig:    cfg,
			CompleteHash: complete,
			DurableHash:  durable,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	ci := &ChangeItem{
		Item:         *item,
		NewConfig:    cfg,
		CompleteHash: complete,
		DurableHash:  durable,
	}
	if item.CompleteHash == complete {
		ci.Type = Unchanged
		return ci, nil
	}

	ci.Type = Changed
	ci.Ephemeral = item.DurableHash == durable
	if rev, err := w.Store.LatestRevision(ctx, item.ID); err == nil {
		ci.OldConfig = rev.Config
	}
	return ci, nil
}

// persist appends a revision for created/changed/deleted items and leaves
// unchanged items untouched.
func (w *Watcher) persist(ctx context.Context, ci *ChangeItem) error {
	switch ci.Type {
	case Unchanged:
		return nil
	case Deleted:
		_, err := w.Store.AppendRevision(ctx, &ci.Item, map[string]any{}, false, ci.CompleteHash, ci.DurableHash)
		return err
	default:
		_, err := w.Store.AppendRevision(ctx, &ci.Item, ci.NewConfig, isActive(ci.NewConfig), ci.CompleteHash, ci.DurableHash)
		return err
	}
}

// findDeleted classifies store items absent from the snapshot. Items under
// a recorded exception are skipped: they may exist and simply have failed
// to fetch.
func (w *Watcher) findDeleted(ctx context.Context, account string, seen map[string]bool, cs *ChangeSet) error {
	known, err := w.Store.ListItems(ctx, account, w.Technology, false)
	if err != nil {
		return fmt.Errorf("list known items: %w", err)
	}
	for _, item := range known {
		if seen[item.Name] || w.ignored(item.Name) {
			continue
		}
		loc := Location{Technology: w.Technology, Account: account, Region: item.Region, Name: item.Name}
		if cs.Exceptions.Covers(loc) {
			w.Logger.Debug("skipping delete classification under exception", "location", loc.String())
			continue
		}

		empty := map[string]any{}
		ci := &ChangeItem{
			Item:         item,
			Type:         Deleted,
			NewConfig:    empty,
			CompleteHash: hashing.CompleteHash(empty),
			DurableHash:  hashing.DurableHash(empty, w.EphemeralPaths),
		}
		if rev, err := w.Store.LatestRevision(ctx, item.ID); err == nil {
			ci.OldConfig = rev.Config
		}
		if err := w.persist(ctx, ci); err != nil {
			return fmt.Errorf("persist deletion %s: %w", item.Name, err)
		}
		w.Logger.Info("object deleted", "account", account, "name", item.Name)
		cs.add(ci)
	}
	return nil
}

// RepairOrphans appends a deletion record to items that have no latest
// revision pointer, so classification starts from a consistent store.
func (w *Watcher) RepairOrphans(ctx context.Context, account string) error {
	orphans, err := w.Store.OrphanedItems(ctx, account, w.Technology)
	if err != nil {
		return err
	}
	for _, item := range orphans {
		w.Logger.Warn("repairing orphaned item", "account", account, "name", item.Name)
		empty := map[string]any{}
		_, err := w.Store.AppendRevision(ctx, &item, empty, false,
			hashing.CompleteHash(empty), hashing.DurableHash(empty, w.EphemeralPaths))
		if err != nil {
			return fmt.Errorf("repair orphan %s: %w", item.Name, err)
		}
	}
	return nil
}

func (w *Watcher) ignored(name string) bool {
	for _, prefix := range w.Ignore {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func (w *Watcher) region(name string) string {
	if r, ok := w.Source.(inventory.Regioned); ok {
		return r.Region(name)
	}
	return ""
}

func (w *Watcher) location(account string, cfg map[string]any, name string) Location {
	loc := Location{Technology: w.Technology, Account: account, Name: name}
	if cfg != nil {
		if region, ok := cfg["Region"].(string); ok {
			loc.Region = region
		}
	}
	return loc
}

func (cs *ChangeSet) add(ci *ChangeItem) {
	switch ci.Type {
	case Created:
		cs.Created = append(cs.Created, *ci)
	case Changed:
		cs.Changed = append(cs.Changed, *ci)
	case Unchanged:
		cs.Unchanged = append(cs.Unchanged, *ci)
	case Deleted:
		cs.Deleted = append(cs.Deleted, *ci)
	}
}

// isActive reports whether a configuration represents a live object. A
// document consisting solely of an identifier is a tombstone left by a
// partial fetch.
func isActive(cfg map[string]any) bool {
	if len(cfg) == 0 {
		return false
	}
	if len(cfg) == 1 {
		for k := range cfg {
			if k == "Arn" {
				return false
			}
		}
	}
	return true
}

func resourceID(cfg map[string]any) string {
	if arn, ok := cfg["Arn"].(string); ok {
		return arn
	}
	return ""
}
