// Package auditor evaluates rules against item configurations and persists
// the resulting issues. Each run replaces an item's issues wholesale; a
// finding that survives from the previous run keeps its justification.
package auditor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/halcyon-sec/driftwatch/pkg/engine/watcher"
	"github.com/halcyon-sec/driftwatch/pkg/store"
)

// Record is one item under audit. Rules append findings to it; the auditor
// persists them once every rule has run.
type Record struct {
	Item   store.Item
	Config map[string]any

	issues []store.Issue
}

// AddIssue appends a finding. Score 0 findings are informational.
func (r *Record) AddIssue(score int, category, notes string) {
	r.issues = append(r.issues, store.Issue{
		ItemID:   r.Item.ID,
		Score:    score,
		Category: category,
		Notes:    notes,
	})
}

// LinkSupport records an informational finding caused by another item, e.g.
// a managed policy attached to the role under audit. The linked item's own
// issues stay on the linked item; this marker only ties the two together.
func (r *Record) LinkSupport(sub store.Item, note string) {
	r.issues = append(r.issues, store.Issue{
		ItemID:           r.Item.ID,
		Score:            0,
		Category:         "Supporting Item",
		Notes:            fmt.Sprintf("%s (%s/%s)", note, sub.Technology, sub.Name),
		SupportingItemID: sub.ID,
	})
}

// Issues returns the findings accumulated so far.
func (r *Record) Issues() []store.Issue { return r.issues }

// Rule is one named check. A rule that errors is skipped for that item; it
// never blocks other rules or issue persistence.
type Rule interface {
	Name() string
	Check(ctx context.Context, rec *Record) error
}

// RuleFunc adapts a function to the Rule interface.
type RuleFunc func(ctx context.Context, rec *Record) error

type namedRule struct {
	name string
	fn   RuleFunc
}

func (r namedRule) Name() string                                  { return r.name }
func (r namedRule) Check(ctx context.Context, rec *Record) error { return r.fn(ctx, rec) }

// NewRule wraps fn as a named Rule.
func NewRule(name string, fn RuleFunc) Rule {
	return namedRule{name: name, fn: fn}
}

// Auditor runs a rule set for one technology.
type Auditor struct {
	Technology store.Technology
	Store      store.RevisionStore
	Rules      []Rule
	Logger     *slog.Logger
}

// New builds an auditor. A nil logger falls back to slog.Default.
func New(tech store.Technology, st store.RevisionStore, logger *slog.Logger, rules ...Rule) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{Technology: tech, Store: st, Rules: rules, Logger: logger}
}

// Audit evaluates the rule set against each classified change. Deleted
// items have their issues cleared; created and changed items are audited
// against their new configuration.
func (a *Auditor) Audit(ctx context.Context, items []watcher.ChangeItem) error {
	for i := range items {
		ci := &items[i]
		if ci.Type == watcher.Deleted {
			if err := a.Store.ReplaceIssues(ctx, ci.Item.ID, nil); err != nil {
				return fmt.Errorf("clear issues for %s/%s: %w", ci.Item.Account, ci.Item.Name, err)
			}
			continue
		}
		if err := a.auditOne(ctx, ci.Item, ci.NewConfig); err != nil {
			return err
		}
	}
	return nil
}

// AuditAccount re-audits every active item of this technology in the
// account against its latest stored revision. Used when a dependency of
// the technology changed and every item may be affected.
func (a *Auditor) AuditAccount(ctx context.Context, account string) error {
	items, err := a.Store.ListItems(ctx, account, a.Technology, false)
	if err != nil {
		return fmt.Errorf("list items %s/%s: %w", account, a.Technology, err)
	}
	for _, it := range items {
		rev, err := a.Store.LatestRevision(ctx, it.ID)
		if err != nil {
			a.Logger.Warn("skipping item with unreadable revision",
				"account", account, "name", it.Name, "error", err)
			continue
		}
		if err := a.auditOne(ctx, it, rev.Config); err != nil {
			return err
		}
	}
	return nil
}

func (a *Auditor) auditOne(ctx context.Context, item store.Item, cfg map[string]any) error {
	rec := &Record{Item: item, Config: cfg}
	for _, rule := range a.Rules {
		if err := rule.Check(ctx, rec); err != nil {
			a.Logger.Error("rule failed",
				"rule", rule.Name(),
				"technology", a.Technology,
				"account", item.Account,
				"name", item.Name,
				"error", err,
			)
		}
	}
	return a.saveIssues(ctx, item.ID, rec.issues)
}

// saveIssues replaces the item's issues with the fresh set, carrying
// justification state over for findings present in both runs.
func (a *Auditor) saveIssues(ctx context.Context, itemID uint, fresh []store.Issue) error {
	existing, err := a.Store.IssuesFor(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load issues for item %d: %w", itemID, err)
	}
	prior := make(map[string]store.Issue, len(existing))
	for _, is := range existing {
		prior[is.Key()] = is
	}
	for i := range fresh {
		if old, ok := prior[fresh[i].Key()]; ok {
			fresh[i].Justified = old.Justified
			fresh[i].Justification = old.Justification
			fresh[i].JustifiedAt = old.JustifiedAt
		}
	}
	return a.Store.ReplaceIssues(ctx, itemID, fresh)
}

// Score sums the unjustified issue scores for one item.
func Score(issues []store.Issue) int {
	total := 0
	for _, is := range issues {
		if !is.Justified {
			total += is.Score
		}
	}
	return total
}
