// Package orchestrator drives full runs: for each (account, technology)
// pair it repairs orphans, watches for changes, audits what changed, and
// re-audits dependent technologies when a durable change warrants it.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/halcyon-sec/driftwatch/internal/swarm"
	"github.com/halcyon-sec/driftwatch/pkg/engine/auditor"
	"github.com/halcyon-sec/driftwatch/pkg/engine/notifier"
	"github.com/halcyon-sec/driftwatch/pkg/engine/registry"
	"github.com/halcyon-sec/driftwatch/pkg/engine/watcher"
	"github.com/halcyon-sec/driftwatch/pkg/store"
)

const (
	defaultMaxAttempts  = 3
	defaultConcurrency  = 8
	defaultExceptionTTL = 10 * 24 * time.Hour
)

// Orchestrator coordinates runs over the registered technology set. All
// store mutation for one (account, technology) pair happens under that
// pair's lock, so concurrent technology runs never interleave writes.
type Orchestrator struct {
	reg    *registry.Registry
	store  store.RevisionStore
	sink   notifier.Sink
	logger *slog.Logger

	maxAttempts  int
	concurrency  int
	exceptionTTL time.Duration

	locks keyedMutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier sets the summary sink.
func WithNotifier(s notifier.Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMaxAttempts bounds retries per (account, technology) task.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithConcurrency caps parallel technology runs within one account.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithExceptionTTL sets how long abandonment records live before pruning.
func WithExceptionTTL(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.exceptionTTL = d
		}
	}
}

// New builds an orchestrator over reg and st.
func New(reg *registry.Registry, st store.RevisionStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reg:          reg,
		store:        st,
		sink:         notifier.Discard{},
		logger:       slog.Default(),
		maxAttempts:  defaultMaxAttempts,
		concurrency:  defaultConcurrency,
		exceptionTTL: defaultExceptionTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one (account, technology) pass: repair orphans, classify
// changes, audit what changed, and fan out to dependents when the change
// set contains anything durable.
func (o *Orchestrator) Run(ctx context.Context, account string, tech store.Technology) (notifier.TechReport, error) {
	def, ok := o.reg.Get(tech)
	if !ok {
		return notifier.TechReport{}, fmt.Errorf("orchestrator: unknown technology %q", tech)
	}

	tr := otel.Tracer("driftwatch/orchestrator")
	ctx, span := tr.Start(ctx, "run", trace.WithAttributes(
		attribute.String("account", account),
		attribute.String("technology", string(tech)),
	))
	defer span.End()

	unlock := o.locks.lock(account, tech)
	defer unlock()

	w := watcher.New(def.Name, def.Source, o.store, def.EphemeralPaths, o.logger)
	w.Ignore = def.Ignore
	aud := auditor.New(def.Name, o.store, o.logger, def.Rules...)

	if err := w.RepairOrphans(ctx, account); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return notifier.TechReport{}, err
	}

	prior, err := o.priorIssueKeys(ctx, account, def.Name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return notifier.TechReport{}, err
	}

	b := watcher.NewBatched(w, def.BatchSize)
	b.ReauditEphemeral = def.ReauditEphemeral
	cs, err := b.Run(ctx, account, aud.Audit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return notifier.TechReport{}, err
	}

	// Deletions surface during the drain phase, after streamed audits.
	if len(cs.Deleted) > 0 {
		if err := aud.Audit(ctx, cs.Deleted); err != nil {
			span.RecordError(err)
			return notifier.TechReport{}, err
		}
	}

	report, err := o.reportFor(ctx, tech, cs, prior)
	if err != nil {
		return notifier.TechReport{}, err
	}

	if cs.HasDurableChanges() {
		if err := o.RunDependents(ctx, account, tech); err != nil {
			span.RecordError(err)
			return report, err
		}
	}
	return report, nil
}

// RunDependents re-audits the full active item set of every technology
// that depends on tech. A re-audit reads stored revisions only; it never
// cascades further.
func (o *Orchestrator) RunDependents(ctx context.Context, account string, tech store.Technology) error {
	for _, dep := range o.reg.Dependents(tech) {
		o.logger.Info("re-auditing dependent technology",
			"account", account, "changed", tech, "dependent", dep.Name)

		unlock := o.locks.lock(account, dep.Name)
		aud := auditor.New(dep.Name, o.store, o.logger, dep.Rules...)
		err := aud.AuditAccount(ctx, account)
		unlock()
		if err != nil {
			return fmt.Errorf("re-audit %s/%s: %w", account, dep.Name, err)
		}
	}
	return nil
}

// RunAccount runs every registered technology for the account on the
// worker pool, retrying failed technologies up to the attempt bound, then
// delivers one summary.
func (o *Orchestrator) RunAccount(ctx context.Context, account string) (notifier.Summary, error) {
	sum := notifier.Summary{
		RunID:     uuid.NewString(),
		Account:   account,
		StartedAt: time.Now().UTC(),
	}

	pool := swarm.NewEngine(o.concurrency, 1, o.concurrency)
	pool.Start(ctx)
	defer pool.Stop()

	var mu sync.Mutex
	for _, tech := range o.reg.Names() {
		tech := tech
		pool.Submit(func(ctx context.Context) error {
			report, err := o.runWithRetry(ctx, account, tech)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Reports = append(sum.Reports, notifier.TechReport{Technology: tech})
				return err
			}
			sum.Reports = append(sum.Reports, report)
			return nil
		})
	}
	pool.Drain()

	if err := o.sink.Notify(ctx, sum); err != nil {
		o.logger.Error("summary delivery failed", "account", account, "error", err)
	}
	return sum, nil
}

// PruneExceptions drops expired diagnostic records.
func (o *Orchestrator) PruneExceptions(ctx context.Context) (int, error) {
	n, err := o.store.PruneExceptions(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		o.logger.Info("pruned expired exceptions", "count", n)
	}
	return n, nil
}

// runWithRetry retries transient failures; after the attempt bound the
// technology is abandoned for this run and an exception recorded.
func (o *Orchestrator) runWithRetry(ctx context.Context, account string, tech store.Technology) (notifier.TechReport, error) {
	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		report, err := o.Run(ctx, account, tech)
		if err == nil {
			return report, nil
		}
		lastErr = err
		o.logger.Warn("technology run failed",
			"account", account, "technology", tech,
			"attempt", attempt, "of", o.maxAttempts, "error", err)
		if ctx.Err() != nil {
			return notifier.TechReport{}, ctx.Err()
		}
	}

	now := time.Now().UTC()
	rec := &store.ExceptionRecord{
		Source:     "orchestrator",
		Account:    account,
		Technology: tech,
		Message:    fmt.Sprintf("abandoned after %d attempts: %v", o.maxAttempts, lastErr),
		OccurredAt: now,
		ExpiresAt:  now.Add(o.exceptionTTL),
	}
	if err := o.store.RecordException(ctx, rec); err != nil {
		o.logger.Error("failed to record abandonment", "account", account, "technology", tech, "error", err)
	}
	return notifier.TechReport{}, fmt.Errorf("run %s/%s: %w", account, tech, lastErr)
}

// priorIssueKeys snapshots which issue keys each item carried before the
// run, so the report can tell findings this run opened from ones already
// standing.
func (o *Orchestrator) priorIssueKeys(ctx context.Context, account string, tech store.Technology) (map[uint]map[string]bool, error) {
	items, err := o.store.ListItems(ctx, account, tech, false)
	if err != nil {
		return nil, fmt.Errorf("list items for %s/%s: %w", account, tech, err)
	}
	prior := make(map[uint]map[string]bool, len(items))
	for _, it := range items {
		issues, err := o.store.IssuesFor(ctx, it.ID)
		if err != nil {
			return nil, fmt.Errorf("issues for %s/%s: %w", account, it.Name, err)
		}
		if len(issues) == 0 {
			continue
		}
		keys := make(map[string]bool, len(issues))
		for _, is := range issues {
			keys[is.Key()] = true
		}
		prior[it.ID] = keys
	}
	return prior, nil
}

// reportFor summarizes one change set. Unjustified covers every open
// finding on the touched items; NewIssues only those absent before the run.
func (o *Orchestrator) reportFor(ctx context.Context, tech store.Technology, cs *watcher.ChangeSet, prior map[uint]map[string]bool) (notifier.TechReport, error) {
	report := notifier.TechReport{
		Technology: tech,
		Created:    len(cs.Created),
		Changed:    len(cs.Changed),
		Deleted:    len(cs.Deleted),
	}
	for _, ci := range cs.AuditScope(true) {
		issues, err := o.store.IssuesFor(ctx, ci.Item.ID)
		if err != nil {
			return report, fmt.Errorf("issues for %s/%s: %w", ci.Item.Account, ci.Item.Name, err)
		}
		for _, is := range issues {
			if is.Justified {
				continue
			}
			report.Unjustified++
			report.Score += is.Score
			if !prior[ci.Item.ID][is.Key()] {
				report.NewIssues++
			}
		}
	}
	return report, nil
}

// keyedMutex provides one mutex per (account, technology) pair.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(account string, tech store.Technology) func() {
	key := account + "/" + string(tech)
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
