// Package app assembles a running engine from configuration: store,
// account seed, technology registry, rules and orchestrator.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/halcyon-sec/driftwatch/pkg/config"
	"github.com/halcyon-sec/driftwatch/pkg/engine/auditor"
	"github.com/halcyon-sec/driftwatch/pkg/engine/notifier"
	"github.com/halcyon-sec/driftwatch/pkg/engine/orchestrator"
	"github.com/halcyon-sec/driftwatch/pkg/engine/registry"
	"github.com/halcyon-sec/driftwatch/pkg/inventory"
	"github.com/halcyon-sec/driftwatch/pkg/inventory/awsinv"
	"github.com/halcyon-sec/driftwatch/pkg/store"
	"github.com/halcyon-sec/driftwatch/pkg/store/sqlite"
	"github.com/halcyon-sec/driftwatch/pkg/telemetry"
	"github.com/halcyon-sec/driftwatch/pkg/version"
)

// App is a fully wired engine instance.
type App struct {
	Config       config.Config
	Store        store.RevisionStore
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger

	shutdownTracing func(context.Context) error
}

// Options alter how the engine is assembled.
type Options struct {
	// MockMode swaps AWS sources for empty scripted ones, letting every
	// command run without credentials.
	MockMode bool
	// Region overrides the AWS region for source clients.
	Region string
}

// Bootstrap builds an App from cfg.
func Bootstrap(ctx context.Context, cfg config.Config, opts Options, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	shutdown, err := telemetry.Init(ctx, version.AppName, version.Current, cfg.Telemetry.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	st, err := openStore(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	if err := seedAccounts(ctx, st, cfg.Accounts); err != nil {
		return nil, err
	}

	reg, err := buildRegistry(ctx, cfg, opts, st)
	if err != nil {
		return nil, err
	}

	sink := notifier.Sink(notifier.Discard{})
	if cfg.Notifier.SlackWebhookURL != "" {
		sink = notifier.NewSlackClient(cfg.Notifier.SlackWebhookURL, cfg.Notifier.SlackChannel)
	}

	orch := orchestrator.New(reg, st,
		orchestrator.WithLogger(logger),
		orchestrator.WithNotifier(sink),
		orchestrator.WithConcurrency(cfg.Engine.Concurrency),
		orchestrator.WithMaxAttempts(cfg.Engine.MaxAttempts),
		orchestrator.WithExceptionTTL(cfg.Engine.ExceptionTTL),
	)

	return &App{
		Config:          cfg,
		Store:           st,
		Registry:        reg,
		Orchestrator:    orch,
		Logger:          logger,
		shutdownTracing: shutdown,
	}, nil
}

// Close flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	if a.shutdownTracing != nil {
		return a.shutdownTracing(ctx)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, opts Options) (store.RevisionStore, error) {
	if opts.MockMode || cfg.Database.Path == "" {
		return store.NewMemoryStore(), nil
	}
	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}
	if err := sqlite.Migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return sqlite.NewRepository(db), nil
}

func seedAccounts(ctx context.Context, st store.RevisionStore, accounts []config.AccountConfig) error {
	for _, a := range accounts {
		existing, err := st.GetAccount(ctx, a.Name)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("lookup account %s: %w", a.Name, err)
		}
		acct := &store.Account{
			Name:       a.Name,
			Identifier: a.Identifier,
			Active:     true,
			ThirdParty: a.ThirdParty,
			Aliases:    a.Aliases,
			Notes:      a.Notes,
		}
		if existing != nil {
			acct.ID = existing.ID
		}
		if err := st.UpsertAccount(ctx, acct); err != nil {
			return fmt.Errorf("seed account %s: %w", a.Name, err)
		}
	}
	return nil
}

// techSpec wires one built-in technology: where it comes from, which
// config fields are noise, and what it depends on.
type techSpec struct {
	name      store.Technology
	source    func(c *awsinv.Client) inventory.Source
	ephemeral []string
	dependsOn []store.Technology
	crossAcct bool
}

func builtinTechnologies() []techSpec {
	return []techSpec{
		{
			name:      "policy",
			source:    func(c *awsinv.Client) inventory.Source { return awsinv.NewPolicySource(c.Config) },
			ephemeral: []string{"UpdateDate", "AttachmentCount"},
		},
		{
			name:      "s3",
			source:    func(c *awsinv.Client) inventory.Source { return awsinv.NewBucketSource(c.Config) },
			crossAcct: true,
		},
		{
			name:   "securitygroup",
			source: func(c *awsinv.Client) inventory.Source { return awsinv.NewSecurityGroupSource(c.Config) },
		},
		{
			name:      "role",
			source:    func(c *awsinv.Client) inventory.Source { return awsinv.NewRoleSource(c.Config) },
			dependsOn: []store.Technology{"policy"},
			crossAcct: true,
		},
	}
}

func buildRegistry(ctx context.Context, cfg config.Config, opts Options, st store.RevisionStore) (*registry.Registry, error) {
	var client *awsinv.Client
	if !opts.MockMode {
		var err error
		client, err = awsinv.NewClient(ctx, opts.Region)
		if err != nil {
			return nil, fmt.Errorf("aws session: %w", err)
		}
		if _, err := client.VerifyIdentity(ctx); err != nil {
			return nil, fmt.Errorf("verify caller identity: %w", err)
		}
	}

	classifier := &auditor.Classifier{Store: st}
	reg := registry.New()
	for _, spec := range builtinTechnologies() {
		var src inventory.Source
		if opts.MockMode {
			src = inventory.NewMockSource()
		} else {
			src = spec.source(client)
		}

		var rules []auditor.Rule
		if spec.crossAcct {
			rules = append(rules, auditor.CrossAccountRule(classifier))
		}
		for _, dep := range spec.dependsOn {
			rules = append(rules, auditor.AttachedPolicyIssuesRule(st, dep))
		}
		fileRules, err := loadRuleFile(cfg.Engine.RulesDir, spec.name)
		if err != nil {
			return nil, err
		}
		rules = append(rules, fileRules...)

		def := registry.Definition{
			Name:           spec.name,
			Source:         src,
			EphemeralPaths: spec.ephemeral,
			BatchSize:      cfg.Engine.BatchSize,
			Rules:          rules,
			DependsOn:      spec.dependsOn,
		}
		if over, ok := cfg.Technology(string(spec.name)); ok {
			if over.BatchSize > 0 {
				def.BatchSize = over.BatchSize
			}
			def.ReauditEphemeral = over.ReauditEphemeral
			def.Ignore = over.Ignore
		}
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func loadRuleFile(dir string, tech store.Technology) ([]auditor.Rule, error) {
	if dir == "" {
		return nil, nil
	}
	path := filepath.Join(dir, string(tech)+".yaml")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	rules, err := auditor.LoadRules(data)
	if err != nil {
		return nil, fmt.Errorf("compile rules %s: %w", path, err)
	}
	return rules, nil
}
