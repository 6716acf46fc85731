package auditor

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"gopkg.in/yaml.v3"
)

// RuleSpec is one user-defined rule, typically loaded from YAML. The
// condition is a CEL expression over the variables name, account, region
// and config; a true result raises the finding.
type RuleSpec struct {
	Name      string `yaml:"name"`
	Condition string `yaml:"condition"`
	Score     int    `yaml:"score"`
	Category  string `yaml:"category"`
	Notes     string `yaml:"notes"`
}

type ruleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// LoadRules parses a YAML rule document and compiles every rule.
func LoadRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return CompileRules(f.Rules)
}

// CompileRules compiles specs into executable rules. A compile error in
// any rule fails the whole set so a broken rule file never half-loads.
func CompileRules(specs []RuleSpec) ([]Rule, error) {
	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("name", decls.String),
			decls.NewVar("account", decls.String),
			decls.NewVar("region", decls.String),
			decls.NewVar("config", decls.NewMapType(decls.String, decls.Dyn)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}

	rules := make([]Rule, 0, len(specs))
	for _, spec := range specs {
		ast, issues := env.Compile(spec.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %s: %w", spec.Name, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", spec.Name, err)
		}
		rules = append(rules, &celRule{spec: spec, prg: prg})
	}
	return rules, nil
}

type celRule struct {
	spec RuleSpec
	prg  cel.Program
}

func (r *celRule) Name() string { return r.spec.Name }

func (r *celRule) Check(_ context.Context, rec *Record) error {
	cfg := rec.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	out, _, err := r.prg.Eval(map[string]any{
		"name":    rec.Item.Name,
		"account": rec.Item.Account,
		"region":  rec.Item.Region,
		"config":  cfg,
	})
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", r.spec.Name, err)
	}
	if match, ok := out.Value().(bool); ok && match {
		rec.AddIssue(r.spec.Score, r.spec.Category, r.spec.Notes)
	}
	return nil
}
