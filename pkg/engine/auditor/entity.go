package auditor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/halcyon-sec/driftwatch/pkg/store"
)

// EntityKind classifies a principal granted access by a policy.
type EntityKind int

const (
	UnknownEntity EntityKind = iota
	SameAccount
	Friendly
	ThirdParty
	Internet
)

func (k EntityKind) String() string {
	switch k {
	case SameAccount:
		return "same-account"
	case Friendly:
		return "friendly"
	case ThirdParty:
		return "third-party"
	case Internet:
		return "internet"
	default:
		return "unknown"
	}
}

// Classifier resolves policy principals against the known account set.
// Every alias of a known account counts as that account.
type Classifier struct {
	Store store.RevisionStore
}

// Classify resolves one principal for an item owned by ownAccount. The
// wildcard principal is the internet. An identifier that resolves to no
// known account or alias is unknown and must be treated as hostile.
func (c *Classifier) Classify(ctx context.Context, ownAccount, principal string) (EntityKind, *store.Account, error) {
	if principal == "*" {
		return Internet, nil, nil
	}
	ident := principalIdentifier(principal)
	if ident == "" {
		return UnknownEntity, nil, nil
	}

	acct, err := c.Store.FindAccountByAlias(ctx, ident)
	if errors.Is(err, store.ErrNotFound) {
		return UnknownEntity, nil, nil
	}
	if err != nil {
		return UnknownEntity, nil, err
	}
	if acct.Name == ownAccount {
		return SameAccount, acct, nil
	}
	if acct.ThirdParty {
		return ThirdParty, acct, nil
	}
	return Friendly, acct, nil
}

// principalIdentifier extracts the account identifier from a principal
// string: a bare account number passes through, an ARN yields its account
// field.
func principalIdentifier(principal string) string {
	if !strings.HasPrefix(principal, "arn:") {
		return principal
	}
	parts := strings.Split(principal, ":")
	if len(parts) < 6 {
		return ""
	}
	return parts[4]
}

// RecordAccess appends the standard finding for one classified principal.
// Internet and unknown access score 10; recognized cross-account access is
// informational.
func (r *Record) RecordAccess(kind EntityKind, acct *store.Account, principal string) {
	switch kind {
	case Internet:
		r.AddIssue(10, "Internet Accessible", "policy grants access to the internet")
	case UnknownEntity:
		r.AddIssue(10, "Unknown Access", fmt.Sprintf("policy grants access to unknown entity %q", principal))
	case ThirdParty:
		r.AddIssue(0, "Thirdparty Cross Account", fmt.Sprintf("policy grants access to third party account %s", acct.Name))
	case Friendly:
		r.AddIssue(0, "Friendly Cross Account", fmt.Sprintf("policy grants access to friendly account %s", acct.Name))
	case SameAccount:
		// Access within the owning account is never a finding.
	}
}

// CrossAccountRule audits every Allow statement principal found in the
// item's policy documents.
func CrossAccountRule(c *Classifier) Rule {
	return NewRule("cross-account-access", func(ctx context.Context, rec *Record) error {
		for _, principal := range allowPrincipals(rec.Config) {
			kind, acct, err := c.Classify(ctx, rec.Item.Account, principal)
			if err != nil {
				return err
			}
			rec.RecordAccess(kind, acct, principal)
		}
		return nil
	})
}

// allowPrincipals walks the configuration's policy documents and collects
// the principals of every Allow statement. Duplicate principals collapse
// so one grant yields one finding. A wildcard principal scoped by a
// condition is not a world-open grant: the condition's account identifiers
// are collected in its place, and a wildcard scoped to no account at all
// (source VPC, source IP, org id) yields nothing.
func allowPrincipals(cfg map[string]any) []string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, key := range []string{"Policy", "PolicyDocument", "AssumeRolePolicyDocument"} {
		doc, ok := cfg[key].(map[string]any)
		if !ok {
			continue
		}
		for _, stmt := range statements(doc) {
			if effect, _ := stmt["Effect"].(string); effect != "Allow" {
				continue
			}
			condAccounts, scoped := scopingCondition(stmt["Condition"])
			for _, p := range statementPrincipals(stmt["Principal"]) {
				if p == "*" && scoped {
					for _, id := range condAccounts {
						add(id)
					}
					continue
				}
				add(p)
			}
		}
	}
	return out
}

// scopingCondition inspects a statement Condition block and reports whether
// it restricts who the statement applies to, collecting any account
// identifiers or ARNs it names. Identifier-free scoping keys still count as
// scoping.
func scopingCondition(v any) ([]string, bool) {
	cond, ok := v.(map[string]any)
	if !ok || len(cond) == 0 {
		return nil, false
	}
	var accounts []string
	scoped := false
	for _, byOperator := range cond {
		kv, ok := byOperator.(map[string]any)
		if !ok {
			continue
		}
		for key, val := range kv {
			switch strings.ToLower(key) {
			case "aws:sourceaccount", "aws:sourceowner", "aws:principalaccount",
				"aws:sourcearn", "aws:principalarn", "kms:calleraccount":
				scoped = true
				accounts = append(accounts, conditionValues(val)...)
			case "aws:sourcevpc", "aws:sourcevpce", "aws:sourceip", "aws:principalorgid":
				scoped = true
			}
		}
	}
	return accounts, scoped
}

func conditionValues(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		var out []string
		for _, e := range val {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func statements(doc map[string]any) []map[string]any {
	var out []map[string]any
	switch v := doc["Statement"].(type) {
	case []any:
		for _, s := range v {
			if m, ok := s.(map[string]any); ok {
				out = append(out, m)
			}
		}
	case map[string]any:
		out = append(out, v)
	}
	return out
}

func statementPrincipals(v any) []string {
	switch p := v.(type) {
	case string:
		return []string{p}
	case []any:
		var out []string
		for _, e := range p {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case map[string]any:
		var out []string
		for _, sub := range p {
			out = append(out, statementPrincipals(sub)...)
		}
		return out
	}
	return nil
}
