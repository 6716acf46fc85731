package auditor

import (
	"context"
	"errors"
	"fmt"

	"github.com/halcyon-sec/driftwatch/pkg/store"
)

// AttachedPolicyIssuesRule surfaces findings from attached managed
// policies on the item that attaches them. The policy keeps its own
// issues; the attaching item gets one informational linked issue per
// flawed attachment, so a role reviewer sees the problem without leaving
// the role.
func AttachedPolicyIssuesRule(st store.RevisionStore, policyTech store.Technology) Rule {
	return NewRule("attached-policy-issues", func(ctx context.Context, rec *Record) error {
		for _, name := range attachedPolicyNames(rec.Config) {
			sub, err := st.GetItem(ctx, rec.Item.Account, policyTech, name)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("lookup %s %s: %w", policyTech, name, err)
			}
			issues, err := st.IssuesFor(ctx, sub.ID)
			if err != nil {
				return fmt.Errorf("issues for %s %s: %w", policyTech, name, err)
			}
			if unjustifiedScore(issues) > 0 {
				rec.LinkSupport(*sub, "attached policy has open issues")
			}
		}
		return nil
	})
}

func unjustifiedScore(issues []store.Issue) int {
	total := 0
	for _, is := range issues {
		if !is.Justified {
			total += is.Score
		}
	}
	return total
}

// attachedPolicyNames pulls policy names out of the document's attachment
// list.
func attachedPolicyNames(cfg map[string]any) []string {
	attached, ok := cfg["AttachedManagedPolicies"].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, e := range attached {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := m["PolicyName"].(string); ok && name != "" {
			out = append(out, name)
		}
	}
	return out
}
