package auditor

import (
	"context"
	"testing"

	"github.com/halcyon-sec/driftwatch/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucketRulesYAML = `
rules:
  - name: public-acl
    condition: config.acl == "public-read"
    score: 10
    category: Internet Accessible
    notes: ACL grants public read
  - name: versioning-disabled
    condition: "!has(config.versioning) || config.versioning == false"
    score: 3
    category: Insecure Configuration
    notes: bucket versioning is disabled
`

func TestLoadRulesEvaluatesAgainstConfig(t *testing.T) {
	rules, err := LoadRules([]byte(bucketRulesYAML))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	rec := &Record{
		Item:   store.Item{Account: "acme", Name: "logs", Region: "us-east-1"},
		Config: map[string]any{"acl": "public-read", "versioning": true},
	}
	for _, r := range rules {
		require.NoError(t, r.Check(context.Background(), rec))
	}

	issues := rec.Issues()
	require.Len(t, issues, 1)
	assert.Equal(t, "Internet Accessible", issues[0].Category)
	assert.Equal(t, 10, issues[0].Score)
}

func TestRulesFireIndependently(t *testing.T) {
	rules, err := LoadRules([]byte(bucketRulesYAML))
	require.NoError(t, err)

	rec := &Record{
		Item:   store.Item{Account: "acme", Name: "scratch"},
		Config: map[string]any{"acl": "private"},
	}
	for _, r := range rules {
		require.NoError(t, r.Check(context.Background(), rec))
	}
	require.Len(t, rec.Issues(), 1)
	assert.Equal(t, "Insecure Configuration", rec.Issues()[0].Category)
	assert.Equal(t, 3, Score(rec.Issues()))
}

func TestBrokenRuleFailsWholeSet(t *testing.T) {
	_, err := CompileRules([]RuleSpec{
		{Name: "ok", Condition: `name == "x"`},
		{Name: "bad", Condition: `config.acl ==`},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestNilConfigDoesNotPanic(t *testing.T) {
	rules, err := CompileRules([]RuleSpec{
		{Name: "named", Condition: `name == "ghost"`, Score: 1, Category: "c", Notes: "n"},
	})
	require.NoError(t, err)

	rec := &Record{Item: store.Item{Name: "ghost"}}
	require.NoError(t, rules[0].Check(context.Background(), rec))
	assert.Len(t, rec.Issues(), 1)
}
