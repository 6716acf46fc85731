package auditor

import (
	"context"
	"testing"

	"github.com/halcyon-sec/driftwatch/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classifierFixture(t *testing.T) (*Classifier, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.UpsertAccount(ctx, &store.Account{
		Name: "acme", Identifier: "111111111111", Active: true,
	}))
	require.NoError(t, st.UpsertAccount(ctx, &store.Account{
		Name: "acme-dev", Identifier: "222222222222", Active: true,
		Aliases: []string{"acme-dev-canonical-id"},
	}))
	require.NoError(t, st.UpsertAccount(ctx, &store.Account{
		Name: "vendor", Identifier: "333333333333", Active: true, ThirdParty: true,
	}))
	return &Classifier{Store: st}, st
}

func TestClassifyPrincipals(t *testing.T) {
	c, _ := classifierFixture(t)
	ctx := context.Background()

	cases := []struct {
		principal string
		want      EntityKind
	}{
		{"*", Internet},
		{"111111111111", SameAccount},
		{"arn:aws:iam::111111111111:root", SameAccount},
		{"arn:aws:iam::222222222222:role/deploy", Friendly},
		{"acme-dev-canonical-id", Friendly},
		{"333333333333", ThirdParty},
		{"999999999999", UnknownEntity},
	}
	for _, tc := range cases {
		kind, _, err := c.Classify(ctx, "acme", tc.principal)
		require.NoError(t, err)
		assert.Equal(t, tc.want, kind, "principal %s", tc.principal)
	}
}

func TestCrossAccountRuleScoresGrants(t *testing.T) {
	c, _ := classifierFixture(t)
	ctx := context.Background()

	rec := &Record{
		Item: store.Item{Account: "acme", Technology: "bucket", Name: "data"},
		Config: map[string]any{
			"Policy": map[string]any{
				"Statement": []any{
					map[string]any{
						"Effect":    "Allow",
						"Principal": map[string]any{"AWS": []any{"arn:aws:iam::111111111111:root", "999999999999"}},
					},
					map[string]any{
						"Effect":    "Allow",
						"Principal": "*",
					},
					map[string]any{
						"Effect":    "Deny",
						"Principal": "444444444444",
					},
				},
			},
		},
	}
	require.NoError(t, CrossAccountRule(c).Check(ctx, rec))

	categories := map[string]int{}
	for _, is := range rec.Issues() {
		categories[is.Category]++
	}
	// Same-account grant is silent, denied principal never inspected.
	assert.Equal(t, map[string]int{
		"Unknown Access":      1,
		"Internet Accessible": 1,
	}, categories)
	assert.Equal(t, 20, Score(rec.Issues()))
}

func TestConditionedWildcardIsNotInternet(t *testing.T) {
	c, _ := classifierFixture(t)
	ctx := context.Background()

	rec := &Record{
		Item: store.Item{Account: "acme", Technology: "bucket", Name: "logs"},
		Config: map[string]any{
			"Policy": map[string]any{
				"Statement": []any{
					map[string]any{
						"Effect":    "Allow",
						"Principal": "*",
						"Condition": map[string]any{
							"StringEquals": map[string]any{
								"AWS:SourceAccount": "111111111111",
							},
						},
					},
				},
			},
		},
	}
	require.NoError(t, CrossAccountRule(c).Check(ctx, rec))

	// Scoped to the owning account itself: no finding at all.
	assert.Empty(t, rec.Issues())
}

func TestConditionedWildcardClassifiesConditionAccounts(t *testing.T) {
	c, _ := classifierFixture(t)
	ctx := context.Background()

	rec := &Record{
		Item: store.Item{Account: "acme", Technology: "bucket", Name: "drop"},
		Config: map[string]any{
			"Policy": map[string]any{
				"Statement": []any{
					map[string]any{
						"Effect":    "Allow",
						"Principal": "*",
						"Condition": map[string]any{
							"ArnEquals": map[string]any{
								"aws:SourceArn": []any{
									"arn:aws:sns:us-east-1:333333333333:alerts",
								},
							},
						},
					},
					map[string]any{
						"Effect":    "Allow",
						"Principal": "*",
						"Condition": map[string]any{
							"StringEquals": map[string]any{
								"aws:SourceVpc": "vpc-0a1b2c3d",
							},
						},
					},
					map[string]any{
						"Effect":    "Allow",
						"Principal": "*",
					},
				},
			},
		},
	}
	require.NoError(t, CrossAccountRule(c).Check(ctx, rec))

	categories := map[string]int{}
	for _, is := range rec.Issues() {
		categories[is.Category]++
	}
	// ARN-scoped wildcard classifies the condition's account, the
	// VPC-scoped one is silent, only the bare wildcard is world-open.
	assert.Equal(t, map[string]int{
		"Thirdparty Cross Account": 1,
		"Internet Accessible":      1,
	}, categories)
}

func TestSingleStatementObjectForm(t *testing.T) {
	c, _ := classifierFixture(t)
	rec := &Record{
		Item: store.Item{Account: "acme"},
		Config: map[string]any{
			"AssumeRolePolicyDocument": map[string]any{
				"Statement": map[string]any{
					"Effect":    "Allow",
					"Principal": map[string]any{"AWS": "333333333333"},
				},
			},
		},
	}
	require.NoError(t, CrossAccountRule(c).Check(context.Background(), rec))
	require.Len(t, rec.Issues(), 1)
	assert.Equal(t, "Thirdparty Cross Account", rec.Issues()[0].Category)
	assert.Zero(t, rec.Issues()[0].Score)
}
