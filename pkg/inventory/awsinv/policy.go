package awsinv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
)

// PolicySource inventories customer-managed IAM policies. Documents carry
// the default policy version body decoded into a nested map.
type PolicySource struct {
	client *iam.Client
}

func NewPolicySource(cfg aws.Config) *PolicySource {
	return &PolicySource{client: iam.NewFromConfig(cfg)}
}

func (s *PolicySource) List(ctx context.Context, _ string) ([]string, error) {
	var names []string
	p := iam.NewListPoliciesPaginator(s.client, &iam.ListPoliciesInput{
		Scope: iamtypes.PolicyScopeTypeLocal,
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list policies: %w", err)
		}
		for _, pol := range page.Policies {
			names = append(names, aws.ToString(pol.PolicyName))
		}
	}
	return names, nil
}

func (s *PolicySource) Get(ctx context.Context, account, name string) (map[string]any, error) {
	arn := fmt.Sprintf("arn:aws:iam::%s:policy/%s", account, name)
	pol, err := s.client.GetPolicy(ctx, &iam.GetPolicyInput{PolicyArn: aws.String(arn)})
	if err != nil {
		return nil, fmt.Errorf("get policy %s: %w", name, err)
	}

	ver, err := s.client.GetPolicyVersion(ctx, &iam.GetPolicyVersionInput{
		PolicyArn: aws.String(arn),
		VersionId: pol.Policy.DefaultVersionId,
	})
	if err != nil {
		return nil, fmt.Errorf("get policy version %s: %w", name, err)
	}

	doc, err := decodePolicyDocument(aws.ToString(ver.PolicyVersion.Document))
	if err != nil {
		return nil, fmt.Errorf("decode policy %s: %w", name, err)
	}

	return map[string]any{
		"Arn":             arn,
		"PolicyName":      name,
		"Document":        doc,
		"AttachmentCount": int(aws.ToInt32(pol.Policy.AttachmentCount)),
		"UpdateDate":      pol.Policy.UpdateDate.UTC().Format("2006-01-02T15:04:05Z"),
	}, nil
}

// decodePolicyDocument handles the URL-encoded JSON that IAM returns.
func decodePolicyDocument(raw string) (any, error) {
	unescaped, err := url.QueryUnescape(raw)
	if err != nil {
		unescaped = raw
	}
	var doc any
	if err := json.Unmarshal([]byte(unescaped), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
