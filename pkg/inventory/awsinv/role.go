package awsinv

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
)

// RoleSource inventories IAM roles: trust policy plus the names of every
// attached managed policy. Roles are what make policy changes ripple; a
// role's effective permissions move whenever an attached policy does.
type RoleSource struct {
	client *iam.Client
}

func NewRoleSource(cfg aws.Config) *RoleSource {
	return &RoleSource{client: iam.NewFromConfig(cfg)}
}

func (s *RoleSource) List(ctx context.Context, _ string) ([]string, error) {
	var names []string
	p := iam.NewListRolesPaginator(s.client, &iam.ListRolesInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list roles: %w", err)
		}
		for _, role := range page.Roles {
			names = append(names, aws.ToString(role.RoleName))
		}
	}
	return names, nil
}

func (s *RoleSource) Get(ctx context.Context, _ string, name string) (map[string]any, error) {
	out, err := s.client.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err != nil {
		return nil, fmt.Errorf("get role %s: %w", name, err)
	}

	trust, err := decodePolicyDocument(aws.ToString(out.Role.AssumeRolePolicyDocument))
	if err != nil {
		return nil, fmt.Errorf("decode trust policy %s: %w", name, err)
	}

	var attached []any
	ap := iam.NewListAttachedRolePoliciesPaginator(s.client, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(name),
	})
	for ap.HasMorePages() {
		page, err := ap.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list attached policies %s: %w", name, err)
		}
		for _, pol := range page.AttachedPolicies {
			attached = append(attached, map[string]any{
				"PolicyName": aws.ToString(pol.PolicyName),
				"PolicyArn":  aws.ToString(pol.PolicyArn),
			})
		}
	}

	return map[string]any{
		"Arn":                      aws.ToString(out.Role.Arn),
		"RoleName":                 name,
		"Path":                     aws.ToString(out.Role.Path),
		"AssumeRolePolicyDocument": trust,
		"AttachedManagedPolicies":  attached,
		"CreateDate":               out.Role.CreateDate.UTC().Format("2006-01-02T15:04:05Z"),
	}, nil
}
