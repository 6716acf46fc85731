package awsinv

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// SecurityGroupSource inventories EC2 security groups in one region.
type SecurityGroupSource struct {
	client *ec2.Client
	region string
}

func NewSecurityGroupSource(cfg aws.Config) *SecurityGroupSource {
	return &SecurityGroupSource{client: ec2.NewFromConfig(cfg), region: cfg.Region}
}

func (s *SecurityGroupSource) List(ctx context.Context, _ string) ([]string, error) {
	var names []string
	p := ec2.NewDescribeSecurityGroupsPaginator(s.client, &ec2.DescribeSecurityGroupsInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe security groups: %w", err)
		}
		for _, sg := range page.SecurityGroups {
			names = append(names, aws.ToString(sg.GroupId))
		}
	}
	return names, nil
}

func (s *SecurityGroupSource) Get(ctx context.Context, _, name string) (map[string]any, error) {
	out, err := s.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{name},
	})
	if err != nil {
		return nil, fmt.Errorf("describe security group %s: %w", name, err)
	}
	if len(out.SecurityGroups) == 0 {
		return nil, fmt.Errorf("security group %s not found", name)
	}
	sg := out.SecurityGroups[0]

	return map[string]any{
		"GroupId":     aws.ToString(sg.GroupId),
		"GroupName":   aws.ToString(sg.GroupName),
		"Description": aws.ToString(sg.Description),
		"VpcId":       aws.ToString(sg.VpcId),
		"OwnerId":     aws.ToString(sg.OwnerId),
		"Region":      s.region,
		"Ingress":     permissionsToDocs(sg.IpPermissions),
		"Egress":      permissionsToDocs(sg.IpPermissionsEgress),
	}, nil
}

func (s *SecurityGroupSource) Region(string) string { return s.region }

func permissionsToDocs(perms []ec2types.IpPermission) []any {
	out := make([]any, 0, len(perms))
	for _, p := range perms {
		doc := map[string]any{
			"Protocol": aws.ToString(p.IpProtocol),
		}
		if p.FromPort != nil {
			doc["FromPort"] = int(aws.ToInt32(p.FromPort))
		}
		if p.ToPort != nil {
			doc["ToPort"] = int(aws.ToInt32(p.ToPort))
		}
		cidrs := make([]any, 0, len(p.IpRanges))
		for _, r := range p.IpRanges {
			cidrs = append(cidrs, aws.ToString(r.CidrIp))
		}
		doc["Cidrs"] = cidrs
		groups := make([]any, 0, len(p.UserIdGroupPairs))
		for _, g := range p.UserIdGroupPairs {
			groups = append(groups, map[string]any{
				"GroupId": aws.ToString(g.GroupId),
				"UserId":  aws.ToString(g.UserId),
			})
		}
		doc["Groups"] = groups
		out = append(out, doc)
	}
	return out
}
