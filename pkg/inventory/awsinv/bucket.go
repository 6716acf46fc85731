package awsinv

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BucketSource inventories S3 buckets. Bucket APIs must be called against
// the bucket's own region, so clients are cached per region.
type BucketSource struct {
	base     aws.Config
	client   *s3.Client
	mu       sync.Mutex
	byRegion map[string]*s3.Client
	regions  map[string]string // bucket -> region, filled during Get
}

func NewBucketSource(cfg aws.Config) *BucketSource {
	return &BucketSource{
		base:     cfg,
		client:   s3.NewFromConfig(cfg),
		byRegion: make(map[string]*s3.Client),
		regions:  make(map[string]string),
	}
}

func (s *BucketSource) List(ctx context.Context, _ string) ([]string, error) {
	out, err := s.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	names := make([]string, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		names = append(names, aws.ToString(b.Name))
	}
	return names, nil
}

func (s *BucketSource) Get(ctx context.Context, _, name string) (map[string]any, error) {
	loc, err := s.client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: aws.String(name)})
	if err != nil {
		return nil, fmt.Errorf("bucket %s location: %w", name, err)
	}
	region := string(loc.LocationConstraint)
	if region == "" {
		region = "us-east-1"
	}
	s.mu.Lock()
	s.regions[name] = region
	s.mu.Unlock()
	client := s.regionalClient(region)

	cfg := map[string]any{
		"Name":   name,
		"Region": region,
	}

	if acl, err := client.GetBucketAcl(ctx, &s3.GetBucketAclInput{Bucket: aws.String(name)}); err == nil {
		grants := make([]any, 0, len(acl.Grants))
		for _, g := range acl.Grants {
			grant := map[string]any{"Permission": string(g.Permission)}
			if g.Grantee != nil {
				grant["Grantee"] = map[string]any{
					"Type": string(g.Grantee.Type),
					"ID":   aws.ToString(g.Grantee.ID),
					"URI":  aws.ToString(g.Grantee.URI),
				}
			}
			grants = append(grants, grant)
		}
		cfg["Grants"] = grants
		if acl.Owner != nil {
			cfg["Owner"] = map[string]any{"ID": aws.ToString(acl.Owner.ID)}
		}
	}

	if pol, err := client.GetBucketPolicy(ctx, &s3.GetBucketPolicyInput{Bucket: aws.String(name)}); err == nil {
		var doc any
		if jsonErr := json.Unmarshal([]byte(aws.ToString(pol.Policy)), &doc); jsonErr == nil {
			cfg["Policy"] = doc
		}
	}

	if ver, err := client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: aws.String(name)}); err == nil {
		cfg["Versioning"] = string(ver.Status)
	}

	return cfg, nil
}

// Region reports the region recorded for a bucket during Get.
func (s *BucketSource) Region(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regions[name]
}

func (s *BucketSource) regionalClient(region string) *s3.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byRegion[region]; ok {
		return c
	}
	cfg := s.base.Copy()
	cfg.Region = region
	c := s3.NewFromConfig(cfg)
	s.byRegion[region] = c
	return c
}
