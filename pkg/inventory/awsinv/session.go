// Package awsinv provides reference inventory sources backed by the AWS
// SDK. Each source returns objects as nested key/value documents; the
// engine never sees SDK types.
package awsinv

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Client holds the shared AWS configuration for the inventory sources.
type Client struct {
	Config aws.Config
	STS    *sts.Client
}

// NewClient initializes AWS clients from the default credential chain.
func NewClient(ctx context.Context, region string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return &Client{
		Config: cfg,
		STS:    sts.NewFromConfig(cfg),
	}, nil
}

// VerifyIdentity checks that the credentials resolve and returns the
// account number they belong to.
func (c *Client) VerifyIdentity(ctx context.Context) (string, error) {
	out, err := c.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}
	return aws.ToString(out.Account), nil
}
