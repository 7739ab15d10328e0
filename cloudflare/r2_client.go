// Package cloudflare provides a client for interacting with the Cloudflare API.
package cloudflare

import (
	"context"
	"fmt"

	a "bitwise74/media-api/aws"
	"bitwise74/media-api/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewR2 connects to an R2 bucket through its S3 compatible endpoint
func NewR2(ctx context.Context, cfg *config.Config) (*a.S3Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.Cloudflare.AccessKeyID,
			cfg.Cloudflare.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.Cloudflare.AccountID))
		o.Region = "auto"
	})

	return a.Connect(ctx, client, cfg.Cloudflare.Bucket)
}
