// Package config carries the environment-provided configuration for the two
// binaries and the constructors for the external clients they share.
package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/go-github/v59/github"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/oauth2"
)

// Config is the scraper's environment. Secrets and deployment settings come
// from the environment; per-run paths and behavior come from CLI flags.
type Config struct {
	Stage                       string `envconfig:"STAGE" default:"prod"`
	GitHubToken                 string `envconfig:"GITHUB_TOKEN"`
	GitHubRepository            string `envconfig:"GITHUB_REPOSITORY"`
	ProjectID                   string `envconfig:"GOOGLE_CLOUD_PROJECT_ID"`
	DisableMetrics              bool   `envconfig:"DISABLE_METRICS"`
	CloudflareR2Bucket          string `envconfig:"CLOUDFLARE_R2_BUCKET"`
	CloudflareR2AccessKeyID     string `envconfig:"CLOUDFLARE_R2_ACCESS_KEY_ID"`
	CloudflareR2SecretAccessKey string `envconfig:"CLOUDFLARE_R2_SECRET_ACCESS_KEY"`
	CloudflareAccountID         string `envconfig:"CLOUDFLARE_ACCOUNT_ID"`
}

func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CreateGitHubClient builds the API client with bounded-backoff retries and,
// when a token is configured, static token authentication.
func (c *Config) CreateGitHubClient() *github.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil
	httpClient := retryClient.StandardClient()
	if c.GitHubToken == "" {
		return github.NewClient(httpClient)
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	oauthClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.GitHubToken}))
	return github.NewClient(oauthClient)
}

// HasR2 reports whether the optional object-storage mirror is configured.
func (c *Config) HasR2() bool {
	return c.CloudflareR2Bucket != "" &&
		c.CloudflareR2AccessKeyID != "" &&
		c.CloudflareR2SecretAccessKey != "" &&
		c.CloudflareAccountID != ""
}

func (c *Config) r2CloudflareEndpointResolver(_, _ string, _ ...interface{}) (aws.Endpoint, error) {
	return aws.Endpoint{
		URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.CloudflareAccountID),
	}, nil
}

func (c *Config) CreateS3Client() (*s3.Client, error) {
	staticCredentialsProvider := credentials.NewStaticCredentialsProvider(
		c.CloudflareR2AccessKeyID,
		c.CloudflareR2SecretAccessKey,
		"",
	)
	s3Cfg, err := awsConfig.LoadDefaultConfig(context.TODO(),
		awsConfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(c.r2CloudflareEndpointResolver)),
		awsConfig.WithCredentialsProvider(staticCredentialsProvider),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(s3Cfg), nil
}

func (c *Config) GetBucket() *string {
	return &c.CloudflareR2Bucket
}
