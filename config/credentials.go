package config

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// CredentialSource supplies AWS credentials for signing and SDK clients.
// Implementations must hand out refreshed credentials on expiry; the SDK
// provider chain does this natively, the env source re-reads the process
// environment on every call.
type CredentialSource interface {
	aws.CredentialsProvider
}

// EnvCredentialSource reads credentials from the standard AWS environment
// variables on every retrieval. Suited for environments where the variables
// are kept fresh externally (task runners, injected secrets).
type EnvCredentialSource struct{}

// Retrieve implements aws.CredentialsProvider.
func (EnvCredentialSource) Retrieve(_ context.Context) (aws.Credentials, error) {
	return aws.Credentials{
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Source:          "EnvCredentialSource",
	}, nil
}

// StaticCredentialSource returns fixed credentials. Used in tests and for
// local search clusters with basic signing disabled.
func StaticCredentialSource(accessKey, secretKey, sessionToken string) CredentialSource {
	return credentials.NewStaticCredentialsProvider(accessKey, secretKey, sessionToken)
}

// SDKCredentialSource resolves credentials through the default SDK provider
// chain (env, shared config, IMDS, SSO).
func SDKCredentialSource(ctx context.Context, region string) (CredentialSource, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return cfg.Credentials, nil
}

// AWSConfig builds an aws.Config for SDK service clients (DynamoDB,
// CloudWatch) from the given region and credential source.
func AWSConfig(ctx context.Context, region string, creds CredentialSource) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(creds),
	)
}
