/*
Package security integration with the Infisical secrets management service.

LoadInfisicalSecrets fetches all secrets for a project environment and
exports them into the process environment, so the env-based credential and
configuration sources pick them up without code changes. Typical use is
loading AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY for deployments that do
not run on AWS infrastructure.
*/
package security

import (
	"context"
	"fmt"
	"os"

	infisical "github.com/infisical/go-sdk"
)

// LoadInfisicalSecrets retrieves secrets from an Infisical project
// environment and sets them as process environment variables.
//
// Parameters:
//   - host:         the Infisical host domain (e.g. "app.infisical.com")
//   - clientID:     the Infisical client ID for authentication
//   - clientSecret: the Infisical client secret for authentication
//   - projectID:    the project identifier from which to fetch secrets
//   - environment:  the target environment name (e.g. "dev", "prod")
func LoadInfisicalSecrets(ctx context.Context, host, clientID, clientSecret, projectID, environment string) error {
	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          "https://" + host,
		AutoTokenRefresh: false,
	})

	if _, err := client.Auth().UniversalAuthLogin(clientID, clientSecret); err != nil {
		return fmt.Errorf("infisical authentication failed: %w", err)
	}

	secrets, err := client.Secrets().List(infisical.ListSecretsOptions{
		AttachToProcessEnv: false,
		Environment:        environment,
		ProjectID:          projectID,
		SecretPath:         "/",
		IncludeImports:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to list infisical secrets: %w", err)
	}

	for _, secret := range secrets {
		if err := os.Setenv(secret.SecretKey, secret.SecretValue); err != nil {
			return fmt.Errorf("failed to export secret %s: %w", secret.SecretKey, err)
		}
	}
	return nil
}
