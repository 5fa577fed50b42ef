// Package containers provides testcontainer setups for integration tests:
// an OpenSearch single-node cluster and a DynamoDB Local instance. The
// containers are started on demand and cleaned up through the returned
// cleanup functions.
package containers

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ContainerCleanup terminates a container started by one of the setup
// functions.
type ContainerCleanup func()

// OpenSearchConfig holds configuration for OpenSearch testcontainer setup.
type OpenSearchConfig struct {
	// Image is the Docker image to use
	Image string
	// JavaOpts are JVM options for memory configuration
	JavaOpts string
	// StartupTimeout is the maximum time to wait for OpenSearch to be ready
	StartupTimeout time.Duration
}

// DefaultOpenSearchConfig returns the default OpenSearch configuration for
// testing.
func DefaultOpenSearchConfig() OpenSearchConfig {
	return OpenSearchConfig{
		Image:          "opensearchproject/opensearch:2.11.1",
		JavaOpts:       "-Xms512m -Xmx512m",
		StartupTimeout: 120 * time.Second,
	}
}

// SetupOpenSearch creates an OpenSearch container for integration testing
// and returns its HTTP endpoint URL plus a cleanup function. Security is
// disabled so the endpoint speaks plain HTTP.
func SetupOpenSearch(ctx context.Context, config *OpenSearchConfig) (string, ContainerCleanup, error) {
	cfg := DefaultOpenSearchConfig()
	if config != nil {
		cfg = *config
	}

	req := testcontainers.ContainerRequest{
		Image:        cfg.Image,
		ExposedPorts: []string{"9200/tcp"},
		Env: map[string]string{
			"discovery.type":              "single-node",
			"DISABLE_SECURITY_PLUGIN":     "true",
			"DISABLE_INSTALL_DEMO_CONFIG": "true",
			"OPENSEARCH_JAVA_OPTS":        cfg.JavaOpts,
		},
		WaitingFor: wait.ForHTTP("/").
			WithPort("9200/tcp").
			WithStartupTimeout(cfg.StartupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to start OpenSearch container: %w", err)
	}

	cleanup := func() { container.Terminate(context.Background()) }

	host, err := container.Host(ctx)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "9200")
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	return fmt.Sprintf("http://%s:%s", host, port.Port()), cleanup, nil
}
