// Package cli provides the command-line interface of the Neptune search
// replication service. The command loads configuration from flags,
// environment variables and an optional config file, wires the pipeline
// (lease store, stream reader, transformer, search client, metrics), and
// then drives poll cycles the way the external orchestrator would: invoke a
// cycle, honor the returned wait time, repeat while the cycle asks to
// continue.
//
// Configuration precedence (highest to lowest):
//  1. Command-line flags
//  2. Environment variables
//  3. Configuration file values ($HOME/.neptunesearch.yaml)
//  4. Default values
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"neptunesearch.evalgo.org/common"
	"neptunesearch.evalgo.org/config"
	"neptunesearch.evalgo.org/db"
	"neptunesearch.evalgo.org/db/bolt"
	"neptunesearch.evalgo.org/guard"
	"neptunesearch.evalgo.org/metrics"
	"neptunesearch.evalgo.org/replication"
	"neptunesearch.evalgo.org/security"
	"neptunesearch.evalgo.org/stream"
	"neptunesearch.evalgo.org/version"
)

// cfgFile holds the path to the configuration file specified via flag.
var cfgFile string

// RootCmd is the entry command of the replication service.
var RootCmd = &cobra.Command{
	Use:   "neptunesearch",
	Short: "replicates Neptune change streams into a full-text search index",
	Long: `Neptune Search Replication Service

Continuously replicates change events from a Neptune change-data-capture
stream into a full-text search index, keeping the index eventually
consistent with the graph. Each poll cycle reads a batched window of change
records, transforms them into search document mutations, coalesces
mutations targeting the same document, and applies them via the bulk
update interface.

A DynamoDB (or local bbolt) lease record guarantees at most one active
consumer and exactly-once checkpoint advancement. Both property-graph and
RDF streams are supported; the handler name selects the transformer.`,
	Version: version.GetVersion(),
	RunE:    runPoller,
}

// versionCmd prints the binary's build metadata, including the dependency
// set it was built against. Replication behavior depends on the exact
// search and AWS SDK dependency versions, so this is the first thing asked
// for on support requests.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build and dependency information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.GetBuildInfo()
		encoded, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode build info: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.AddCommand(versionCmd)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.neptunesearch.yaml)")

	RootCmd.PersistentFlags().String("region", "", "AWS region")
	RootCmd.PersistentFlags().String("application-name", "", "application name used for the lease and metrics")
	RootCmd.PersistentFlags().String("lease-table", "", "DynamoDB lease table name")
	RootCmd.PersistentFlags().String("stream-endpoint", "", "Neptune stream endpoint URL")
	RootCmd.PersistentFlags().String("handler", "", "stream records handler (gremlin, sparql, gremlin-string-only, sparql-string-only)")
	RootCmd.PersistentFlags().Int("batch-size", 100, "records read from the stream per poll")
	RootCmd.PersistentFlags().Int("max-polling-wait-time", 10, "maximum wait in seconds between two polls of a drained stream")
	RootCmd.PersistentFlags().Int("max-polling-interval", 600, "seconds one cycle may poll continuously")
	RootCmd.PersistentFlags().Bool("iam-auth", false, "sign stream requests with SigV4")
	RootCmd.PersistentFlags().String("search-endpoint", "", "search engine endpoint (host:port)")
	RootCmd.PersistentFlags().Bool("search-sign", true, "sign search engine requests with SigV4")
	RootCmd.PersistentFlags().String("aggregator-mode", replication.ModeDefault, "aggregation mode (default or optimized)")
	RootCmd.PersistentFlags().String("lease-store", "dynamodb", "lease store backend (dynamodb or bolt)")
	RootCmd.PersistentFlags().String("bolt-path", "neptunesearch.db", "bbolt database path for the bolt lease store")
	RootCmd.PersistentFlags().String("redis-url", "", "redis URL for the duplicate-runner guard (optional)")
	RootCmd.PersistentFlags().Int("cycles", 0, "number of poll cycles to run (0 runs until interrupted)")
	RootCmd.PersistentFlags().Bool("metrics", false, "publish CloudWatch counters")
	RootCmd.PersistentFlags().String("log-level", "info", "log level")
	RootCmd.PersistentFlags().String("log-format", "text", "log format (text or json)")

	for flag, key := range map[string]string{
		"region":                "aws.region",
		"application-name":      "application.name",
		"lease-table":           "lease.table",
		"stream-endpoint":       "stream.endpoint",
		"handler":               "stream.handler",
		"batch-size":            "stream.batch_size",
		"max-polling-wait-time": "stream.max_polling_wait_time",
		"max-polling-interval":  "stream.max_polling_interval",
		"iam-auth":              "stream.iam_auth",
		"search-endpoint":       "search.endpoint",
		"search-sign":           "search.sign",
		"aggregator-mode":       "aggregator.mode",
		"lease-store":           "lease.store",
		"bolt-path":             "lease.bolt_path",
		"redis-url":             "guard.redis_url",
		"cycles":                "poller.cycles",
		"metrics":               "metrics.enabled",
		"log-level":             "log.level",
		"log-format":            "log.format",
	} {
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(flag))
	}
}

// initConfig initializes the configuration system using Viper.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory and current directory
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".neptunesearch")
	}

	// Enable automatic environment variable mapping
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// buildProvider materializes the configuration surface from viper.
func buildProvider() (*config.Provider, error) {
	provider := &config.Provider{
		Region:                 viper.GetString("aws.region"),
		ApplicationName:        viper.GetString("application.name"),
		LeaseTableName:         viper.GetString("lease.table"),
		StreamEndpoint:         viper.GetString("stream.endpoint"),
		HandlerName:            viper.GetString("stream.handler"),
		StreamRecordsBatchSize: viper.GetInt("stream.batch_size"),
		MaxPollingWaitTime:     time.Duration(viper.GetInt("stream.max_polling_wait_time")) * time.Second,
		MaxPollingInterval:     time.Duration(viper.GetInt("stream.max_polling_interval")) * time.Second,
		IAMAuthEnabled:         viper.GetBool("stream.iam_auth"),
		LoggingLevel:           viper.GetString("log.level"),
		LogFormat:              viper.GetString("log.format"),
		HandlerParams:          map[string]string{},
	}

	for key, value := range viper.GetStringMapString("handler_params") {
		provider.HandlerParams[key] = value
	}
	if endpoint := viper.GetString("search.endpoint"); endpoint != "" {
		provider.HandlerParams[config.ParamElasticSearchEndpoint] = endpoint
	}

	// The bolt lease store has no table; satisfy validation with the path.
	if viper.GetString("lease.store") == "bolt" && provider.LeaseTableName == "" {
		provider.LeaseTableName = viper.GetString("lease.bolt_path")
	}

	if err := provider.Validate(); err != nil {
		return nil, err
	}
	return provider, nil
}

func runPoller(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := buildProvider()
	if err != nil {
		return err
	}
	common.ConfigureLogger(provider.LoggingLevel, provider.LogFormat)

	creds, err := config.SDKCredentialSource(ctx, provider.Region)
	if err != nil {
		return err
	}

	// Lease store
	var store db.LeaseStore
	if viper.GetString("lease.store") == "bolt" {
		boltStore, err := bolt.Open(viper.GetString("lease.bolt_path"))
		if err != nil {
			return err
		}
		defer boltStore.Close()
		store = boltStore
	} else {
		awsConfig, err := config.AWSConfig(ctx, provider.Region, creds)
		if err != nil {
			return err
		}
		store = db.NewDynamoDBLeaseStore(awsConfig, provider.LeaseTableName)
	}

	// Duplicate-runner guard
	if redisURL := viper.GetString("guard.redis_url"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		runnerGuard := guard.New(redis.NewClient(opts), provider.ApplicationName)
		if err := runnerGuard.RecoverLease(ctx, store); err != nil {
			return err
		}
		defer func() {
			if err := runnerGuard.Release(context.Background()); err != nil {
				common.Logger.WithError(err).Error("Failed to release runner marker")
			}
		}()
	}

	// Stream reader
	var streamSigner *security.Signer
	if provider.IAMAuthEnabled {
		streamSigner = security.NewSigner(provider.Region, security.ServiceNeptune, creds)
	}
	reader, err := stream.NewReader(provider.StreamEndpoint, streamSigner)
	if err != nil {
		return err
	}

	// Search client
	searchOpts := []db.SearchClientOption{}
	if viper.GetBool("search.sign") {
		searchOpts = append(searchOpts, db.WithSigner(security.NewSigner(provider.Region, security.ServiceElasticsearch, creds)))
	}
	searchClient := db.NewSearchClient(provider.SearchEndpoint(), searchOpts...)

	// Pipeline
	transformer, err := replication.NewTransformer(provider)
	if err != nil {
		return err
	}
	aggregator := replication.NewAggregator(viper.GetString("aggregator.mode"))
	handler, err := replication.NewSearchHandler(ctx, provider, searchClient, transformer, aggregator)
	if err != nil {
		return err
	}

	var sink metrics.Sink = metrics.Nop{}
	if viper.GetBool("metrics.enabled") {
		awsConfig, err := config.AWSConfig(ctx, provider.Region, creds)
		if err != nil {
			return err
		}
		sink = metrics.NewCloudWatchPublisher(awsConfig, provider.ApplicationName, provider.StreamEndpoint)
	}

	processor := replication.NewProcessor(reader, handler, sink, provider.StreamRecordsBatchSize)
	poller := replication.NewPoller(provider, store, processor)

	return driveCycles(ctx, poller, viper.GetInt("poller.cycles"))
}

// driveCycles stands in for the external orchestrator: it invokes poll
// cycles repeatedly, sleeping for the wait time each cycle returns. A zero
// cycle count runs until the context is cancelled.
func driveCycles(ctx context.Context, poller *replication.Poller, cycles int) error {
	iterator := replication.Iterator{Index: 0, Count: cycles}
	for {
		output, err := poller.RunPollCycle(ctx, replication.CycleInput{Iterator: iterator})
		if err != nil {
			if errors.Is(err, db.ErrLeaseBusy) {
				return fmt.Errorf("another runner holds the lease: %w", err)
			}
			return err
		}

		if cycles > 0 && !output.Continue {
			return nil
		}

		if output.WaitTime > 0 {
			select {
			case <-time.After(time.Duration(output.WaitTime) * time.Second):
			case <-ctx.Done():
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		iterator = replication.Iterator{Index: output.Index, Count: output.Count, WaitTime: output.WaitTime}
	}
}
