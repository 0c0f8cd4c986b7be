// Package servecmder provides the serve command, which runs the bridge and
// its admin API together.
package servecmder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/ollamabridge/api"
	"github.com/papercomputeco/ollamabridge/pkg/config"
	"github.com/papercomputeco/ollamabridge/pkg/eventstream"
	"github.com/papercomputeco/ollamabridge/pkg/eventstream/kafka"
	"github.com/papercomputeco/ollamabridge/pkg/eventstream/nop"
	"github.com/papercomputeco/ollamabridge/pkg/logger"
	"github.com/papercomputeco/ollamabridge/pkg/storage"
	"github.com/papercomputeco/ollamabridge/pkg/storage/inmemory"
	"github.com/papercomputeco/ollamabridge/pkg/storage/postgres"
	"github.com/papercomputeco/ollamabridge/pkg/storage/sqlite"
	"github.com/papercomputeco/ollamabridge/proxy"
)

type ServeCommander struct {
	listen          string
	apiListen       string
	upstream        string
	apiKey          string
	ownedBy         string
	upstreamTimeout time.Duration
	modelsCacheTTL  time.Duration
	sqlitePath      string
	postgresDSN     string
	kafkaBrokers    string
	kafkaTopic      string
	instance        string
	logFile         string
	debug           bool

	logger *slog.Logger
}

var serveFlagKeys = []string{
	config.FlagBridgeListen,
	config.FlagAPIListen,
	config.FlagUpstream,
	config.FlagAPIKey,
	config.FlagOwnedBy,
	config.FlagUpstreamTimeout,
	config.FlagModelsCacheTTL,
	config.FlagSQLite,
	config.FlagPostgres,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
}

const serveLongDesc string = `Run the bridge.

The bridge serves the OpenAI chat completions API on --listen and answers it
from an Ollama backend:
  GET  /v1/models             model list from the backend tag catalog
  POST /v1/chat/completions   chat, streamed as server-sent events by default

Completed chats are recorded in a usage ledger (in-memory, SQLite or
PostgreSQL) served by the admin API on --api-listen, and optionally published
to Kafka.

Settings are read from flags, OLLAMABRIDGE_* environment variables and
config.toml, in that order.`

const serveShortDesc string = "Run the bridge and admin API"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.ServeFlags, serveFlagKeys)
			cmder.load(v)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.ServeFlags, config.FlagBridgeListen, &cmder.listen)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagAPIListen, &cmder.apiListen)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagUpstream, &cmder.upstream)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagAPIKey, &cmder.apiKey)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagOwnedBy, &cmder.ownedBy)
	config.AddDurationFlag(cmd, config.ServeFlags, config.FlagUpstreamTimeout, &cmder.upstreamTimeout)
	config.AddDurationFlag(cmd, config.ServeFlags, config.FlagModelsCacheTTL, &cmder.modelsCacheTTL)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagPostgres, &cmder.postgresDSN)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagKafkaBrokers, &cmder.kafkaBrokers)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagKafkaTopic, &cmder.kafkaTopic)

	hostname, _ := os.Hostname()
	cmd.Flags().StringVar(&cmder.instance, "instance", hostname, "Instance name stamped on usage events")
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also write JSON logs to this file")

	return cmd
}

// load resolves settings through the viper precedence chain.
func (c *ServeCommander) load(v *viper.Viper) {
	c.listen = v.GetString("bridge.listen")
	c.apiListen = v.GetString("api.listen")
	c.upstream = v.GetString("bridge.upstream")
	c.apiKey = v.GetString("bridge.api_key")
	c.ownedBy = v.GetString("bridge.owned_by")
	c.upstreamTimeout = v.GetDuration("bridge.upstream_timeout")
	c.modelsCacheTTL = v.GetDuration("models.cache_ttl")
	c.sqlitePath = v.GetString("storage.sqlite_path")
	c.postgresDSN = v.GetString("storage.postgres_dsn")
	c.kafkaBrokers = v.GetString("eventstream.kafka_brokers")
	c.kafkaTopic = v.GetString("eventstream.kafka_topic")
}

func (c *ServeCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	closeLog, err := c.setupLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	driver, err := c.createDriver(ctx)
	if err != nil {
		return err
	}
	defer driver.Close()

	publisher, err := c.createPublisher()
	if err != nil {
		return err
	}
	defer publisher.Close()

	p, err := proxy.New(proxy.Config{
		ListenAddr:      c.listen,
		UpstreamURL:     c.upstream,
		APIKey:          c.apiKey,
		OwnedBy:         c.ownedBy,
		UpstreamTimeout: c.upstreamTimeout,
		ModelsCacheTTL:  c.modelsCacheTTL,
		Instance:        c.instance,
	}, driver, publisher, c.logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	defer p.Close()

	// Channel to capture errors from goroutines
	errChan := make(chan error, 2)

	go func() {
		if err := p.Run(); err != nil {
			errChan <- fmt.Errorf("bridge error: %w", err)
		}
	}()

	if c.apiListen != "" {
		apiServer := api.NewServer(api.Config{ListenAddr: c.apiListen}, driver, c.logger)
		defer apiServer.Shutdown()

		go func() {
			if err := apiServer.Run(); err != nil {
				errChan <- fmt.Errorf("API server error: %w", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
		return nil
	case <-ctx.Done():
		return nil
	}
}

// setupLogger builds a pretty console logger, paired with a JSON logger
// when --log-file is set.
func (c *ServeCommander) setupLogger() (func(), error) {
	console := logger.New(logger.WithDebug(c.debug), logger.WithPretty(true), logger.WithWriter(os.Stderr))
	if c.logFile == "" {
		c.logger = console
		return func() {}, nil
	}

	f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	c.logger = logger.Multi(
		console,
		logger.New(logger.WithDebug(c.debug), logger.WithJSON(true), logger.WithWriter(f)),
	)
	return func() { f.Close() }, nil
}

// createDriver picks the usage ledger backend: PostgreSQL, then SQLite,
// then memory.
func (c *ServeCommander) createDriver(ctx context.Context) (storage.Driver, error) {
	switch {
	case c.postgresDSN != "":
		driver, err := postgres.NewDriver(ctx, c.postgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL driver: %w", err)
		}
		c.logger.Info("using PostgreSQL usage ledger")
		return driver, nil

	case c.sqlitePath != "":
		driver, err := sqlite.NewDriver(ctx, c.sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite driver: %w", err)
		}
		c.logger.Info("using SQLite usage ledger", "path", c.sqlitePath)
		return driver, nil

	default:
		c.logger.Info("using in-memory usage ledger")
		return inmemory.NewDriver(), nil
	}
}

// createPublisher returns a Kafka publisher when brokers are configured and
// a no-op publisher otherwise.
func (c *ServeCommander) createPublisher() (eventstream.Publisher, error) {
	brokers := config.SplitList(c.kafkaBrokers)
	if len(brokers) == 0 {
		return nop.NewPublisher(), nil
	}

	pub, err := kafka.NewPublisher(kafka.Config{
		Brokers: brokers,
		Topic:   c.kafkaTopic,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka publisher: %w", err)
	}
	c.logger.Info("publishing usage events to Kafka",
		"brokers", brokers,
		"topic", c.kafkaTopic,
	)
	return pub, nil
}
