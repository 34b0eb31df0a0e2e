package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aiforce/discovery-mesh/internal/config"
	"github.com/aiforce/discovery-mesh/internal/dryrunner"
	"github.com/aiforce/discovery-mesh/internal/httpx"
	"github.com/aiforce/discovery-mesh/internal/logging"
	"github.com/aiforce/discovery-mesh/internal/mq"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "dryrun",
	Short:   "Dry-run orchestrator for the discovery mesh",
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dryrun %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	config.LoadDotEnv()
	env := config.NewEnv("DRYRUN")

	logger := logging.Init(logging.Config{
		Format:    env.String("LOG_FORMAT", "auto"),
		Level:     env.String("LOG_LEVEL", "info"),
		Component: "dryrun-orchestrator",
	})

	// These three have no safe defaults; a missing one is a deployment
	// mistake that must surface immediately.
	postgresURL, err := env.Required("POSTGRES_URL")
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	amqpURL, err := env.Required("RABBITMQ_URL")
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	apiKey, err := env.Required("API_KEY")
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := dryrunner.ConnectStore(ctx, postgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot connect to discovery store")
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Discovery store migration failed")
	}

	publisher := mq.NewPublisher(amqpURL, mq.DiscoveryExchange, logger)
	defer publisher.Close()

	listenAddr := env.String("LISTEN_ADDR", ":8030")
	trigger := dryrunner.NewHTTPAnalyzerTrigger(
		env.String("CODE_ANALYZER_URL", "http://code-analyzer:8002"),
		env.String("CALLBACK_URL", "http://dryrun-orchestrator:8030"),
		apiKey,
		logger,
	)

	orch, err := dryrunner.NewOrchestrator(dryrunner.Config{
		Network:       env.String("NETWORK", "discovery-network"),
		ReposPath:     env.String("REPOS_PATH", "/repos"),
		ReposHostPath: env.String("REPOS_HOST_PATH", ""),
	}, trigger, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot initialize Docker client")
	}

	recorder := dryrunner.NewRecorder(store, publisher, logger)

	ready := func(ctx context.Context) (bool, map[string]any) {
		details := map[string]any{"database": "connected"}
		ok := store.Healthy(ctx)
		if !ok {
			details["database"] = "unavailable"
		}
		return ok, details
	}

	srv := httpx.NewServer(listenAddr, "dryrun-orchestrator", ready, logger)
	dryrunner.NewHandler(orch, recorder, logger).Register(srv, apiKey)

	log.Info().Str("version", Version).Msg("Starting dry-run orchestrator")
	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
