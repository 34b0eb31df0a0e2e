package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aiforce/discovery-mesh/internal/testenv"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "testenv",
	Short:   "Seeded test-environment generator for the discovery mesh",
	Version: Version,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("testenv %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var (
	flagSeed      int64
	flagOutputDir string
	flagSize      string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a docker-compose test environment and manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		size := testenv.Size(flagSize)
		if !testenv.ValidSize(size) {
			return fmt.Errorf("invalid size %q (small, medium, large)", flagSize)
		}

		seed := flagSeed
		if seed == 0 {
			seed = time.Now().Unix()
		}

		env := testenv.NewGenerator(seed, size).Generate()
		composePath, manifestPath, err := testenv.WriteFiles(env, flagOutputDir, time.Now().UTC())
		if err != nil {
			return err
		}

		manifest := testenv.BuildManifest(env, time.Now().UTC())
		fmt.Printf("Generated %d services (seed %d, size %s)\n", manifest.Summary.TotalServices, seed, size)
		fmt.Printf("  web servers:    %d\n", manifest.Summary.WebServers)
		fmt.Printf("  app servers:    %d\n", manifest.Summary.AppServers)
		fmt.Printf("  databases:      %d\n", manifest.Summary.Databases)
		fmt.Printf("  message queues: %d\n", manifest.Summary.MessageQueues)
		fmt.Printf("  infrastructure: %d\n", manifest.Summary.Infrastructure)
		fmt.Printf("Compose:  %s\n", composePath)
		fmt.Printf("Manifest: %s\n", manifestPath)
		fmt.Printf("Recreate with: testenv generate --seed %d --size %s\n", seed, size)
		return nil
	},
}

func init() {
	generateCmd.Flags().Int64Var(&flagSeed, "seed", 0, "generator seed (0 uses the current time)")
	generateCmd.Flags().StringVar(&flagOutputDir, "output-dir", ".", "directory for generated files")
	generateCmd.Flags().StringVar(&flagSize, "size", "small", "environment size: small, medium or large")
	rootCmd.AddCommand(generateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
