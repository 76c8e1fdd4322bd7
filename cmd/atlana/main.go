package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agdrone/atlana/pkg/config"
	"github.com/agdrone/atlana/pkg/events"
	"github.com/agdrone/atlana/pkg/executor"
	"github.com/agdrone/atlana/pkg/handlers"
	"github.com/agdrone/atlana/pkg/log"
	"github.com/agdrone/atlana/pkg/metrics"
	"github.com/agdrone/atlana/pkg/registry"
	"github.com/agdrone/atlana/pkg/runner"
	"github.com/agdrone/atlana/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// DefaultImage runs the containerised algorithm steps
const DefaultImage = "agdrone/drone-workflow:1.1"

var (
	configPath string
	logLevel   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "atlana",
	Short: "Atlana - Drone image-processing workflow engine",
	Long: `Atlana runs drone image-processing workflows as chains of
containerised algorithm steps: soil masking, plot clipping, per-plot
canopy cover and greenness calculations, and CSV merging.

Each workflow owns a directory under the configured run area; its
status and output files are the interface between the engine and any
observer.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: true})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Atlana version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(metricsCmd)
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// newRunner selects the configured container engine
func newRunner(cfg *config.Config) (runner.Runner, error) {
	switch cfg.Engine {
	case "", "docker":
		return runner.NewDockerRunner(cfg.UseScifWorkflow), nil
	case "containerd":
		return runner.NewContainerdRunner(cfg.ContainerdSocket, cfg.UseScifWorkflow)
	default:
		return nil, fmt.Errorf("unknown container engine %q", cfg.Engine)
	}
}

func openStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(cfg, &store.ExecLauncher{ConfigPath: configPath}, newProgressBroker())
}

// newProgressBroker starts a broker whose lifecycle events land in the
// log as progress lines
func newProgressBroker() *events.Broker {
	broker := events.NewBroker()
	broker.Start()

	sub := broker.Subscribe()
	go func() {
		logger := log.WithComponent("progress")
		for event := range sub {
			logger.Info().
				Str("event", string(event.Type)).
				Str("workflow", event.WorkflowID).
				Str("step", event.Command).
				Msg(event.Message)
		}
	}()

	return broker
}

var runCmd = &cobra.Command{
	Use:   "run <working-folder>",
	Short: "Execute the workflow queued in a working folder",
	Long: `Execute the workflow whose step queue lives in the given working
folder. This is the entry point the submit command launches detached;
it can also be invoked by hand to re-run a prepared folder.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		run, err := newRunner(cfg)
		if err != nil {
			return err
		}

		image := cfg.Image
		if image == "" {
			image = DefaultImage
		}

		broker := newProgressBroker()
		defer broker.Stop()

		fileHandlers := handlers.NewRegistry(cfg.WorkflowFolder, cfg.MoreFolders, nil)
		e := executor.New(registry.Default(), run, fileHandlers, broker, image)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return e.Run(ctx, args[0])
	},
}

var metricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Serve Prometheus metrics over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())

		logger := log.WithComponent("metrics")
		logger.Info().Str("addr", addr).Msg("serving metrics")
		return http.ListenAndServe(addr, mux)
	},
}

func init() {
	metricsCmd.Flags().String("addr", ":9101", "Listen address for the metrics endpoint")
}
