package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vitalis-app/telemetry-agent/internal/agent"
	"github.com/vitalis-app/telemetry-agent/internal/config"
	"github.com/vitalis-app/telemetry-agent/internal/logging"
	"github.com/vitalis-app/telemetry-agent/internal/service"
)

// stopGrace is added to the shutdown flush timeout when a service manager
// asks the agent to stop.
const stopGrace = 5 * time.Second

type rootFlags struct {
	configPath string
	url        string
	token      string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:          "vitalis-agent",
		Short:        "Collects system metrics and delivers them to the Vitalis API",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(flags)
		},
	}
	cmd.SetVersionTemplate("vitalis-agent {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file (default: search standard locations)")
	pf.StringVar(&flags.url, "url", "", "API server URL (overrides config and SA_SERVER_URL)")
	pf.StringVar(&flags.token, "token", "", "Machine token (overrides config and SA_MACHINE_TOKEN)")

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the agent in the foreground or as a service (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(flags)
		},
	})
	cmd.AddCommand(newDrainCmd(flags), newBufferCmd(flags), newConfigCmd(flags))
	return cmd
}

// load resolves the config file and applies every configuration layer.
func (f *rootFlags) load() (*config.Config, string, error) {
	path := f.configPath
	if path == "" {
		path = config.Locate()
	}
	cfg, err := config.LoadLayered(config.CLIOverrides{URL: f.url, Token: f.token}, embeddedConfig, path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func runAgent(flags *rootFlags) error {
	cfg, path, err := flags.load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging, nil)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Close()

	logger.Info("Starting Vitalis Agent",
		zap.String("version", version),
		zap.String("config", path),
		zap.String("server", cfg.Server.URL))

	a, err := agent.New(cfg, logger, agent.Options{
		ConfigPath: path,
		Reload: func() (*config.Config, error) {
			next, _, err := flags.load()
			return next, err
		},
	})
	if err != nil {
		logger.Error("Failed to assemble agent", zap.Error(err))
		return err
	}
	defer a.Close()

	svc := service.New(logger.Logger, cfg.Delivery.ShutdownTimeout.Duration+stopGrace, a.Run)
	if service.IsWindowsService() {
		logger.Info("Running as Windows service")
		return svc.Run()
	}
	return svc.RunForeground()
}
