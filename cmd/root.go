// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/depotgraph/internal/config"
	"github.com/xkilldash9x/depotgraph/internal/observability"
	"github.com/xkilldash9x/depotgraph/internal/service"
)

type contextKey string

const configKey contextKey = "config"

var cfgFile string

// componentFactory builds the service graph for every command. Tests replace it.
var componentFactory = service.NewComponentFactory()

// persistentBindings maps persistent flags onto viper keys.
var persistentBindings = map[string]string{
	"log-level":    "logger.level",
	"database-url": "database.url",
}

// NewRootCommand returns a fresh root command with all subcommands attached.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

// newRootCmd builds the root command. The returned pointer receives the
// loaded configuration once PersistentPreRunE has run.
func newRootCmd() (*cobra.Command, *config.Interface) {
	var appConfig config.Interface

	cmd := &cobra.Command{
		Use:           "depotgraph",
		Short:         "depotgraph maintains and serves the warehouse connectivity graph.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "depotgraph"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}
			applyFlagOverrides(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid flag overrides: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Configuration loaded", zap.String("version", Version), zap.String("command", cmd.Name()))

			appConfig = cfg
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, config.Interface(cfg)))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error). (Overrides config/env)")
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL. (Overrides config/env)")
	cmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRouteCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newConnectCmd())
	cmd.AddCommand(newDisconnectCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd, &appConfig
}

// Execute runs the root command with the signal-aware context from main.
func Execute(ctx context.Context) error {
	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Info("Command interrupted.")
			return err
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// initializeConfig wires the config file, DEPOTGRAPH_* environment variables
// and persistent flags into v.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DEPOTGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	for flagName, key := range persistentBindings {
		if f := cmd.Flags().Lookup(flagName); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("binding --%s: %w", flagName, err)
			}
		}
	}
	return nil
}

// applyFlagOverrides pushes subcommand flags through the config setters.
func applyFlagOverrides(cmd *cobra.Command, cfg config.Interface) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		addr, _ := flags.GetString("listen")
		cfg.SetServerListenAddr(addr)
	}
	if flags.Changed("refresh-interval") {
		d, _ := flags.GetDuration("refresh-interval")
		cfg.SetGraphRefreshInterval(d)
	}
	if flags.Changed("workers") {
		n, _ := flags.GetInt("workers")
		cfg.SetMaintainerWorkers(n)
	}
}

// getConfigFromContext retrieves the configuration stored by PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (config.Interface, error) {
	cfg, ok := ctx.Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in command context")
	}
	return cfg, nil
}
