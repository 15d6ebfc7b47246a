// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/unflare/api/schemas"
	"github.com/xkilldash9x/unflare/internal/browser"
	"github.com/xkilldash9x/unflare/internal/config"
	"github.com/xkilldash9x/unflare/internal/observability"
	"github.com/xkilldash9x/unflare/internal/server"
	"github.com/xkilldash9x/unflare/internal/session"
	"github.com/xkilldash9x/unflare/internal/solver"
)

var (
	cfgFile string

	// appConfig is populated by PersistentPreRunE before any command runs.
	appConfig *config.Config
)

// probeTimeout bounds the startup browser smoke test. Cold starts inside
// containers can take a while.
const probeTimeout = 60 * time.Second

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "unflare",
	Short: "unflare is a proxy server to bypass anti-bot browser challenges.",
	// Version is dynamically set at build time. See cmd/version.go.
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// This function runs before any command, setting up config and logging.
		if err := initializeConfig(); err != nil {
			return err
		}

		cfg, err := config.NewConfigFromViper(viper.GetViper())
		if err != nil {
			// Initialize a fallback logger so the failure is still visible.
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "unflare"})
			return err
		}
		appConfig = cfg

		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Info("Starting unflare", zap.String("version", Version))
		return nil
	},
	RunE: runServe,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Use the logger if available, otherwise fallback to stderr.
		if logger := observability.GetLogger(); logger != nil && logger != zap.NewNop() {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// initializeConfig reads in config file and ENV variables if set.
func initializeConfig() error {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars.
	}
	return nil
}

// runServe wires the whole service together and blocks until shutdown.
func runServe(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory := func(ctx context.Context, proxy *schemas.Proxy) (browser.Driver, error) {
		return browser.NewChrome(ctx, appConfig.Browser, proxy, logger)
	}

	// Launch a throwaway browser once so a broken installation fails the
	// process at startup instead of on the first request. The probed user
	// agent is reported on the index endpoint.
	userAgent, err := probeBrowser(ctx, logger)
	if err != nil {
		return fmt.Errorf("browser startup test failed: %w", err)
	}

	store := session.NewStore(factory, logger)
	defer store.Close(context.Background())

	sol := solver.New(store, factory, appConfig.Solver, logger)
	sol.LogHTML = appConfig.Browser.LogHTML

	srv := server.New(appConfig.Server, sol, Version, userAgent, logger)
	return srv.Run(ctx)
}

func probeBrowser(ctx context.Context, logger *zap.Logger) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	drv, err := browser.NewChrome(probeCtx, appConfig.Browser, nil, logger)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := drv.Close(); err != nil {
			logger.Warn("Failed to close probe browser", zap.Error(err))
		}
	}()

	version, userAgent, err := drv.Probe(probeCtx)
	if err != nil {
		return "", err
	}
	logger.Info("Browser ready",
		zap.String("browser", version),
		zap.String("userAgent", userAgent),
	)
	return userAgent, nil
}
