// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/humanrelay/internal/config"
	"github.com/xkilldash9x/humanrelay/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// Command annotations read by the root PersistentPreRunE.
const (
	// annotationLenient skips config validation for commands that only need
	// a few keys.
	annotationLenient = "humanrelay/lenient"
	// annotationRunLog enables the per-run JSON log file.
	annotationRunLog = "humanrelay/run-log"
)

// flagBindings maps command line flags onto config keys. A flag only
// overrides the file and environment when it was set explicitly.
var flagBindings = map[string]string{
	"log-level":    "logger.level",
	"browser":      "browser_automation.enabled",
	"backend":      "browser_automation.backend",
	"headless":     "browser_automation.headless",
	"metrics-addr": "metrics.listen_addr",
	"stdin":        "hotkey.stdin",
	"pid-file":     "hotkey.pid_file",
	"ocr":          "ocr.enabled",
}

// NewRootCommand builds a fresh command tree. Nothing is shared between
// instances, so tests can execute as many as they like.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "humanrelay",
		Short: "Relays prompts between a desktop editor and a chat window.",
		Long: `humanrelay watches two desktop windows and shuttles text between them:
it copies a prompt from the editor, submits it to the chat, waits for the
answer and pastes it back. Screen targets are located by template matching,
OCR or pixel probes, in that order.`,
		// Version is dynamically set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			var (
				cfg *config.Config
				err error
			)
			if cmd.Annotations[annotationLenient] == "true" {
				cfg, err = config.Unmarshal(v)
			} else {
				cfg, err = config.NewConfigFromViper(v)
			}
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "humanrelay"}, "")
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			logCfg := cfg.Logger
			if cmd.Annotations[annotationRunLog] != "true" {
				logCfg.LogDir = ""
			}
			runID := uuid.NewString()
			observability.InitializeLogger(logCfg, runID)
			observability.GetLogger().Debug("Starting humanrelay",
				zap.String("version", Version),
				zap.String("command", cmd.Name()),
				zap.String("config_file", v.ConfigFileUsed()))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml, then ~/.humanrelay/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override logger.level (debug, info, warn, error)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newProbeCmd())
	rootCmd.AddCommand(newFocusCmd())
	rootCmd.AddCommand(newToggleCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute builds the command tree and runs it with ctx.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	defer observability.Sync()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		observability.GetLogger().Info("Command aborted by signal")
		return err
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	observability.GetLogger().Error("Command execution failed", zap.Error(err))
	return err
}

// initializeConfig reads the config file and binds explicitly set flags.
// Environment variables are applied when the config is unmarshalled.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return err
		}
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".humanrelay"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagBindings[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	return bindErr
}

// getConfigFromContext returns the config stored by PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
