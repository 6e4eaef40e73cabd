package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - governance gateway for LLM APIs",
	Long: `Warden sits between applications and an OpenAI-compatible API and
applies named policies to every chat completion:

  - Cost caps per request, per minute, and per day
  - Request rate limits per minute, hour, and day
  - PII detection with redact, hash, warn, or block actions
  - Response caching with per-policy TTLs
  - Condition-based model routing

Every decision is recorded as a tamper-evident audit record.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return cli.ExitCode(err)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (built-in defaults when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// loadConfig reads the configuration file with environment overrides
// and installs it as the process-wide configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	config.Set(cfg)
	return cfg, nil
}

// setupLogging installs the default logger. Commands other than run log
// to stderr so their output stays parseable.
func setupLogging(cfg *config.Config, levelOverride string, toStderr bool) error {
	lc := logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
		RedactPII: cfg.Telemetry.Logging.RedactEnabled(),
	}
	if levelOverride != "" {
		lc.Level = levelOverride
	}
	if verbose {
		lc.Level = "debug"
	}
	if toStderr {
		lc.Writer = os.Stderr
	}
	if _, err := logging.Setup(lc); err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	return nil
}

func formatter(format string) (cli.Formatter, error) {
	f, err := cli.NewFormatter(cli.OutputFormat(format))
	if err != nil {
		return nil, cli.NewConfigError("--format", err.Error())
	}
	return f, nil
}
