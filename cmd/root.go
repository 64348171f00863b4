package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/mitchellh/go-wordwrap"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/eida/wfcc/internal/telemetry"
	"github.com/eida/wfcc/pkg/config"
)

var (
	log    = logging.Logger("cmd")
	tracer = otel.Tracer("cmd")
)

var rootCmd = &cobra.Command{
	Use:   "wfcc",
	Short: "Check a waveform archive against station metadata and the WFCatalog",
	Long: wordwrap.WrapString(
		"wfcc reconciles a seismic waveform archive with the FDSN station "+
			"metadata that describes it and with the WFCatalog that indexes it. "+
			"Every inconsistency found is written to a SQLite result file that "+
			"remediation tools read.",
		80),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := readConfig(); err != nil {
			return err
		}
		if err := setLogLevel(viper.GetString("log.level")); err != nil {
			return err
		}
		if err := startTelemetry(cmd); err != nil {
			// carry on without tracing
			log.Warnw("telemetry disabled", "err", err)
		}
		return nil
	},
	// We handle errors ourselves when they're returned from ExecuteContext.
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	cobra.EnableTraverseRunHooks = true
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)

	config.SetDefaults(viper.GetViper())
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&cfgFilePath,
		"config",
		"",
		"Path to the config file (default: ./wfcc-config.yaml, then $XDG_CONFIG_HOME/wfcc/wfcc-config.yaml)",
	)

	rootCmd.PersistentFlags().String(
		"log-level",
		"info",
		"Log level (debug, info, warn, error)",
	)
	cobra.CheckErr(viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level")))

	rootCmd.PersistentFlags().String(
		"results",
		"inconsistencies_results.db",
		"Path of the SQLite result file",
	)
	cobra.CheckErr(viper.BindPFlag("results.path", rootCmd.PersistentFlags().Lookup("results")))
}

var cfgFilePath string

func initConfig() {
	// check if environment variables match any of the existing keys
	// as an example a key is 'archive.path'
	viper.AutomaticEnv()
	// when checking for env vars, rename keys searched for from 'archive.path' to 'archive_path'
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// when checking for env vars, search for keys prefixed with WFCC
	viper.SetEnvPrefix("WFCC")

	viper.SetConfigName("wfcc-config")
	viper.SetConfigType("yaml")

	// if no config file was provided, first look in the current directory _then_ look in
	// $XDG_CONFIG_HOME/wfcc/
	if cfgFilePath == "" {
		viper.AddConfigPath(".")
		if configDir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(configDir, "wfcc"))
		}
	} else {
		viper.SetConfigFile(cfgFilePath)
	}
}

// readConfig reads the config file if there is one. A missing file is only an
// error when it was named explicitly.
func readConfig() error {
	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err == nil || (errors.As(err, &notFound) && cfgFilePath == "") {
		if used := viper.ConfigFileUsed(); used != "" {
			log.Debugw("loaded config file", "path", used)
		}
		return nil
	}
	return fmt.Errorf("reading config file: %w", err)
}

func setLogLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := logging.LevelFromString(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logging.SetAllLoggers(lvl)
	return nil
}

var (
	shutdownTelemetry = func(context.Context) error { return nil }
	cliSpan           trace.Span
)

// startTelemetry installs the tracer provider and opens the span covering
// the whole command.
func startTelemetry(cmd *cobra.Command) error {
	tcfg := config.TelemetryConfig{
		Enabled:  viper.GetBool("telemetry.enabled"),
		Endpoint: viper.GetString("telemetry.endpoint"),
		Insecure: viper.GetBool("telemetry.insecure"),
	}
	shutdown, err := telemetry.Setup(cmd.Context(), tcfg.ToTelemetry())
	if err != nil {
		return err
	}
	shutdownTelemetry = shutdown

	ctx, span := tracer.Start(cmd.Context(), "cli")
	setSpanAttributes(cmd, span)
	cliSpan = span
	cmd.SetContext(ctx)
	return nil
}

// ExecuteContext adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func ExecuteContext(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if cliSpan != nil {
		if err != nil {
			cliSpan.RecordError(err)
		}
		cliSpan.End()
	}
	return errors.Join(err, shutdownTelemetry(context.Background()))
}
