package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// settings lists every config key shown by the config command.
var settings = []string{
	"archive.path",
	"fdsn.endpoint",
	"fdsn.timeout",
	"fdsn.retries",
	"catalog.driver",
	"catalog.mongo_uri",
	"catalog.database",
	"catalog.collection",
	"catalog.dsn",
	"results.path",
	"check.workers",
	"check.strict_epochs",
	"log.level",
	"telemetry.enabled",
	"telemetry.endpoint",
	"telemetry.insecure",
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show resolved configuration",
	Long:  "Display the fully resolved configuration showing all settings and their sources.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if f := viper.ConfigFileUsed(); f != "" {
			cmd.Printf("Config file: %s\n", f)
		}
		cmd.Println(strings.Repeat("-", 72))
		for _, key := range settings {
			val := viper.Get(key)
			if strings.HasSuffix(key, "mongo_uri") || strings.HasSuffix(key, "dsn") {
				val = redact(fmt.Sprint(val))
			}
			cmd.Printf("  %-22s = %-30v (%s)\n", key, val, configSource(cmd, key, envVar(key)))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func envVar(key string) string {
	return "WFCC_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// configSource determines where a viper key's value came from.
// Priority: flag > env > config file > default.
func configSource(cmd *cobra.Command, key, envVar string) string {
	if flagChanged(cmd, key) {
		return "flag"
	}
	if os.Getenv(envVar) != "" {
		return "env"
	}
	if cfgFile := viper.ConfigFileUsed(); cfgFile != "" {
		// Read the config file independently to check if this key is set there.
		fileCfg := viper.New()
		fileCfg.SetConfigFile(cfgFile)
		if err := fileCfg.ReadInConfig(); err == nil && fileCfg.IsSet(key) {
			return "config file"
		}
	}
	return "default"
}

// flagChanged reports whether a persistent flag bound to key was set. Only
// root flags are visible from this command.
func flagChanged(cmd *cobra.Command, key string) bool {
	for flag, bound := range map[string]string{"log-level": "log.level", "results": "results.path"} {
		if bound == key {
			return cmd.Flags().Changed(flag)
		}
	}
	return false
}

// redact hides the password of a connection string.
func redact(s string) string {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return s
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return s
	}
	user, _, hasPassword := strings.Cut(userinfo, ":")
	if !hasPassword {
		return s
	}
	return scheme + "://" + user + ":xxxxx@" + host
}
