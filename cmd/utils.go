package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/eida/wfcc/pkg/consistency/types"
)

// ExitCode maps a command error to the process exit status: 2 for invalid
// configuration or parameters, 1 for anything else.
func ExitCode(err error) int {
	var cfgErr types.ConfigError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &cfgErr):
		return 2
	default:
		return 1
	}
}

// commandPath lists the names from the root command down to c.
func commandPath(c *cobra.Command) []string {
	if !c.HasParent() {
		return []string{c.Name()}
	}
	return append(commandPath(c.Parent()), c.Name())
}

// setSpanAttributes records the command path and every flag set on the
// command line as command.flag.<name>.
func setSpanAttributes(cmd *cobra.Command, span trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.StringSlice("command.path", commandPath(cmd)),
	}
	flags := cmd.Flags()
	flags.Visit(func(f *pflag.Flag) {
		k := "command.flag." + f.Name
		switch f.Value.Type() {
		case "bool":
			v, err := flags.GetBool(f.Name)
			if err == nil {
				attrs = append(attrs, attribute.Bool(k, v))
			}
		case "int":
			v, err := flags.GetInt(f.Name)
			if err == nil {
				attrs = append(attrs, attribute.Int(k, v))
			}
		case "stringSlice":
			v, err := flags.GetStringSlice(f.Name)
			if err == nil {
				attrs = append(attrs, attribute.StringSlice(k, v))
			}
		default:
			attrs = append(attrs, attribute.String(k, redact(f.Value.String())))
		}
	})
	span.SetAttributes(attrs...)
}
