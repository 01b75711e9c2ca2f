// Command gentpl renders generation templates from the terminal.
//
// Usage:
//
//	gentpl render page.html.tpl --vars vars.yaml --set topic=tides
//	gentpl inspect page.html.tpl
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	logLevel string
	logMode  string
	trace    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "gentpl",
		Short: "Render structured templates whose content is written by a language model",
		Long: `gentpl renders JSON, HTML, XML, YAML or text templates whose content regions
are marked with gen("prompt") calls. Every call in a template is sent to the
backend as one batch, then the answers are escaped for the surrounding format.

Examples:
  gentpl render product.json.tpl --set category=kettle --backend mock
  gentpl inspect page.html.tpl`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.logMode, "log-mode", "dev", "Log encoding: dev, prod or nop")
	flags.BoolVar(&opts.trace, "trace", false, "Export render spans (OTLP when OTEL_EXPORTER_OTLP_ENDPOINT is set, stderr otherwise)")

	cmd.AddCommand(newRenderCmd(opts))
	cmd.AddCommand(newInspectCmd())
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gentpl: %v\n", err)
		os.Exit(1)
	}
}
