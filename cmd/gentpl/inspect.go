package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-gentpl/pkg/backend/mock"
	"github.com/goliatone/go-gentpl/pkg/pipeline"
)

type inspectOptions struct {
	jsonOutput bool
	rewritten  bool
}

type inspectReport struct {
	Template      string              `json:"template"`
	DefaultFilter string              `json:"default_filter"`
	CallSites     []pipeline.CallSite `json:"call_sites"`
	Rewritten     string              `json:"rewritten,omitempty"`
}

func newInspectCmd() *cobra.Command {
	opts := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect <template>",
		Short: "List the gen calls in a template and their filter chains",
		Long: `Parse a template without rendering it and print every gen call with the
filters applied to its output. Calls without filters show the default filter
picked for the file.

Example:
  gentpl inspect product.json.tpl --rewritten`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Parsing needs a backend; nothing is generated.
			tpl, err := pipeline.FromFile(args[0], mock.New())
			if err != nil {
				return err
			}
			report := inspectReport{
				Template:      tpl.Name(),
				DefaultFilter: tpl.DefaultFilter(),
				CallSites:     tpl.FilterChains(),
			}
			if opts.rewritten {
				report.Rewritten = tpl.RewrittenSource()
			}
			if opts.jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return writeReport(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&opts.rewritten, "rewritten", false, "Include the rewritten template source")
	return cmd
}

func writeReport(w io.Writer, report inspectReport) error {
	defaultFilter := report.DefaultFilter
	if defaultFilter == "" {
		defaultFilter = "(none)"
	}
	fmt.Fprintf(w, "template:       %s\n", report.Template)
	fmt.Fprintf(w, "default filter: %s\n", defaultFilter)
	fmt.Fprintf(w, "call sites:     %d\n\n", len(report.CallSites))

	if len(report.CallSites) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tPOSITION\tFILTERS\tCALL")
		for _, site := range report.CallSites {
			chain := strings.Join(site.Filters, " | ")
			if chain == "" {
				chain = "(default) " + report.DefaultFilter
			}
			fmt.Fprintf(tw, "%d\t%d:%d\t%s\t%s\n", site.ID, site.Line, site.Column, strings.TrimSpace(chain), site.Call)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if report.Rewritten != "" {
		fmt.Fprintf(w, "\n--- rewritten source ---\n%s", report.Rewritten)
		if !strings.HasSuffix(report.Rewritten, "\n") {
			fmt.Fprintln(w)
		}
	}
	return nil
}
