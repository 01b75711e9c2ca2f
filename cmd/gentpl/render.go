package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/goliatone/go-gentpl/internal/prompter"
	"github.com/goliatone/go-gentpl/internal/vars"
	"github.com/goliatone/go-gentpl/pkg/pipeline"
)

type renderOptions struct {
	varFiles      []string
	sets          []string
	ask           []string
	defaultFilter string
	jsonOutput    bool
	output        string
	maxTokens     int
	temperature   float64
	backend       backendOptions

	// driver replaces the survey terminal driver in tests.
	driver prompter.Driver
}

func newRenderCmd(root *rootOptions) *cobra.Command {
	opts := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render <template>",
		Short: "Render a template",
		Long: `Render a template file. The default escaping filter is picked from the
file name (page.html.tpl uses html, data.json.tpl uses json) unless
--default-filter is given.

Variables are merged in order: --vars files, then --set assignments, then
answers to --ask prompts.

Examples:
  gentpl render product.json.tpl --vars product.yaml --json
  gentpl render email.txt.tpl --set recipient=Ana --ask topic
  gentpl render page.html.tpl --backend mock --mock-response "Lorem ipsum"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, root, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVar(&opts.varFiles, "vars", nil, "YAML or JSON variables file (repeatable)")
	flags.StringArrayVar(&opts.sets, "set", nil, "Set a variable, e.g. --set meta.author=Ana (repeatable)")
	flags.StringArrayVar(&opts.ask, "ask", nil, "Prompt for a variable, optionally as name:secret or name:text (repeatable)")
	flags.StringVar(&opts.defaultFilter, "default-filter", "", "Filter for gen calls without one; empty disables it")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Parse the output as JSON and pretty print it")
	flags.StringVarP(&opts.output, "output", "o", "", "Output file (stdout if empty)")
	flags.IntVar(&opts.maxTokens, "max-tokens", 0, "Default max tokens for calls that do not set one")
	flags.Float64Var(&opts.temperature, "temperature", 0, "Default temperature for calls that do not set one")
	flags.StringVar(&opts.backend.kind, "backend", "openai", "Generation backend: openai or mock")
	flags.StringVar(&opts.backend.model, "model", "", "Model name (overrides GENTPL_MODEL)")
	flags.StringVar(&opts.backend.mockResponse, "mock-response", "", "Fixed text returned by the mock backend")
	flags.StringVar(&opts.backend.redisAddr, "redis-addr", "", "Cache responses in Redis at this address")
	flags.DurationVar(&opts.backend.cacheTTL, "cache-ttl", 24*time.Hour, "Lifetime of cached responses")
	return cmd
}

func runRender(cmd *cobra.Command, root *rootOptions, opts *renderOptions, path string) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	log, err := newLogger(root.logMode, root.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	variables, err := collectVariables(ctx, opts)
	if err != nil {
		return err
	}

	b, cleanup, err := buildBackend(ctx, opts.backend, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cleanup(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	tplOpts := []pipeline.Option{pipeline.WithLogger(log)}
	if root.trace {
		tp, err := newTracerProvider(ctx, cmd.ErrOrStderr(), log)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := tp.Shutdown(shutdownCtx); serr != nil {
				log.Warn("trace export failed", zap.Error(serr))
			}
		}()
		tplOpts = append(tplOpts, pipeline.WithTracerProvider(tp))
	}
	if cmd.Flags().Changed("default-filter") {
		tplOpts = append(tplOpts, pipeline.WithDefaultFilter(opts.defaultFilter))
	}
	tplOpts = append(tplOpts, pipeline.WithGenerationDefaults(generationDefaults(cmd, opts)))

	tpl, err := pipeline.FromFile(path, b, tplOpts...)
	if err != nil {
		return err
	}

	out, err := renderOutput(ctx, tpl, variables, opts.jsonOutput)
	if err != nil {
		return err
	}

	if opts.output == "" {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
		return err
	}
	if err := os.WriteFile(opts.output, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	log.Info("rendered template", zap.String("template", path), zap.String("output", opts.output))
	return nil
}

func collectVariables(ctx context.Context, opts *renderOptions) (map[string]any, error) {
	variables := map[string]any{}
	for _, file := range opts.varFiles {
		loaded, err := vars.LoadFile(file)
		if err != nil {
			return nil, err
		}
		variables = vars.Merge(variables, loaded)
	}
	for _, assignment := range opts.sets {
		if err := vars.Set(variables, assignment); err != nil {
			return nil, err
		}
	}
	if len(opts.ask) == 0 {
		return variables, nil
	}

	fields := make([]prompter.Field, 0, len(opts.ask))
	for _, arg := range opts.ask {
		field, err := prompter.ParseField(arg)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
	}
	var promptOpts []prompter.Option
	if opts.driver != nil {
		promptOpts = append(promptOpts, prompter.WithDriver(opts.driver))
	}
	if err := prompter.New(promptOpts...).Ask(ctx, fields, variables); err != nil {
		if errors.Is(err, prompter.ErrAborted) {
			return nil, errors.New("aborted")
		}
		return nil, err
	}
	return variables, nil
}

func generationDefaults(cmd *cobra.Command, opts *renderOptions) pipeline.GenerationDefaults {
	var defaults pipeline.GenerationDefaults
	if cmd.Flags().Changed("max-tokens") {
		maxTokens := opts.maxTokens
		defaults.MaxTokens = &maxTokens
	}
	if cmd.Flags().Changed("temperature") {
		temperature := opts.temperature
		defaults.Temperature = &temperature
	}
	return defaults
}

func renderOutput(ctx context.Context, tpl *pipeline.Template, variables map[string]any, asJSON bool) (string, error) {
	if !asJSON {
		return tpl.Render(ctx, variables)
	}
	value, err := tpl.RenderStructured(ctx, variables)
	if err != nil {
		return "", err
	}
	pretty, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode output: %w", err)
	}
	return string(pretty), nil
}
