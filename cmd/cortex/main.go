package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AISecurityAssurance/cortex-arema/internal/logging"
	"github.com/AISecurityAssurance/cortex-arema/pkg/findings"
	"github.com/AISecurityAssurance/cortex-arema/pkg/inference"
	"github.com/AISecurityAssurance/cortex-arema/pkg/pipeline"
	"github.com/AISecurityAssurance/cortex-arema/pkg/pipeline/handlers"
	"github.com/AISecurityAssurance/cortex-arema/pkg/stream"
	"github.com/AISecurityAssurance/cortex-arema/pkg/templates"

	// Register all LLM providers via their init() functions.
	_ "github.com/AISecurityAssurance/cortex-arema/pkg/llm/providers"
)

func main() {
	if err := loadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var flags config
	root := &cobra.Command{
		Use:   "cortex",
		Short: "Cortex: security analysis pipeline runner",
		Long: `Cortex runs security analysis pipelines.

A pipeline wires input nodes (an architecture diagram, a system
description) into STRIDE and STPA-Sec analysis nodes whose findings are
collected by output nodes. Pipelines are YAML, JSON or DOT files.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg := resolve(flagChanged(cmd), envDefaults(), flags)
			return initLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
		},
	}
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&flags.LogFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(runCmd(&flags))
	root.AddCommand(lintCmd())
	root.AddCommand(graphCmd())
	root.AddCommand(templatesCmd(&flags))
	return root
}

func flagChanged(cmd *cobra.Command) func(string) bool {
	return func(name string) bool {
		f := cmd.Flag(name)
		return f != nil && f.Changed
	}
}

// initLogger installs the default logger. Run and node ids are attached
// to every record logged with a context.
func initLogger(w io.Writer, level, format string) error {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return err
	}
	logger, err := logging.New(w, lvl, format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

// ─── run ──────────────────────────────────────────────────────────────────────

func runCmd(flags *config) *cobra.Command {
	var (
		reportPath string
		parallel   int
		waiting    bool
	)

	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Execute a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := resolve(flagChanged(cmd), envDefaults(), *flags)
			snap, err := loadSnapshot(args[0])
			if err != nil {
				return err
			}
			store, err := loadTemplates(cfg.TemplatesDir)
			if err != nil {
				return err
			}
			reg := handlers.Default(handlers.Config{
				Templates:    store,
				Invoker:      newInvoker(cfg),
				DefaultModel: cfg.Model,
			})

			opts := []pipeline.RunnerOption{pipeline.WithParallel(parallel)}
			if waiting {
				opts = append(opts, pipeline.WithWaitingStatus())
			}
			st, runErr := executePipeline(cmd.Context(), reg, snap, opts...)
			printSummary(cmd.OutOrStdout(), snap, st)

			if reportPath != "" {
				if err := pipeline.SaveReport(reportPath, snap, st); err != nil {
					return errors.Join(runErr, err)
				}
				slog.Info("report written", "path", reportPath)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&flags.Model, "model", defaultModel, "model for analysis nodes that name none (provider:model-id)")
	cmd.Flags().StringVar(&flags.InferenceURL, "inference-url", "", "POST prompts to this endpoint instead of calling providers directly")
	cmd.Flags().StringVar(&flags.TemplatesDir, "templates-dir", "", "directory of additional prompt templates")
	cmd.Flags().IntVar(&flags.Attempts, "attempts", 1, "provider attempts per request for transient errors")
	cmd.Flags().StringVar(&reportPath, "report", "", "write the final execution state to this JSON file")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "run up to n independent nodes at once")
	cmd.Flags().BoolVar(&waiting, "waiting", false, "mark planned nodes waiting when the run starts")
	return cmd
}

// executePipeline runs snap, logging every execution event. An interrupt
// cancels the run.
func executePipeline(ctx context.Context, reg pipeline.HandlerRegistry, snap pipeline.Snapshot, opts ...pipeline.RunnerOption) (pipeline.ExecutionState, error) {
	hub := stream.NewMemoryHub()
	events, unsubscribe, err := hub.Subscribe(ctx, stream.Filter{})
	if err != nil {
		return pipeline.ExecutionState{}, err
	}
	var wg sync.WaitGroup
	wg.Go(func() {
		for e := range events {
			logEvent(e)
		}
	})

	opts = append(opts, pipeline.WithObserver(hub), pipeline.WithLogger(slog.Default()))
	runner, err := pipeline.NewRunner(reg, opts...)
	if err != nil {
		unsubscribe()
		wg.Wait()
		return pipeline.ExecutionState{}, err
	}

	sctx, stop := signalContext(ctx, runner.Cancel)
	defer stop()
	st, runErr := runner.Run(sctx, snap)

	unsubscribe()
	wg.Wait()
	if n := hub.Dropped(); n > 0 {
		slog.Warn("execution events dropped", "count", n)
	}
	return st, runErr
}

func logEvent(e stream.Event) {
	attrs := []any{"run_id", e.RunID, "progress", fmt.Sprintf("%.0f%%", e.State.TotalProgress)}
	if e.NodeID != "" {
		attrs = append(attrs, "node_id", e.NodeID)
		if msg := e.State.Node(e.NodeID).Error; msg != "" {
			attrs = append(attrs, "err", msg)
		}
	} else if e.State.Error != "" {
		attrs = append(attrs, "err", e.State.Error)
	}
	slog.Debug(e.Type, attrs...)
}

func newInvoker(cfg config) inference.Invoker {
	if cfg.InferenceURL != "" {
		return &inference.HTTPInvoker{URL: cfg.InferenceURL}
	}
	return &inference.LLMInvoker{Attempts: cfg.Attempts}
}

func loadTemplates(dir string) (*templates.MemoryStore, error) {
	store := templates.Builtin()
	if dir == "" {
		return store, nil
	}
	if err := store.LoadDir(dir); err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	return store, nil
}

func loadSnapshot(path string) (pipeline.Snapshot, error) {
	doc, err := pipeline.LoadDocument(path)
	if err != nil {
		return pipeline.Snapshot{}, err
	}
	snap, err := doc.Build()
	if err != nil {
		return pipeline.Snapshot{}, fmt.Errorf("build pipeline: %w", err)
	}
	return snap, nil
}

// printSummary writes one line per node in execution order, then the
// findings gathered by each output node.
func printSummary(w io.Writer, snap pipeline.Snapshot, st pipeline.ExecutionState) {
	fmt.Fprintf(w, "Run %s: %s (%.0f%%)\n", st.RunID, st.Status, st.TotalProgress)
	order := st.Order
	if len(order) == 0 {
		for _, n := range snap.Nodes {
			order = append(order, n.ID)
		}
	}
	for _, id := range order {
		ns := st.Node(id)
		line := fmt.Sprintf("  %-12s %-9s", id, ns.Status)
		if ns.Duration > 0 {
			line += " " + ns.Duration.String()
		}
		if ns.Error != "" {
			line += "  " + ns.Error
		}
		fmt.Fprintln(w, line)
	}

	for _, n := range snap.Nodes {
		if !n.Kind.IsOutput() {
			continue
		}
		for _, res := range collectResults(st.Node(n.ID).Results) {
			for _, f := range res.Findings {
				fmt.Fprintf(w, "  [%s] %-6s %s", n.ID, f.Severity, f.Title)
				if f.Category != "" {
					fmt.Fprintf(w, " (%s)", f.Category)
				}
				fmt.Fprintln(w)
			}
		}
	}
}

// collectResults flattens an output node's value, which is a single result
// or a list of them.
func collectResults(v any) []findings.Result {
	switch r := v.(type) {
	case findings.Result:
		return []findings.Result{r}
	case []any:
		var out []findings.Result
		for _, item := range r {
			out = append(out, collectResults(item)...)
		}
		return out
	}
	return nil
}

// ─── lint ─────────────────────────────────────────────────────────────────────

func lintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <pipeline>",
		Short: "Validate a pipeline file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := loadSnapshot(args[0])
			if err != nil {
				return err
			}
			return lint(cmd.OutOrStdout(), snap)
		},
	}
}

func lint(w io.Writer, snap pipeline.Snapshot) error {
	res := pipeline.ValidatePipeline(snap.Nodes, snap.Connections)
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn.Error())
	}
	if _, err := pipeline.Plan(snap); err != nil {
		return err
	}
	fmt.Fprintf(w, "OK: pipeline is valid (%d nodes, %d connections)\n", len(snap.Nodes), len(snap.Connections))
	return nil
}

// ─── templates ────────────────────────────────────────────────────────────────

func templatesCmd(flags *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect prompt templates",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List the available prompt templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := resolve(flagChanged(cmd), envDefaults(), *flags)
			store, err := loadTemplates(cfg.TemplatesDir)
			if err != nil {
				return err
			}
			for _, t := range store.List() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %-10s %s\n", t.ID, t.Kind, t.Name)
			}
			return nil
		},
	}
	list.Flags().StringVar(&flags.TemplatesDir, "templates-dir", "", "directory of additional prompt templates")
	cmd.AddCommand(list)
	return cmd
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// signalContext returns a context that is cancelled on SIGINT or SIGTERM,
// calling onSignal first. stop releases the signal handler.
func signalContext(parent context.Context, onSignal func()) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			fmt.Fprintln(os.Stderr, "\n[cortex] interrupted, cancelling pipeline")
			onSignal()
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(ch)
		cancel()
	}
}
