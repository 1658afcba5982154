package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"legalmind/internal/domain"
	"legalmind/internal/infra/config"
	"legalmind/internal/infra/logger"
	"legalmind/internal/infra/tracer"
	"legalmind/internal/usecase/multiagent"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "legalmind: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "legalmind",
		Short: "Multi-agent legal document and equipment schedule risk assistant",
		Long: `legalmind orchestrates specialist agents over a shared conversation:
schedule, political, tariff and logistics risk analysts feeding a reporting
agent, and a legal team of contract parser, researcher, compliance checker,
risk assessor and memo writer.

Run without a command to start the HTTP API and scheduler.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath(),
		"config file path (env LEGALMIND_CONFIG)")

	root.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newAgentsCmd(opts),
		newTemplatesCmd(),
		newClassifyCmd(),
		newEncryptCmd(),
	)
	return root
}

func defaultConfigPath() string {
	if p := os.Getenv("LEGALMIND_CONFIG"); p != "" {
		return p
	}
	return "./config.yaml"
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, event stream and scheduled risk report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		profile  string
		template string
		session  string
		asJSON   bool
		contexts []string
	)
	cmd := &cobra.Command{
		Use:   "run [flags] <query>",
		Short: "Run one query to completion and print the final answer",
		Example: `  legalmind run "What is the tariff exposure on the turbine order?"
  legalmind run --template contract_review --context contract_type=lease "Review the attached lease"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctxMap, err := parseContext(contexts)
			if err != nil {
				return err
			}
			req := domain.RunRequest{
				Query:     strings.Join(args, " "),
				SessionID: session,
				Profile:   profile,
				Template:  template,
				Context:   ctxMap,
			}
			return runOnce(cmd.Context(), opts, req, cmd.OutOrStdout(), asJSON)
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "selection profile (automated, chatbot, parallel, legal)")
	cmd.Flags().StringVar(&template, "template", "", "workflow template id, runs a fixed agent sequence")
	cmd.Flags().StringVar(&session, "session", "", "session id to attach the run to")
	cmd.Flags().StringArrayVar(&contexts, "context", nil, "run context as key=value, repeatable")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run summary as JSON")
	return cmd
}

func newAgentsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the configured agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			agents := multiagent.ApplyOverrides(multiagent.DefaultAgents(), agentOverrides(cfg.Agents))
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTOOLS")
			for _, a := range agents {
				info := a.Info()
				fmt.Fprintf(w, "%s\t%s\t%s\n", info.ID, info.DisplayName, strings.Join(info.Tools, ", "))
			}
			return w.Flush()
		},
	}
}

func newTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List the workflow templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tAGENTS\tDESCRIPTION")
			for _, t := range multiagent.ListTemplates() {
				fmt.Fprintf(w, "%s\t%d\t%s\n", t.ID, t.AgentCount, t.Description)
			}
			return w.Flush()
		},
	}
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text>",
		Short: "Show which agent a message would be routed to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			intent, conf := multiagent.Confidence(text)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "intent:     %s\n", intent)
			fmt.Fprintf(out, "confidence: %.2f\n", conf)
			fmt.Fprintf(out, "agent:      %s\n", multiagent.AgentForIntent(intent))
			if seq := multiagent.PlanSequence(text); len(seq) > 1 {
				ids := make([]string, len(seq))
				for i, id := range seq {
					ids[i] = string(id)
				}
				fmt.Fprintf(out, "sequence:   %s\n", strings.Join(ids, " -> "))
			}
			return nil
		},
	}
}

func newEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt",
		Short: "Seal a provider API key read from stdin for use in config.yaml",
		Long: "Reads one line from stdin and prints it sealed with the passphrase in " +
			config.ConfigKeyEnv + ". Paste the output as a provider api_key.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			passphrase := os.Getenv(config.ConfigKeyEnv)
			if passphrase == "" {
				return fmt.Errorf("%s is not set", config.ConfigKeyEnv)
			}
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && err != io.EOF {
				return fmt.Errorf("read value: %w", err)
			}
			value := strings.TrimRight(line, "\r\n")
			if value == "" {
				return fmt.Errorf("empty value on stdin")
			}
			sealed, err := config.EncryptValue(value, passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), config.EncPrefix+sealed)
			return nil
		},
	}
}

// setup loads config and builds the logger and tracer. The returned cleanup
// flushes both.
func setup(ctx context.Context, configPath string) (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: %w", err)
	}
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("logger: %w", err)
	}
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		logCloser()
		return nil, nil, nil, fmt.Errorf("tracer: %w", err)
	}
	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerShutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
		logCloser()
	}
	return cfg, log, cleanup, nil
}

func runServe(parent context.Context, opts *rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, log, cleanup, err := setup(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	if err := a.startScheduler(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	log.Info("legalmind started", "version", version, "addr", cfg.Server.Addr,
		"profile", cfg.Orchestrator.DefaultProfile, "provider", cfg.LLM.DefaultProvider)
	if err := a.httpServer().Start(ctx); err != nil {
		return err
	}
	log.Info("legalmind stopped")
	return nil
}

func runOnce(parent context.Context, opts *rootOptions, req domain.RunRequest, out io.Writer, asJSON bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, log, cleanup, err := setup(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	sum, runErr := a.engine.Execute(ctx, req)
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return err
		}
		return runErr
	}
	if runErr != nil {
		if sum.RunID == "" {
			return runErr
		}
		return fmt.Errorf("run %s aborted (%s): %s", sum.RunID, domain.ErrorCodeOf(runErr), sum.Error)
	}
	fmt.Fprint(out, renderAnswer(sum, terminalWidth()))
	return nil
}

// parseContext turns key=value pairs into a run context.
func parseContext(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("--context expects key=value, got %q", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}
