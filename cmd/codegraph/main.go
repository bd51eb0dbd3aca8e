package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/spf13/cobra"

	"github.com/codegraphhq/codegraph/internal/config"
	"github.com/codegraphhq/codegraph/internal/engine"
	"github.com/codegraphhq/codegraph/internal/graph"
	"github.com/codegraphhq/codegraph/internal/ingest"
	"github.com/codegraphhq/codegraph/internal/notify"
	"github.com/codegraphhq/codegraph/internal/project"
	"github.com/codegraphhq/codegraph/internal/query"
	"github.com/codegraphhq/codegraph/internal/server"
)

var (
	version    = "dev"
	cfgFile    string
	projectDir string
	logFormat  string
	logLevel   string
	logger     *slog.Logger
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "codegraph",
		Short: "codegraph — persistent code graph and query engine",
		Long:  "Stores code entities and their relationships in a per-project graph database and answers structural queries about them.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLogLevel(logLevel)
			if err != nil {
				return err
			}
			opts := &slog.HandlerOptions{Level: level}
			switch logFormat {
			case "json":
				logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
			case "text":
				logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
			default:
				return fmt.Errorf("invalid --log-format %q (use: text, json)", logFormat)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./codegraph.yaml)")
	root.PersistentFlags().StringVarP(&projectDir, "project", "C", "", "project directory (default: walk up from cwd)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format (text, json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		initCmd(),
		queryCmd(),
		ingestCmd(),
		staleCmd(),
		cyclesCmd(),
		statsCmd(),
		exportCmd(),
		syncCmd(),
		serveCmd(),
		versionCmd(),
		completionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(1)
	}
	return cfg
}

// openProject locates the project and opens its store through a project
// manager. The returned cleanup closes every handle the manager holds.
func openProject(ctx context.Context) (graph.Store, string, *config.Config, func()) {
	cfg := loadConfig()
	mgr := project.NewManager(cfg.Storage.BusyTimeout, logger)
	if cfg.Storage.DefaultRoot != "" {
		mgr.SetDefaultRoot(cfg.Storage.DefaultRoot)
	}

	start := projectDir
	if start == "" {
		cwd, err := os.Getwd()
		if err != nil {
			logger.Error("resolving working directory", "error", err)
			os.Exit(1)
		}
		start = cwd
	}

	store, root, err := mgr.OpenFrom(ctx, start)
	if err != nil {
		logger.Error("opening project", "error", err)
		mgr.Close() //nolint:errcheck // exiting anyway
		os.Exit(1)
	}

	return store, root, cfg, func() { _ = mgr.Close() }
}

// --- init ---

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create an empty project graph database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			abs, err := filepath.Abs(dir)
			if err != nil {
				return err
			}

			cfg := loadConfig()
			dbPath := filepath.Join(abs, project.DataDir, project.DBFile)
			store, err := graph.NewSQLiteStore(dbPath, cfg.Storage.BusyTimeout)
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck // best-effort cleanup

			if err := store.Init(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("Initialized project graph at %s\n", dbPath)
			return nil
		},
	}
}

// --- query ---

func queryCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "query <query...>",
		Short: "Run a query in either syntax",
		Long: `Run a graph query. Both the verbose and the terse syntax are accepted:

  codegraph query 'SELECT * FROM functions WHERE complexity > 50 ORDER BY complexity DESC LIMIT 10'
  codegraph query fn c\>50 sort c- 10
  codegraph query 'SHOW CALLERS OF main DEPTH 2'
  codegraph query callers main d2`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ast, err := query.Parse(strings.Join(args, " "))
			if err != nil {
				return err
			}

			store, _, _, done := openProject(cmd.Context())
			defer done()

			eng := engine.New(store, logger)
			result, err := eng.Execute(cmd.Context(), ast)
			if err != nil {
				return err
			}

			if format == "json" {
				return printJSON(result)
			}
			return printResult(result)
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "output format: table, json")
	return cmd
}

func printResult(r *engine.Result) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if r.Traversal != nil || r.Target != nil {
		_, _ = fmt.Fprintln(w, "DEPTH\tEDGE\tID\tNAME\tFILE")
		for _, tn := range r.Traversal {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				tn.Depth, tn.EdgeType, tn.Node.ID, tn.Node.Name, tn.Node.FilePath)
		}
		return w.Flush()
	}

	_, _ = fmt.Fprintln(w, "ID\tKIND\tNAME\tFILE\tCOMPLEXITY\tLINES")
	for _, n := range r.Nodes {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			n.ID, n.Kind, n.Name, n.FilePath, n.Complexity, n.Lines)
	}
	return w.Flush()
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// --- ingest ---

func ingestCmd() *cobra.Command {
	var force, async bool

	cmd := &cobra.Command{
		Use:   "ingest [batch-file...]",
		Short: "Ingest scanner batch files into the graph",
		Long: `Ingest scan batches produced by language scanners. Batches are JSON or
YAML files of nodes and unresolved references; with no arguments the
directories from ingest.watch in the config are searched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, cfg, done := openProject(cmd.Context())
			defer done()

			paths := args
			if len(paths) == 0 {
				var err error
				paths, err = ingest.DiscoverBatches(cfg.Ingest.Watch)
				if err != nil {
					return err
				}
				if len(paths) == 0 {
					return fmt.Errorf("no batch files given and none found under ingest.watch")
				}
			}

			in := ingest.New(store, logger)
			if n := buildNotifier(cfg); n != nil {
				in.SetNotifier(n)
			}
			if async {
				scanID, err := in.RunAsync(cmd.Context(), ingest.Request{Paths: paths, Force: force})
				if err != nil {
					return err
				}
				fmt.Printf("Ingest %d started\n", scanID)
				return nil
			}

			r := in.RunSync(cmd.Context(), ingest.Request{Paths: paths, Force: force})
			if r.Error != nil {
				return r.Error
			}
			fmt.Printf("Ingested %d file(s): %d nodes, %d edges", r.Files, r.Nodes, r.Edges)
			if r.Skipped > 0 {
				fmt.Printf(" (%d unchanged file(s) skipped)", r.Skipped)
			}
			if r.Gaps > 0 {
				fmt.Printf(", %d unresolved reference(s)", r.Gaps)
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "ingest files even when their content hash is unchanged")
	cmd.Flags().BoolVar(&async, "async", false, "run the ingest in the background and return immediately")
	return cmd
}

// buildNotifier assembles the notifier stack from configuration, or nil
// when no backend is configured.
func buildNotifier(cfg *config.Config) notify.Notifier {
	var backends []notify.Notifier
	if cfg.Notify.Stdout {
		backends = append(backends, notify.NewStdoutNotifier())
	}
	if cfg.Notify.Webhook != "" {
		backends = append(backends, notify.NewWebhookNotifier(cfg.Notify.Webhook, cfg.Notify.Headers))
	}
	switch len(backends) {
	case 0:
		return nil
	case 1:
		return backends[0]
	default:
		return notify.NewMulti(backends...)
	}
}

// --- stale ---

func staleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stale <batch-file>",
		Short: "List the files in a batch whose stored content is out of date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := ingest.LoadBatch(args[0])
			if err != nil {
				return err
			}

			store, _, _, done := openProject(cmd.Context())
			defer done()

			current := make(map[string]string, len(batch.Files))
			for _, f := range batch.Files {
				current[f.Path] = f.Hash
			}
			stale, err := store.StaleFiles(cmd.Context(), current)
			if err != nil {
				return err
			}

			if len(stale) == 0 {
				fmt.Println("All files up to date.")
				return nil
			}
			for _, p := range stale {
				fmt.Println(p)
			}
			return nil
		},
	}
}

// --- cycles ---

func cyclesCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "Report every elementary dependency cycle in the graph",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, _, done := openProject(cmd.Context())
			defer done()

			eng := engine.New(store, logger)
			cycles, err := eng.FindCycles(cmd.Context())
			if err != nil {
				return err
			}

			if format == "json" {
				return printJSON(map[string]any{"count": len(cycles), "cycles": cycles})
			}

			if len(cycles) == 0 {
				fmt.Println("No cycles found.")
				return nil
			}
			fmt.Printf("Found %d cycle(s):\n\n", len(cycles))
			for i, c := range cycles {
				fmt.Printf("  %d. [%d] %s\n", i+1, c.Length, strings.Join(c.Nodes, " -> "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "output format: table, json")
	return cmd
}

// --- stats ---

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show graph database statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, root, _, done := openProject(cmd.Context())
			defer done()
			ctx := cmd.Context()

			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}

			dbPath := filepath.Join(root, project.DataDir, project.DBFile)
			sizeStr := "unknown"
			if info, err := os.Stat(dbPath); err == nil {
				sizeStr = formatBytes(info.Size())
			}

			fmt.Printf("Database: %s (%s)\n\n", dbPath, sizeStr)
			fmt.Printf("Nodes: %d\n", stats.Nodes)
			for k, c := range stats.NodesByKind {
				fmt.Printf("  %-20s %d\n", k, c)
			}
			fmt.Printf("\nEdges: %d\n", stats.Edges)
			for t, c := range stats.EdgesByType {
				fmt.Printf("  %-20s %d\n", t, c)
			}
			fmt.Printf("\nScanned files: %d\n", stats.Files)

			scans, err := store.ListScans(ctx, 100)
			if err != nil {
				return err
			}
			statusCounts := make(map[string]int)
			for _, s := range scans {
				statusCounts[s.Status]++
			}
			fmt.Printf("\nIngest runs: %d\n", len(scans))
			for status, count := range statusCounts {
				fmt.Printf("  %-20s %d\n", status, count)
			}
			return nil
		},
	}
}

// --- export ---

func exportCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the graph in various formats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, _, done := openProject(cmd.Context())
			defer done()
			ctx := cmd.Context()

			var output string
			var err error
			switch format {
			case "json":
				output, err = graph.ExportJSON(ctx, store)
			case "dot":
				output, err = graph.ExportDOT(ctx, store)
			case "mermaid":
				output, err = graph.ExportMermaid(ctx, store)
			default:
				return fmt.Errorf("unsupported format %q (use: json, dot, mermaid)", format)
			}
			if err != nil {
				return err
			}

			fmt.Print(output)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "export format: json, dot, mermaid")
	return cmd
}

// --- sync ---

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Mirror the graph to Memgraph for visualization",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, cfg, done := openProject(cmd.Context())
			defer done()

			if !cfg.Storage.Mirror.Enabled {
				return fmt.Errorf("mirror is not enabled in configuration (set storage.mirror.enabled: true)")
			}

			auth := neo4j.NoAuth()
			if cfg.Storage.Mirror.Username != "" {
				auth = neo4j.BasicAuth(cfg.Storage.Mirror.Username, cfg.Storage.Mirror.Password, "")
			}

			driver, err := neo4j.NewDriverWithContext(cfg.Storage.Mirror.URI, auth)
			if err != nil {
				return fmt.Errorf("connecting to mirror: %w", err)
			}
			defer driver.Close(context.Background()) //nolint:errcheck // best-effort cleanup

			return graph.SyncToMirror(cmd.Context(), store, driver, logger)
		},
	}
}

// --- serve ---

func serveCmd() *cobra.Command {
	var listen string
	var readOnly bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server over the current project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, root, cfg, done := openProject(cmd.Context())
			defer done()

			if listen == "" {
				listen = cfg.Server.Listen
			}

			eng := engine.New(store, logger)
			in := ingest.New(store, logger)
			if n := buildNotifier(cfg); n != nil {
				in.SetNotifier(n)
			}
			srv := server.New(store, eng, in, logger, server.Options{
				Listen:    listen,
				ReadOnly:  readOnly || cfg.Server.ReadOnly,
				APIToken:  cfg.Server.AuthToken,
				RateLimit: cfg.Server.RateLimit,
				RateBurst: cfg.Server.RateBurst,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			logger.Info("serving project", "root", root)
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			return srv.Start()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config or :8435)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "disable ingest triggers via API")
	return cmd
}

// --- version ---

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("codegraph %s\n", version)
		},
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid --log-level %q (use: debug, info, warn, error)", s)
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

func completionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for codegraph.

To load completions:

Bash:
  $ source <(codegraph completion bash)
  # To load completions for each session, execute once:
  # Linux:
  $ codegraph completion bash > /etc/bash_completion.d/codegraph
  # macOS:
  $ codegraph completion bash > $(brew --prefix)/etc/bash_completion.d/codegraph

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc
  # To load completions for each session, execute once:
  $ codegraph completion zsh > "${fpath[1]}/_codegraph"
  # You will need to start a new shell for this setup to take effect.

Fish:
  $ codegraph completion fish | source
  # To load completions for each session, execute once:
  $ codegraph completion fish > ~/.config/fish/completions/codegraph.fish

PowerShell:
  PS> codegraph completion powershell | Out-String | Invoke-Expression
  # To load completions for every new session, add the output to your profile:
  PS> codegraph completion powershell >> $PROFILE
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}
