package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cloudflair/agentlink/pkg/adapter"
	"github.com/cloudflair/agentlink/pkg/config"
	"github.com/cloudflair/agentlink/pkg/engine"
	"github.com/cloudflair/agentlink/pkg/identity"
	"github.com/cloudflair/agentlink/pkg/outbox"
	"github.com/cloudflair/agentlink/pkg/playbook"
	"github.com/cloudflair/agentlink/pkg/provision"
	"github.com/cloudflair/agentlink/pkg/sync"
	"github.com/cloudflair/agentlink/pkg/telemetry"
)

var version = "dev"

type globalFlags struct {
	ConfigPath string
	Timeout    time.Duration
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cfg, err := config.Load(global.ConfigPath)
	if err != nil {
		fatal(err)
	}
	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if cfg.Telemetry.Exporter != "" && cfg.Telemetry.Exporter != "none" {
		shutdown, err := telemetry.InitWithConfig("agentlink", version, telemetry.Config{
			Exporter:     cfg.Telemetry.Exporter,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		})
		if err != nil {
			fatal(err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	switch args[0] {
	case "playbooks":
		runPlaybooks(ctx, global, cfg, args[1:])
	case "run":
		runExecute(ctx, global, cfg, args[1:])
	case "provision":
		runProvision(ctx, global, args[1:])
	case "verify":
		runVerify(global, cfg, args[1:])
	case "outbox":
		runOutbox(ctx, global, cfg, args[1:])
	case "version":
		fmt.Println(version)
	case "help":
		printUsage()
	default:
		fatal(fmt.Errorf("unknown command %q", args[0]))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{Timeout: 30 * time.Second}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --config")
			}
			flags.ConfigPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--timeout":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --timeout")
			}
			value, err := time.ParseDuration(args[i+1])
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
			i++
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func runPlaybooks(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("playbooks", flag.ContinueOnError)
	dir := cmd.String("dir", cfg.Playbooks.Dir, "Playbook directory")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(ctx, global.Timeout)
	defer cancel()

	catalog := playbook.NewCatalog(*dir)
	defs, err := catalog.List(ctx)
	if err != nil {
		fatal(err)
	}

	if global.JSON {
		infos := make([]playbook.Info, 0, len(defs))
		for _, def := range defs {
			infos = append(infos, def.Info())
		}
		printJSON(infos)
		return
	}

	writer := newTabWriter()
	writeRow(writer, "ID", "NAME", "DESCRIPTION")
	for _, def := range defs {
		writeRow(writer, def.ID, def.Name, def.Description)
	}
	_ = writer.Flush()
}

func runExecute(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	contextJSON := cmd.String("context", "", "Execution context as a JSON object")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if cmd.NArg() != 1 {
		fatal(fmt.Errorf("usage: agentlink run [--context '{...}'] <playbook_id>"))
	}
	playbookID := cmd.Arg(0)

	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	id, err := cfg.Identity()
	if err != nil {
		fatal(err)
	}

	execCtx := map[string]any{}
	if *contextJSON != "" {
		if err := json.Unmarshal([]byte(*contextJSON), &execCtx); err != nil {
			fatal(fmt.Errorf("invalid --context: %w", err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, global.Timeout)
	defer cancel()

	runtime, err := buildRuntime(id, cfg)
	if err != nil {
		fatal(err)
	}
	result, err := runtime.ExecutePlaybook(ctx, playbookID, execCtx)
	if err != nil {
		fatal(err)
	}
	if err := runtime.Close(ctx); err != nil {
		fatal(err)
	}

	if global.JSON {
		printJSON(result)
		return
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(payload))
}

// buildRuntime wires catalog, sync client, and optional outbox sink from
// config. The local engine acknowledges the dispatch; real execution backends
// plug in through engine.Engine.
func buildRuntime(id identity.Identity, cfg *config.Config) (*adapter.Runtime, error) {
	catalog := playbook.NewCatalog(cfg.Playbooks.Dir)

	var opts []adapter.Option
	if cfg.Sync.Endpoint != "" {
		clientOpts := []sync.Option{sync.WithRetryConfig(cfg.Sync.RetryConfig())}
		if cfg.Outbox.Enabled {
			store, err := outbox.Open(cfg.Outbox.Path)
			if err != nil {
				return nil, err
			}
			clientOpts = append(clientOpts, sync.WithFailureSink(store))
		}
		opts = append(opts, adapter.WithSyncClient(sync.New(cfg.Sync.Endpoint, clientOpts...)))
	}

	dispatch := engine.Func(func(ctx context.Context, def playbook.Definition, execCtx map[string]any) (any, error) {
		return map[string]any{
			"status":      "dispatched",
			"playbook_id": def.ID,
			"context":     execCtx,
		}, nil
	})
	return adapter.New(id, catalog, dispatch, opts...)
}

func runProvision(ctx context.Context, global globalFlags, args []string) {
	cmd := flag.NewFlagSet("provision", flag.ContinueOnError)
	var mappings multiFlag
	cmd.Var(&mappings, "map", "template=HostAgent mapping override (repeatable)")
	out := cmd.String("out", "", "Write the Markdown integration report to this path")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if cmd.NArg() != 1 {
		fatal(fmt.Errorf("usage: agentlink provision [--map template=Host] [--out report.md] <template-root>"))
	}
	root := cmd.Arg(0)

	mapping := provision.DefaultMapping()
	if len(mappings) > 0 {
		mapping = provision.Mapping{}
		for _, entry := range mappings {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
				fatal(fmt.Errorf("invalid --map %q, want template=HostAgent", entry))
			}
			mapping[parts[0]] = parts[1]
		}
	}

	ctx, cancel := context.WithTimeout(ctx, global.Timeout)
	defer cancel()

	agents, err := provision.Discover(ctx, root, mapping)
	if err != nil {
		fatal(err)
	}

	if *out != "" {
		file, err := os.Create(*out)
		if err != nil {
			fatal(err)
		}
		if err := provision.WriteReport(file, root, agents); err != nil {
			file.Close()
			fatal(err)
		}
		if err := file.Close(); err != nil {
			fatal(err)
		}
	}

	if global.JSON {
		printJSON(agents)
		return
	}
	writer := newTabWriter()
	writeRow(writer, "TEMPLATE", "HOST AGENT", "CAPABILITIES", "PLAYBOOKS")
	for _, agent := range agents {
		writeRow(writer, agent.TemplateName, agent.HostName,
			strconv.Itoa(agent.Capabilities), strconv.Itoa(agent.PlaybookCount))
	}
	_ = writer.Flush()
	if *out != "" {
		fmt.Printf("report written to %s\n", *out)
	}
}

func runVerify(global globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	agent := cmd.String("agent", "", "Agent name from X-Agent-Id")
	timestamp := cmd.String("timestamp", "", "Timestamp from X-Timestamp")
	signature := cmd.String("signature", "", "Signature from X-Signature")
	bodyPath := cmd.String("body", "-", "Body file, or - for stdin")
	maxSkew := cmd.Duration("max-skew", sync.DefaultMaxSkew, "Replay window (0 disables)")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if *agent == "" || *timestamp == "" || *signature == "" {
		fatal(fmt.Errorf("usage: agentlink verify --agent <name> --timestamp <ts> --signature <hex> [--body file]"))
	}
	if cfg.Agent.Secret == "" {
		fatal(fmt.Errorf("no secret configured; set CLOUDFLAIR_AGENT_SECRET"))
	}

	var body []byte
	var err error
	if *bodyPath == "-" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(*bodyPath)
	}
	if err != nil {
		fatal(err)
	}

	err = sync.Verify([]byte(cfg.Agent.Secret), *agent, *timestamp, body, *signature, *maxSkew)
	if global.JSON {
		result := map[string]any{"valid": err == nil}
		if err != nil {
			result["error"] = err.Error()
		}
		printJSON(result)
		if err != nil {
			os.Exit(1)
		}
		return
	}
	if err != nil {
		fatal(fmt.Errorf("signature invalid: %w", err))
	}
	fmt.Println("signature valid")
}

func runOutbox(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 {
		fatal(fmt.Errorf("usage: agentlink outbox <list|sweep>"))
	}

	store, err := outbox.Open(cfg.Outbox.Path)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(ctx, global.Timeout)
	defer cancel()

	switch args[0] {
	case "list":
		entries, err := store.Pending(ctx, cfg.Outbox.Batch)
		if err != nil {
			fatal(err)
		}
		if global.JSON {
			printJSON(entries)
			return
		}
		writer := newTabWriter()
		writeRow(writer, "ID", "AGENT", "PLAYBOOK", "ATTEMPTS", "LAST ERROR", "QUEUED AT")
		for _, entry := range entries {
			writeRow(writer, entry.ID, entry.Agent, entry.PlaybookID,
				strconv.Itoa(entry.Attempts), entry.LastError,
				entry.CreatedAt.UTC().Format(time.RFC3339))
		}
		_ = writer.Flush()
	case "sweep":
		if err := cfg.Validate(); err != nil {
			fatal(err)
		}
		id, err := cfg.Identity()
		if err != nil {
			fatal(err)
		}
		if cfg.Sync.Endpoint == "" {
			fatal(fmt.Errorf("sync.endpoint is required for redelivery"))
		}
		// No sink here: sweep failures stay queued, they do not re-enqueue.
		client := sync.New(cfg.Sync.Endpoint, sync.WithRetryConfig(cfg.Sync.RetryConfig()))
		resolve := func(agent string) (identity.Identity, bool) {
			if agent != id.Name() {
				return identity.Identity{}, false
			}
			return id, true
		}
		sweeper := outbox.NewSweeper(store, client, resolve, cfg.Outbox.SweeperConfig(), nil)
		stats, err := sweeper.SweepOnce(ctx)
		if err != nil {
			fatal(err)
		}
		if global.JSON {
			printJSON(stats)
			return
		}
		fmt.Printf("redelivered=%d failed=%d skipped=%d pruned=%d\n",
			stats.Redelivered, stats.Failed, stats.Skipped, stats.Pruned)
	default:
		fatal(fmt.Errorf("unknown outbox command %q", args[0]))
	}
}

type multiFlag []string

func (f *multiFlag) String() string { return strings.Join(*f, ",") }

func (f *multiFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

func printJSON(value any) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(payload))
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	for i, col := range cols {
		cols[i] = normalizeCell(col)
	}
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func normalizeCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.Join(strings.Fields(value), " ")
}

func printUsage() {
	fmt.Println(`agentlink - CloudFlair playbook adapter CLI

Usage:
  agentlink [global flags] <command> [args]

Global flags:
  --config <path>      Path to config.yaml
  --timeout <dur>      Command timeout (default 30s)
  --json               JSON output

Commands:
  playbooks [--dir <path>]
  run [--context '{...}'] <playbook_id>
  provision [--map template=Host] [--out report.md] <template-root>
  verify --agent <name> --timestamp <ts> --signature <hex> [--body file|-]
  outbox list
  outbox sweep
  version`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
