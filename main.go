package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/lotas/tabgruppen/internal/applog"
	"github.com/lotas/tabgruppen/internal/bridge"
	"github.com/lotas/tabgruppen/internal/config"
	"github.com/lotas/tabgruppen/internal/content"
	"github.com/lotas/tabgruppen/internal/daemon"
	"github.com/lotas/tabgruppen/internal/grouping"
	"github.com/lotas/tabgruppen/internal/learning"
	"github.com/lotas/tabgruppen/internal/provider"
	"github.com/lotas/tabgruppen/internal/tui"
)

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "group":
		runGroup(os.Args[2:])
	case "merge":
		runMerge(os.Args[2:])
	case "learn":
		runLearn(os.Args[2:])
	case "review":
		runReview()
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Print(`tabgruppen - AI tab grouping for the companion browser extension

Usage:
  tabgruppen serve                                     Run the daemon
    --port <n>             WebSocket port (default: from config)

  tabgruppen group                                     Group tabs once and exit
    --window <id>          Window id (default: focused window)
    --port <n>             WebSocket port
    --enrich               Include page-content excerpts in the prompt

  tabgruppen merge --name <name> <groupId>...          Merge groups into one
    --port <n>             WebSocket port

  tabgruppen learn <analyze|revise|status|export|import>
    analyze                Mine recorded events for preference insights
    revise                 Propose a prompt revision from accepted insights
    status                 Show learning system state
    export --out <file>    Write the learning record as an lz4 archive
    import <file>          Replace the learning record from an archive

  tabgruppen review                                    Accept/reject pending
                                                       insights and revisions

Environment:
  TABGRUPPEN_BACKEND, TABGRUPPEN_MODEL, OPENAI_API_KEY, GEMINI_API_KEY,
  OLLAMA_HOST override the config file; TABGRUPPEN_DEBUG enables debug logs.
`)
}

// stack is everything a command may need, wired once.
type stack struct {
	cfg   *config.File
	srv   *bridge.Server
	acc   *bridge.Accessor
	store *learning.Store
	orch  *grouping.Orchestrator
	merge *grouping.Merger
	an    *learning.Analyzer
	rec   *learning.Recorder
}

func buildStack(portFlag int) (*stack, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	if err := applog.Init(filepath.Join(home, ".local", "share", "tabgruppen")); err != nil {
		return nil, fmt.Errorf("init log: %w", err)
	}

	cfgPath, err := config.DefaultPath()
	if err != nil {
		return nil, err
	}
	cfgFile := config.Open(cfgPath)
	cfg, err := cfgFile.Load()
	if err != nil {
		return nil, err
	}

	port := cfg.Port
	if portFlag > 0 {
		port = portFlag
	}

	srv := bridge.New(port)
	acc := bridge.NewAccessor(srv, 0)

	dbPath, err := learning.DefaultDBPath()
	if err != nil {
		return nil, err
	}
	store, err := learning.Open(dbPath)
	if err != nil {
		return nil, err
	}

	providers := provider.Factory(func(ctx context.Context) (provider.Provider, error) {
		pcfg, err := cfgFile.ProviderConfig()
		if err != nil {
			return nil, err
		}
		return provider.Resolve(pcfg)
	})

	rec := learning.NewRecorder(store, acc)
	record := func(ev learning.Event) {
		if err := rec.Record(context.Background(), ev); err != nil {
			applog.Error("learning.record", err)
		}
	}

	applier := grouping.NewApplier(acc, record)
	orch := grouping.NewOrchestrator(acc, providers, cfgFile, store, applier)
	merger := grouping.NewMerger(acc, record)
	an := learning.NewAnalyzer(store, providers).WithInstructions(cfgFile.PromptInstructions)

	return &stack{
		cfg:   cfgFile,
		srv:   srv,
		acc:   acc,
		store: store,
		orch:  orch,
		merge: merger,
		an:    an,
		rec:   rec,
	}, nil
}

func (s *stack) close() {
	s.store.Close()
	applog.Close()
}

// startBridge serves the WebSocket endpoint and waits for the extension to
// connect, since every browser operation needs it.
func (s *stack) startBridge(ctx context.Context) error {
	go func() {
		if err := s.srv.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Bridge error: %v\n", err)
			os.Exit(1)
		}
	}()

	fmt.Fprintf(os.Stderr, "Waiting for extension on port %d…\n", s.srv.Port())
	deadline := time.Now().Add(30 * time.Second)
	for !s.srv.Connected() {
		if time.Now().After(deadline) {
			return errors.New("no extension connected within 30s")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return nil
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", 0, "WebSocket port (default: from config)")
	fs.Parse(args)

	s, err := buildStack(*port)
	if err != nil {
		fatal(err)
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := s.srv.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Bridge error: %v\n", err)
			stop()
		}
	}()

	d := daemon.New(s.srv, s.orch, s.merge, s.an, s.store, s.rec, s.cfg)
	fmt.Fprintf(os.Stderr, "tabgruppen listening on 127.0.0.1:%d\n", s.srv.Port())
	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func runGroup(args []string) {
	fs := flag.NewFlagSet("group", flag.ExitOnError)
	window := fs.Int("window", 0, "Window id (default: focused window)")
	port := fs.Int("port", 0, "WebSocket port")
	enrich := fs.Bool("enrich", false, "Include page-content excerpts in the prompt")
	fs.Parse(args)

	s, err := buildStack(*port)
	if err != nil {
		fatal(err)
	}
	defer s.close()

	if *enrich {
		s.orch.WithEnricher(content.NewFetcher().EnrichTabs)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.startBridge(ctx); err != nil {
		fatal(err)
	}
	if err := s.orch.RunGrouping(ctx, *window); err != nil {
		fatal(err)
	}
	fmt.Println("Tabs grouped.")
}

func runMerge(args []string) {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	name := fs.String("name", "", "Name for the merged group")
	port := fs.Int("port", 0, "WebSocket port")
	fs.Parse(args)

	var groupIDs []int
	for _, arg := range fs.Args() {
		id, err := strconv.Atoi(arg)
		if err != nil {
			fatal(fmt.Errorf("invalid group id %q", arg))
		}
		groupIDs = append(groupIDs, id)
	}

	s, err := buildStack(*port)
	if err != nil {
		fatal(err)
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.startBridge(ctx); err != nil {
		fatal(err)
	}
	newID, err := s.merge.MergeGroups(ctx, groupIDs, *name)
	if err != nil {
		fatal(err)
	}
	s.merge.Flush()
	fmt.Printf("Merged %d groups into %q (id %d).\n", len(groupIDs), *name, newID)
}

func runLearn(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: tabgruppen learn <analyze|revise|status|export|import>")
		os.Exit(1)
	}

	s, err := buildStack(0)
	if err != nil {
		fatal(err)
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "analyze":
		insights, err := s.an.AnalyzeUserBehavior(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Generated %d pending insights. Run `tabgruppen review` to triage them.\n", len(insights))

	case "revise":
		rev, err := s.an.GeneratePromptRevision(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Generated pending revision %s with %d changes.\n", rev.ID, len(rev.Changes))

	case "status":
		st, err := s.an.Status()
		if err != nil {
			fatal(err)
		}
		printStatus(st)

	case "export":
		fs := flag.NewFlagSet("learn export", flag.ExitOnError)
		out := fs.String("out", "learning.tglz4", "Output file")
		fs.Parse(args[1:])
		f, err := os.Create(*out)
		if err != nil {
			fatal(err)
		}
		if err := s.store.Export(f); err != nil {
			f.Close()
			fatal(err)
		}
		if err := f.Close(); err != nil {
			fatal(err)
		}
		fmt.Printf("Exported learning record to %s\n", *out)

	case "import":
		if len(args) < 2 {
			fatal(errors.New("usage: tabgruppen learn import <file>"))
		}
		f, err := os.Open(args[1])
		if err != nil {
			fatal(err)
		}
		defer f.Close()
		if err := s.store.Import(f); err != nil {
			fatal(err)
		}
		fmt.Printf("Imported learning record from %s\n", args[1])

	default:
		fmt.Fprintf(os.Stderr, "Unknown learn subcommand %q\n", args[0])
		os.Exit(1)
	}
}

func printStatus(st learning.Status) {
	fmt.Printf("Learning enabled:   %v\n", st.Config.Enabled)
	fmt.Printf("Events recorded:    %d (%d since last analysis)\n", st.TotalEvents, st.EventsSince)
	if st.LastAnalysis.IsZero() {
		fmt.Println("Last analysis:      never")
	} else {
		fmt.Printf("Last analysis:      %s\n", st.LastAnalysis.Local().Format("2006-01-02 15:04"))
	}
	fmt.Printf("Insights:           %d pending, %d accepted\n", st.PendingInsights, st.AcceptedInsights)
	fmt.Printf("Revisions pending:  %d\n", st.PendingRevisions)
	if st.ActiveRevisionID != "" {
		fmt.Printf("Active revision:    %s\n", st.ActiveRevisionID)
	} else {
		fmt.Println("Active revision:    none (base prompt)")
	}
}

func runReview() {
	s, err := buildStack(0)
	if err != nil {
		fatal(err)
	}
	defer s.close()

	if err := tui.Run(s.store); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
