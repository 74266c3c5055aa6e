package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/sitegen/internal/config"
	"git.home.luguber.info/inful/sitegen/internal/history"
	"git.home.luguber.info/inful/sitegen/internal/metrics"
	"git.home.luguber.info/inful/sitegen/internal/notify"
	"git.home.luguber.info/inful/sitegen/internal/pipeline"
	"git.home.luguber.info/inful/sitegen/internal/preview"
	"git.home.luguber.info/inful/sitegen/internal/publish"
	"git.home.luguber.info/inful/sitegen/internal/render"
	"git.home.luguber.info/inful/sitegen/internal/version"
)

// Exit codes: 0 clean success, 1 fatal abort, 2 partial failure (some
// documents excluded but the rest committed).
const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"sitegen.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Build struct {
		Output string `short:"o" help:"Override output directory"`
		Force  bool   `help:"Rebuild even when content is unchanged"`
	} `cmd:"" help:"Build the site from the content directory"`

	Clean struct{} `cmd:"" help:"Remove the generated output and staging leftovers"`

	Serve struct {
		Port         int    `short:"p" help:"HTTP port (overrides config)"`
		RebuildEvery string `help:"Periodic full rebuild interval, e.g. 10m (overrides config)"`
	} `cmd:"" help:"Build, serve the output over HTTP and rebuild on changes"`

	Publish struct {
		Message string `short:"m" help:"Commit message (overrides config)"`
	} `cmd:"" help:"Commit and push the generated output to the configured git remote"`

	History struct {
		Limit int `short:"n" help:"Number of records to show" default:"10"`
	} `cmd:"" help:"Show recent build records"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	kctx := kong.Parse(&CLI)

	switch kctx.Command() {
	case "version":
		fmt.Println(version.Version)
		os.Exit(exitOK)
	case "init":
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
			os.Exit(exitFatal)
		}
		fmt.Printf("Wrote %s\n", CLI.Config)
		os.Exit(exitOK)
	}

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(exitFatal)
	}
	config.SetupLogger(cfg.Logging, CLI.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch kctx.Command() {
	case "build":
		os.Exit(runBuild(ctx, cfg))
	case "clean":
		os.Exit(runClean(cfg))
	case "serve":
		os.Exit(runServe(ctx, cfg))
	case "publish":
		os.Exit(runPublish(ctx, cfg))
	case "history":
		os.Exit(runHistory(ctx, cfg))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", kctx.Command())
		os.Exit(exitFatal)
	}
}

// newBuilder assembles a Builder with the optional collaborators the
// configuration enables (history store, notifier).
func newBuilder(cfg *config.Config, force bool, registry *prom.Registry) (*pipeline.Builder, func(), error) {
	renderer, err := render.NewGoldmarkRenderer(cfg.Render.TemplatesDir, cfg.Render.DefaultTemplate, render.SiteInfo{
		Title:       cfg.Site.Title,
		BaseURL:     cfg.Site.BaseURL,
		Description: cfg.Site.Description,
	})
	if err != nil {
		return nil, nil, err
	}

	opts := []pipeline.Option{pipeline.WithForce(force)}
	var cleanups []func()

	if !cfg.History.Disabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, nil, err
		}
		cleanups = append(cleanups, func() { _ = store.Close() })
		opts = append(opts, pipeline.WithHistory(store))
	}
	if cfg.Notify.URL != "" {
		notifier, err := notify.NewNATSNotifier(cfg.Notify.URL, cfg.Notify.Subject)
		if err != nil {
			// Notification is best effort; the build proceeds without it.
			slog.Warn("Notifier unavailable", "error", err)
		} else {
			cleanups = append(cleanups, notifier.Close)
			opts = append(opts, pipeline.WithNotifier(notifier))
		}
	}
	if registry != nil {
		opts = append(opts, pipeline.WithMetrics(metrics.NewPrometheusRecorder(registry)))
	}

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return pipeline.NewBuilder(cfg, renderer, opts...), cleanup, nil
}

func runBuild(ctx context.Context, cfg *config.Config) int {
	if CLI.Build.Output != "" {
		cfg.Output.Directory = CLI.Build.Output
	}
	builder, cleanup, err := newBuilder(cfg, CLI.Build.Force, nil)
	if err != nil {
		slog.Error("Failed to initialize build", "error", err)
		return exitFatal
	}
	defer cleanup()

	report, err := builder.Run(ctx)
	if err != nil {
		slog.Error("Build aborted", "error", err)
		return exitFatal
	}
	for _, issue := range report.DocumentIssues() {
		slog.Warn("Document excluded",
			slog.String("document", issue.Document),
			slog.String("code", string(issue.Code)),
			slog.String("reason", issue.Message))
	}
	if report.FailedDocuments > 0 {
		return exitPartial
	}
	return exitOK
}

func runClean(cfg *config.Config) int {
	builder := pipeline.NewBuilder(cfg, nil)
	if err := builder.Clean(); err != nil {
		slog.Error("Clean failed", "error", err)
		return exitFatal
	}
	slog.Info("Removed generated output", "output", cfg.Output.Directory)
	return exitOK
}

func runServe(ctx context.Context, cfg *config.Config) int {
	if CLI.Serve.Port != 0 {
		cfg.Serve.Port = CLI.Serve.Port
	}
	if CLI.Serve.RebuildEvery != "" {
		cfg.Serve.RebuildEvery = CLI.Serve.RebuildEvery
	}
	interval, err := cfg.Serve.RebuildInterval()
	if err != nil {
		slog.Error("Invalid rebuild interval", "error", err)
		return exitFatal
	}

	registry := prom.NewRegistry()
	builder, cleanup, err := newBuilder(cfg, false, registry)
	if err != nil {
		slog.Error("Failed to initialize build", "error", err)
		return exitFatal
	}
	defer cleanup()

	server := preview.New(builder, cfg.Content.Root, cfg.Serve.Port, interval, registry)
	if err := server.Run(ctx); err != nil {
		slog.Error("Serve failed", "error", err)
		return exitFatal
	}
	return exitOK
}

func runPublish(ctx context.Context, cfg *config.Config) int {
	message := cfg.Publish.Message
	if CLI.Publish.Message != "" {
		message = CLI.Publish.Message
	}
	repoPath := cfg.Publish.RepoPath
	if repoPath == "" {
		repoPath = "."
	}

	publisher := publish.New(publish.Options{
		RepoPath:     repoPath,
		ArtifactsDir: cfg.Output.Directory,
		Remote:       cfg.Publish.Remote,
		Branch:       cfg.Publish.Branch,
		Message:      message,
		Author:       cfg.Publish.Author,
		Email:        cfg.Publish.Email,
	})
	result, err := publisher.Run(ctx)
	if err != nil {
		slog.Error("Publish failed", "state", string(result.State), "error", err)
		return exitFatal
	}
	if result.UpToDate {
		slog.Info("Nothing to publish")
	}
	return exitOK
}

func runHistory(ctx context.Context, cfg *config.Config) int {
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		slog.Error("Failed to open history", "error", err)
		return exitFatal
	}
	defer func() { _ = store.Close() }()

	records, err := store.Recent(ctx, CLI.History.Limit)
	if err != nil {
		slog.Error("Failed to read history", "error", err)
		return exitFatal
	}
	if len(records) == 0 {
		fmt.Println("no builds recorded")
		return exitOK
	}
	for _, rec := range records {
		fmt.Println(rec.Summary())
	}
	return exitOK
}
