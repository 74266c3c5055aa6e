// Package pipeline orchestrates one build invocation through its stages:
// scan, parse, fingerprint, route, render, stage_output, commit.
//
// Per-document errors are collected into the build report without aborting
// the batch; fatal conditions (missing root, route collision, staging I/O)
// abort the run and leave previously committed output untouched.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/sitegen/internal/config"
	"git.home.luguber.info/inful/sitegen/internal/document"
	sgerrors "git.home.luguber.info/inful/sitegen/internal/errors"
	"git.home.luguber.info/inful/sitegen/internal/fingerprint"
	"git.home.luguber.info/inful/sitegen/internal/history"
	"git.home.luguber.info/inful/sitegen/internal/logfields"
	"git.home.luguber.info/inful/sitegen/internal/metrics"
	"git.home.luguber.info/inful/sitegen/internal/notify"
	"git.home.luguber.info/inful/sitegen/internal/render"
	"git.home.luguber.info/inful/sitegen/internal/route"
	"git.home.luguber.info/inful/sitegen/internal/scanner"
)

// Builder runs the content publishing pipeline.
type Builder struct {
	cfg      *config.Config
	renderer render.Renderer
	store    *history.Store
	recorder metrics.Recorder
	notifier notify.Notifier
	force    bool
}

// Option configures a Builder.
type Option func(*Builder)

// WithHistory attaches a build history store (enables early-skip).
func WithHistory(store *history.Store) Option {
	return func(b *Builder) { b.store = store }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(b *Builder) { b.recorder = rec }
}

// WithNotifier attaches a build event notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(b *Builder) { b.notifier = n }
}

// WithForce disables the unchanged-content early skip.
func WithForce(force bool) Option {
	return func(b *Builder) { b.force = force }
}

// NewBuilder creates a Builder for the given configuration and renderer.
func NewBuilder(cfg *config.Config, renderer render.Renderer, opts ...Option) *Builder {
	b := &Builder{cfg: cfg, renderer: renderer, recorder: metrics.Noop{}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OutputDir returns the configured committed output directory.
func (b *Builder) OutputDir() string { return b.cfg.Output.Directory }

var buildStages = []namedStage{
	{StageScan, stageScan},
	{StageParse, stageParse},
	{StageFingerprint, stageFingerprint},
	{StageRoute, stageRoute},
	{StageRender, stageRender},
	{StageStageOutput, stageStageOutput},
	{StageCommit, stageCommit},
}

// Run executes one build invocation. The returned report is always non-nil;
// err is non-nil only for fatal aborts or cancellation.
func (b *Builder) Run(ctx context.Context) (*BuildReport, error) {
	buildID := uuid.NewString()
	report := newBuildReport(buildID)
	bs := &BuildState{Builder: b, BuildID: buildID, Report: report}

	slog.Info("Starting build",
		logfields.BuildID(buildID),
		logfields.Output(b.cfg.Output.Directory),
		logfields.Path(b.cfg.Content.Root))

	err := runStages(ctx, bs, buildStages)
	if err != nil {
		bs.abortStaging()
	}
	report.finish()
	report.deriveOutcome()

	b.recorder.ObserveBuildDuration(report.End.Sub(report.Start))
	for stage, d := range report.StageDurations {
		b.recorder.ObserveStageDuration(string(stage), d)
	}
	b.recorder.IncBuildOutcome(report.Outcome)
	b.recorder.AddRenderedDocuments(report.RenderedDocuments)
	b.recorder.AddFailedDocuments(report.FailedDocuments)

	if err == nil && !bs.Skip {
		if perr := report.Persist(b.cfg.Output.Directory); perr != nil {
			slog.Warn("Failed to persist build report", logfields.Error(perr))
		}
	}
	if !bs.Skip {
		b.recordHistory(ctx, bs)
		b.publishEvent(ctx, bs)
	}

	slog.Info("Build finished", logfields.BuildID(buildID), slog.String("summary", report.Summary()))
	return report, err
}

func (b *Builder) recordHistory(ctx context.Context, bs *BuildState) {
	if b.store == nil {
		return
	}
	reportJSON, err := bs.Report.MarshalJSON()
	if err != nil {
		reportJSON = nil
	}
	rec := history.BuildRecord{
		BuildID:     bs.BuildID,
		Fingerprint: bs.Fingerprint,
		Outcome:     bs.Report.Outcome,
		Documents:   bs.Report.Documents,
		Rendered:    bs.Report.RenderedDocuments,
		Failed:      bs.Report.FailedDocuments,
		Started:     bs.Report.Start,
		Finished:    bs.Report.End,
		ReportJSON:  reportJSON,
	}
	if err := b.store.Append(ctx, rec); err != nil {
		slog.Warn("Failed to record build history", logfields.Error(err))
	}
}

func (b *Builder) publishEvent(ctx context.Context, bs *BuildState) {
	if b.notifier == nil {
		return
	}
	evt := notify.BuildEvent{
		BuildID:     bs.BuildID,
		Outcome:     bs.Report.Outcome,
		Documents:   bs.Report.Documents,
		Rendered:    bs.Report.RenderedDocuments,
		Failed:      bs.Report.FailedDocuments,
		Fingerprint: bs.Fingerprint,
		Duration:    bs.Report.End.Sub(bs.Report.Start),
		Finished:    bs.Report.End,
	}
	if err := b.notifier.PublishBuild(ctx, evt); err != nil {
		slog.Warn("Failed to publish build event", logfields.Error(err))
	}
}

// Clean removes the committed output plus any staging/backup leftovers.
func (b *Builder) Clean() error {
	out := b.cfg.Output.Directory
	for _, dir := range []string{out, out + "_stage", out + ".prev"} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
	}
	return nil
}

// Stage implementations.

func stageScan(ctx context.Context, bs *BuildState) error {
	cfg := bs.Builder.cfg
	files, err := scanner.New(cfg.Content.Root, cfg.Content.Extensions).Scan(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return newCanceledStageError(StageScan, ctx.Err())
		}
		bs.Report.AddIssue(IssueScanFailure, StageScan, SeverityError, err.Error(), "", nil)
		return newFatalStageError(StageScan, err)
	}
	bs.Sources = files
	if len(files) == 0 {
		bs.Report.AddIssue(IssueNoDocuments, StageScan, SeverityWarning, "no content files found", "", nil)
		return newWarnStageError(StageScan, fmt.Errorf("no content files under %s", cfg.Content.Root))
	}
	return nil
}

func stageParse(ctx context.Context, bs *BuildState) error {
	for _, src := range bs.Sources {
		if err := ctx.Err(); err != nil {
			return newCanceledStageError(StageParse, err)
		}
		raw, err := src.ReadContent()
		if err != nil {
			bs.Report.AddDocumentIssue(IssueFrontmatterInvalid, StageParse, src.RelativePath, err)
			continue
		}
		doc, err := document.Parse(src.RelativePath, raw)
		if err != nil {
			slog.Warn("Skipping document with invalid frontmatter",
				logfields.Document(src.RelativePath), logfields.Error(err))
			bs.Report.AddDocumentIssue(IssueFrontmatterInvalid, StageParse, src.RelativePath, err)
			continue
		}
		bs.Docs = append(bs.Docs, doc)
	}
	bs.Report.Documents = len(bs.Sources)
	slog.Info("Parsed documents", logfields.Count(len(bs.Docs)),
		slog.Int("failed", bs.Report.FailedDocuments))
	return nil
}

func stageFingerprint(ctx context.Context, bs *BuildState) error {
	bs.Fingerprint = fingerprint.Set(bs.Docs)
	bs.Report.Fingerprint = bs.Fingerprint

	b := bs.Builder
	if b.force || b.store == nil || len(bs.Docs) == 0 {
		return nil
	}
	last, err := b.store.LastCommitted(ctx)
	if err != nil {
		slog.Warn("History lookup failed; building anyway", logfields.Error(err))
		return nil
	}
	if last == nil || last.Fingerprint != bs.Fingerprint {
		return nil
	}
	if _, err := os.Stat(b.cfg.Output.Directory); err != nil {
		return nil // committed output is gone; rebuild regardless
	}
	slog.Info("Content unchanged since last committed build; skipping",
		slog.String("fingerprint", bs.Fingerprint))
	bs.Skip = true
	bs.Report.SkipReason = "no_changes"
	return nil
}

func stageRoute(ctx context.Context, bs *BuildState) error {
	resolver := route.NewResolver(bs.Builder.cfg.Routes.DefaultPattern)
	resolutions, docErrs, err := resolver.ResolveAll(bs.Docs)
	for _, derr := range docErrs {
		bs.Report.AddDocumentIssue(IssueRouteUnresolved, StageRoute, documentSource(derr), derr)
	}
	if err != nil {
		bs.Report.AddIssue(IssueRouteCollision, StageRoute, SeverityError, err.Error(), "", nil)
		return newFatalStageError(StageRoute, err)
	}
	bs.Resolutions = resolutions
	return nil
}

func stageRender(ctx context.Context, bs *BuildState) error {
	if len(bs.Resolutions) == 0 {
		return nil
	}
	docs := make([]*document.Document, len(bs.Resolutions))
	for i, res := range bs.Resolutions {
		docs[i] = res.Doc
	}

	pool := render.NewPipeline(bs.Builder.renderer, bs.Builder.cfg.Render.Workers)
	results := pool.RenderAll(ctx, docs)
	if err := ctx.Err(); err != nil {
		return newCanceledStageError(StageRender, err)
	}

	for i, res := range results {
		if res.Err != nil {
			bs.Report.AddDocumentIssue(IssueRenderFailure, StageRender, res.Doc.SourcePath, res.Err)
			continue
		}
		bs.Artifacts = append(bs.Artifacts, Artifact{
			OutputPath: bs.Resolutions[i].OutputPath,
			Content:    res.Output,
			Source:     res.Doc.SourcePath,
		})
	}
	bs.Report.RenderedDocuments = len(bs.Artifacts)
	slog.Info("Rendered documents", logfields.Count(len(bs.Artifacts)))
	return nil
}

func stageStageOutput(ctx context.Context, bs *BuildState) error {
	outputDir := bs.Builder.cfg.Output.Directory
	if err := bs.beginStaging(outputDir); err != nil {
		bs.Report.AddIssue(IssueStagingIO, StageStageOutput, SeverityError, err.Error(), "", nil)
		return newFatalStageError(StageStageOutput, err)
	}
	for _, art := range bs.Artifacts {
		if err := ctx.Err(); err != nil {
			return newCanceledStageError(StageStageOutput, err)
		}
		target := filepath.Join(bs.stageDir, filepath.FromSlash(strings.TrimPrefix(art.OutputPath, "/")))
		// The resolver rejects traversal segments; verify containment anyway so
		// no artifact can ever land outside the staging directory.
		if target != bs.stageDir && !strings.HasPrefix(target, bs.stageDir+string(filepath.Separator)) {
			err := fmt.Errorf("artifact path %s escapes the staging directory", art.OutputPath)
			bs.Report.AddIssue(IssueStagingIO, StageStageOutput, SeverityError, err.Error(), art.Source, nil)
			return newFatalStageError(StageStageOutput, err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			bs.Report.AddIssue(IssueStagingIO, StageStageOutput, SeverityError, err.Error(), "", nil)
			return newFatalStageError(StageStageOutput, fmt.Errorf("create directory for %s: %w", art.OutputPath, err))
		}
		if err := os.WriteFile(target, art.Content, 0o644); err != nil {
			bs.Report.AddIssue(IssueStagingIO, StageStageOutput, SeverityError, err.Error(), "", nil)
			return newFatalStageError(StageStageOutput, fmt.Errorf("write %s: %w", art.OutputPath, err))
		}
		slog.Debug("Staged artifact", logfields.Route(art.OutputPath), slog.Int("bytes", len(art.Content)))
	}
	return nil
}

func stageCommit(ctx context.Context, bs *BuildState) error {
	if err := bs.finalizeStaging(bs.Builder.cfg.Output.Directory); err != nil {
		bs.Report.AddIssue(IssueStagingIO, StageCommit, SeverityError, err.Error(), "", nil)
		return newFatalStageError(StageCommit, err)
	}
	return nil
}

// documentSource extracts the source path recorded in a structured error
// context, best effort.
func documentSource(err error) string {
	var sge *sgerrors.SiteGenError
	if stderrors.As(err, &sge) {
		if src, ok := sge.Context["source"].(string); ok {
			return src
		}
	}
	return ""
}
