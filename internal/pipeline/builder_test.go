package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitegen/internal/config"
	"git.home.luguber.info/inful/sitegen/internal/document"
	"git.home.luguber.info/inful/sitegen/internal/history"
	"git.home.luguber.info/inful/sitegen/internal/render"
)

// passthroughRenderer emits the document body untouched so tests can assert
// committed bytes without caring about markdown conversion.
var passthroughRenderer = render.RenderFunc(
	func(_ context.Context, doc *document.Document) ([]byte, error) {
		return []byte(doc.Body), nil
	})

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Content.Root = filepath.Join(dir, "content")
	cfg.Content.Extensions = []string{".md"}
	cfg.Output.Directory = filepath.Join(dir, "site")
	cfg.Render.Workers = 4
	require.NoError(t, os.MkdirAll(cfg.Content.Root, 0o755))
	return cfg
}

func writeDoc(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// doc builds a document with the body passed through verbatim, so tests can
// compare committed bytes exactly.
func doc(title, date, body string) string {
	return fmt.Sprintf("---\ntitle: %s\ndate: %s\n---\n%s", title, date, body)
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestBuildCommitsResolvedRoutes(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.Content.Root, "race.md",
		doc("Debugging a Race", "2017-08-08", "body one"))
	writeDoc(t, cfg.Content.Root, "posts/intro.md",
		doc("Hello, World!", "2020-01-02", "body two"))

	b := NewBuilder(cfg, passthroughRenderer)
	report, err := b.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, report.OutcomeT)
	require.Equal(t, 2, report.Documents)
	require.Equal(t, 2, report.RenderedDocuments)
	require.Zero(t, report.FailedDocuments)

	data, err := os.ReadFile(filepath.Join(cfg.Output.Directory, "2017", "08", "debugging-a-race.html"))
	require.NoError(t, err)
	require.Equal(t, "body one", string(data))

	_, err = os.Stat(filepath.Join(cfg.Output.Directory, "2020", "01", "hello-world.html"))
	require.NoError(t, err)

	// Report persisted into the committed output.
	_, err = os.Stat(filepath.Join(cfg.Output.Directory, "build-report.json"))
	require.NoError(t, err)

	// No staging leftovers.
	_, err = os.Stat(cfg.Output.Directory + "_stage")
	require.True(t, os.IsNotExist(err))
}

func TestMissingContentRootIsFatal(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.RemoveAll(cfg.Content.Root))

	report, err := newTestBuilder(cfg).Run(context.Background())
	require.Error(t, err)
	require.Equal(t, OutcomeFailed, report.OutcomeT)
	require.Equal(t, IssueScanFailure, report.Issues[0].Code)

	_, err = os.Stat(cfg.Output.Directory)
	require.True(t, os.IsNotExist(err), "fatal scan must not create output")
}

func newTestBuilder(cfg *config.Config) *Builder { return NewBuilder(cfg, passthroughRenderer) }

func TestPartialFailureCommitsSurvivors(t *testing.T) {
	cfg := testConfig(t)
	for i := 1; i <= 4; i++ {
		writeDoc(t, cfg.Content.Root, fmt.Sprintf("ok%d.md", i),
			doc(fmt.Sprintf("Post %d", i), fmt.Sprintf("2021-03-%02d", i), "fine"))
	}
	writeDoc(t, cfg.Content.Root, "broken.md", "---\ntitle: No Closing Delimiter\nbody without end")

	report, err := newTestBuilder(cfg).Run(context.Background())
	require.NoError(t, err, "per-document failures never abort the batch")
	require.Equal(t, OutcomeWarning, report.OutcomeT)
	require.Equal(t, 5, report.Documents)
	require.Equal(t, 4, report.RenderedDocuments)
	require.Equal(t, 1, report.FailedDocuments)

	issues := report.DocumentIssues()
	require.Len(t, issues, 1)
	require.Equal(t, IssueFrontmatterInvalid, issues[0].Code)
	require.Equal(t, "broken.md", issues[0].Document)

	for i := 1; i <= 4; i++ {
		_, err := os.Stat(filepath.Join(cfg.Output.Directory, "2021", "03",
			fmt.Sprintf("post-%d.html", i)))
		require.NoError(t, err)
	}
}

func TestRouteCollisionLeavesPriorOutput(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.Content.Root, "first.md", doc("Stable Post", "2019-05-05", "v1"))

	_, err := newTestBuilder(cfg).Run(context.Background())
	require.NoError(t, err)
	before := readTree(t, cfg.Output.Directory)

	// Two distinct sources resolving to the same route.
	writeDoc(t, cfg.Content.Root, "second.md", doc("Stable Post", "2019-05-05", "v2"))

	report, err := newTestBuilder(cfg).Run(context.Background())
	require.Error(t, err)
	require.Equal(t, OutcomeFailed, report.OutcomeT)

	var collision *ReportIssue
	for i := range report.Issues {
		if report.Issues[i].Code == IssueRouteCollision {
			collision = &report.Issues[i]
		}
	}
	require.NotNil(t, collision)
	require.Contains(t, collision.Message, "first.md")
	require.Contains(t, collision.Message, "second.md")

	require.Equal(t, before, readTree(t, cfg.Output.Directory),
		"aborted build must not mutate committed output")
	_, err = os.Stat(cfg.Output.Directory + "_stage")
	require.True(t, os.IsNotExist(err))
}

func TestRenderFailureIsIsolated(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.Content.Root, "good.md", doc("Good", "2022-02-02", "ok"))
	writeDoc(t, cfg.Content.Root, "poison.md", doc("Poison", "2022-02-03", "ok"))

	renderer := render.RenderFunc(func(_ context.Context, d *document.Document) ([]byte, error) {
		if d.Title == "Poison" {
			return nil, fmt.Errorf("template exploded")
		}
		return []byte(d.Body), nil
	})

	report, err := NewBuilder(cfg, renderer).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeWarning, report.OutcomeT)
	require.Equal(t, 1, report.RenderedDocuments)
	require.Equal(t, 1, report.FailedDocuments)

	issues := report.DocumentIssues()
	require.Len(t, issues, 1)
	require.Equal(t, IssueRenderFailure, issues[0].Code)
	require.Equal(t, "poison.md", issues[0].Document)

	_, err = os.Stat(filepath.Join(cfg.Output.Directory, "2022", "02", "good.html"))
	require.NoError(t, err)
}

func TestRepeatedBuildsAreByteIdentical(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.Content.Root, "a.md", doc("Alpha", "2018-01-01", "aaa"))
	writeDoc(t, cfg.Content.Root, "b.md", doc("Beta", "2018-06-15", "bbb"))

	_, err := newTestBuilder(cfg).Run(context.Background())
	require.NoError(t, err)
	first := readTree(t, cfg.Output.Directory)
	// Determinism covers rendered artifacts. The report files carry per-run
	// metadata (build id, timestamps) and are excluded on purpose.
	delete(first, "build-report.json")
	delete(first, "build-report.txt")

	_, err = newTestBuilder(cfg).Run(context.Background())
	require.NoError(t, err)
	second := readTree(t, cfg.Output.Directory)
	delete(second, "build-report.json")
	delete(second, "build-report.txt")

	require.Equal(t, first, second)
}

func TestStagingFailureLeavesPriorOutput(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.Content.Root, "a.md", doc("Landing", "2020-04-04", "v1"))

	_, err := newTestBuilder(cfg).Run(context.Background())
	require.NoError(t, err)
	before := readTree(t, cfg.Output.Directory)

	// flat.md stages /a.html; nested.md then needs /a.html/ as a directory,
	// which fails inside the staging area after some artifacts are written.
	writeDoc(t, cfg.Content.Root, "flat.md",
		"---\ntitle: Flat\ndate: 2020-04-05\npath: /a.html\n---\nflat\n")
	writeDoc(t, cfg.Content.Root, "nested.md",
		"---\ntitle: Nested\ndate: 2020-04-06\npath: /a.html/:slug.html\n---\nnested\n")
	require.NoError(t, os.Remove(filepath.Join(cfg.Content.Root, "a.md")))

	report, err := newTestBuilder(cfg).Run(context.Background())
	require.Error(t, err)
	require.Equal(t, OutcomeFailed, report.OutcomeT)

	var found bool
	for _, issue := range report.Issues {
		if issue.Code == IssueStagingIO {
			found = true
		}
	}
	require.True(t, found)

	require.Equal(t, before, readTree(t, cfg.Output.Directory))
	_, err = os.Stat(cfg.Output.Directory + "_stage")
	require.True(t, os.IsNotExist(err))
}

func TestCancellationDiscardsStaging(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.Content.Root, "a.md", doc("Keep Me", "2021-07-07", "v1"))

	_, err := newTestBuilder(cfg).Run(context.Background())
	require.NoError(t, err)
	before := readTree(t, cfg.Output.Directory)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := newTestBuilder(cfg).Run(ctx)
	require.Error(t, err)
	require.Equal(t, OutcomeCanceled, report.OutcomeT)
	require.Equal(t, before, readTree(t, cfg.Output.Directory))
}

func TestEmptyContentSetIsWarning(t *testing.T) {
	cfg := testConfig(t)
	report, err := newTestBuilder(cfg).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeWarning, report.OutcomeT)
	require.Equal(t, IssueNoDocuments, report.Issues[0].Code)
}

func TestUnchangedContentSkipsRebuild(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.Content.Root, "a.md", doc("Steady", "2023-09-09", "stable"))

	store, err := history.Open(":memory:")
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	builder := NewBuilder(cfg, passthroughRenderer, WithHistory(store))

	first, err := builder.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, first.SkipReason)

	second, err := builder.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "no_changes", second.SkipReason)
	require.Equal(t, first.Fingerprint, second.Fingerprint)

	// Content change invalidates the skip.
	writeDoc(t, cfg.Content.Root, "a.md", doc("Steady", "2023-09-09", "changed"))
	third, err := builder.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, third.SkipReason)
	require.NotEqual(t, first.Fingerprint, third.Fingerprint)

	// Force always rebuilds.
	forced := NewBuilder(cfg, passthroughRenderer, WithHistory(store), WithForce(true))
	fourth, err := forced.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, fourth.SkipReason)
}

func TestSkipRequiresCommittedOutput(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.Content.Root, "a.md", doc("Rebuild Me", "2023-01-01", "body"))

	store, err := history.Open(":memory:")
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	builder := NewBuilder(cfg, passthroughRenderer, WithHistory(store))
	_, err = builder.Run(context.Background())
	require.NoError(t, err)

	// Deleting the committed output must force a real rebuild even though the
	// fingerprint still matches.
	require.NoError(t, os.RemoveAll(cfg.Output.Directory))
	report, err := builder.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.SkipReason)
	_, err = os.Stat(filepath.Join(cfg.Output.Directory, "2023", "01", "rebuild-me.html"))
	require.NoError(t, err)
}

func TestCleanRemovesOutputAndLeftovers(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.Content.Root, "a.md", doc("Gone Soon", "2020-10-10", "x"))

	builder := newTestBuilder(cfg)
	_, err := builder.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(cfg.Output.Directory+"_stage", 0o755))

	require.NoError(t, builder.Clean())
	for _, dir := range []string{cfg.Output.Directory, cfg.Output.Directory + "_stage", cfg.Output.Directory + ".prev"} {
		_, err := os.Stat(dir)
		require.True(t, os.IsNotExist(err))
	}
}

func TestHistoryRecordsEveryRealBuild(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.Content.Root, "a.md", doc("Recorded", "2024-02-02", "x"))

	store, err := history.Open(":memory:")
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	builder := NewBuilder(cfg, passthroughRenderer, WithHistory(store))
	_, err = builder.Run(context.Background())
	require.NoError(t, err)
	_, err = builder.Run(context.Background()) // skipped, not recorded
	require.NoError(t, err)

	recs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, string(OutcomeSuccess), recs[0].Outcome)
	require.NotEmpty(t, recs[0].Fingerprint)
	require.NotEmpty(t, recs[0].ReportJSON)
}

func TestTraversalPathCannotEscapeOutput(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.Content.Root, "good.md", doc("Safe", "2024-05-05", "fine"))
	writeDoc(t, cfg.Content.Root, "sneaky.md",
		"---\ntitle: Sneaky\ndate: 2024-05-06\npath: /../escaped.html\n---\npayload\n")

	report, err := newTestBuilder(cfg).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeWarning, report.OutcomeT)
	require.Equal(t, 1, report.RenderedDocuments)
	require.Equal(t, 1, report.FailedDocuments)

	issues := report.DocumentIssues()
	require.Len(t, issues, 1)
	require.Equal(t, IssueRouteUnresolved, issues[0].Code)
	require.Equal(t, "sneaky.md", issues[0].Document)

	// Nothing may land beside the output directory.
	parent := filepath.Dir(cfg.Output.Directory)
	_, err = os.Stat(filepath.Join(parent, "escaped.html"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(cfg.Output.Directory, "2024", "05", "safe.html"))
	require.NoError(t, err)
}
