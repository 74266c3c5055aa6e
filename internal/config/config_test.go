package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	sgerrors "git.home.luguber.info/inful/sitegen/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "site:\n  title: Blog\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "Blog", cfg.Site.Title)
	require.Equal(t, "content", cfg.Content.Root)
	require.Equal(t, "/:year/:month/:slug.html", cfg.Routes.DefaultPattern)
	require.Equal(t, "site", cfg.Output.Directory)
	require.Equal(t, []string{".md", ".markdown", ".mdown", ".mkd"}, cfg.Content.Extensions)
	require.Equal(t, "gh-pages", cfg.Publish.Branch)
	require.Equal(t, "sitegen.builds", cfg.Notify.Subject)
}

func TestLoad_MissingFileIsConfigError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	require.True(t, sgerrors.IsCategory(err, sgerrors.CategoryConfig))
}

func TestLoad_ExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("SITEGEN_TEST_ROOT", "posts")
	path := writeConfig(t, "content:\n  root: ${SITEGEN_TEST_ROOT}\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "posts", cfg.Content.Root)
}

func TestLoad_InvalidRebuildIntervalRejected(t *testing.T) {
	path := writeConfig(t, "serve:\n  rebuild_every: often\n")

	_, err := Load(path)
	require.Error(t, err)
	require.True(t, sgerrors.IsCategory(err, sgerrors.CategoryConfig))
}

func TestRebuildInterval_ParsesDuration(t *testing.T) {
	s := ServeConfig{RebuildEvery: "5m"}
	d, err := s.RebuildInterval()
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, d)

	s = ServeConfig{}
	d, err = s.RebuildInterval()
	require.NoError(t, err)
	require.Zero(t, d)
}

func TestInit_RefusesOverwriteWithoutForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Init(path, false))
	require.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "My Site", cfg.Site.Title)
}

func TestNormalizeLogLevelAndFormat(t *testing.T) {
	require.Equal(t, LogLevelDebug, NormalizeLogLevel("DEBUG"))
	require.Equal(t, LogLevelInfo, NormalizeLogLevel("bogus"))
	require.Equal(t, LogLevelWarn, NormalizeLogLevel("warning"))
	require.Equal(t, LogFormatJSON, NormalizeLogFormat("json"))
	require.Equal(t, LogFormatText, NormalizeLogFormat(""))
}
