package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	sgerrors "git.home.luguber.info/inful/sitegen/internal/errors"
)

// Config represents the application configuration
type Config struct {
	Site    SiteConfig    `yaml:"site"`
	Content ContentConfig `yaml:"content"`
	Routes  RoutesConfig  `yaml:"routes"`
	Render  RenderConfig  `yaml:"render"`
	Output  OutputConfig  `yaml:"output"`
	Serve   ServeConfig   `yaml:"serve,omitempty"`
	Publish PublishConfig `yaml:"publish,omitempty"`
	History HistoryConfig `yaml:"history,omitempty"`
	Notify  NotifyConfig  `yaml:"notify,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// SiteConfig carries site-wide metadata passed through to templates.
type SiteConfig struct {
	Title       string `yaml:"title"`
	BaseURL     string `yaml:"base_url,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// ContentConfig describes where publishable documents live.
type ContentConfig struct {
	Root       string   `yaml:"root"`
	Extensions []string `yaml:"extensions,omitempty"`
}

// RoutesConfig controls output path resolution.
type RoutesConfig struct {
	// DefaultPattern is used for documents without an explicit `path` field.
	DefaultPattern string `yaml:"default_pattern,omitempty"`
}

// RenderConfig controls the built-in renderer.
type RenderConfig struct {
	TemplatesDir    string `yaml:"templates_dir,omitempty"`
	DefaultTemplate string `yaml:"default_template,omitempty"`
	Workers         int    `yaml:"workers,omitempty"` // 0 = GOMAXPROCS
}

// OutputConfig represents output configuration
type OutputConfig struct {
	Directory string `yaml:"directory"`
}

// ServeConfig configures the preview server.
type ServeConfig struct {
	Port         int    `yaml:"port,omitempty"`
	RebuildEvery string `yaml:"rebuild_every,omitempty"` // Go duration; empty disables the periodic rebuild
}

// PublishConfig configures the publish workflow.
type PublishConfig struct {
	RepoPath string `yaml:"repo_path,omitempty"`
	Remote   string `yaml:"remote,omitempty"`
	Branch   string `yaml:"branch,omitempty"`
	Message  string `yaml:"message,omitempty"`
	Author   string `yaml:"author,omitempty"`
	Email    string `yaml:"email,omitempty"`
}

// HistoryConfig configures the build history store.
type HistoryConfig struct {
	Path     string `yaml:"path,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// NotifyConfig configures build-completed event notification over NATS.
type NotifyConfig struct {
	URL     string `yaml:"url,omitempty"` // empty disables notification
	Subject string `yaml:"subject,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// RebuildInterval parses ServeConfig.RebuildEvery, returning zero when unset.
func (s ServeConfig) RebuildInterval() (time.Duration, error) {
	if s.RebuildEvery == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.RebuildEvery)
	if err != nil {
		return 0, sgerrors.Wrap(err, sgerrors.CategoryConfig, sgerrors.SeverityFatal, "invalid serve.rebuild_every")
	}
	return d, nil
}

// Load loads configuration from the specified file
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, sgerrors.Fatal(sgerrors.CategoryConfig, fmt.Sprintf("configuration file not found: %s", configPath))
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, sgerrors.WrapFatal(err, sgerrors.CategoryConfig, "failed to read config file")
	}

	// Expand environment variables in the YAML content
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, sgerrors.WrapFatal(err, sgerrors.CategoryConfig, "failed to unmarshal config")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadEnvFiles loads .env/.env.local if present. Existing process environment wins.
func loadEnvFiles() {
	for _, p := range []string{".env", ".env.local"} {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err != nil {
				fmt.Fprintf(os.Stderr, "Note: %s couldn't be loaded: %v\n", p, err)
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Site.Title == "" {
		c.Site.Title = "Site"
	}
	if c.Content.Root == "" {
		c.Content.Root = "content"
	}
	if len(c.Content.Extensions) == 0 {
		c.Content.Extensions = []string{".md", ".markdown", ".mdown", ".mkd"}
	}
	if c.Routes.DefaultPattern == "" {
		c.Routes.DefaultPattern = "/:year/:month/:slug.html"
	}
	if c.Render.DefaultTemplate == "" {
		c.Render.DefaultTemplate = "default"
	}
	if c.Output.Directory == "" {
		c.Output.Directory = "site"
	}
	if c.Serve.Port == 0 {
		c.Serve.Port = 8080
	}
	if c.Publish.RepoPath == "" {
		c.Publish.RepoPath = "."
	}
	if c.Publish.Remote == "" {
		c.Publish.Remote = "origin"
	}
	if c.Publish.Branch == "" {
		c.Publish.Branch = "gh-pages"
	}
	if c.Publish.Message == "" {
		c.Publish.Message = "publish site"
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join(".sitegen", "history.db")
	}
	if c.Notify.Subject == "" {
		c.Notify.Subject = "sitegen.builds"
	}
}

// Validate checks configuration invariants that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Content.Root == "" {
		return sgerrors.Fatal(sgerrors.CategoryConfig, "content.root must be set")
	}
	if c.Output.Directory == "" {
		return sgerrors.Fatal(sgerrors.CategoryConfig, "output.directory must be set")
	}
	if c.Render.Workers < 0 {
		return sgerrors.Fatal(sgerrors.CategoryConfig, "render.workers must be >= 0")
	}
	if _, err := c.Serve.RebuildInterval(); err != nil {
		return err
	}
	return nil
}

// Init writes a starter configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return sgerrors.Fatal(sgerrors.CategoryConfig, fmt.Sprintf("configuration file already exists: %s (use --force to overwrite)", configPath))
	}
	if err := os.WriteFile(configPath, []byte(starterConfig), 0o644); err != nil {
		return sgerrors.WrapFatal(err, sgerrors.CategoryConfig, "failed to write config file")
	}
	return nil
}

const starterConfig = `site:
  title: "My Site"
  base_url: "https://example.org"

content:
  root: content

routes:
  default_pattern: "/:year/:month/:slug.html"

render:
  templates_dir: templates
  default_template: default

output:
  directory: site

serve:
  port: 8080

publish:
  repo_path: .
  remote: origin
  branch: gh-pages
`
