// Package render orchestrates per-document rendering through a pluggable
// Renderer capability and a bounded worker pool.
package render

import (
	"bytes"
	"context"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"git.home.luguber.info/inful/sitegen/internal/document"
	sgerrors "git.home.luguber.info/inful/sitegen/internal/errors"
)

// Renderer is the externally supplied render capability. Implementations must
// be safe for concurrent use.
type Renderer interface {
	Render(ctx context.Context, doc *document.Document) ([]byte, error)
}

// SiteInfo is template-visible site metadata.
type SiteInfo struct {
	Title       string
	BaseURL     string
	Description string
}

// GoldmarkRenderer is the built-in Renderer: goldmark Markdown conversion
// wrapped in an html/template layout selected by the document's `extends`
// field.
type GoldmarkRenderer struct {
	md              goldmark.Markdown
	templates       map[string]*template.Template
	defaultTemplate string
	site            SiteInfo
}

// pageData is the data passed to layout templates.
type pageData struct {
	Site    SiteInfo
	Title   string
	Date    time.Time
	Tags    []string
	Fields  map[string]any
	Content template.HTML
}

// fallbackLayout is used when no templates directory is configured or the
// referenced template is absent.
const fallbackLayout = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}} - {{.Site.Title}}</title>
</head>
<body>
<article>
<h1>{{.Title}}</h1>
{{.Content}}
</article>
</body>
</html>
`

// NewGoldmarkRenderer builds a renderer, loading *.html layouts from
// templatesDir when it exists.
func NewGoldmarkRenderer(templatesDir, defaultTemplate string, site SiteInfo) (*GoldmarkRenderer, error) {
	if defaultTemplate == "" {
		defaultTemplate = "default"
	}

	r := &GoldmarkRenderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
		templates:       make(map[string]*template.Template),
		defaultTemplate: defaultTemplate,
		site:            site,
	}

	if templatesDir != "" {
		if err := r.loadTemplates(templatesDir); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *GoldmarkRenderer) loadTemplates(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return sgerrors.WrapFatal(err, sgerrors.CategoryRender, "failed to read templates directory").
			WithContext("dir", dir)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".html") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".html")
		tpl, err := template.ParseFiles(filepath.Join(dir, e.Name()))
		if err != nil {
			return sgerrors.WrapFatal(err, sgerrors.CategoryRender, "failed to parse template").
				WithContext("template", e.Name())
		}
		r.templates[name] = tpl
	}
	return nil
}

// Render converts the document body to HTML and applies the layout referenced
// by `extends` (extension stripped), falling back to the default template.
func (r *GoldmarkRenderer) Render(ctx context.Context, doc *document.Document) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var content bytes.Buffer
	if err := r.md.Convert(doc.Body, &content); err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.CategoryRender, sgerrors.SeverityError, "markdown conversion failed").
			WithContext("source", doc.SourcePath)
	}

	data := pageData{
		Site:    r.site,
		Title:   doc.Title,
		Date:    doc.Date,
		Tags:    doc.Tags,
		Fields:  doc.Fields,
		Content: template.HTML(content.String()),
	}

	tpl := r.lookupTemplate(doc.Extends)
	var out bytes.Buffer
	if err := tpl.Execute(&out, data); err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.CategoryRender, sgerrors.SeverityError, "layout execution failed").
			WithContext("source", doc.SourcePath)
	}
	return out.Bytes(), nil
}

// lookupTemplate resolves the layout for an extends reference. The reference
// is opaque to the pipeline; only the base name matters here.
func (r *GoldmarkRenderer) lookupTemplate(extends string) *template.Template {
	name := strings.TrimSpace(extends)
	if name != "" {
		name = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	}
	if name == "" {
		name = r.defaultTemplate
	}
	if tpl, ok := r.templates[name]; ok {
		return tpl
	}
	if tpl, ok := r.templates[r.defaultTemplate]; ok {
		return tpl
	}
	return fallbackTemplate
}

var fallbackTemplate = template.Must(template.New("fallback").Parse(fallbackLayout))

// RenderFunc adapts a function to the Renderer interface.
type RenderFunc func(ctx context.Context, doc *document.Document) ([]byte, error)

func (f RenderFunc) Render(ctx context.Context, doc *document.Document) ([]byte, error) {
	return f(ctx, doc)
}
