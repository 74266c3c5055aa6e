// Package route computes output paths for documents from token patterns.
//
// Recognized tokens: :year, :month, :day (from the document date, zero padded)
// and :slug (from the title). Routing requires the complete document set so
// output path collisions can be rejected as a global invariant.
package route

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-slug"

	"git.home.luguber.info/inful/sitegen/internal/document"
	sgerrors "git.home.luguber.info/inful/sitegen/internal/errors"
)

// DefaultPattern is the route pattern used when a document declares none.
const DefaultPattern = "/:year/:month/:slug.html"

// Resolution pairs a document with its resolved output path.
type Resolution struct {
	Doc        *document.Document
	OutputPath string
}

// Resolver substitutes route tokens using frontmatter-derived values.
type Resolver struct {
	defaultPattern string
}

// NewResolver creates a resolver with the given default pattern (empty means
// DefaultPattern).
func NewResolver(defaultPattern string) *Resolver {
	if defaultPattern == "" {
		defaultPattern = DefaultPattern
	}
	return &Resolver{defaultPattern: defaultPattern}
}

// Resolve computes the output path for a single document.
func (r *Resolver) Resolve(doc *document.Document) (string, error) {
	pattern := doc.PathPattern
	if pattern == "" {
		pattern = r.defaultPattern
	}

	out := pattern
	for _, tok := range tokenize(pattern) {
		value, err := r.tokenValue(doc, tok)
		if err != nil {
			return "", err
		}
		out = strings.ReplaceAll(out, ":"+tok, value)
	}

	if !strings.HasPrefix(out, "/") {
		out = "/" + out
	}
	// Resolved paths are joined under the staging directory later; a "." or
	// ".." segment would let a document write outside the output tree.
	for _, seg := range strings.Split(strings.TrimPrefix(out, "/"), "/") {
		if seg == "." || seg == ".." {
			return "", sgerrors.New(sgerrors.CategoryRoute, sgerrors.SeverityError,
				"resolved path contains a traversal segment").
				WithContext("source", doc.SourcePath).
				WithContext("path", out)
		}
	}
	return out, nil
}

// ResolveAll resolves every document, collecting per-document errors, then
// checks the global output-path uniqueness invariant. A collision is fatal.
func (r *Resolver) ResolveAll(docs []*document.Document) ([]Resolution, []error, error) {
	resolutions := make([]Resolution, 0, len(docs))
	var docErrs []error

	seen := make(map[string]string, len(docs)) // output path -> first source
	for _, doc := range docs {
		out, err := r.Resolve(doc)
		if err != nil {
			docErrs = append(docErrs, err)
			continue
		}
		if first, dup := seen[out]; dup {
			return nil, docErrs, sgerrors.Fatal(sgerrors.CategoryRoute,
				fmt.Sprintf("route collision: %s and %s both resolve to %s", first, doc.SourcePath, out)).
				WithContext("path", out)
		}
		seen[out] = doc.SourcePath
		resolutions = append(resolutions, Resolution{Doc: doc, OutputPath: out})
	}
	return resolutions, docErrs, nil
}

// tokenValue maps a token name to its source field value.
func (r *Resolver) tokenValue(doc *document.Document, tok string) (string, error) {
	switch tok {
	case "year":
		if doc.Date.IsZero() {
			return "", r.unresolved(doc, tok, "date")
		}
		return fmt.Sprintf("%04d", doc.Date.Year()), nil
	case "month":
		if doc.Date.IsZero() {
			return "", r.unresolved(doc, tok, "date")
		}
		return fmt.Sprintf("%02d", int(doc.Date.Month())), nil
	case "day":
		if doc.Date.IsZero() {
			return "", r.unresolved(doc, tok, "date")
		}
		return fmt.Sprintf("%02d", doc.Date.Day()), nil
	case "slug":
		s := Slugify(doc.Title)
		if s == "" {
			return "", r.unresolved(doc, tok, "title")
		}
		return s, nil
	default:
		return "", sgerrors.New(sgerrors.CategoryRoute, sgerrors.SeverityError,
			fmt.Sprintf("unresolved token :%s in pattern", tok)).
			WithContext("source", doc.SourcePath).
			WithContext("token", tok)
	}
}

func (r *Resolver) unresolved(doc *document.Document, tok, field string) error {
	return sgerrors.New(sgerrors.CategoryRoute, sgerrors.SeverityError,
		fmt.Sprintf("token :%s has no source field %s", tok, field)).
		WithContext("source", doc.SourcePath).
		WithContext("token", tok)
}

// tokenize extracts token names (without the leading colon) from a pattern.
func tokenize(pattern string) []string {
	var tokens []string
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != ':' {
			continue
		}
		j := i + 1
		for j < len(pattern) && isTokenChar(pattern[j]) {
			j++
		}
		if j > i+1 {
			tokens = append(tokens, pattern[i+1:j])
		}
		i = j - 1
	}
	return tokens
}

func isTokenChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// Slugify lowercases the value and collapses non-alphanumeric runs to "-".
// go-slug handles unicode folding; the collapse pass enforces the final
// character set regardless of what the normalizer produced.
func Slugify(value string) string {
	normalized, err := slug.Normalize(value)
	if err != nil || normalized == "" {
		normalized = value
	}
	return collapse(normalized)
}

func collapse(s string) string {
	var b strings.Builder
	prevDash := true // suppress leading dash
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			prevDash = false
			continue
		}
		if !prevDash {
			b.WriteByte('-')
			prevDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
