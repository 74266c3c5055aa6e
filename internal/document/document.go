// Package document models a publishable content file: structured frontmatter
// fields plus an opaque Markdown body.
package document

import (
	"fmt"
	"strings"
	"time"

	sgerrors "git.home.luguber.info/inful/sitegen/internal/errors"
)

// Document is the parsed form of a content file. It is created once by Parse
// and treated as immutable afterwards; rendering produces derived artifacts,
// never mutations.
type Document struct {
	SourcePath  string
	Title       string
	Date        time.Time
	PathPattern string         // explicit `path` frontmatter field, empty for the default pattern
	Tags        []string       // opaque, passed through to the renderer
	Extends     string         // template reference, passed through, not interpreted here
	Fields      map[string]any // full frontmatter map, unknown keys preserved
	Body        []byte
}

// acceptedDateFormats lists the timestamp layouts a `date` field may use.
var acceptedDateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Parse splits raw file bytes into frontmatter and body and validates the
// required fields. Errors are per-document frontmatter errors; the caller
// decides batch policy.
func Parse(source string, raw []byte) (*Document, error) {
	fm, body, had, err := Split(raw)
	if err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.CategoryFrontmatter, sgerrors.SeverityError, "malformed frontmatter").
			WithContext("source", source)
	}
	if !had {
		return nil, sgerrors.New(sgerrors.CategoryFrontmatter, sgerrors.SeverityError, "missing frontmatter block").
			WithContext("source", source)
	}

	fields, err := ParseYAML(fm)
	if err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.CategoryFrontmatter, sgerrors.SeverityError, "invalid frontmatter yaml").
			WithContext("source", source)
	}

	doc := &Document{
		SourcePath: source,
		Fields:     fields,
		Body:       body,
	}

	title, ok := fields["title"]
	if !ok || strings.TrimSpace(fmt.Sprint(title)) == "" {
		return nil, sgerrors.New(sgerrors.CategoryFrontmatter, sgerrors.SeverityError, "required field missing: title").
			WithContext("source", source)
	}
	doc.Title = strings.TrimSpace(fmt.Sprint(title))

	rawDate, ok := fields["date"]
	if !ok {
		return nil, sgerrors.New(sgerrors.CategoryFrontmatter, sgerrors.SeverityError, "required field missing: date").
			WithContext("source", source)
	}
	date, err := coerceDate(rawDate)
	if err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.CategoryFrontmatter, sgerrors.SeverityError, "invalid date field").
			WithContext("source", source)
	}
	doc.Date = date

	if p, ok := fields["path"]; ok {
		doc.PathPattern = strings.TrimSpace(fmt.Sprint(p))
	}
	if e, ok := fields["extends"]; ok {
		doc.Extends = strings.TrimSpace(fmt.Sprint(e))
	}
	doc.Tags = coerceTags(fields["tags"])

	return doc, nil
}

// coerceDate accepts a yaml-decoded time.Time or a string in one of the
// accepted formats.
func coerceDate(v any) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return d, nil
	case string:
		s := strings.TrimSpace(d)
		for _, layout := range acceptedDateFormats {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable date %q", s)
	default:
		return time.Time{}, fmt.Errorf("date has unsupported type %T", v)
	}
}

// coerceTags normalizes the opaque tags field into a string slice.
func coerceTags(v any) []string {
	switch tags := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(tags))
		for _, t := range tags {
			out = append(out, fmt.Sprint(t))
		}
		return out
	case []string:
		return tags
	case string:
		return []string{tags}
	default:
		return []string{fmt.Sprint(v)}
	}
}
