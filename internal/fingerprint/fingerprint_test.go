package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitegen/internal/document"
)

func doc(source, title, body string) *document.Document {
	return &document.Document{
		SourcePath: source,
		Title:      title,
		Date:       time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
		Fields:     map[string]any{"title": title},
		Body:       []byte(body),
	}
}

func TestSet_DeterministicAcrossOrdering(t *testing.T) {
	a := doc("a.md", "A", "body a")
	b := doc("b.md", "B", "body b")

	require.Equal(t, Set([]*document.Document{a, b}), Set([]*document.Document{b, a}))
}

func TestSet_ChangesWithBody(t *testing.T) {
	before := Set([]*document.Document{doc("a.md", "A", "v1")})
	after := Set([]*document.Document{doc("a.md", "A", "v2")})
	require.NotEqual(t, before, after)
}

func TestSet_ChangesWithFrontmatter(t *testing.T) {
	a := doc("a.md", "A", "body")
	b := doc("a.md", "A", "body")
	b.Fields["tags"] = []string{"x"}
	require.NotEqual(t, Set([]*document.Document{a}), Set([]*document.Document{b}))
}

func TestSet_EmptyHasStableValue(t *testing.T) {
	require.Equal(t, Set(nil), Set(nil))
	require.NotEmpty(t, Set(nil))
}

func TestDocument_IgnoresFieldOrder(t *testing.T) {
	a := doc("a.md", "A", "body")
	a.Fields = map[string]any{"title": "A", "tags": "x"}
	b := doc("a.md", "A", "body")
	b.Fields = map[string]any{"tags": "x", "title": "A"}
	require.Equal(t, Document(a), Document(b))
}
