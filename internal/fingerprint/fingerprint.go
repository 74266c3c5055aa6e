// Package fingerprint computes a deterministic fingerprint for the complete
// parsed content set, used to short-circuit builds when nothing changed.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/inful/mdfp"

	"git.home.luguber.info/inful/sitegen/internal/document"
)

// Document computes the fingerprint of a single parsed document from its
// frontmatter fields and body.
func Document(doc *document.Document) string {
	return mdfp.CalculateFingerprintFromParts(canonicalFields(doc.Fields), string(doc.Body))
}

// Set combines per-document fingerprints into one content-set fingerprint.
// Documents are keyed by source path so ordering of the input does not matter.
func Set(docs []*document.Document) string {
	if len(docs) == 0 {
		h := sha256.Sum256([]byte("empty-content-set"))
		return hex.EncodeToString(h[:])
	}

	entries := make([]string, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, doc.SourcePath+"\x00"+Document(doc))
	}
	sort.Strings(entries)

	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalFields serializes frontmatter fields with sorted keys so map
// iteration order cannot leak into the fingerprint.
func canonicalFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, fields[k])
	}
	return strings.TrimSuffix(b.String(), "\n")
}
