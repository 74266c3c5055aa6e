// Package scanner walks a content root and enumerates publishable documents.
//
// Traversal is read-only and deterministically ordered (lexicographic by
// relative path) so repeated builds see the same input sequence.
package scanner

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sgerrors "git.home.luguber.info/inful/sitegen/internal/errors"
	"git.home.luguber.info/inful/sitegen/internal/logfields"
)

// SourceFile represents a discovered content file.
type SourceFile struct {
	Path         string // Absolute path to the file
	RelativePath string // Path relative to the content root
	Name         string // File name without extension
	Extension    string // File extension including the dot
}

// Scanner handles content file discovery.
type Scanner struct {
	root       string
	extensions map[string]struct{}
}

// New creates a scanner for the given content root and extensions.
func New(root string, extensions []string) *Scanner {
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &Scanner{root: root, extensions: exts}
}

// Scan walks the content root and returns matching files sorted by relative path.
// A missing or unreadable root is a fatal scan error.
func (s *Scanner) Scan(ctx context.Context) ([]SourceFile, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, sgerrors.WrapFatal(err, sgerrors.CategoryScan, "content root not accessible").
			WithContext("root", s.root)
	}
	if !info.IsDir() {
		return nil, sgerrors.Fatal(sgerrors.CategoryScan, "content root is not a directory").
			WithContext("root", s.root)
	}

	var files []SourceFile
	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Skip hidden files and directories
		if strings.HasPrefix(d.Name(), ".") && path != s.root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := s.extensions[ext]; !ok {
			return nil
		}

		relPath, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		files = append(files, SourceFile{
			Path:         path,
			RelativePath: filepath.ToSlash(relPath),
			Name:         strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())),
			Extension:    ext,
		})

		slog.Debug("Discovered content file", logfields.Path(relPath))
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, sgerrors.WrapFatal(err, sgerrors.CategoryScan, "content walk failed").
			WithContext("root", s.root)
	}

	// WalkDir visits entries in lexical order per directory; sort the flattened
	// list so ordering is stable across platforms and nesting layouts.
	sort.Slice(files, func(i, j int) bool { return files[i].RelativePath < files[j].RelativePath })

	slog.Info("Content discovery completed", logfields.Count(len(files)))
	return files, nil
}

// ReadContent loads the raw bytes of a source file.
func (f SourceFile) ReadContent() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.CategoryScan, sgerrors.SeverityError, "failed to read content file").
			WithContext("path", f.Path)
	}
	return data, nil
}
