package pipeline

import (
	"git.home.luguber.info/inful/sitegen/internal/document"
	"git.home.luguber.info/inful/sitegen/internal/route"
	"git.home.luguber.info/inful/sitegen/internal/scanner"
)

// Artifact is one rendered output file awaiting staging.
type Artifact struct {
	OutputPath string // resolved route, always /-prefixed with forward slashes
	Content    []byte
	Source     string // originating document source path
}

// BuildState carries mutable state across stages of one build invocation.
type BuildState struct {
	Builder *Builder
	BuildID string

	Sources     []scanner.SourceFile
	Docs        []*document.Document
	Resolutions []route.Resolution
	Artifacts   []Artifact

	Fingerprint string
	Skip        bool // early-skip: content unchanged since last committed build

	Report *BuildReport

	stageDir string // staging directory, non-empty between stage_output and commit
}
