package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// BuildOutcome is the typed enumeration of final build result states.
type BuildOutcome string

const (
	OutcomeSuccess  BuildOutcome = "success"
	OutcomeWarning  BuildOutcome = "warning"
	OutcomeFailed   BuildOutcome = "failed"
	OutcomeCanceled BuildOutcome = "canceled"
)

// ReportIssueCode enumerates machine-parseable issue identifiers.
// These codes are stable contract and should only be appended.
type ReportIssueCode string

const (
	IssueScanFailure        ReportIssueCode = "SCAN_FAILURE"
	IssueNoDocuments        ReportIssueCode = "NO_DOCUMENTS"
	IssueFrontmatterInvalid ReportIssueCode = "FRONTMATTER_INVALID"
	IssueRouteUnresolved    ReportIssueCode = "ROUTE_UNRESOLVED"
	IssueRouteCollision     ReportIssueCode = "ROUTE_COLLISION"
	IssueRenderFailure      ReportIssueCode = "RENDER_FAILURE"
	IssueStagingIO          ReportIssueCode = "STAGING_IO"
	IssueCanceled           ReportIssueCode = "BUILD_CANCELED"
)

// IssueSeverity represents normalized severity levels.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

// ReportIssue is a structured taxonomy entry describing a discrete problem.
// Document is the source path for per-document issues, empty otherwise.
type ReportIssue struct {
	Code     ReportIssueCode `json:"code"`
	Stage    StageName       `json:"stage"`
	Severity IssueSeverity   `json:"severity"`
	Message  string          `json:"message"`
	Document string          `json:"document,omitempty"`
}

// StageCount aggregates outcome counts for a stage.
type StageCount struct {
	Success  int
	Warning  int
	Fatal    int
	Canceled int
}

// BuildReport captures high-level metrics about one pipeline run.
type BuildReport struct {
	SchemaVersion   int
	BuildID         string
	Documents       int // publishable documents discovered
	Start           time.Time
	End             time.Time
	Errors          []error // fatal errors causing build abortion
	Warnings        []error // non-fatal stage-level issues
	StageDurations  map[StageName]time.Duration
	StageErrorKinds map[StageName]StageErrorKind
	StageCounts     map[StageName]StageCount
	Issues          []ReportIssue

	RenderedDocuments int // documents rendered and committed
	FailedDocuments   int // documents excluded by per-document errors

	Fingerprint string
	SkipReason  string // why the pipeline was short-circuited (e.g. "no_changes")
	Outcome     string // string form mirror of OutcomeT
	OutcomeT    BuildOutcome
}

func newBuildReport(buildID string) *BuildReport {
	return &BuildReport{
		SchemaVersion:   1,
		BuildID:         buildID,
		Start:           time.Now(),
		StageDurations:  make(map[StageName]time.Duration),
		StageErrorKinds: make(map[StageName]StageErrorKind),
		StageCounts:     make(map[StageName]StageCount),
	}
}

// AddIssue appends a structured issue and mirrors it into the legacy
// Errors/Warnings slices based on severity. err may be nil for informational
// entries.
func (r *BuildReport) AddIssue(code ReportIssueCode, stage StageName, severity IssueSeverity, msg, doc string, err error) {
	r.Issues = append(r.Issues, ReportIssue{Code: code, Stage: stage, Severity: severity, Message: msg, Document: doc})
	if err == nil {
		return
	}
	switch severity {
	case SeverityError:
		r.Errors = append(r.Errors, err)
	case SeverityWarning:
		r.Warnings = append(r.Warnings, err)
	}
}

// AddDocumentIssue records a per-document issue. Per-document failures never
// abort the batch, so they are tracked as issues plus the failed counter, not
// as stage errors.
func (r *BuildReport) AddDocumentIssue(code ReportIssueCode, stage StageName, doc string, err error) {
	r.Issues = append(r.Issues, ReportIssue{
		Code:     code,
		Stage:    stage,
		Severity: SeverityError,
		Message:  err.Error(),
		Document: doc,
	})
	r.FailedDocuments++
}

// DocumentIssues returns the per-document issues (those carrying a source path).
func (r *BuildReport) DocumentIssues() []ReportIssue {
	var out []ReportIssue
	for _, issue := range r.Issues {
		if issue.Document != "" {
			out = append(out, issue)
		}
	}
	return out
}

func (r *BuildReport) finish() {
	if r.End.IsZero() {
		r.End = time.Now()
	}
}

// deriveOutcome sets the Outcome fields based on recorded errors/warnings.
func (r *BuildReport) deriveOutcome() {
	if len(r.Errors) > 0 {
		for _, e := range r.Errors {
			if se, ok := e.(*StageError); ok && se.Kind == StageErrorCanceled {
				r.setOutcome(OutcomeCanceled)
				return
			}
		}
		r.setOutcome(OutcomeFailed)
		return
	}
	if len(r.Warnings) > 0 || r.FailedDocuments > 0 {
		r.setOutcome(OutcomeWarning)
		return
	}
	r.setOutcome(OutcomeSuccess)
}

func (r *BuildReport) setOutcome(o BuildOutcome) {
	r.OutcomeT = o
	r.Outcome = string(o)
}

// Summary returns a human-readable single-line summary.
func (r *BuildReport) Summary() string {
	dur := r.End.Sub(r.Start)
	return fmt.Sprintf("build=%s documents=%d rendered=%d failed=%d duration=%s errors=%d warnings=%d outcome=%s",
		r.BuildID, r.Documents, r.RenderedDocuments, r.FailedDocuments,
		dur.Truncate(time.Millisecond), len(r.Errors), len(r.Warnings), r.Outcome)
}

// MarshalJSON serializes the report with error fields converted to strings.
func (r *BuildReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.serializable())
}

// Persist writes the report atomically into the provided root directory.
//
//	build-report.json  (machine readable)
//	build-report.txt   (human summary)
//
// Best effort; errors are returned for caller logging but do not change the
// build outcome.
func (r *BuildReport) Persist(root string) error {
	if r.End.IsZero() {
		r.finish()
		r.deriveOutcome()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("ensure root for report: %w", err)
	}

	jb, err := json.MarshalIndent(r.serializable(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report json: %w", err)
	}
	jsonPath := filepath.Join(root, "build-report.json")
	tmpJSON := jsonPath + ".tmp"
	if err := os.WriteFile(tmpJSON, jb, 0o644); err != nil {
		return fmt.Errorf("write temp report json: %w", err)
	}
	if err := os.Rename(tmpJSON, jsonPath); err != nil {
		return fmt.Errorf("atomic rename json: %w", err)
	}

	summaryPath := filepath.Join(root, "build-report.txt")
	tmpTxt := summaryPath + ".tmp"
	if err := os.WriteFile(tmpTxt, []byte(r.Summary()+"\n"), 0o644); err != nil {
		return fmt.Errorf("write temp report summary: %w", err)
	}
	if err := os.Rename(tmpTxt, summaryPath); err != nil {
		return fmt.Errorf("atomic rename summary: %w", err)
	}
	return nil
}

// reportSerializable mirrors BuildReport but with string errors for JSON output.
type reportSerializable struct {
	SchemaVersion     int                           `json:"schema_version"`
	BuildID           string                        `json:"build_id"`
	Documents         int                           `json:"documents"`
	Start             time.Time                     `json:"start"`
	End               time.Time                     `json:"end"`
	Errors            []string                      `json:"errors"`
	Warnings          []string                      `json:"warnings"`
	StageDurations    map[string]time.Duration      `json:"stage_durations"`
	StageErrorKinds   map[string]string             `json:"stage_error_kinds"`
	StageCounts       map[string]StageCount         `json:"stage_counts"`
	Issues            []ReportIssue                 `json:"issues"`
	RenderedDocuments int                           `json:"rendered_documents"`
	FailedDocuments   int                           `json:"failed_documents"`
	Fingerprint       string                        `json:"fingerprint,omitempty"`
	SkipReason        string                        `json:"skip_reason,omitempty"`
	Outcome           string                        `json:"outcome"`
}

func (r *BuildReport) serializable() *reportSerializable {
	s := &reportSerializable{
		SchemaVersion:     r.SchemaVersion,
		BuildID:           r.BuildID,
		Documents:         r.Documents,
		Start:             r.Start,
		End:               r.End,
		Errors:            make([]string, len(r.Errors)),
		Warnings:          make([]string, len(r.Warnings)),
		StageDurations:    make(map[string]time.Duration, len(r.StageDurations)),
		StageErrorKinds:   make(map[string]string, len(r.StageErrorKinds)),
		StageCounts:       make(map[string]StageCount, len(r.StageCounts)),
		Issues:            r.Issues,
		RenderedDocuments: r.RenderedDocuments,
		FailedDocuments:   r.FailedDocuments,
		Fingerprint:       r.Fingerprint,
		SkipReason:        r.SkipReason,
		Outcome:           r.Outcome,
	}
	if s.Issues == nil {
		s.Issues = []ReportIssue{}
	}
	for i, e := range r.Errors {
		s.Errors[i] = e.Error()
	}
	for i, w := range r.Warnings {
		s.Warnings[i] = w.Error()
	}
	for k, v := range r.StageDurations {
		s.StageDurations[string(k)] = v
	}
	for k, v := range r.StageErrorKinds {
		s.StageErrorKinds[string(k)] = string(v)
	}
	for k, v := range r.StageCounts {
		s.StageCounts[string(k)] = v
	}
	return s
}
