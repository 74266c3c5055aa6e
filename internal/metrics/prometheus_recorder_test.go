package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder_RegistersAndRecords(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.ObserveStageDuration("render", 120*time.Millisecond)
	pr.ObserveBuildDuration(time.Second)
	pr.IncBuildOutcome("success")
	pr.AddRenderedDocuments(4)
	pr.AddFailedDocuments(1)
	pr.AddRenderedDocuments(0) // no-op

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["sitegen_stage_duration_seconds"])
	require.True(t, names["sitegen_build_duration_seconds"])
	require.True(t, names["sitegen_build_outcomes_total"])
	require.True(t, names["sitegen_rendered_documents_total"])
	require.True(t, names["sitegen_failed_documents_total"])
}

func TestNilRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.ObserveStageDuration("x", time.Second)
	pr.ObserveBuildDuration(time.Second)
	pr.IncBuildOutcome("failed")
	pr.AddRenderedDocuments(1)
	pr.AddFailedDocuments(1)
}
