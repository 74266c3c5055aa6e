package pipeline

import (
	"fmt"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/sitegen/internal/logfields"
)

// beginStaging creates an isolated staging directory for atomic build output.
// The staging dir is a sibling of the output dir (<output>_stage), never
// nested inside it.
func (bs *BuildState) beginStaging(outputDir string) error {
	stage := outputDir + "_stage"
	if err := os.RemoveAll(stage); err != nil {
		return err
	}
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return err
	}
	bs.stageDir = stage
	slog.Debug("Initialized staging directory", "staging", stage, "final", outputDir)
	return nil
}

// finalizeStaging atomically promotes the staging directory to the final
// output location:
//  1. Move existing outputDir (if any) to outputDir.prev.
//  2. Rename staging -> outputDir.
//  3. Remove the previous backup best-effort.
func (bs *BuildState) finalizeStaging(outputDir string) error {
	if bs.stageDir == "" {
		return fmt.Errorf("no staging directory initialized")
	}
	if _, err := os.Stat(bs.stageDir); err != nil {
		return fmt.Errorf("staging directory missing: %w", err)
	}

	prev := outputDir + ".prev"
	if _, err := os.Stat(prev); err == nil {
		if err := os.RemoveAll(prev); err != nil {
			return fmt.Errorf("remove stale backup: %w", err)
		}
	}
	if _, err := os.Stat(outputDir); err == nil {
		if err := os.Rename(outputDir, prev); err != nil {
			return fmt.Errorf("backup existing output: %w", err)
		}
	}
	if err := os.Rename(bs.stageDir, outputDir); err != nil {
		// Restore the previous output so a failed promote is not observable.
		if _, statErr := os.Stat(prev); statErr == nil {
			_ = os.Rename(prev, outputDir)
		}
		return fmt.Errorf("promote staging: %w", err)
	}
	bs.stageDir = ""
	if err := os.RemoveAll(prev); err != nil {
		slog.Warn("Failed to remove previous backup", logfields.Path(prev), logfields.Error(err))
	}
	slog.Info("Promoted staging directory", logfields.Output(outputDir))
	return nil
}

// abortStaging removes any staging directory after a failed build to avoid
// orphaned temp dirs. The committed output is untouched.
func (bs *BuildState) abortStaging() {
	if bs.stageDir == "" {
		return
	}
	dir := bs.stageDir
	bs.stageDir = "" // prevent double cleanup
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("Failed to remove staging directory after abort", "staging", dir, logfields.Error(err))
	} else {
		slog.Debug("Removed staging directory after abort", "staging", dir)
	}
}
