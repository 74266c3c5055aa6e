// Package publish pushes committed build output to a git remote through an
// explicit state machine. Each state has a precondition that must hold before
// the transition runs, so a failed publish reports exactly how far it got and
// never leaves the repository half-mutated beyond a local commit.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"

	sgerrors "git.home.luguber.info/inful/sitegen/internal/errors"
)

// State identifies a step in the publish state machine.
type State string

const (
	StateValidateRepo   State = "validate_repo"
	StateCheckWorktree  State = "check_worktree"
	StateCheckArtifacts State = "check_artifacts"
	StateStageArtifacts State = "stage_artifacts"
	StateCommit         State = "commit"
	StatePush           State = "push"
	StateDone           State = "done"
)

// errNothingToPublish short-circuits the state machine when the artifacts are
// already committed and pushed.
var errNothingToPublish = errors.New("nothing to publish")

// Options configure one publish run.
type Options struct {
	RepoPath     string // repository containing the artifacts directory
	ArtifactsDir string // committed build output, inside RepoPath
	Remote       string // e.g. "origin"
	Branch       string // remote branch to push to; empty pushes the current branch
	Message      string
	Author       string
	Email        string
}

// Result reports how far the state machine progressed.
type Result struct {
	State      State  // last state reached
	CommitHash string // set once StateCommit succeeds
	UpToDate   bool   // no artifact changes, nothing committed or pushed
}

// Publisher runs the publish state machine.
type Publisher struct {
	opts Options

	repo     *git.Repository
	worktree *git.Worktree
	relDir   string // ArtifactsDir relative to RepoPath, slash separated
}

// New creates a Publisher. Defaults: remote "origin", message "publish site".
func New(opts Options) *Publisher {
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if opts.Message == "" {
		opts.Message = "publish site"
	}
	if opts.Author == "" {
		opts.Author = "sitegen"
	}
	if opts.Email == "" {
		opts.Email = "sitegen@localhost"
	}
	return &Publisher{opts: opts}
}

type transition struct {
	state State
	fn    func(ctx context.Context) error
}

// Run drives the state machine to completion. The returned Result carries the
// last state reached even on error.
func (p *Publisher) Run(ctx context.Context) (*Result, error) {
	result := &Result{}

	steps := []transition{
		{StateValidateRepo, p.validateRepo},
		{StateCheckWorktree, p.checkWorktree},
		{StateCheckArtifacts, p.checkArtifacts},
		{StateStageArtifacts, p.stageArtifacts},
		{StateCommit, func(ctx context.Context) error { return p.commit(ctx, result) }},
		{StatePush, func(ctx context.Context) error { return p.push(ctx, result) }},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return result, sgerrors.Wrap(err, sgerrors.CategoryGit, sgerrors.SeverityError, "publish canceled").
				WithContext("state", string(result.State))
		}
		result.State = step.state
		slog.Debug("Publish state", slog.String("state", string(step.state)))
		err := step.fn(ctx)
		if errors.Is(err, errNothingToPublish) {
			result.UpToDate = true
			break
		}
		if err != nil {
			return result, err
		}
	}

	result.State = StateDone
	if result.UpToDate {
		slog.Info("Publish skipped, artifacts unchanged")
	} else {
		slog.Info("Publish completed",
			slog.String("commit", result.CommitHash),
			slog.String("remote", p.opts.Remote),
			slog.String("branch", p.opts.Branch))
	}
	return result, nil
}

func (p *Publisher) validateRepo(context.Context) error {
	repo, err := git.PlainOpen(p.opts.RepoPath)
	if err != nil {
		return sgerrors.WrapFatal(err, sgerrors.CategoryGit, "open publish repository").
			WithContext("repo", p.opts.RepoPath)
	}
	if _, err := repo.Remote(p.opts.Remote); err != nil {
		return sgerrors.WrapFatal(err, sgerrors.CategoryGit, "publish remote not configured").
			WithContext("remote", p.opts.Remote)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return sgerrors.WrapFatal(err, sgerrors.CategoryGit, "open worktree")
	}

	absRepo, err := filepath.Abs(p.opts.RepoPath)
	if err != nil {
		return sgerrors.WrapFatal(err, sgerrors.CategoryGit, "resolve repository path")
	}
	absArtifacts, err := filepath.Abs(p.opts.ArtifactsDir)
	if err != nil {
		return sgerrors.WrapFatal(err, sgerrors.CategoryGit, "resolve artifacts path")
	}
	rel, err := filepath.Rel(absRepo, absArtifacts)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return sgerrors.Fatal(sgerrors.CategoryGit, "artifacts directory is outside the publish repository").
			WithContext("repo", absRepo).
			WithContext("artifacts", absArtifacts)
	}

	p.repo = repo
	p.worktree = wt
	p.relDir = filepath.ToSlash(rel)
	return nil
}

// checkWorktree refuses to publish when files outside the artifacts directory
// have uncommitted changes. Artifact changes are expected; anything else means
// the repository is mid-edit and a publish commit would capture unrelated work.
func (p *Publisher) checkWorktree(context.Context) error {
	status, err := p.worktree.Status()
	if err != nil {
		return sgerrors.WrapFatal(err, sgerrors.CategoryGit, "read worktree status")
	}
	for path, st := range status {
		if st.Worktree == git.Unmodified && st.Staging == git.Unmodified {
			continue
		}
		if p.insideArtifacts(path) {
			continue
		}
		return sgerrors.Fatal(sgerrors.CategoryGit, "worktree has uncommitted changes outside the artifacts directory").
			WithContext("path", path)
	}
	return nil
}

func (p *Publisher) insideArtifacts(path string) bool {
	if p.relDir == "." {
		return true
	}
	return path == p.relDir || strings.HasPrefix(path, p.relDir+"/")
}

func (p *Publisher) checkArtifacts(context.Context) error {
	info, err := os.Stat(p.opts.ArtifactsDir)
	if err != nil {
		return sgerrors.WrapFatal(err, sgerrors.CategoryGit, "artifacts directory not found, run build first").
			WithContext("artifacts", p.opts.ArtifactsDir)
	}
	if !info.IsDir() {
		return sgerrors.Fatal(sgerrors.CategoryGit, "artifacts path is not a directory").
			WithContext("artifacts", p.opts.ArtifactsDir)
	}
	entries, err := os.ReadDir(p.opts.ArtifactsDir)
	if err != nil {
		return sgerrors.WrapFatal(err, sgerrors.CategoryGit, "read artifacts directory")
	}
	if len(entries) == 0 {
		return sgerrors.Fatal(sgerrors.CategoryGit, "artifacts directory is empty, nothing to publish").
			WithContext("artifacts", p.opts.ArtifactsDir)
	}
	return nil
}

func (p *Publisher) stageArtifacts(context.Context) error {
	if err := p.worktree.AddWithOptions(&git.AddOptions{Path: p.relDir}); err != nil {
		return sgerrors.WrapFatal(err, sgerrors.CategoryGit, "stage artifacts").
			WithContext("path", p.relDir)
	}
	status, err := p.worktree.Status()
	if err != nil {
		return sgerrors.WrapFatal(err, sgerrors.CategoryGit, "read status after staging")
	}
	if status.IsClean() {
		return errNothingToPublish
	}
	return nil
}

func (p *Publisher) commit(_ context.Context, result *Result) error {
	hash, err := p.worktree.Commit(p.opts.Message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  p.opts.Author,
			Email: p.opts.Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return sgerrors.WrapFatal(err, sgerrors.CategoryGit, "commit artifacts")
	}
	result.CommitHash = hash.String()
	slog.Info("Committed artifacts", slog.String("commit", hash.String()))
	return nil
}

func (p *Publisher) push(ctx context.Context, result *Result) error {
	head, err := p.repo.Head()
	if err != nil {
		return sgerrors.WrapFatal(err, sgerrors.CategoryGit, "resolve HEAD")
	}
	branch := p.opts.Branch
	if branch == "" {
		branch = head.Name().Short()
	}
	refSpec := gitconfig.RefSpec(fmt.Sprintf("%s:refs/heads/%s", head.Name(), branch))

	err = p.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: p.opts.Remote,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return sgerrors.WrapFatal(err, sgerrors.CategoryGit, "push artifacts").
			WithContext("remote", p.opts.Remote).
			WithContext("branch", branch)
	}
	slog.Info("Pushed artifacts", slog.String("branch", branch))
	return nil
}
