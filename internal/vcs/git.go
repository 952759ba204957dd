package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrCleanTree is returned by Checkpoint when there is nothing to commit.
var ErrCleanTree = errors.New("vcs: working tree is clean")

// GitError reports a failed git command with its stderr output.
type GitError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git %s failed (rc=%d): %s", strings.Join(e.Args, " "), e.ExitCode, e.Stderr)
}

// commandTimeout bounds every git subprocess.
const commandTimeout = 30 * time.Second

// Repo runs git commands in one working directory.
type Repo struct {
	dir    string
	logger *slog.Logger
}

func NewRepo(dir string, logger *slog.Logger) *Repo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repo{dir: dir, logger: logger}
}

// Dir returns the repository working directory.
func (r *Repo) Dir() string { return r.dir }

// run executes a git command and returns its stdout. A non-zero exit becomes
// a GitError carrying stderr.
func (r *Repo) run(ctx context.Context, stdin string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)
	if elapsed > 2*time.Second {
		r.logger.Warn("slow git command", "args", args, "elapsed", elapsed)
	}
	if err != nil {
		gitErr := &GitError{Args: args, ExitCode: 1, Stderr: strings.TrimSpace(stderr.String())}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			gitErr.ExitCode = exitErr.ExitCode()
		} else if gitErr.Stderr == "" {
			gitErr.Stderr = err.Error()
		}
		r.logger.Debug("git command failed", "args", args, "rc", gitErr.ExitCode, "stderr", gitErr.Stderr)
		return stdout.String(), gitErr
	}
	return stdout.String(), nil
}

// IsRepo reports whether the directory is inside a git work tree.
func (r *Repo) IsRepo(ctx context.Context) bool {
	out, err := r.run(ctx, "", "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// StatusEntry is one line of porcelain status output.
type StatusEntry struct {
	Status string
	Path   string
}

// Status returns the parsed output of git status --porcelain.
func (r *Repo) Status(ctx context.Context) ([]StatusEntry, error) {
	out, err := r.run(ctx, "", "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var entries []StatusEntry
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 || strings.TrimSpace(line) == "" {
			continue
		}
		entries = append(entries, StatusEntry{
			Status: strings.TrimSpace(line[:2]),
			Path:   line[3:],
		})
	}
	return entries, nil
}

// Checkpoint stages everything and commits with the tag trailer appended to
// the message. Returns the new commit SHA, or ErrCleanTree when there are no
// changes to record.
func (r *Repo) Checkpoint(ctx context.Context, message string, tag Tag) (string, error) {
	entries, err := r.Status(ctx)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", ErrCleanTree
	}
	if _, err := r.run(ctx, "", "add", "-A"); err != nil {
		return "", err
	}
	if _, err := r.run(ctx, "", "commit", "-m", BuildMessage(message, tag)); err != nil {
		return "", err
	}
	out, err := r.run(ctx, "", "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	sha := strings.TrimSpace(out)
	r.logger.Info("checkpoint committed", "sha", sha, "user", tag.User, "plan", tag.Plan)
	return sha, nil
}

// Commit is one parsed git log entry.
type Commit struct {
	SHA     string
	Author  string
	Date    string
	Subject string
	Body    string
	Tag     Tag
	Tagged  bool
}

const logRecordEnd = "---END---"

// Log returns up to max commits, newest first. A repository with no commits
// yields an empty slice, not an error.
func (r *Repo) Log(ctx context.Context, max int) ([]Commit, error) {
	if max <= 0 {
		max = 50
	}
	out, err := r.run(ctx, "",
		"log",
		fmt.Sprintf("--max-count=%d", max),
		"--format=%H%n%an%n%aI%n%s%n%b%n"+logRecordEnd,
	)
	if err != nil {
		var gitErr *GitError
		if errors.As(err, &gitErr) {
			return nil, nil
		}
		return nil, err
	}

	var commits []Commit
	for _, raw := range strings.Split(out, logRecordEnd+"\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		lines := strings.SplitN(raw, "\n", 5)
		if len(lines) < 4 {
			continue
		}
		c := Commit{
			SHA:     lines[0],
			Author:  lines[1],
			Date:    lines[2],
			Subject: lines[3],
		}
		if len(lines) > 4 {
			c.Body = strings.TrimSpace(lines[4])
		}
		c.Tag, c.Tagged = ParseTag(c.Subject + "\n" + c.Body)
		commits = append(commits, c)
	}
	return commits, nil
}

// CommitDiff returns the patch introduced by one commit.
func (r *Repo) CommitDiff(ctx context.Context, sha string) (string, error) {
	return r.run(ctx, "", "show", "--format=", "--patch", sha)
}

// DiffWorking returns the diff from a ref to the working tree.
func (r *Repo) DiffWorking(ctx context.Context, from string) (string, error) {
	if from == "" {
		from = "HEAD"
	}
	return r.run(ctx, "", "diff", from)
}

// ChangedFiles returns the files touched by a commit.
func (r *Repo) ChangedFiles(ctx context.Context, sha string) ([]string, error) {
	out, err := r.run(ctx, "", "diff-tree", "--no-commit-id", "-r", "--name-only", sha)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, f := range strings.Split(out, "\n") {
		if strings.TrimSpace(f) != "" {
			files = append(files, f)
		}
	}
	return files, nil
}

// ReversePatch returns a patch that undoes the given commit.
func (r *Repo) ReversePatch(ctx context.Context, sha string) (string, error) {
	return r.run(ctx, "", "diff", sha, sha+"~1")
}

// Restore applies the reverse patch of a checkpoint to the working tree.
// Hunks touching the store file or its backups are filtered out so restores
// only ever move source files. The patch is verified with apply --check
// before being applied for real.
func (r *Repo) Restore(ctx context.Context, sha string) error {
	patch, err := r.ReversePatch(ctx, sha)
	if err != nil {
		return err
	}
	patch = filterPatch(patch, protectedPath)
	if strings.TrimSpace(patch) == "" {
		return nil
	}
	if _, err := r.run(ctx, patch, "apply", "--check", "-"); err != nil {
		return fmt.Errorf("restore %s would not apply cleanly: %w", sha, err)
	}
	if _, err := r.run(ctx, patch, "apply", "-"); err != nil {
		return err
	}
	r.logger.Info("checkpoint restored", "sha", sha)
	return nil
}

// protectedPath reports paths a restore must never rewrite.
func protectedPath(path string) bool {
	base := filepath.Base(path)
	if base == "plan.db" || base == "plan.db-wal" || base == "plan.db-shm" {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".backups" {
			return true
		}
	}
	return false
}

// filterPatch drops whole per-file sections of a unified diff whose target
// path matches drop.
func filterPatch(patch string, drop func(string) bool) string {
	var out []string
	include := true
	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "diff --git") {
			include = true
			parts := strings.Fields(line)
			if len(parts) >= 4 {
				include = !drop(strings.TrimPrefix(parts[3], "b/"))
			}
		}
		if include {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
