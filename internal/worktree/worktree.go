package worktree

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"conductor/internal/logging"
	"conductor/internal/types"
)

// Entry is one worktree reported by `git worktree list --porcelain`.
type Entry struct {
	Path     string
	Head     string
	Branch   string
	Detached bool
}

// Resolver maps sessions onto working directories. Sessions with a repo get
// a managed git worktree under the base directory; sessions without one get
// a plain scratch directory there.
type Resolver struct {
	baseDir string
	logger  logging.Logger
}

func NewResolver(baseDir string, logger logging.Logger) (*Resolver, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return nil, fmt.Errorf("worktree base directory is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Resolver{baseDir: baseDir, logger: logger}, nil
}

// Ensure returns the session's working directory, creating it when needed.
// A recorded path that still exists wins; otherwise the session's branch is
// matched against the repo's registered worktrees before a new one is added.
func (r *Resolver) Ensure(ctx context.Context, session *types.Session) (string, error) {
	if session == nil {
		return "", fmt.Errorf("session is required")
	}
	if recorded := strings.TrimSpace(session.WorktreePath); recorded != "" && dirExists(recorded) {
		return recorded, nil
	}

	repo := strings.TrimSpace(session.RepoPath)
	if repo == "" {
		path := filepath.Join(r.baseDir, session.ID)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return "", fmt.Errorf("create session directory: %w", err)
		}
		return path, nil
	}

	entries, err := List(ctx, repo)
	if err != nil {
		return "", err
	}
	branch := strings.TrimSpace(session.WorktreeBranch)
	if branch != "" {
		for _, entry := range entries {
			if entry.Branch == branch {
				return entry.Path, nil
			}
		}
	}
	path := filepath.Join(r.baseDir, session.ID)
	for _, entry := range entries {
		if entry.Path == path {
			return path, nil
		}
	}
	if err := os.MkdirAll(r.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("create worktree base: %w", err)
	}
	if err := Add(ctx, repo, path, branch); err != nil {
		return "", err
	}
	r.logger.Info("worktree_created",
		logging.F("session_id", session.ID),
		logging.F("path", path),
		logging.F("branch", branch),
	)
	return path, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// List enumerates the repo's registered worktrees.
func List(ctx context.Context, repoPath string) ([]Entry, error) {
	if strings.TrimSpace(repoPath) == "" {
		return nil, fmt.Errorf("repo path is required")
	}
	cmd := exec.CommandContext(ctx, "git", "-C", repoPath, "worktree", "list", "--porcelain")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("git worktree list failed: %s", strings.TrimSpace(string(output)))
	}
	return parseList(string(output)), nil
}

// Add registers a new worktree. A branch that does not exist yet is created
// at the current HEAD.
func Add(ctx context.Context, repoPath, path, branch string) error {
	if strings.TrimSpace(repoPath) == "" {
		return fmt.Errorf("repo path is required")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("worktree path is required")
	}
	args := []string{"-C", repoPath, "worktree", "add"}
	branch = strings.TrimSpace(branch)
	switch {
	case branch == "":
		args = append(args, path)
	case branchExists(ctx, repoPath, branch):
		args = append(args, path, branch)
	default:
		args = append(args, "-b", branch, path)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git worktree add failed: %s", strings.TrimSpace(string(output)))
	}
	return nil
}

func branchExists(ctx context.Context, repoPath, branch string) bool {
	cmd := exec.CommandContext(ctx, "git", "-C", repoPath, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return cmd.Run() == nil
}

func parseList(output string) []Entry {
	var out []Entry
	scanner := bufio.NewScanner(strings.NewReader(output))
	var current *Entry
	flush := func() {
		if current != nil && strings.TrimSpace(current.Path) != "" {
			out = append(out, *current)
		}
		current = nil
	}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, "worktree ") {
			flush()
			path := strings.TrimSpace(strings.TrimPrefix(line, "worktree "))
			current = &Entry{Path: path}
			continue
		}
		if current == nil {
			continue
		}
		switch {
		case strings.HasPrefix(line, "branch "):
			branch := strings.TrimSpace(strings.TrimPrefix(line, "branch "))
			branch = strings.TrimPrefix(branch, "refs/heads/")
			current.Branch = branch
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimSpace(strings.TrimPrefix(line, "HEAD "))
		case line == "detached":
			current.Detached = true
		}
	}
	flush()
	return out
}
