// Package history records every change to the databases directory as a git
// commit, using go-git (pure Go, no git binary dependency).
package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const ignoreRules = "*.tmp\n*.corrupt\n"

// Author identifies who made a change.
type Author struct {
	Name  string
	Email string
}

// Commit is one entry of the history.
type Commit struct {
	Hash    string
	Message string
	Author  string
	When    time.Time
}

// Repo is a git repository rooted at the databases directory.
type Repo struct {
	dir      string
	defaults Author

	mu   sync.Mutex
	repo *gogit.Repository
}

// Open opens the repository at dir, initializing it when needed. defaults is
// the committer identity.
func Open(dir string, defaults Author) (*Repo, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		// Not a repo yet.
		if repo, err = gogit.PlainInit(dir, false); err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = defaults.Name
		cfg.User.Email = defaults.Email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}
	p := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(p, []byte(ignoreRules), 0o644); err != nil { //nolint:gosec // G306: not a secret
			return nil, fmt.Errorf("failed to write .gitignore: %w", err)
		}
	}
	return &Repo{dir: dir, defaults: defaults, repo: repo}, nil
}

// Commit stages every change in the directory, removals included, and
// commits it. It returns false when there was nothing to commit.
func (r *Repo) Commit(ctx context.Context, author Author, msg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	w, err := r.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree: %w", err)
	}
	patterns, err := gitignore.ReadPatterns(w.Filesystem, nil)
	if err != nil {
		return false, fmt.Errorf("failed to read .gitignore: %w", err)
	}
	w.Excludes = append(w.Excludes, patterns...)
	if err := w.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return false, fmt.Errorf("failed to stage files: %w", err)
	}
	status, err := w.Status()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		return false, nil
	}
	if author.Name == "" {
		author.Name = r.defaults.Name
	}
	if author.Email == "" {
		author.Email = r.defaults.Email
	}
	now := time.Now()
	_, err = w.Commit(msg, &gogit.CommitOptions{
		Author:    &object.Signature{Name: author.Name, Email: author.Email, When: now},
		Committer: &object.Signature{Name: r.defaults.Name, Email: r.defaults.Email, When: now},
	})
	if err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	return true, nil
}

// Log returns up to n commits, newest first.
func (r *Repo) Log(n int) ([]Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	iter, err := r.repo.Log(&gogit.LogOptions{})
	if err != nil {
		return nil, nil // no commits yet is not an error
	}
	defer iter.Close()
	var out []Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		out = append(out, Commit{Hash: c.Hash.String(), Message: subject, Author: c.Author.Name, When: c.Author.When})
	}
	return out, nil
}
