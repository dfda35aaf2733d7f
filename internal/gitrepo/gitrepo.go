// Package gitrepo is a read-only view of the project repository used by the
// context preparer and the completion gate. It never shells out to git.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// ErrNotRepository is returned when no repository contains the directory.
var ErrNotRepository = errors.New("gitrepo: not a git repository")

// Change is one path with pending modifications, staged or not.
type Change struct {
	Path      string
	Staging   byte
	Worktree  byte
	Untracked bool
}

// Repo wraps an opened repository and its worktree.
type Repo struct {
	repo *git.Repository
	tree *git.Worktree
}

// Open finds the repository containing dir, walking up to parent
// directories the way git itself does.
func Open(dir string) (*Repo, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNotRepository
	}
	if err != nil {
		return nil, fmt.Errorf("gitrepo: open %s: %w", dir, err)
	}
	tree, err := repo.Worktree()
	if err != nil {
		// Bare repositories have no working tree to inspect.
		return nil, fmt.Errorf("gitrepo: worktree: %w", err)
	}
	return &Repo{repo: repo, tree: tree}, nil
}

// Root returns the worktree root directory.
func (r *Repo) Root() string {
	return r.tree.Filesystem.Root()
}

// Branch returns the short name of the checked-out branch. Unborn branches
// (no commits yet) are reported too; a detached HEAD yields "".
func (r *Repo) Branch() (string, error) {
	head, err := r.repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", fmt.Errorf("gitrepo: read HEAD: %w", err)
	}
	if head.Type() == plumbing.SymbolicReference {
		return head.Target().Short(), nil
	}
	return "", nil
}

// Changes lists every path whose staging or worktree status is not
// unmodified, sorted by path. It gives up when ctx is done.
func (r *Repo) Changes(ctx context.Context) ([]Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("gitrepo: status: %w", err)
	}
	type reply struct {
		status git.Status
		err    error
	}
	done := make(chan reply, 1)
	// Worktree.Status cannot be interrupted; a late reply is dropped.
	go func() {
		status, err := r.tree.Status()
		done <- reply{status: status, err: err}
	}()
	var status git.Status
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("gitrepo: status: %w", ctx.Err())
	case rep := <-done:
		if rep.err != nil {
			return nil, fmt.Errorf("gitrepo: status: %w", rep.err)
		}
		status = rep.status
	}
	changes := make([]Change, 0, len(status))
	for path, s := range status {
		if s.Staging == git.Unmodified && s.Worktree == git.Unmodified {
			continue
		}
		changes = append(changes, Change{
			Path:      path,
			Staging:   byte(s.Staging),
			Worktree:  byte(s.Worktree),
			Untracked: s.Staging == git.Untracked || s.Worktree == git.Untracked,
		})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}

// RecentFiles returns the paths touched by the last limit commits reachable
// from HEAD, newest commit first, with repeats preserved. A repository
// without commits yields an empty list.
func (r *Repo) RecentFiles(limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	iter, err := r.repo.Log(&git.LogOptions{})
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gitrepo: log: %w", err)
	}
	defer iter.Close()

	var files []string
	seen := 0
	err = iter.ForEach(func(c *object.Commit) error {
		if seen >= limit {
			return storer.ErrStop
		}
		seen++
		stats, err := c.Stats()
		if err != nil {
			return fmt.Errorf("gitrepo: stats %s: %w", c.Hash, err)
		}
		for _, stat := range stats {
			files = append(files, stat.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
