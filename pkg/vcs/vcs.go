// Package vcs derives package versions from version control state.
//
// A version is the first ShortLength characters of the current revision
// hash. Resolution never fails: when no revision can be read the version is
// simply absent, which callers see as ok == false.
package vcs

import (
	"context"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/pkg/errors"
)

// ShortLength is the number of hash characters used as a version.
const ShortLength = 7

var (
	ErrNoSource    = errors.New("no revision source")
	ErrBadRevision = errors.New("revision is not a usable hash")
)

// RevisionSource reports the full revision hash of some working tree.
type RevisionSource interface {
	Revision(ctx context.Context) (string, error)
}

// RevisionFunc adapts a function to a RevisionSource.
type RevisionFunc func(ctx context.Context) (string, error)

func (f RevisionFunc) Revision(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticRevision always reports the same hash. It backs --revision.
type StaticRevision string

func (s StaticRevision) Revision(ctx context.Context) (string, error) {
	return string(s), nil
}

// GitRevision reads HEAD of the git repository containing Dir. Parent
// directories are searched for .git, so Dir may be a subdirectory of the
// checkout.
type GitRevision struct {
	Dir string
}

func (g *GitRevision) Revision(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	repo, err := git.PlainOpenWithOptions(g.Dir, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return "", errors.Wrapf(err, "opening repository at %s", g.Dir)
	}

	head, err := repo.Head()
	if err != nil {
		return "", errors.Wrapf(err, "reading HEAD of %s", g.Dir)
	}

	return head.Hash().String(), nil
}

// TopLevel returns the root of the git working tree containing dir.
func TopLevel(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return "", errors.Wrapf(err, "opening repository at %s", dir)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", err
	}

	return wt.Filesystem.Root(), nil
}

// Short truncates a full hash to a version. Hashes shorter than ShortLength
// or containing non hex characters are rejected.
func Short(hash string) (string, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))

	if len(hash) < ShortLength {
		return "", errors.Wrapf(ErrBadRevision, "%q is shorter than %d", hash, ShortLength)
	}

	for _, r := range hash {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return "", errors.Wrapf(ErrBadRevision, "%q is not hex", hash)
		}
	}

	return hash[:ShortLength], nil
}

// Lookup resolves a version and reports why it could not, for diagnostics.
func Lookup(ctx context.Context, src RevisionSource) (string, error) {
	if src == nil {
		return "", ErrNoSource
	}

	hash, err := src.Revision(ctx)
	if err != nil {
		return "", err
	}

	return Short(hash)
}

// ResolveVersion returns the version for src, or ok == false when none is
// available for any reason.
func ResolveVersion(ctx context.Context, src RevisionSource) (version string, ok bool) {
	v, err := Lookup(ctx, src)
	if err != nil {
		return "", false
	}

	return v, true
}
