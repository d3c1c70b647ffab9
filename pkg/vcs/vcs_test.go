package vcs

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commit(t *testing.T, repo *git.Repository, dir, name, content string) plumbing.Hash {
	t.Helper()

	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, name), []byte(content), 0644))

	wt, err := repo.Worktree()
	require.NoError(t, err)

	_, err = wt.Add(name)
	require.NoError(t, err)

	h, err := wt.Commit("update "+name, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "kiln",
			Email: "kiln@example.com",
			When:  time.Unix(1600000000, 0),
		},
	})
	require.NoError(t, err)

	return h
}

func TestResolveVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("uses the first seven characters of HEAD", func(t *testing.T) {
		dir := t.TempDir()

		repo, err := git.PlainInit(dir, false)
		require.NoError(t, err)

		h := commit(t, repo, dir, "conanfile", "one")

		v, ok := ResolveVersion(ctx, &GitRevision{Dir: dir})
		require.True(t, ok)

		assert.Equal(t, h.String()[:7], v)
		assert.Len(t, v, ShortLength)

		again, ok := ResolveVersion(ctx, &GitRevision{Dir: dir})
		require.True(t, ok)
		assert.Equal(t, v, again)

		h2 := commit(t, repo, dir, "conanfile", "two")

		next, ok := ResolveVersion(ctx, &GitRevision{Dir: dir})
		require.True(t, ok)
		assert.Equal(t, h2.String()[:7], next)
	})

	t.Run("finds the repository from a subdirectory", func(t *testing.T) {
		dir := t.TempDir()

		repo, err := git.PlainInit(dir, false)
		require.NoError(t, err)

		h := commit(t, repo, dir, "README", "hi")

		sub := filepath.Join(dir, "conan")
		require.NoError(t, os.Mkdir(sub, 0755))

		v, ok := ResolveVersion(ctx, &GitRevision{Dir: sub})
		require.True(t, ok)
		assert.Equal(t, h.String()[:7], v)
	})

	t.Run("is absent without a repository", func(t *testing.T) {
		v, ok := ResolveVersion(ctx, &GitRevision{Dir: t.TempDir()})
		assert.False(t, ok)
		assert.Equal(t, "", v)
	})

	t.Run("is absent in a repository without commits", func(t *testing.T) {
		dir := t.TempDir()

		_, err := git.PlainInit(dir, false)
		require.NoError(t, err)

		_, ok := ResolveVersion(ctx, &GitRevision{Dir: dir})
		assert.False(t, ok)
	})

	t.Run("is absent when the source fails", func(t *testing.T) {
		src := RevisionFunc(func(ctx context.Context) (string, error) {
			return "", errors.New("git not available")
		})

		_, ok := ResolveVersion(ctx, src)
		assert.False(t, ok)

		_, ok = ResolveVersion(ctx, nil)
		assert.False(t, ok)
	})

	t.Run("truncates a known hash", func(t *testing.T) {
		v, ok := ResolveVersion(ctx, StaticRevision("a1b2c3d4e5f60718293a4b5c6d7e8f9012345678"))
		require.True(t, ok)
		assert.Equal(t, "a1b2c3d", v)
	})

	t.Run("rejects unusable hashes", func(t *testing.T) {
		_, ok := ResolveVersion(ctx, StaticRevision("a1b2"))
		assert.False(t, ok)

		_, ok = ResolveVersion(ctx, StaticRevision("not-a-hash-at-all"))
		assert.False(t, ok)

		_, err := Lookup(ctx, StaticRevision("a1b2"))
		assert.True(t, errors.Is(err, ErrBadRevision))
	})
}

func TestTopLevel(t *testing.T) {
	dir := t.TempDir()

	_, err := TopLevel(dir)
	assert.Error(t, err)

	_, err = git.PlainInit(dir, false)
	require.NoError(t, err)

	sub := filepath.Join(dir, "conan", "test_package")
	require.NoError(t, os.MkdirAll(sub, 0755))

	top, err := TopLevel(sub)
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(dir), filepath.Clean(top))
}

func TestRemoteURL(t *testing.T) {
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	_, err = RemoteURL(dir)
	assert.Error(t, err)

	_, err = repo.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{"git@github.com:felix-org/polars.git"},
	})
	require.NoError(t, err)

	u, err := RemoteURL(dir)
	require.NoError(t, err)

	assert.Equal(t, "https://github.com/felix-org/polars", u)
}

func TestRemoteRepoId(t *testing.T) {
	cases := map[string]string{
		"git@github.com:felix-org/polars.git":     "github.com/felix-org/polars",
		"https://github.com/felix-org/polars.git": "github.com/felix-org/polars",
		"https://github.com/felix-org/polars":     "github.com/felix-org/polars",
		"ssh://git@example.com/team/polars.git":   "example.com/team/polars",
	}

	for in, want := range cases {
		got, err := remoteRepoId(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := remoteRepoId("just-a-path")
	assert.Error(t, err)
}
