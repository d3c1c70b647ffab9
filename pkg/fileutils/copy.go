package fileutils

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Copy copies every file beneath Root matching Pattern into Dest.
//
// A Pattern without a slash is matched against the base name of each file,
// so "*.h" finds headers at any depth. A Pattern with a slash is matched
// against the slash separated path relative to Root.
//
// With KeepPath the path relative to Root is recreated under Dest, otherwise
// the file lands directly in Dest under its base name.
type Copy struct {
	Ctx      context.Context
	L        hclog.Logger
	Root     string
	Pattern  string
	Dest     string
	KeepPath bool
	ModeOr   os.FileMode

	// Select replaces Pattern when set.
	Select func(rel string) bool

	// Prune skips whole directories, given their path relative to Root.
	Prune func(rel string) bool
}

func (c *Copy) shouldCancel() error {
	if c.Ctx == nil {
		return nil
	}

	select {
	case <-c.Ctx.Done():
		return c.Ctx.Err()
	default:
		return nil
	}
}

// Match reports whether rel (slash separated, relative to Root) is selected
// by the pattern.
func (c *Copy) Match(rel string) (bool, error) {
	if c.Select != nil {
		return c.Select(rel), nil
	}

	if strings.Contains(c.Pattern, "/") {
		return path.Match(c.Pattern, rel)
	}

	return path.Match(c.Pattern, path.Base(rel))
}

// Run performs the copy and returns the copied files relative to Dest, in
// sorted order. A Root that does not exist or a Pattern that matches nothing
// is not an error; Run returns no files.
func (c *Copy) Run() ([]string, error) {
	if c.L == nil {
		c.L = hclog.L()
	}

	if c.Select == nil {
		if _, err := path.Match(c.Pattern, "x"); err != nil {
			return nil, errors.Wrapf(err, "pattern %q", c.Pattern)
		}
	}

	fi, err := os.Stat(c.Root)
	if err != nil {
		if os.IsNotExist(err) {
			c.L.Debug("copy root missing", "root", c.Root, "pattern", c.Pattern)
			return nil, nil
		}

		return nil, err
	}

	if !fi.IsDir() {
		return nil, errors.Errorf("copy root is not a directory: %s", c.Root)
	}

	destAbs, _ := filepath.Abs(c.Dest)

	var matches []string

	err = filepath.WalkDir(c.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			// Never copy the destination into itself when it lives
			// beneath the root.
			if abs, aerr := filepath.Abs(p); aerr == nil && abs == destAbs {
				return filepath.SkipDir
			}

			if c.Prune != nil && p != c.Root {
				rel, err := filepath.Rel(c.Root, p)
				if err != nil {
					return err
				}

				if c.Prune(filepath.ToSlash(rel)) {
					return filepath.SkipDir
				}
			}

			return nil
		}

		if d.Type()&^os.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(c.Root, p)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)

		ok, err := c.Match(rel)
		if err != nil {
			return err
		}

		if ok {
			matches = append(matches, rel)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		c.L.Debug("no files matched", "root", c.Root, "pattern", c.Pattern)
		return nil, nil
	}

	seen := make(map[string]string)

	var copied []string

	for _, rel := range matches {
		target := path.Base(rel)
		if c.KeepPath {
			target = rel
		}

		if prev, ok := seen[target]; ok {
			c.L.Warn("flattened files collide, later file wins",
				"target", target, "previous", prev, "file", rel)
		} else {
			copied = append(copied, target)
		}

		seen[target] = rel

		to := filepath.Join(c.Dest, filepath.FromSlash(target))

		err = os.MkdirAll(filepath.Dir(to), 0755)
		if err != nil {
			return nil, err
		}

		err = c.copyEntry(filepath.Join(c.Root, filepath.FromSlash(rel)), to)
		if err != nil {
			return nil, errors.Wrapf(err, "copying %s", rel)
		}
	}

	sort.Strings(copied)

	return copied, nil
}

func (c *Copy) copyEntry(from, to string) error {
	if err := c.shouldCancel(); err != nil {
		return err
	}

	c.L.Trace("copy entry", "from", from, "to", to)

	fi, err := os.Lstat(from)
	if err != nil {
		return err
	}

	switch fi.Mode() & os.ModeType {
	case 0:
		return c.copyFile(from, to, fi)
	case os.ModeSymlink:
		// Flattened files lose their neighbours, so a link is replaced by
		// the contents of what it points at.
		if !c.KeepPath {
			tfi, err := os.Stat(from)
			if err != nil {
				return errors.Wrapf(err, "following link %s", from)
			}

			if !tfi.Mode().IsRegular() {
				c.L.Warn("skipping link to a non-file", "link", from)
				return nil
			}

			return c.copyFile(from, to, tfi)
		}

		link, err := os.Readlink(from)
		if err != nil {
			return err
		}

		if cur, err := os.Readlink(to); err == nil && cur == link {
			return nil
		}

		os.Remove(to)

		return os.Symlink(link, to)
	}

	return nil
}

// copyFile writes the contents of from to to, following from if it is a
// link. fi describes the file being read.
func (c *Copy) copyFile(from, to string, fi os.FileInfo) error {
	f, err := os.Open(from)
	if err != nil {
		return err
	}

	defer f.Close()

	// Replace rather than truncate so a symlink left by an earlier
	// run is not followed.
	if lfi, err := os.Lstat(to); err == nil && lfi.Mode()&os.ModeSymlink != 0 {
		os.Remove(to)
	}

	tg, err := os.OpenFile(
		to,
		os.O_WRONLY|os.O_CREATE|os.O_TRUNC,
		fi.Mode().Perm()|c.ModeOr.Perm(),
	)
	if err != nil {
		return err
	}

	_, err = io.Copy(tg, f)
	if err != nil {
		tg.Close()
		return err
	}

	err = tg.Close()
	if err != nil {
		return err
	}

	err = os.Chmod(to, fi.Mode().Perm()|c.ModeOr.Perm())
	if err != nil {
		return err
	}

	return os.Chtimes(to, fi.ModTime(), fi.ModTime())
}
