// Package manifest describes how a build output tree is laid out into a
// package bundle.
//
// A Manifest is an ordered list of Rule values. Rules are applied once, in
// order, and later rules overwrite files written by earlier ones when their
// destinations collide. A rule that matches no files is skipped; static and
// shared builds produce different artifact kinds, so not every rule is
// expected to fire for every configuration.
package manifest

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"lab47.dev/kiln/pkg/fileutils"
	"lab47.dev/kiln/pkg/progress"
)

var ErrInvalidRule = errors.New("invalid copy rule")

// Rule copies files matching Pattern beneath Src into Dst. Src and Dst are
// slash separated and relative to the build root and package root.
type Rule struct {
	Pattern  string
	Src      string
	Dst      string
	KeepPath bool
}

func (r Rule) validate() error {
	if r.Pattern == "" {
		return errors.Wrapf(ErrInvalidRule, "empty pattern")
	}

	if _, err := path.Match(r.Pattern, "x"); err != nil {
		return errors.Wrapf(ErrInvalidRule, "pattern %q: %s", r.Pattern, err)
	}

	for _, p := range []string{r.Src, r.Dst} {
		if path.IsAbs(p) || filepath.IsAbs(p) {
			return errors.Wrapf(ErrInvalidRule, "path must be relative: %s", p)
		}

		for _, seg := range strings.Split(p, "/") {
			if seg == ".." {
				return errors.Wrapf(ErrInvalidRule, "path escapes root: %s", p)
			}
		}
	}

	return nil
}

type Manifest struct {
	rules []Rule
}

// New validates rules and returns a Manifest holding its own copy of them.
func New(rules ...Rule) (Manifest, error) {
	for i, r := range rules {
		if err := r.validate(); err != nil {
			return Manifest{}, errors.Wrapf(err, "rule %d", i+1)
		}
	}

	return Manifest{rules: append([]Rule(nil), rules...)}, nil
}

func mustNew(rules ...Rule) Manifest {
	m, err := New(rules...)
	if err != nil {
		panic(err)
	}

	return m
}

// Default is the layout for a C/C++ library: headers from src/cpp keep their
// directory structure under include/, compiled artifacts are flattened into
// lib/ or bin/.
func Default() Manifest {
	return mustNew(
		Rule{Pattern: "*.h", Src: "src/cpp", Dst: "include", KeepPath: true},
		Rule{Pattern: "*.lib", Dst: "lib"},
		Rule{Pattern: "*.dll", Dst: "bin"},
		Rule{Pattern: "*.dylib*", Dst: "lib"},
		Rule{Pattern: "*.so", Dst: "lib"},
		Rule{Pattern: "*.a", Dst: "lib"},
	)
}

// Rules returns a copy of the rules in application order.
func (m Manifest) Rules() []Rule {
	return append([]Rule(nil), m.rules...)
}

func (m Manifest) Len() int {
	return len(m.rules)
}

// Result records what a single rule copied, relative to the package root.
type Result struct {
	Rule  Rule
	Files []string
}

type Report struct {
	Results []Result
}

// Total is the number of files written across all rules.
func (r *Report) Total() int {
	var n int

	for _, res := range r.Results {
		n += len(res.Files)
	}

	return n
}

// Unmatched returns the rules that copied nothing.
func (r *Report) Unmatched() []Rule {
	var out []Rule

	for _, res := range r.Results {
		if len(res.Files) == 0 {
			out = append(out, res.Rule)
		}
	}

	return out
}

// Apply copies files from root into dest according to the rules.
func (m Manifest) Apply(ctx context.Context, L hclog.Logger, root, dest string) (*Report, error) {
	if L == nil {
		L = hclog.L()
	}

	bar := progress.Count(ctx, int64(len(m.rules)), "packaging")
	defer bar.Close()

	var report Report

	for _, rule := range m.rules {
		bar.On(rule.Pattern)

		cp := &fileutils.Copy{
			Ctx:      ctx,
			L:        L,
			Root:     filepath.Join(root, filepath.FromSlash(rule.Src)),
			Pattern:  rule.Pattern,
			Dest:     filepath.Join(dest, filepath.FromSlash(rule.Dst)),
			KeepPath: rule.KeepPath,
		}

		files, err := cp.Run()
		if err != nil {
			return nil, errors.Wrapf(err, "applying rule %s -> %s", rule.Pattern, rule.Dst)
		}

		res := Result{Rule: rule}

		for _, f := range files {
			res.Files = append(res.Files, path.Join(rule.Dst, f))
		}

		L.Debug("applied copy rule", "pattern", rule.Pattern, "dst", rule.Dst, "files", len(files))

		report.Results = append(report.Results, res)
		bar.Tick()
	}

	return &report, nil
}
