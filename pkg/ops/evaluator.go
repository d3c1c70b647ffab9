package ops

import (
	"context"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"lab47.dev/kiln/pkg/build"
	"lab47.dev/kiln/pkg/data"
	"lab47.dev/kiln/pkg/recipe"
	"lab47.dev/kiln/pkg/sumfile"
	"lab47.dev/kiln/pkg/vcs"
)

// BuildSubdir is where the build tool writes its output, beneath the build
// root that holds the exported sources.
const BuildSubdir = "build"

// Evaluator runs the operations of one recipe: version resolution, build,
// packaging and the linkage query.
type Evaluator struct {
	common

	dir    string
	source vcs.RevisionSource
	recipe *recipe.Recipe

	// Tool builds the sources. A nil Tool uses cmake from PATH.
	Tool build.Tool

	// BuildRoot holds the exported sources and the build output.
	BuildRoot string

	// Strict makes Package fail when no copy rule matched anything.
	Strict bool

	settings recipe.Settings
	options  recipe.Options
}

// NewEvaluator binds rec to the recipe directory dir. The version is
// resolved once here from src, or from the git repository holding dir when
// src is nil, and attached to the evaluator's copy of the recipe.
func NewEvaluator(ctx context.Context, L hclog.Logger, rec *recipe.Recipe, dir string, src vcs.RevisionSource) *Evaluator {
	if src == nil {
		src = &vcs.GitRevision{Dir: dir}
	}

	e := &Evaluator{
		dir:    dir,
		source: src,
	}

	e.SetLogger(L)

	version, _ := e.ResolveVersion(ctx)

	rec = rec.WithVersion(version)

	if rec.URL == "" {
		if url, err := vcs.RemoteURL(dir); err == nil {
			rec.URL = url
		} else {
			e.L().Trace("no remote url for recipe", "dir", dir, "error", err)
		}
	}

	e.recipe = rec

	return e
}

func (e *Evaluator) Recipe() *recipe.Recipe {
	return e.recipe
}

func (e *Evaluator) Dir() string {
	return e.dir
}

// ResolveVersion returns the short revision of the recipe's checkout. It
// never fails; ok is false when no revision is available.
func (e *Evaluator) ResolveVersion(ctx context.Context) (string, bool) {
	v, err := vcs.Lookup(ctx, e.source)
	if err != nil {
		e.L().Debug("no version available", "dir", e.dir, "error", err)
		return "", false
	}

	return v, true
}

func (e *Evaluator) tool() build.Tool {
	if e.Tool != nil {
		return e.Tool
	}

	return &build.CMake{L: e.L()}
}

// Invocation returns what Build hands to the tool for settings and options.
func (e *Evaluator) Invocation(settings recipe.Settings, options map[string]string) (*build.Invocation, error) {
	if e.BuildRoot == "" {
		return nil, ErrNoBuildRoot
	}

	err := e.recipe.ValidateSettings(settings)
	if err != nil {
		return nil, err
	}

	opts, err := e.recipe.ResolveOptions(options)
	if err != nil {
		return nil, err
	}

	defs := make(map[string]string, len(e.recipe.Definitions))
	for k, v := range e.recipe.Definitions {
		defs[k] = v
	}

	return &build.Invocation{
		Name:        e.recipe.Name,
		SourceDir:   e.BuildRoot,
		BuildDir:    filepath.Join(e.BuildRoot, BuildSubdir),
		Settings:    settings,
		Options:     opts,
		Definitions: defs,
	}, nil
}

// Build configures and compiles the sources in BuildRoot. Tool failures
// are returned as is, without retrying.
func (e *Evaluator) Build(ctx context.Context, settings recipe.Settings, options map[string]string) error {
	inv, err := e.Invocation(settings, options)
	if err != nil {
		return err
	}

	e.settings = inv.Settings
	e.options = inv.Options

	tool := e.tool()

	e.L().Info("configuring", "id", e.recipe.ID(), "build-dir", inv.BuildDir)

	err = tool.Configure(ctx, inv)
	if err != nil {
		return track(err)
	}

	e.L().Info("building", "id", e.recipe.ID())

	err = tool.Build(ctx, inv)
	if err != nil {
		return track(err)
	}

	return nil
}

// PackageInfo returns the libraries consumers link against. It does not
// depend on settings or options.
func (e *Evaluator) PackageInfo() data.Linkage {
	return e.recipe.Linkage()
}

// Info is the full record written into a package.
func (e *Evaluator) Info() *data.PackageInfo {
	settings := map[string]string{}
	for k, v := range e.settings {
		settings[k] = v
	}

	options := map[string]string{}

	if e.options != nil {
		for k, v := range e.options {
			options[k] = v
		}
	} else if opts, err := e.recipe.ResolveOptions(nil); err == nil {
		for k, v := range opts {
			options[k] = v
		}
	}

	return &data.PackageInfo{
		Name:        e.recipe.Name,
		Version:     e.recipe.Version,
		URL:         e.recipe.URL,
		License:     e.recipe.License,
		Description: e.recipe.Description,
		Settings:    settings,
		Options:     options,
		Requires:    e.recipe.Requirements(),
		Linkage:     e.PackageInfo(),
	}
}

// Verify checks a package against its recorded digests, then checks that
// its pkg-config file agrees with its package info.
func (e *Evaluator) Verify(packageRoot string) error {
	sf, err := sumfile.Read(packageRoot)
	if err != nil {
		return err
	}

	err = sf.Verify(packageRoot)
	if err != nil {
		return err
	}

	info, err := ReadPackageInfo(packageRoot)
	if err != nil {
		return err
	}

	return CheckPkgConfig(packageRoot, info)
}
