package ops

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"lab47.dev/kiln/pkg/data"
	"lab47.dev/kiln/pkg/manifest"
	"lab47.dev/kiln/pkg/recipe"
)

type CreateOptions struct {
	Settings recipe.Settings
	Options  map[string]string

	PackageRoot string

	// Clean removes the build root and package root before starting.
	Clean bool
}

type CreateResult struct {
	PackageRoot string
	Info        *data.PackageInfo
	Report      *manifest.Report
}

// Create runs the whole pipeline: fetch the source when the recipe names
// one, export the recipe's sources, build, then package.
func (e *Evaluator) Create(ctx context.Context, opts CreateOptions) (*CreateResult, error) {
	if e.BuildRoot == "" {
		return nil, ErrNoBuildRoot
	}

	if opts.PackageRoot == "" {
		return nil, errors.New("no package root set")
	}

	ui := GetUI(ctx)

	ui.Evaluating(e.recipe)

	if opts.Clean {
		for _, dir := range []string{e.BuildRoot, opts.PackageRoot} {
			e.L().Debug("removing previous output", "dir", dir)

			if err := os.RemoveAll(dir); err != nil {
				return nil, err
			}
		}
	}

	err := os.MkdirAll(e.BuildRoot, 0755)
	if err != nil {
		return nil, err
	}

	if e.recipe.Source != "" {
		err = e.FetchSource(ctx, e.BuildRoot)
		if err != nil {
			return nil, err
		}
	}

	ui.Step("Exporting sources")

	files, err := e.ExportSources(ctx, e.BuildRoot)
	if err != nil {
		return nil, err
	}

	e.L().Info("exported sources", "files", len(files), "build-root", e.BuildRoot)

	ui.Step("Building")

	err = e.Build(ctx, opts.Settings, opts.Options)
	if err != nil {
		return nil, err
	}

	ui.Step("Packaging")

	report, err := e.Package(ctx, e.BuildRoot, opts.PackageRoot)
	if err != nil {
		return nil, err
	}

	ui.Packaged(opts.PackageRoot, report)

	info, err := ReadPackageInfo(opts.PackageRoot)
	if err != nil {
		return nil, err
	}

	return &CreateResult{
		PackageRoot: opts.PackageRoot,
		Info:        info,
		Report:      report,
	}, nil
}
