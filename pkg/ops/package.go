package ops

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"lab47.dev/kiln/pkg/data"
	"lab47.dev/kiln/pkg/manifest"
	"lab47.dev/kiln/pkg/pkgconfig"
	"lab47.dev/kiln/pkg/sumfile"
)

const PackageInfoJson = ".pkg-info.json"

// Package lays out the package under packageRoot from the build output
// under buildRoot by applying the recipe's copy manifest, then writes the
// package info, a pkg-config file and the digests. Rules matching nothing
// are skipped, unless every rule does and Strict is set.
func (e *Evaluator) Package(ctx context.Context, buildRoot, packageRoot string) (*manifest.Report, error) {
	L := e.L()

	err := os.MkdirAll(packageRoot, 0755)
	if err != nil {
		return nil, err
	}

	report, err := e.recipe.Manifest.Apply(ctx, L, buildRoot, packageRoot)
	if err != nil {
		return nil, track(err)
	}

	for _, rule := range report.Unmatched() {
		L.Debug("copy rule matched nothing", "pattern", rule.Pattern, "src", rule.Src)
	}

	if report.Total() == 0 {
		if e.Strict {
			return nil, errors.Wrapf(ErrNothingPackaged, "build root %s", buildRoot)
		}

		L.Warn("no files packaged", "build-root", buildRoot)
	}

	info := e.Info()
	info.Files = report.Total()

	err = writePackageInfo(packageRoot, info)
	if err != nil {
		return nil, err
	}

	pc := pkgconfig.ForLibrary(
		e.recipe.Name,
		e.recipe.Name,
		e.recipe.Description,
		e.recipe.URL,
		e.recipe.Version,
		info.Linkage.Libs,
	)

	_, err = pc.Write(packageRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "writing pkg-config file")
	}

	sf, err := sumfile.Write(packageRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "writing digests")
	}

	L.Info("packaged", "id", info.ID(), "root", packageRoot, "files", info.Files, "digests", len(sf.Entities()))

	return report, nil
}

func writePackageInfo(root string, info *data.PackageInfo) error {
	b, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(root, PackageInfoJson), append(b, '\n'), 0644)
}

// ReadPackageInfo loads the info written into a package.
func ReadPackageInfo(root string) (*data.PackageInfo, error) {
	b, err := os.ReadFile(filepath.Join(root, PackageInfoJson))
	if err != nil {
		return nil, err
	}

	var info data.PackageInfo

	err = json.Unmarshal(b, &info)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", PackageInfoJson)
	}

	return &info, nil
}

// CheckPkgConfig compares the package's pkg-config file with its recorded
// info: same version, the linkage's libraries, library dirs inside root.
func CheckPkgConfig(root string, info *data.PackageInfo) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	configs, err := pkgconfig.LoadAll(abs)
	if err != nil {
		return err
	}

	var pc *pkgconfig.Config

	for _, c := range configs {
		if c.Id == info.Name {
			pc = c
			break
		}
	}

	if pc == nil {
		return errors.Wrapf(ErrPkgConfig, "no %s.pc in %s", info.Name, pkgconfig.Dir)
	}

	if pc.Version != info.Version {
		return errors.Wrapf(ErrPkgConfig, "version %q, package is %q", pc.Version, info.Version)
	}

	libs := pc.LinkedLibs()

	if strings.Join(libs, " ") != strings.Join(info.Linkage.Libs, " ") {
		return errors.Wrapf(ErrPkgConfig, "links %v, package links %v", libs, info.Linkage.Libs)
	}

	for _, dir := range pc.LibDirs() {
		rel, err := filepath.Rel(abs, filepath.Clean(dir))
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return errors.Wrapf(ErrPkgConfig, "library dir %s is outside the package", dir)
		}
	}

	return nil
}
