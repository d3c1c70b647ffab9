package ops

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"lab47.dev/kiln/pkg/build"
	"lab47.dev/kiln/pkg/fileutils"
	"lab47.dev/kiln/pkg/recipe"
)

const (
	// TestPackageDir is the consumer project looked up in the recipe
	// directory.
	TestPackageDir = "test_package"

	// TestExecutable is the program the consumer build must produce.
	TestExecutable = "example"
)

// consumerCMake is used when the consumer project has no CMakeLists.txt of
// its own. Every .cpp file becomes part of one program linked against the
// package.
const consumerCMake = `cmake_minimum_required(VERSION 3.1)
project(kiln_test_package CXX)

file(GLOB KILN_SOURCES ${CMAKE_CURRENT_SOURCE_DIR}/*.cpp)

include_directories(${KILN_INCLUDE_DIR})
link_directories(${KILN_LIB_DIR})

add_executable(example ${KILN_SOURCES})
target_link_libraries(example ${KILN_LIBS})
`

type TestPackageOptions struct {
	Settings recipe.Settings
	Options  map[string]string

	PackageRoot string

	// ConsumerDir holds the consumer sources. Empty means the recipe
	// directory's test_package.
	ConsumerDir string

	// BuildDir is where the consumer is staged and built. Empty means
	// test_package under BuildRoot.
	BuildDir string

	// Runner runs the built program. Nil runs it as a child process with
	// the package's libraries on the loader path.
	Runner build.Runner
}

// TestPackage builds a small consumer program against an installed
// package, with the package's headers and the libraries of its linkage,
// then runs it. The package is verified against its digests first.
func (e *Evaluator) TestPackage(ctx context.Context, opts TestPackageOptions) error {
	if opts.PackageRoot == "" {
		return errors.New("no package root set")
	}

	consumer := opts.ConsumerDir
	if consumer == "" {
		consumer = filepath.Join(e.dir, TestPackageDir)
	}

	fi, err := os.Stat(consumer)
	if err != nil || !fi.IsDir() {
		return errors.Wrapf(ErrNoConsumer, "%s", consumer)
	}

	buildDir := opts.BuildDir
	if buildDir == "" {
		if e.BuildRoot == "" {
			return ErrNoBuildRoot
		}

		buildDir = filepath.Join(e.BuildRoot, TestPackageDir)
	}

	info, err := ReadPackageInfo(opts.PackageRoot)
	if err != nil {
		return err
	}

	err = e.Verify(opts.PackageRoot)
	if err != nil {
		return errors.Wrapf(err, "%s failed verification", info.ID())
	}

	inv, err := e.consumerInvocation(opts, buildDir)
	if err != nil {
		return err
	}

	ui := GetUI(ctx)
	ui.Step("Testing " + info.ID())

	err = e.stageConsumer(ctx, consumer, inv.SourceDir)
	if err != nil {
		return err
	}

	tool := e.tool()

	err = tool.Configure(ctx, inv)
	if err != nil {
		return track(err)
	}

	err = tool.Build(ctx, inv)
	if err != nil {
		return track(err)
	}

	exe, err := findTestExecutable(inv)
	if err != nil {
		return err
	}

	runner := opts.Runner
	if runner == nil {
		runner = &build.ExecRunner{
			Prefix: TestExecutable,
			L:      e.L(),
			Env:    loaderEnv(os.Environ(), opts.PackageRoot),
		}
	}

	e.L().Info("running consumer program", "id", info.ID(), "path", exe)

	err = runner.Run(ctx, inv.BuildDir, []string{exe})
	if err != nil {
		return errors.Wrapf(err, "running %s against %s", TestExecutable, info.ID())
	}

	return nil
}

func (e *Evaluator) consumerInvocation(opts TestPackageOptions, buildDir string) (*build.Invocation, error) {
	err := e.recipe.ValidateSettings(opts.Settings)
	if err != nil {
		return nil, err
	}

	options, err := e.recipe.ResolveOptions(opts.Options)
	if err != nil {
		return nil, err
	}

	root, err := filepath.Abs(opts.PackageRoot)
	if err != nil {
		return nil, err
	}

	return &build.Invocation{
		Name:      e.recipe.Name + "/" + TestPackageDir,
		SourceDir: filepath.Join(buildDir, "src"),
		BuildDir:  filepath.Join(buildDir, BuildSubdir),
		Settings:  opts.Settings,
		Options:   options,
		Definitions: map[string]string{
			"KILN_INCLUDE_DIR": filepath.ToSlash(filepath.Join(root, "include")),
			"KILN_LIB_DIR":     filepath.ToSlash(filepath.Join(root, "lib")),
			"KILN_LIBS":        strings.Join(e.PackageInfo().Libs, ";"),
		},
	}, nil
}

// stageConsumer copies the consumer sources into a fresh dest, adding the
// generic CMakeLists.txt when the consumer brings none.
func (e *Evaluator) stageConsumer(ctx context.Context, consumer, dest string) error {
	err := os.RemoveAll(dest)
	if err != nil {
		return err
	}

	cp := &fileutils.Copy{
		Ctx:      ctx,
		L:        e.L(),
		Root:     consumer,
		Dest:     dest,
		KeepPath: true,
		Select:   func(string) bool { return true },
		Prune: func(rel string) bool {
			return filepath.Base(rel) == BuildSubdir
		},
	}

	files, err := cp.Run()
	if err != nil {
		return track(err)
	}

	if len(files) == 0 {
		return errors.Wrapf(ErrNoConsumer, "%s is empty", consumer)
	}

	cmakeLists := filepath.Join(dest, "CMakeLists.txt")

	if _, err := os.Stat(cmakeLists); err == nil {
		return nil
	}

	e.L().Debug("generating consumer CMakeLists.txt", "dir", dest)

	return ioutil.WriteFile(cmakeLists, []byte(consumerCMake), 0644)
}

// findTestExecutable looks where single and multi configuration generators
// leave the program.
func findTestExecutable(inv *build.Invocation) (string, error) {
	name := TestExecutable
	if runtime.GOOS == "windows" {
		name += ".exe"
	}

	candidates := []string{
		filepath.Join(inv.BuildDir, name),
		filepath.Join(inv.BuildDir, inv.BuildType(), name),
		filepath.Join(inv.BuildDir, "bin", name),
	}

	for _, path := range candidates {
		if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
			return path, nil
		}
	}

	return "", errors.Wrapf(ErrNoExecutable, "looked for %s in %s", name, inv.BuildDir)
}

// loaderEnv puts the package's libraries where the dynamic loader finds
// them, for builds with the shared option.
func loaderEnv(env []string, packageRoot string) []string {
	root, err := filepath.Abs(packageRoot)
	if err != nil {
		root = packageRoot
	}

	lib := filepath.Join(root, "lib")
	bin := filepath.Join(root, "bin")

	add := map[string]string{
		"LD_LIBRARY_PATH":   lib,
		"DYLD_LIBRARY_PATH": lib,
		"PATH":              bin,
	}

	out := make([]string, 0, len(env)+len(add))

	for _, kv := range env {
		idx := strings.IndexByte(kv, '=')
		if idx > 0 {
			if dir, ok := add[kv[:idx]]; ok {
				out = append(out, kv[:idx]+"="+dir+string(os.PathListSeparator)+kv[idx+1:])
				delete(add, kv[:idx])
				continue
			}
		}

		out = append(out, kv)
	}

	for _, k := range []string{"LD_LIBRARY_PATH", "DYLD_LIBRARY_PATH", "PATH"} {
		if dir, ok := add[k]; ok {
			out = append(out, k+"="+dir)
		}
	}

	return out
}
