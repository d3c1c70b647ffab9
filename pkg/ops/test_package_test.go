package ops

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lab47.dev/kiln/pkg/recipe"
	"lab47.dev/kiln/pkg/vcs"
)

type recordRunner struct {
	dirs  []string
	argvs [][]string

	err error
}

func (r *recordRunner) Run(ctx context.Context, dir string, argv []string) error {
	r.dirs = append(r.dirs, dir)
	r.argvs = append(r.argvs, argv)
	return r.err
}

func testConsumer(t *testing.T) (*Evaluator, *fakeTool, string) {
	e, tool := testEvaluator(t, vcs.StaticRevision(testHash))

	root := t.TempDir()

	writeTree(t, root, map[string]string{
		"src/cpp/polars/Series.h":   "series",
		"build/src/libpolars_cpp.a": "archive",
	})

	pkgRoot := filepath.Join(t.TempDir(), "Polars-a1b2c3d")

	_, err := e.Package(testContext(), root, pkgRoot)
	require.NoError(t, err)

	writeTree(t, e.Dir(), map[string]string{
		"test_package/example.cpp": `#include "polars/Series.h"`,
	})

	return e, tool, pkgRoot
}

func TestTestPackage(t *testing.T) {
	settings := recipe.Settings{"os": "Linux", "build_type": "Release", "cppstd": "17"}

	t.Run("builds and runs a consumer against the package", func(t *testing.T) {
		e, tool, pkgRoot := testConsumer(t)

		var runner recordRunner

		err := e.TestPackage(testContext(), TestPackageOptions{
			Settings:    settings,
			PackageRoot: pkgRoot,
			Runner:      &runner,
		})
		require.NoError(t, err)

		require.Len(t, tool.configured, 1)
		inv := tool.configured[0]

		assert.Equal(t, filepath.Join(e.BuildRoot, "test_package", "src"), inv.SourceDir)
		assert.Equal(t, filepath.Join(e.BuildRoot, "test_package", "build"), inv.BuildDir)

		assert.Equal(t, "polars_cpp", inv.Definitions["KILN_LIBS"])
		assert.True(t, strings.HasSuffix(inv.Definitions["KILN_INCLUDE_DIR"], "Polars-a1b2c3d/include"))
		assert.True(t, strings.HasSuffix(inv.Definitions["KILN_LIB_DIR"], "Polars-a1b2c3d/lib"))
		assert.Contains(t, inv.Defines(), "-DCMAKE_CXX_STANDARD=17")

		staged := readTree(t, inv.SourceDir)
		assert.Equal(t, `#include "polars/Series.h"`, staged["example.cpp"])
		assert.Contains(t, staged["CMakeLists.txt"], "add_executable(example")

		require.Len(t, runner.argvs, 1)
		assert.Equal(t, []string{filepath.Join(inv.BuildDir, "example")}, runner.argvs[0])
	})

	t.Run("keeps the consumer's own CMakeLists.txt", func(t *testing.T) {
		e, tool, pkgRoot := testConsumer(t)

		writeTree(t, e.Dir(), map[string]string{
			"test_package/CMakeLists.txt": "project(mine)",
		})

		err := e.TestPackage(testContext(), TestPackageOptions{
			Settings:    settings,
			PackageRoot: pkgRoot,
			Runner:      &recordRunner{},
		})
		require.NoError(t, err)

		staged := readTree(t, tool.configured[0].SourceDir)
		assert.Equal(t, "project(mine)", staged["CMakeLists.txt"])
	})

	t.Run("requires a consumer project", func(t *testing.T) {
		e, tool, pkgRoot := testConsumer(t)

		err := e.TestPackage(testContext(), TestPackageOptions{
			Settings:    settings,
			PackageRoot: pkgRoot,
			ConsumerDir: filepath.Join(t.TempDir(), "missing"),
			Runner:      &recordRunner{},
		})
		assert.ErrorIs(t, err, ErrNoConsumer)
		assert.Empty(t, tool.configured)
	})

	t.Run("refuses a modified package", func(t *testing.T) {
		e, tool, pkgRoot := testConsumer(t)

		require.NoError(t, ioutil.WriteFile(filepath.Join(pkgRoot, "lib", "libpolars_cpp.a"), []byte("patched"), 0644))

		err := e.TestPackage(testContext(), TestPackageOptions{
			Settings:    settings,
			PackageRoot: pkgRoot,
			Runner:      &recordRunner{},
		})
		assert.Error(t, err)
		assert.Empty(t, tool.configured)
	})

	t.Run("a build without the program fails", func(t *testing.T) {
		e, tool, pkgRoot := testConsumer(t)
		tool.noProgram = true

		var runner recordRunner

		err := e.TestPackage(testContext(), TestPackageOptions{
			Settings:    settings,
			PackageRoot: pkgRoot,
			Runner:      &runner,
		})
		assert.ErrorIs(t, err, ErrNoExecutable)
		assert.Empty(t, runner.argvs)
	})

	t.Run("a failing program fails the test", func(t *testing.T) {
		e, _, pkgRoot := testConsumer(t)

		boom := errors.New("exit status 1")

		err := e.TestPackage(testContext(), TestPackageOptions{
			Settings:    settings,
			PackageRoot: pkgRoot,
			Runner:      &recordRunner{err: boom},
		})
		assert.ErrorIs(t, err, boom)
	})
}

func TestLoaderEnv(t *testing.T) {
	env := loaderEnv([]string{"HOME=/home/k", "LD_LIBRARY_PATH=/opt/lib"}, "/pkgs/Polars")

	sep := string(os.PathListSeparator)

	assert.Contains(t, env, "HOME=/home/k")
	assert.Contains(t, env, "LD_LIBRARY_PATH="+filepath.Join("/pkgs/Polars", "lib")+sep+"/opt/lib")
	assert.Contains(t, env, "DYLD_LIBRARY_PATH="+filepath.Join("/pkgs/Polars", "lib"))
	assert.Contains(t, env, "PATH="+filepath.Join("/pkgs/Polars", "bin"))
}
