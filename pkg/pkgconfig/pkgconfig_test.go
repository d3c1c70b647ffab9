package pkgconfig

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTo(t *testing.T) {
	cfg := ForLibrary("polars", "Polars", "A C++ TimeSeries library", "https://github.com/felix-org/polars", "a1b2c3d", []string{"polars_cpp"})

	var buf bytes.Buffer

	_, err := cfg.WriteTo(&buf)
	require.NoError(t, err)

	assert.Equal(t, `prefix=${pcfiledir}/../..
libdir=${prefix}/lib
includedir=${prefix}/include

Name: Polars
Description: A C++ TimeSeries library
URL: https://github.com/felix-org/polars
Version: a1b2c3d
Cflags: -I${includedir}
Libs: -L${libdir} -lpolars_cpp
`, buf.String())
}

func TestWriteAndLoadAll(t *testing.T) {
	root := t.TempDir()

	cfg := ForLibrary("polars", "Polars", "desc", "", "", []string{"polars_cpp"})

	path, err := cfg.Write(root)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "lib", "pkgconfig", "polars.pc"), path)

	configs, err := LoadAll(root)
	require.NoError(t, err)

	require.Len(t, configs, 1)

	got := configs[0]

	prefix := filepath.Join(root, "lib", "pkgconfig") + "/../.."

	assert.Equal(t, "polars", got.Id)
	assert.Equal(t, "Polars", got.Name)
	assert.Equal(t, "", got.Version)
	assert.Equal(t, "-I"+prefix+"/include", got.Cflags)
	assert.Equal(t, "-L"+prefix+"/lib -lpolars_cpp", got.Libs)
}

func TestParse(t *testing.T) {
	in := `prefix=/this/is/a/prefix
# comment line
libdir=${prefix}/lib

Name: Xau
Requires: xproto, x11
Cflags: -I${prefix}/include
Libs: -L${libdir} -lXau`

	cfg, err := Parse(strings.NewReader(in), "/ignored")
	require.NoError(t, err)

	assert.Equal(t, "Xau", cfg.Name)
	assert.Equal(t, []string{"xproto", "x11"}, cfg.Requires)
	assert.Equal(t, "-I/this/is/a/prefix/include", cfg.Cflags)
	assert.Equal(t, "-L/this/is/a/prefix/lib -lXau", cfg.Libs)
	assert.Equal(t, []Var{{"prefix", "/this/is/a/prefix"}, {"libdir", "/this/is/a/prefix/lib"}}, cfg.Vars)
}

func TestLoadAllMissing(t *testing.T) {
	configs, err := LoadAll(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, configs)

	_, err = Load(filepath.Join(t.TempDir(), "nope.pc"))
	assert.True(t, os.IsNotExist(err))
}

func TestLinkFlags(t *testing.T) {
	cfg := &Config{Libs: "-L/pkgs/polars/lib -L/opt/lib -lpolars_cpp -pthread -lm"}

	assert.Equal(t, []string{"polars_cpp", "m"}, cfg.LinkedLibs())
	assert.Equal(t, []string{"/pkgs/polars/lib", "/opt/lib"}, cfg.LibDirs())

	assert.Empty(t, (&Config{}).LinkedLibs())
}
