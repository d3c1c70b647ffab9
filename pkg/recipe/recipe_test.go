package recipe

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lab47.dev/kiln/pkg/data"
)

func TestDefault(t *testing.T) {
	r := Default()

	require.NoError(t, r.Validate())

	assert.Equal(t, "Polars", r.Name)
	assert.Equal(t, "", r.Version)
	assert.Equal(t, "Polars", r.ID())
	assert.Equal(t, "https://github.com/felix-org/polars", r.URL)
	assert.Equal(t, "MIT License", r.License)
	assert.Equal(t, []string{"cmake"}, r.Generators)

	assert.Equal(t, map[string]string{
		"WITH_TESTS":                  "OFF",
		"WITH_SUBMODULE_DEPENDENCIES": "OFF",
		"BUILD_WITH_CONAN":            "ON",
	}, r.Definitions)

	require.Len(t, r.Requires, 2)
	assert.Equal(t, "Armadillo/9.200.1@felix/stable", r.Requires[0].String())
	assert.Equal(t, "Date/2.4.1@felix/stable", r.Requires[1].String())

	assert.Equal(t, data.Linkage{Libs: []string{"polars_cpp"}}, r.Linkage())
	assert.Equal(t, 6, r.Manifest.Len())
}

func TestWithVersion(t *testing.T) {
	r := Default()

	v := r.WithVersion("a1b2c3d")

	assert.Equal(t, "a1b2c3d", v.Version)
	assert.Equal(t, "Polars-a1b2c3d", v.ID())
	assert.Equal(t, "", r.Version)
}

func TestLinkageIsACopy(t *testing.T) {
	r := Default()

	l := r.Linkage()
	l.Libs[0] = "changed"

	assert.Equal(t, []string{"polars_cpp"}, r.Linkage().Libs)
}

func TestParseRequirement(t *testing.T) {
	r, err := ParseRequirement("Armadillo/9.200.1@felix/stable")
	require.NoError(t, err)

	assert.Equal(t, Requirement{Name: "Armadillo", Version: "9.200.1", User: "felix", Channel: "stable"}, r)

	r, err = ParseRequirement("Date/2.4.1")
	require.NoError(t, err)

	assert.Equal(t, "Date/2.4.1", r.String())

	for _, bad := range []string{
		"",
		"Armadillo",
		"Armadillo/",
		"/9.200.1",
		"Armadillo/9.200.1@felix",
		"Armadillo/9.200.1@/stable",
		"Armadillo/9.200.1@felix/stable/x",
		"Arma dillo/9.200.1",
	} {
		_, err := ParseRequirement(bad)
		assert.ErrorIs(t, err, ErrBadRequirement, bad)
	}
}

func TestValidateSettings(t *testing.T) {
	r := Default()

	err := r.ValidateSettings(Settings{
		"os":         "Linux",
		"arch":       "x86_64",
		"compiler":   "gcc",
		"build_type": "Release",
		"cppstd":     "17",
	})
	require.NoError(t, err)

	require.NoError(t, r.ValidateSettings(Settings{"cppstd": "gnu14"}))

	err = r.ValidateSettings(Settings{"libc": "musl"})
	assert.ErrorIs(t, err, ErrUnknownSetting)

	err = r.ValidateSettings(Settings{"build_type": "Fast"})
	assert.ErrorIs(t, err, ErrBadSettingValue)

	err = r.ValidateSettings(Settings{"cppstd": "latest"})
	assert.ErrorIs(t, err, ErrBadSettingValue)

	err = r.ValidateSettings(Settings{"os": ""})
	assert.ErrorIs(t, err, ErrBadSettingValue)
}

func TestResolveOptions(t *testing.T) {
	r := Default()

	opts, err := r.ResolveOptions(nil)
	require.NoError(t, err)

	assert.Equal(t, Options{"shared": "False"}, opts)
	assert.False(t, opts.Bool("shared"))

	opts, err = r.ResolveOptions(map[string]string{"shared": "true"})
	require.NoError(t, err)

	assert.True(t, opts.Bool("shared"))

	_, err = r.ResolveOptions(map[string]string{"fPIC": "True"})
	assert.ErrorIs(t, err, ErrUnknownOption)

	_, err = r.ResolveOptions(map[string]string{"shared": "maybe"})
	assert.ErrorIs(t, err, ErrBadOptionValue)
}

func TestExports(t *testing.T) {
	e := Default().ExportsSources

	assert.Equal(t, "..", e.Base())

	assert.True(t, e.Match("CMakeLists.txt"))
	assert.True(t, e.Match("src/cpp/polars/Series.h"))
	assert.True(t, e.Match("conan/conanfile.py"))

	assert.False(t, e.Match("dependencies/armadillo/CMakeLists.txt"))
	assert.False(t, e.Match("build"))
	assert.False(t, e.Match("build/CMakeCache.txt"))

	assert.True(t, e.Excluded("build"))
	assert.False(t, e.Excluded("src"))

	assert.Equal(t, "src", Exports{"src/*.h"}.Base())

	rooted := e.Rooted()
	assert.Equal(t, Exports{"*", "!dependencies/*", "!build"}, rooted)
	assert.Equal(t, ".", rooted.Base())
	assert.True(t, rooted.Match("CMakeLists.txt"))
	assert.False(t, rooted.Match("build/CMakeCache.txt"))
	assert.Equal(t, "../*", e[0], "Rooted leaves the receiver alone")

	narrow := Exports{"*.h", "!internal/*"}
	assert.Equal(t, ".", narrow.Base())
	assert.True(t, narrow.Match("src/polars/Series.h"))
	assert.False(t, narrow.Match("src/polars/Series.cpp"))
	assert.False(t, narrow.Match("src/internal/detail.h"))
	assert.False(t, narrow.Match("README.md"))
}

func TestLoadFile(t *testing.T) {
	r, err := LoadFile(filepath.Join("testdata", DefaultFile))
	require.NoError(t, err)

	def := Default()

	assert.Equal(t, def.Name, r.Name)
	assert.Equal(t, def.URL, r.URL)
	assert.Equal(t, def.Description, r.Description)
	assert.Equal(t, def.Settings, r.Settings)
	assert.Equal(t, def.Options, r.Options)
	assert.Equal(t, def.ExportsSources, r.ExportsSources)
	assert.Equal(t, def.Requires, r.Requires)
	assert.Equal(t, def.Definitions, r.Definitions)
	assert.Equal(t, def.Manifest.Rules(), r.Manifest.Rules())
	assert.Equal(t, def.Libs, r.Libs)
}

func TestDecode(t *testing.T) {
	t.Run("fills in defaults", func(t *testing.T) {
		r, err := Decode(strings.NewReader("name: tiny\nsettings: [os]\n"))
		require.NoError(t, err)

		assert.Equal(t, "tiny", r.Name)
		assert.Equal(t, DefaultDefinitions(), r.Definitions)
		assert.Equal(t, []string{"polars_cpp"}, r.Libs)
		assert.Equal(t, 6, r.Manifest.Len())
	})

	t.Run("rejects a pinned version", func(t *testing.T) {
		_, err := Decode(strings.NewReader("name: tiny\nversion: 1.0.0\n"))
		assert.ErrorIs(t, err, ErrInvalidRecipe)
	})

	t.Run("rejects undeclared settings", func(t *testing.T) {
		_, err := Decode(strings.NewReader("name: tiny\nsettings: [libc]\n"))
		assert.ErrorIs(t, err, ErrUnknownSetting)
	})

	t.Run("an option with choices needs a default", func(t *testing.T) {
		_, err := Decode(strings.NewReader("name: tiny\noptions: {shared: [\"True\", \"False\"]}\n"))
		assert.ErrorIs(t, err, ErrInvalidRecipe)

		r, err := Decode(strings.NewReader("name: tiny\noptions: {fPIC: [\"True\"]}\n"))
		require.NoError(t, err)

		opts, err := r.ResolveOptions(nil)
		require.NoError(t, err)
		assert.Equal(t, Options{"fPIC": "True"}, opts)
	})

	t.Run("rejects defaults for unknown options", func(t *testing.T) {
		_, err := Decode(strings.NewReader("name: tiny\ndefault_options: {fPIC: \"True\"}\n"))
		assert.ErrorIs(t, err, ErrUnknownOption)
	})

	t.Run("rejects malformed requirements", func(t *testing.T) {
		_, err := Decode(strings.NewReader("name: tiny\nrequires: [Armadillo]\n"))
		assert.ErrorIs(t, err, ErrBadRequirement)
	})

	t.Run("rejects an empty document", func(t *testing.T) {
		_, err := Decode(strings.NewReader(""))
		assert.ErrorIs(t, err, ErrInvalidRecipe)
	})
}
