// Package recipe models the metadata of a package recipe: identity,
// settings and options schema, pinned upstream requirements, the source
// export globs, the fixed build definitions, the copy manifest and the
// libraries consumers link against.
//
// A Recipe is built once per invocation and treated as read only. The
// version is attached with WithVersion, which returns a copy.
package recipe

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"lab47.dev/kiln/pkg/data"
	"lab47.dev/kiln/pkg/manifest"
)

type Recipe struct {
	Name        string
	Version     string
	URL         string
	License     string
	Description string

	// Source is an optional go-getter address fetched into the build
	// directory before the exported sources are copied.
	Source string

	Settings       []string
	Options        []OptionSpec
	Generators     []string
	ExportsSources Exports
	Requires       []Requirement

	// Definitions are handed to the build tool verbatim.
	Definitions map[string]string

	Manifest manifest.Manifest

	Libs []string
}

// Default returns the recipe for the Polars C++ time series library.
func Default() *Recipe {
	return &Recipe{
		Name:        "Polars",
		URL:         "https://github.com/felix-org/polars",
		License:     "MIT License",
		Description: "A C++ TimeSeries library that aims to mimic pandas Series",
		Settings: []string{
			SettingCppStd,
			SettingOS,
			SettingCompiler,
			SettingBuildType,
			SettingArch,
		},
		Options: []OptionSpec{
			{Name: "shared", Values: []string{"True", "False"}, Default: "False"},
		},
		Generators:     []string{"cmake"},
		ExportsSources: Exports{"../*", "!dependencies/*", "!build"},
		Requires: []Requirement{
			mustRequirement("Armadillo/9.200.1@felix/stable"),
			mustRequirement("Date/2.4.1@felix/stable"),
		},
		Definitions: DefaultDefinitions(),
		Manifest:    manifest.Default(),
		Libs:        []string{"polars_cpp"},
	}
}

// DefaultDefinitions disables the library's tests and its git submodule
// dependency handling, and tells its CMakeLists that a package manager is
// driving the build.
func DefaultDefinitions() map[string]string {
	return map[string]string{
		"WITH_TESTS":                  "OFF",
		"WITH_SUBMODULE_DEPENDENCIES": "OFF",
		"BUILD_WITH_CONAN":            "ON",
	}
}

// WithVersion returns a copy of r carrying version v. An empty v means the
// version is absent.
func (r *Recipe) WithVersion(v string) *Recipe {
	cp := *r
	cp.Version = v
	return &cp
}

// ID names the package, including the version when one is present.
func (r *Recipe) ID() string {
	if r.Version == "" {
		return r.Name
	}

	return r.Name + "-" + r.Version
}

func (r *Recipe) Validate() error {
	if r.Name == "" {
		return errors.Wrapf(ErrInvalidRecipe, "name is required")
	}

	if strings.ContainsAny(r.Name, "/@ \t") {
		return errors.Wrapf(ErrInvalidRecipe, "name %q contains a reserved character", r.Name)
	}

	for _, s := range r.Settings {
		if !isKnownSetting(s) {
			return errors.Wrapf(ErrUnknownSetting, "recipe declares %q", s)
		}
	}

	for _, o := range r.Options {
		if o.Name == "" || len(o.Values) == 0 {
			return errors.Wrapf(ErrInvalidRecipe, "option %q needs a name and values", o.Name)
		}

		if !o.allows(o.Default) {
			return errors.Wrapf(ErrBadOptionValue, "default %q for %s", o.Default, o.Name)
		}
	}

	if err := r.ExportsSources.Validate(); err != nil {
		return err
	}

	if len(r.Libs) == 0 {
		return errors.Wrapf(ErrInvalidRecipe, "at least one library name is required")
	}

	return nil
}

// ValidateSettings checks that every setting is declared by the recipe and
// holds an acceptable value.
func (r *Recipe) ValidateSettings(s Settings) error {
	for _, k := range s.Keys() {
		declared := false
		for _, d := range r.Settings {
			if d == k {
				declared = true
				break
			}
		}

		if !declared {
			return errors.Wrapf(ErrUnknownSetting, "%s is not declared by %s", k, r.Name)
		}

		if err := validateSettingValue(k, s[k]); err != nil {
			return err
		}
	}

	return nil
}

// ResolveOptions starts from the recipe defaults and applies overrides.
func (r *Recipe) ResolveOptions(overrides map[string]string) (Options, error) {
	opts := make(Options, len(r.Options))

	specs := make(map[string]OptionSpec, len(r.Options))

	for _, o := range r.Options {
		opts[o.Name] = o.Default
		specs[o.Name] = o
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		spec, ok := specs[k]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownOption, "%s is not declared by %s", k, r.Name)
		}

		v := normalizeOption(overrides[k])
		if !spec.allows(v) {
			return nil, errors.Wrapf(ErrBadOptionValue, "%s=%s, expected one of %s",
				k, overrides[k], strings.Join(spec.Values, ", "))
		}

		opts[k] = v
	}

	return opts, nil
}

// Linkage returns the libraries consumers link against.
func (r *Recipe) Linkage() data.Linkage {
	return data.Linkage{Libs: append([]string(nil), r.Libs...)}
}

// Requirements renders the pinned requirements for package info records.
func (r *Recipe) Requirements() []*data.PackageRequirement {
	out := make([]*data.PackageRequirement, 0, len(r.Requires))

	for _, req := range r.Requires {
		out = append(out, &data.PackageRequirement{
			Name:    req.Name,
			Version: req.Version,
			User:    req.User,
			Channel: req.Channel,
		})
	}

	return out
}
