// Package build drives the external build tool that compiles a recipe's
// sources.
package build

import (
	"sort"

	"lab47.dev/kiln/pkg/recipe"
)

// Invocation is everything a Tool needs for one build.
type Invocation struct {
	// Name prefixes the tool's output lines.
	Name string

	SourceDir string
	BuildDir  string

	Settings    recipe.Settings
	Options     recipe.Options
	Definitions map[string]string
}

// Defines returns the -D definitions for the invocation, the recipe's fixed
// ones plus those derived from settings and options, sorted by flag name.
func (i *Invocation) Defines() []string {
	defs := make(map[string]string, len(i.Definitions)+3)

	for k, v := range i.Definitions {
		defs[k] = v
	}

	if bt, ok := i.Settings[recipe.SettingBuildType]; ok {
		defs["CMAKE_BUILD_TYPE"] = bt
	}

	if std, ok := i.Settings[recipe.SettingCppStd]; ok {
		defs["CMAKE_CXX_STANDARD"] = std
	}

	if _, ok := i.Options["shared"]; ok {
		if i.Options.Bool("shared") {
			defs["BUILD_SHARED_LIBS"] = "ON"
		} else {
			defs["BUILD_SHARED_LIBS"] = "OFF"
		}
	}

	keys := make([]string, 0, len(defs))
	for k := range defs {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, "-D"+k+"="+defs[k])
	}

	return out
}

// BuildType is the configuration passed to the build step, Release when the
// settings leave it out.
func (i *Invocation) BuildType() string {
	if bt := i.Settings[recipe.SettingBuildType]; bt != "" {
		return bt
	}

	return "Release"
}
