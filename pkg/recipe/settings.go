package recipe

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

const (
	SettingOS        = "os"
	SettingArch      = "arch"
	SettingCompiler  = "compiler"
	SettingBuildType = "build_type"
	SettingCppStd    = "cppstd"
)

// KnownSettings is every setting a recipe may declare.
var KnownSettings = []string{
	SettingOS,
	SettingArch,
	SettingCompiler,
	SettingBuildType,
	SettingCppStd,
}

var buildTypes = []string{"Debug", "Release", "RelWithDebInfo", "MinSizeRel"}

// Settings are the target settings of one build, keyed by setting name.
type Settings map[string]string

// Keys returns the setting names in sorted order.
func (s Settings) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func isKnownSetting(name string) bool {
	for _, k := range KnownSettings {
		if k == name {
			return true
		}
	}

	return false
}

func validateSettingValue(name, value string) error {
	if value == "" {
		return errors.Wrapf(ErrBadSettingValue, "%s is empty", name)
	}

	switch name {
	case SettingBuildType:
		for _, bt := range buildTypes {
			if bt == value {
				return nil
			}
		}

		return errors.Wrapf(ErrBadSettingValue, "build_type %q, expected one of %s",
			value, strings.Join(buildTypes, ", "))
	case SettingCppStd:
		v := strings.TrimPrefix(value, "gnu")
		if v == "" || strings.Trim(v, "0123456789") != "" {
			return errors.Wrapf(ErrBadSettingValue, "cppstd %q", value)
		}
	}

	return nil
}

// OptionSpec declares an option, its allowed values and default.
type OptionSpec struct {
	Name    string
	Values  []string
	Default string
}

func (o OptionSpec) allows(v string) bool {
	for _, a := range o.Values {
		if a == v {
			return true
		}
	}

	return false
}

// Options are the resolved option values of one build.
type Options map[string]string

// Bool reports an option holding a canonical boolean value.
func (o Options) Bool(name string) bool {
	return o[name] == "True"
}

// normalizeOption maps the spellings of booleans people write in recipes
// and on the command line to "True" and "False".
func normalizeOption(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "on", "yes", "1":
		return "True"
	case "false", "off", "no", "0":
		return "False"
	}

	return strings.TrimSpace(v)
}
