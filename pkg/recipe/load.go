package recipe

import (
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"lab47.dev/kiln/pkg/manifest"
)

// DefaultFile is the recipe file name looked up in a recipe directory.
const DefaultFile = "kiln.yaml"

type ruleDoc struct {
	Pattern  string `yaml:"pattern"`
	Src      string `yaml:"src"`
	Dst      string `yaml:"dst"`
	KeepPath *bool  `yaml:"keep_path"`
}

type buildDoc struct {
	Definitions map[string]string `yaml:"definitions"`
}

type recipeDoc struct {
	Name           string              `yaml:"name"`
	URL            string              `yaml:"url"`
	License        string              `yaml:"license"`
	Description    string              `yaml:"description"`
	Source         string              `yaml:"source"`
	Settings       []string            `yaml:"settings"`
	Options        map[string][]string `yaml:"options"`
	DefaultOptions map[string]string   `yaml:"default_options"`
	Generators     []string            `yaml:"generators"`
	ExportsSources []string            `yaml:"exports_sources"`
	Requires       []string            `yaml:"requires"`
	Build          *buildDoc           `yaml:"build"`
	Package        []ruleDoc           `yaml:"package"`
	Libs           []string            `yaml:"libs"`
}

// LoadFile reads a YAML recipe from path.
func LoadFile(path string) (*Recipe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	r, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "loading recipe %s", path)
	}

	return r, nil
}

// Decode reads a YAML recipe. Unknown keys are rejected; in particular a
// recipe cannot pin its own version, which always comes from the revision.
// Every option with more than one value needs an entry in default_options;
// an option with a single value defaults to it.
// A recipe without build definitions, package rules or libs gets the ones
// of Default.
func Decode(r io.Reader) (*Recipe, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc recipeDoc

	err := dec.Decode(&doc)
	if err != nil {
		if err == io.EOF {
			return nil, errors.Wrapf(ErrInvalidRecipe, "empty recipe")
		}

		return nil, errors.Wrapf(ErrInvalidRecipe, "%s", err)
	}

	def := Default()

	rec := &Recipe{
		Name:           doc.Name,
		URL:            doc.URL,
		License:        doc.License,
		Description:    doc.Description,
		Source:         doc.Source,
		Settings:       doc.Settings,
		Generators:     doc.Generators,
		ExportsSources: Exports(doc.ExportsSources),
		Libs:           doc.Libs,
	}

	optNames := make([]string, 0, len(doc.Options))
	for name := range doc.Options {
		optNames = append(optNames, name)
	}

	sort.Strings(optNames)

	for _, name := range optNames {
		spec := OptionSpec{Name: name}

		for _, v := range doc.Options[name] {
			spec.Values = append(spec.Values, normalizeOption(v))
		}

		if dv, ok := doc.DefaultOptions[name]; ok {
			spec.Default = normalizeOption(dv)
		} else if len(spec.Values) == 1 {
			spec.Default = spec.Values[0]
		} else {
			return nil, errors.Wrapf(ErrInvalidRecipe, "option %s has no entry in default_options", name)
		}

		rec.Options = append(rec.Options, spec)
	}

	for name := range doc.DefaultOptions {
		if _, ok := doc.Options[name]; !ok {
			return nil, errors.Wrapf(ErrUnknownOption, "default given for undeclared option %s", name)
		}
	}

	for _, ref := range doc.Requires {
		req, err := ParseRequirement(ref)
		if err != nil {
			return nil, err
		}

		rec.Requires = append(rec.Requires, req)
	}

	if doc.Build != nil && len(doc.Build.Definitions) > 0 {
		rec.Definitions = doc.Build.Definitions
	} else {
		rec.Definitions = def.Definitions
	}

	if len(doc.Package) > 0 {
		var rules []manifest.Rule

		for _, rd := range doc.Package {
			keep := true
			if rd.KeepPath != nil {
				keep = *rd.KeepPath
			}

			rules = append(rules, manifest.Rule{
				Pattern:  rd.Pattern,
				Src:      rd.Src,
				Dst:      rd.Dst,
				KeepPath: keep,
			})
		}

		m, err := manifest.New(rules...)
		if err != nil {
			return nil, err
		}

		rec.Manifest = m
	} else {
		rec.Manifest = def.Manifest
	}

	if len(rec.Libs) == 0 {
		rec.Libs = def.Libs
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	return rec, nil
}
