package recipe

import (
	"path"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Exports select the source files copied next to the recipe into the build
// directory. Patterns are relative to the recipe directory; a leading "!"
// excludes. In a pattern "*" also crosses directory separators, so "../*"
// selects the whole parent tree.
type Exports []string

type exportPattern struct {
	exclude bool
	re      *regexp.Regexp
}

// Base is the directory, relative to the recipe directory, that the include
// patterns are rooted at. Include patterns must share it; paths passed to
// Match are relative to it.
func (e Exports) Base() string {
	for _, p := range e {
		if strings.HasPrefix(p, "!") {
			continue
		}

		base, _ := splitPattern(p)
		return base
	}

	return "."
}

// Rooted drops the base from the include patterns, so the same selection
// applies from the base directory itself. Exclusions are already relative
// to the base and are kept as is.
func (e Exports) Rooted() Exports {
	out := make(Exports, 0, len(e))

	for _, p := range e {
		if !strings.HasPrefix(p, "!") {
			_, p = splitPattern(p)
		}

		out = append(out, p)
	}

	return out
}

// splitPattern separates leading directory segments free of wildcards from
// the rest of the pattern.
func splitPattern(p string) (string, string) {
	segs := strings.Split(p, "/")

	i := 0
	for i < len(segs)-1 && !strings.ContainsAny(segs[i], "*?[") {
		i++
	}

	base := path.Join(segs[:i]...)
	if base == "" {
		base = "."
	}

	return base, strings.Join(segs[i:], "/")
}

// Validate checks that every pattern compiles.
func (e Exports) Validate() error {
	_, err := e.compile()
	return err
}

func (e Exports) compile() ([]exportPattern, error) {
	base := e.Base()

	var out []exportPattern

	for _, p := range e {
		var ep exportPattern

		if strings.HasPrefix(p, "!") {
			ep.exclude = true
			p = p[1:]
		} else {
			pb, rest := splitPattern(p)
			if pb != base {
				continue
			}

			p = rest
		}

		re, err := regexp.Compile("^" + globToRegexp(p) + "$")
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidRecipe, "export pattern %q: %s", p, err)
		}

		ep.re = re
		out = append(out, ep)
	}

	return out, nil
}

func globToRegexp(glob string) string {
	var sb strings.Builder

	for i := 0; i < len(glob); i++ {
		c := glob[i]

		switch c {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		case '[':
			end := strings.IndexByte(glob[i:], ']')
			if end == -1 {
				sb.WriteString(regexp.QuoteMeta(string(c)))
				continue
			}

			class := glob[i+1 : i+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}

			sb.WriteString("[" + class + "]")
			i += end
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	return sb.String()
}

// Match reports whether the slash separated path rel, relative to Base,
// is exported. An excluded directory excludes everything beneath it.
func (e Exports) Match(rel string) bool {
	pats, err := e.compile()
	if err != nil {
		return false
	}

	included := false

	for _, p := range pats {
		if p.exclude {
			continue
		}

		if p.re.MatchString(rel) {
			included = true
			break
		}
	}

	if !included {
		return false
	}

	return !e.excluded(pats, rel)
}

// Excluded reports whether a directory rel is excluded wholesale.
func (e Exports) Excluded(rel string) bool {
	pats, err := e.compile()
	if err != nil {
		return false
	}

	return e.excluded(pats, rel)
}

func (e Exports) excluded(pats []exportPattern, rel string) bool {
	for _, p := range pats {
		if !p.exclude {
			continue
		}

		// Check rel and each of its parent directories.
		cur := rel
		for cur != "." && cur != "/" && cur != "" {
			if p.re.MatchString(cur) {
				return true
			}

			cur = path.Dir(cur)
		}
	}

	return false
}
