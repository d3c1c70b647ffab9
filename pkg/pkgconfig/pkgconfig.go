// Package pkgconfig reads and writes pkg-config .pc files.
package pkgconfig

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Dir is where .pc files live inside a package, relative to its root.
const Dir = "lib/pkgconfig"

type Var struct {
	Name  string
	Value string
}

type Config struct {
	Path        string
	Id          string
	Vars        []Var
	Name        string
	Description string
	URL         string
	Version     string
	Requires    []string
	Private     []string
	Conflict    []string
	Cflags      string
	Libs        string
	PrivLibs    string
}

// ForLibrary returns a relocatable config for a package root that holds
// include/ and lib/ and links against libs.
func ForLibrary(id, name, desc, url, version string, libs []string) *Config {
	var sb strings.Builder

	sb.WriteString("-L${libdir}")

	for _, l := range libs {
		sb.WriteString(" -l")
		sb.WriteString(l)
	}

	return &Config{
		Id: id,
		Vars: []Var{
			{"prefix", "${pcfiledir}/../.."},
			{"libdir", "${prefix}/lib"},
			{"includedir", "${prefix}/include"},
		},
		Name:        name,
		Description: desc,
		URL:         url,
		Version:     version,
		Cflags:      "-I${includedir}",
		Libs:        sb.String(),
	}
}

func (c *Config) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer

	for _, v := range c.Vars {
		fmt.Fprintf(&buf, "%s=%s\n", v.Name, v.Value)
	}

	if len(c.Vars) > 0 {
		buf.WriteByte('\n')
	}

	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&buf, "%s: %s\n", name, value)
		}
	}

	field("Name", c.Name)
	field("Description", c.Description)
	field("URL", c.URL)
	field("Version", c.Version)
	field("Requires", strings.Join(c.Requires, ", "))
	field("Requires.private", strings.Join(c.Private, ", "))
	field("Conflicts", strings.Join(c.Conflict, ", "))
	field("Cflags", c.Cflags)
	field("Libs", c.Libs)
	field("Libs.private", c.PrivLibs)

	return buf.WriteTo(w)
}

// Write stores the config as <root>/lib/pkgconfig/<id>.pc and returns the
// path written.
func (c *Config) Write(root string) (string, error) {
	dir := filepath.Join(root, filepath.FromSlash(Dir))

	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, c.Id+".pc")

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}

	defer f.Close()

	_, err = c.WriteTo(f)
	if err != nil {
		return "", err
	}

	return path, f.Close()
}

// LinkedLibs returns the library names given as -l flags in Libs.
func (c *Config) LinkedLibs() []string {
	var libs []string

	for _, f := range strings.Fields(c.Libs) {
		if strings.HasPrefix(f, "-l") && len(f) > 2 {
			libs = append(libs, f[2:])
		}
	}

	return libs
}

// LibDirs returns the directories given as -L flags in Libs.
func (c *Config) LibDirs() []string {
	var dirs []string

	for _, f := range strings.Fields(c.Libs) {
		if strings.HasPrefix(f, "-L") && len(f) > 2 {
			dirs = append(dirs, f[2:])
		}
	}

	return dirs
}

// LoadAll reads every .pc file in a package's pkgconfig directories. Missing
// directories are skipped.
func LoadAll(root string) ([]*Config, error) {
	var configs []*Config

	for _, sub := range []string{Dir, "share/pkgconfig"} {
		dir := filepath.Join(root, filepath.FromSlash(sub))

		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}

		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if !d.IsDir() && filepath.Ext(path) == ".pc" {
				cfg, err := Load(path)
				if err != nil {
					return err
				}

				configs = append(configs, cfg)
			}

			return nil
		})

		if err != nil {
			return nil, err
		}
	}

	return configs, nil
}

func Load(path string) (*Config, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer r.Close()

	cfg, err := Parse(r, filepath.Dir(path))
	if err != nil {
		return nil, err
	}

	cfg.Path = path
	cfg.Id = strings.TrimSuffix(filepath.Base(path), ".pc")

	return cfg, nil
}

// Parse reads a .pc file. Variable references are expanded, with
// ${pcfiledir} set to dir.
func Parse(r io.Reader, dir string) (*Config, error) {
	br := bufio.NewReader(r)

	vars := map[string]string{"pcfiledir": dir}

	var cfg Config

	for {
		line, rerr := br.ReadString('\n')
		if rerr != nil && rerr != io.EOF {
			return nil, rerr
		}

		var (
			name  string
			value string
			isVar bool
		)

		if hash := strings.IndexByte(line, '#'); hash != -1 {
			line = line[:hash]
		}

	outer:
		for i, b := range line {
			switch b {
			case '=':
				name = strings.TrimSpace(line[:i])
				value = strings.TrimSpace(line[i+1:])
				isVar = true
				break outer
			case ':':
				name = strings.TrimSpace(line[:i])
				value = strings.TrimSpace(line[i+1:])
				break outer
			}
		}

		if name != "" {
			value = expand(value, vars)

			if isVar {
				vars[name] = value
				cfg.Vars = append(cfg.Vars, Var{name, value})
			} else {
				switch name {
				case "Name":
					cfg.Name = value
				case "Description":
					cfg.Description = value
				case "URL":
					cfg.URL = value
				case "Version":
					cfg.Version = value
				case "Requires":
					cfg.Requires = splitList(value)
				case "Requires.private":
					cfg.Private = splitList(value)
				case "Conflicts":
					cfg.Conflict = splitList(value)
				case "Cflags":
					cfg.Cflags = value
				case "Libs":
					cfg.Libs = value
				case "Libs.private":
					cfg.PrivLibs = value
				}
			}
		}

		if rerr == io.EOF {
			break
		}
	}

	return &cfg, nil
}

func splitList(value string) []string {
	var out []string

	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}

func expand(input string, vars map[string]string) string {
	var sb strings.Builder

	var (
		state int
		si    int
	)

	for i, b := range input {
		switch state {
		case 0:
			if b == '$' {
				state = 1
			} else {
				sb.WriteRune(b)
			}
		case 1:
			if b == '{' {
				state = 2
				si = i + 1
			} else {
				sb.WriteRune('$')
				sb.WriteRune(b)
				state = 0
			}
		case 2:
			if b == '}' {
				sb.WriteString(vars[input[si:i]])
				state = 0
			}
		}
	}

	return sb.String()
}
