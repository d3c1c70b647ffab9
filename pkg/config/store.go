package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

type Store struct {
	Paths []string

	Default string
}

var ErrNoEntry = errors.New("no package for id")

func (s *Store) Locate(id string) (string, error) {
	for _, p := range s.Paths {
		path := filepath.Join(p, id)

		_, err := os.Stat(path)
		if err == nil {
			return path, nil
		}
	}

	return "", errors.Wrapf(ErrNoEntry, "id: %s, paths: %#v", id, s.Paths)
}

// Find returns the ids of every package whose name is name, whatever their
// version, sorted.
func (s *Store) Find(name string) ([]string, error) {
	var ids []string

	for _, p := range s.Paths {
		ents, err := os.ReadDir(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, err
		}

		for _, ent := range ents {
			if !ent.IsDir() {
				continue
			}

			n := ent.Name()
			if n == name || strings.HasPrefix(n, name+"-") {
				ids = append(ids, n)
			}
		}
	}

	sort.Strings(ids)

	return ids, nil
}

func (s *Store) ExpectedPath(id string) string {
	return filepath.Join(s.Default, id)
}
