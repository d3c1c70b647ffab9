// Package sumfile records per-file digests of a package bundle.
//
// Each line has the form "algo:base58hash path", sorted by path. Symlinks
// are recorded by hashing the link target text, prefixed with "->".
package sumfile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// Name is the file a bundle's sums are stored under.
const Name = ".kiln-sums"

const AlgoBlake2b = "b2"

var (
	ErrSumMismatch = errors.New("digest mismatch")
	ErrMissingFile = errors.New("file missing")
	ErrExtraFile   = errors.New("file not in sums")
	ErrUnknownAlgo = errors.New("unknown digest algorithm")
	ErrBrokenLink  = errors.New("link target missing")
)

type hashedEntity struct {
	hash   []byte
	entity string
	algo   string
}

type Sumfile struct {
	entities []hashedEntity
}

func (s *Sumfile) Load(r io.Reader) error {
	br := bufio.NewReader(r)

	for {
		line, err := br.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return err
		}

		if len(bytes.TrimSpace(line)) > 0 {
			he, perr := parseLine(line)
			if perr != nil {
				return perr
			}

			if he != nil {
				s.entities = append(s.entities, *he)
			}
		}

		if err == io.EOF {
			break
		}
	}

	sort.Slice(s.entities, func(i, j int) bool {
		return s.entities[i].entity < s.entities[j].entity
	})

	return nil
}

func parseLine(line []byte) (*hashedEntity, error) {
	colon := bytes.IndexByte(line, ':')
	if colon == -1 {
		return nil, nil
	}

	space := bytes.IndexByte(line, ' ')
	if space == -1 || space < colon {
		return nil, nil
	}

	b, err := base58.Decode(string(line[colon+1 : space]))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding sum line %q", bytes.TrimSpace(line))
	}

	return &hashedEntity{
		algo:   string(line[:colon]),
		hash:   b,
		entity: string(bytes.TrimSpace(line[space+1:])),
	}, nil
}

// Add records a digest for entity, replacing any previous one, and returns
// its encoded form.
func (s *Sumfile) Add(entity, algo string, h []byte) string {
	idx := s.search(entity)

	he := hashedEntity{
		algo:   algo,
		hash:   h,
		entity: entity,
	}

	if idx < len(s.entities) && s.entities[idx].entity == entity {
		s.entities[idx] = he
	} else {
		s.entities = append(s.entities, hashedEntity{})
		copy(s.entities[idx+1:], s.entities[idx:])
		s.entities[idx] = he
	}

	return algo + ":" + base58.Encode(h)
}

func (s *Sumfile) Save(w io.Writer) error {
	for _, he := range s.entities {
		_, err := fmt.Fprintf(w, "%s:%s %s\n", he.algo, base58.Encode(he.hash), he.entity)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Sumfile) search(entity string) int {
	return sort.Search(len(s.entities), func(i int) bool {
		return s.entities[i].entity >= entity
	})
}

func (s *Sumfile) Lookup(entity string) (string, []byte, bool) {
	idx := s.search(entity)

	if idx == len(s.entities) {
		return "", nil, false
	}

	if s.entities[idx].entity == entity {
		return s.entities[idx].algo, s.entities[idx].hash, true
	}

	return "", nil, false
}

// Entities returns the recorded paths in sorted order.
func (s *Sumfile) Entities() []string {
	out := make([]string, 0, len(s.entities))

	for _, he := range s.entities {
		out = append(out, he.entity)
	}

	return out
}

// HashFile computes the blake2b digest kiln records for path.
func HashFile(path string) ([]byte, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}

	h, _ := blake2b.New256(nil)

	if fi.Mode()&os.ModeSymlink != 0 {
		link, err := os.Readlink(path)
		if err != nil {
			return nil, err
		}

		fmt.Fprintf(h, "->%s", link)

		return h.Sum(nil), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	_, err = io.Copy(h, f)
	if err != nil {
		return nil, err
	}

	return h.Sum(nil), nil
}

func walk(root string, fn func(rel, path string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || d.Type()&^os.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)

		if rel == Name {
			return nil
		}

		return fn(rel, path)
	})
}

// Compute hashes every file beneath root. The sums file itself is skipped.
func Compute(root string) (*Sumfile, error) {
	var sf Sumfile

	err := walk(root, func(rel, path string) error {
		sum, err := HashFile(path)
		if err != nil {
			return err
		}

		sf.Add(rel, AlgoBlake2b, sum)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &sf, nil
}

// Verify checks root against the recorded digests. Every problem found is
// reported, not only the first.
func (s *Sumfile) Verify(root string) error {
	var result *multierror.Error

	present := make(map[string]struct{})

	err := walk(root, func(rel, path string) error {
		present[rel] = struct{}{}

		algo, want, ok := s.Lookup(rel)
		if !ok {
			result = multierror.Append(result, errors.Wrap(ErrExtraFile, rel))
			return nil
		}

		if algo != AlgoBlake2b {
			result = multierror.Append(result, errors.Wrapf(ErrUnknownAlgo, "%s: %s", rel, algo))
			return nil
		}

		got, err := HashFile(path)
		if err != nil {
			return err
		}

		if !bytes.Equal(want, got) {
			result = multierror.Append(result, errors.Wrap(ErrSumMismatch, rel))
		}

		if _, err := os.Stat(path); err != nil && os.IsNotExist(err) {
			result = multierror.Append(result, errors.Wrap(ErrBrokenLink, rel))
		}

		return nil
	})
	if err != nil {
		return err
	}

	for _, he := range s.entities {
		if _, ok := present[he.entity]; !ok {
			result = multierror.Append(result, errors.Wrap(ErrMissingFile, he.entity))
		}
	}

	return result.ErrorOrNil()
}

// Write computes the sums for root and stores them in root/.kiln-sums.
func Write(root string) (*Sumfile, error) {
	sf, err := Compute(root)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(filepath.Join(root, Name))
	if err != nil {
		return nil, err
	}

	err = sf.Save(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	return sf, f.Close()
}

// Read loads root/.kiln-sums.
func Read(root string) (*Sumfile, error) {
	f, err := os.Open(filepath.Join(root, Name))
	if err != nil {
		return nil, err
	}

	defer f.Close()

	var sf Sumfile

	err = sf.Load(f)
	if err != nil {
		return nil, err
	}

	return &sf, nil
}
