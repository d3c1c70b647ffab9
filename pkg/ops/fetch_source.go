package ops

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-getter"
	"github.com/pkg/errors"
	"lab47.dev/kiln/pkg/fileutils"
	"lab47.dev/kiln/pkg/progress"
)

// FetchSource downloads the recipe's source address and copies it into
// dest, which may already exist. Relative local addresses are resolved
// against the recipe directory. VCS metadata is not copied.
func (e *Evaluator) FetchSource(ctx context.Context, dest string) error {
	src := e.recipe.Source
	if src == "" {
		return ErrNoSource
	}

	GetUI(ctx).FetchSource(src)

	tmp, err := ioutil.TempDir("", "kiln-source")
	if err != nil {
		return err
	}

	defer os.RemoveAll(tmp)

	// go-getter refuses existing directories and links local ones. File
	// sources land in staged under their own name.
	staged := filepath.Join(tmp, "src")

	client := &getter.Client{
		Ctx:              ctx,
		Src:              src,
		Dst:              staged,
		Pwd:              e.dir,
		Mode:             getter.ClientModeAny,
		ProgressListener: &fetchProgress{ctx: ctx},
	}

	err = client.Get()
	if err != nil {
		return errors.Wrapf(err, "fetching %s", src)
	}

	root, err := filepath.EvalSymlinks(staged)
	if err != nil {
		return err
	}

	cp := &fileutils.Copy{
		Ctx:      ctx,
		L:        e.L(),
		Root:     root,
		Dest:     dest,
		KeepPath: true,
		Select:   func(string) bool { return true },
		Prune: func(rel string) bool {
			return filepath.Base(rel) == ".git"
		},
	}

	files, err := cp.Run()
	if err != nil {
		return track(err)
	}

	e.L().Debug("fetched source", "src", src, "dest", dest, "files", len(files))

	return nil
}

type fetchProgress struct {
	ctx context.Context
}

func (f *fetchProgress) TrackProgress(src string, currentSize, totalSize int64, stream io.ReadCloser) io.ReadCloser {
	bar := progress.Bytes(f.ctx, totalSize, "fetching")
	bar.Set(currentSize, totalSize)

	return &progressReader{ReadCloser: stream, bar: bar}
}

type progressReader struct {
	io.ReadCloser
	bar *progress.Progress
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.ReadCloser.Read(b)
	p.bar.Add(int64(n))
	return n, err
}

func (p *progressReader) Close() error {
	p.bar.Close()
	return p.ReadCloser.Close()
}
