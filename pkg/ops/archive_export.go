package ops

import (
	"context"
	"crypto/ed25519"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"lab47.dev/kiln/pkg/data"
	"lab47.dev/kiln/pkg/sumfile"
)

// ArchiveExport turns a package into a signed archive in a directory.
type ArchiveExport struct {
	common

	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey

	Platform *data.ArchivePlatform
}

type ExportedArchive struct {
	Path string
	Size int64
	Sum  []byte
	Info *data.ArchiveInfo
}

// Export checks packageRoot against its digests, then writes
// <dir>/<id>.tar.gz.
func (a *ArchiveExport) Export(ctx context.Context, packageRoot, dir string) (*ExportedArchive, error) {
	pi, err := ReadPackageInfo(packageRoot)
	if err != nil {
		return nil, err
	}

	sf, err := sumfile.Read(packageRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "reading digests of %s", packageRoot)
	}

	err = sf.Verify(packageRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "refusing to export a modified package")
	}

	err = CheckPkgConfig(packageRoot, pi)
	if err != nil {
		return nil, err
	}

	info := &data.ArchiveInfo{
		ID:       pi.ID(),
		Name:     pi.Name,
		Version:  pi.Version,
		Platform: a.Platform,
		Settings: pi.Settings,
	}

	for _, req := range pi.Requires {
		info.Requires = append(info.Requires, req.String())
	}

	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, err
	}

	tmp, err := ioutil.TempFile(dir, ".export-*")
	if err != nil {
		return nil, err
	}

	defer os.Remove(tmp.Name())

	ap := &ArchivePack{
		PrivateKey: a.PrivateKey,
		PublicKey:  a.PublicKey,
	}

	err = ap.Pack(info, packageRoot, tmp)
	if err != nil {
		tmp.Close()
		return nil, errors.Wrapf(err, "packing %s", info.ID)
	}

	fi, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return nil, err
	}

	err = tmp.Close()
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, info.ID+ArchiveExt)

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		return nil, err
	}

	a.L().Info("exported package", "id", info.ID, "path", path, "size", fi.Size())

	GetUI(ctx).Exported(path, fi.Size(), info)

	return &ExportedArchive{
		Path: path,
		Size: fi.Size(),
		Sum:  ap.Sum,
		Info: info,
	}, nil
}
