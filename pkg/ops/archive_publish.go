package ops

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"lab47.dev/kiln/pkg/data"
	"lab47.dev/kiln/pkg/progress"
)

const (
	LabelArchiveInfo      = "dev.kiln.archive.info"
	LabelArchiveSignature = "dev.kiln.archive.signature"
)

// ArchivePublish pushes an archive to an OCI registry as a single layer
// image tagged with the package id. The archive info and signature travel
// in the image config labels.
type ArchivePublish struct {
	common

	Username string
	Password string
}

// ReadArchiveMeta returns the info and signature stored in an archive.
func ReadArchiveMeta(path string) (*data.ArchiveInfo, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, nil, err
	}

	tr := tar.NewReader(gz)

	var (
		info data.ArchiveInfo
		sig  []byte
		seen bool
	)

	for {
		hdr, err := tr.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return nil, nil, err
		}

		switch hdr.Name {
		case ArchiveInfoJson:
			err = json.NewDecoder(tr).Decode(&info)
			if err != nil {
				return nil, nil, err
			}

			seen = true
		case SignatureEntry:
			sig, err = io.ReadAll(tr)
			if err != nil {
				return nil, nil, err
			}
		}
	}

	if !seen {
		return nil, nil, errors.Errorf("%s has no %s", path, ArchiveInfoJson)
	}

	return &info, sig, nil
}

func (c *ArchivePublish) auth() remote.Option {
	if c.Username == "" && c.Password == "" {
		return remote.WithAuthFromKeychain(authn.DefaultKeychain)
	}

	return remote.WithAuth(&authn.Basic{
		Username: c.Username,
		Password: c.Password,
	})
}

// Publish uploads the archive at path to repo and returns the pushed
// reference, pinned by digest.
func (c *ArchivePublish) Publish(ctx context.Context, path, repo string) (string, error) {
	info, sig, err := ReadArchiveMeta(path)
	if err != nil {
		return "", err
	}

	if len(sig) == 0 {
		return "", errors.Wrapf(ErrNoSignature, "%s", path)
	}

	target := fmt.Sprintf("%s:%s", repo, info.ID)

	ref, err := name.ParseReference(target)
	if err != nil {
		return "", err
	}

	img, err := newArchiveImage(path, info, sig)
	if err != nil {
		return "", err
	}

	GetUI(ctx).Uploading(info.ID, ref.Context().String())

	u := make(chan v1.Update, 1)

	var wg sync.WaitGroup

	defer wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()

		var bar *progress.Progress

		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-u:
				if !ok {
					if bar != nil {
						bar.Close()
					}

					return
				}

				if bar == nil {
					bar = progress.Bytes(ctx, update.Total, "uploading")
				}

				bar.Set(update.Complete, update.Total)
			}
		}
	}()

	err = remote.Write(ref, img,
		remote.WithContext(ctx),
		remote.WithJobs(1),
		remote.WithProgress(u),
		c.auth(),
	)
	if err != nil {
		return "", errors.Wrapf(err, "publishing %s", target)
	}

	digest, err := img.Digest()
	if err != nil {
		return "", err
	}

	out := ref.Context().Digest(digest.String()).String()

	c.L().Info("published archive", "id", info.ID, "ref", out)

	return out, nil
}

// archiveLayer serves an archive file as an already compressed layer.
type archiveLayer struct {
	path   string
	digest v1.Hash
	diffID v1.Hash
	size   int64
}

var _ v1.Layer = (*archiveLayer)(nil)

func newArchiveLayer(path string) (*archiveLayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	digest, size, err := v1.SHA256(f)
	if err != nil {
		return nil, err
	}

	_, err = f.Seek(0, io.SeekStart)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}

	diffID, _, err := v1.SHA256(gz)
	if err != nil {
		return nil, err
	}

	return &archiveLayer{
		path:   path,
		digest: digest,
		diffID: diffID,
		size:   size,
	}, nil
}

func (l *archiveLayer) Digest() (v1.Hash, error) {
	return l.digest, nil
}

func (l *archiveLayer) DiffID() (v1.Hash, error) {
	return l.diffID, nil
}

func (l *archiveLayer) Size() (int64, error) {
	return l.size, nil
}

func (l *archiveLayer) MediaType() (types.MediaType, error) {
	return types.OCILayer, nil
}

func (l *archiveLayer) Compressed() (io.ReadCloser, error) {
	return os.Open(l.path)
}

func (l *archiveLayer) Uncompressed() (io.ReadCloser, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &gzipFile{Reader: gz, f: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	g.Reader.Close()
	return g.f.Close()
}

type archiveImage struct {
	layer  *archiveLayer
	config *v1.ConfigFile

	configData   []byte
	manifest     *v1.Manifest
	manifestData []byte
}

var _ v1.Image = (*archiveImage)(nil)

func newArchiveImage(path string, info *data.ArchiveInfo, sig []byte) (*archiveImage, error) {
	layer, err := newArchiveLayer(path)
	if err != nil {
		return nil, err
	}

	infoData, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}

	cf := &v1.ConfigFile{
		RootFS: v1.RootFS{
			Type:    "layers",
			DiffIDs: []v1.Hash{layer.diffID},
		},
		Config: v1.Config{
			Labels: map[string]string{
				LabelArchiveInfo:      string(infoData),
				LabelArchiveSignature: base58.Encode(sig),
			},
		},
	}

	if p := info.Platform; p != nil {
		cf.OS = p.OS
		cf.Architecture = p.Arch
	}

	img := &archiveImage{layer: layer, config: cf}

	img.configData, err = json.Marshal(cf)
	if err != nil {
		return nil, err
	}

	ch, n, err := v1.SHA256(bytes.NewReader(img.configData))
	if err != nil {
		return nil, err
	}

	man := &v1.Manifest{
		SchemaVersion: 2,
		MediaType:     types.OCIManifestSchema1,
		Config: v1.Descriptor{
			MediaType: types.OCIConfigJSON,
			Size:      n,
			Digest:    ch,
		},
		Layers: []v1.Descriptor{
			{
				MediaType: types.OCILayer,
				Size:      layer.size,
				Digest:    layer.digest,
				Annotations: map[string]string{
					"org.opencontainers.image.title": info.ID + ArchiveExt,
				},
			},
		},
		Annotations: map[string]string{
			"org.opencontainers.image.description": "kiln package",
			"org.opencontainers.image.ref.name":    info.ID,
			"org.opencontainers.image.title":       info.Name,
			"org.opencontainers.image.version":     info.Version,
			"org.opencontainers.image.revision":    info.Version,
		},
	}

	img.manifest = man

	img.manifestData, err = json.Marshal(man)
	if err != nil {
		return nil, err
	}

	return img, nil
}

func (o *archiveImage) Layers() ([]v1.Layer, error) {
	return []v1.Layer{o.layer}, nil
}

func (o *archiveImage) MediaType() (types.MediaType, error) {
	return types.OCIManifestSchema1, nil
}

func (o *archiveImage) Size() (int64, error) {
	return int64(len(o.manifestData)), nil
}

func (o *archiveImage) ConfigName() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(o.configData))
	return h, err
}

func (o *archiveImage) ConfigFile() (*v1.ConfigFile, error) {
	return o.config, nil
}

func (o *archiveImage) RawConfigFile() ([]byte, error) {
	return o.configData, nil
}

func (o *archiveImage) Digest() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(o.manifestData))
	return h, err
}

func (o *archiveImage) Manifest() (*v1.Manifest, error) {
	return o.manifest, nil
}

func (o *archiveImage) RawManifest() ([]byte, error) {
	return o.manifestData, nil
}

func (o *archiveImage) LayerByDigest(h v1.Hash) (v1.Layer, error) {
	if h == o.layer.digest {
		return o.layer, nil
	}

	return nil, errors.Errorf("unknown layer %s", h)
}

func (o *archiveImage) LayerByDiffID(h v1.Hash) (v1.Layer, error) {
	if h == o.layer.diffID {
		return o.layer, nil
	}

	return nil, errors.Errorf("unknown layer %s", h)
}
