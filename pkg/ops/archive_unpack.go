package ops

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
	"lab47.dev/kiln/pkg/data"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrNoSignature      = errors.New("no signature")
	ErrUntrustedSigner  = errors.New("untrusted signer")
	ErrUnsafePath       = errors.New("archive entry escapes the install directory")
)

// ArchiveUnpack installs an archive written by ArchivePack into a directory
// and checks its signature. On any verification failure the directory is
// removed.
type ArchiveUnpack struct {
	// Signer, when set, is the only signer accepted.
	Signer string

	Info      data.ArchiveInfo
	Signature []byte
}

func safeName(name string) error {
	clean := path.Clean(name)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return errors.Wrapf(ErrUnsafePath, "%s", name)
	}

	return nil
}

func (r *ArchiveUnpack) Install(in io.Reader, dir string) error {
	err := r.install(in, dir)
	if err != nil {
		os.RemoveAll(dir)
		return err
	}

	return nil
}

func (r *ArchiveUnpack) install(in io.Reader, dir string) error {
	gz, err := gzip.NewReader(in)
	if err != nil {
		return err
	}

	tr := tar.NewReader(gz)

	dh, _ := blake2b.New256(nil)

	var (
		sig      []byte
		infoData []byte
	)

top:
	for {
		hdr, err := tr.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return err
		}

		switch hdr.Name {
		case ArchiveInfoJson:
			var buf bytes.Buffer

			_, err = io.Copy(&buf, tr)
			if err != nil {
				return err
			}

			infoData = buf.Bytes()

			err = json.Unmarshal(infoData, &r.Info)
			if err != nil {
				return err
			}

			continue top
		case SignatureEntry:
			sig, err = ioutil.ReadAll(tr)
			if err != nil {
				return err
			}

			continue top
		}

		if err := safeName(hdr.Name); err != nil {
			return err
		}

		target := filepath.Join(dir, filepath.FromSlash(hdr.Name))

		err = os.MkdirAll(filepath.Dir(target), 0755)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeReg:
			digestEntry(dh, hdr.Name, "")

			mode := hdr.FileInfo().Mode()
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
			if err != nil {
				return err
			}

			_, err = io.Copy(io.MultiWriter(dh, f), tr)
			if err != nil {
				f.Close()
				return err
			}

			err = f.Close()
			if err != nil {
				return err
			}
		case tar.TypeSymlink:
			digestEntry(dh, hdr.Name, hdr.Linkname)

			if path.IsAbs(hdr.Linkname) {
				return errors.Wrapf(ErrUnsafePath, "%s -> %s", hdr.Name, hdr.Linkname)
			}

			if err := safeName(path.Join(path.Dir(hdr.Name), hdr.Linkname)); err != nil {
				return err
			}

			os.Remove(target)

			err = os.Symlink(filepath.FromSlash(hdr.Linkname), target)
			if err != nil {
				return err
			}
		}
	}

	dh.Write(infoData)

	err = r.verify(dh.Sum(nil), sig)
	if err != nil {
		return err
	}

	r.Signature = sig

	return nil
}

func (r *ArchiveUnpack) verify(digest, sig []byte) error {
	if r.Info.Signer == "" || len(sig) == 0 {
		return ErrNoSignature
	}

	if r.Signer != "" && r.Signer != r.Info.Signer {
		return errors.Wrapf(ErrUntrustedSigner, "%s", r.Info.Signer)
	}

	signer, err := base58.Decode(r.Info.Signer)
	if err != nil {
		return errors.Wrapf(ErrInvalidSignature, "decoding signer: %s", err)
	}

	if len(signer) != ed25519.PublicKeySize {
		return errors.Wrapf(ErrInvalidSignature, "signer has the wrong size")
	}

	if !ed25519.Verify(ed25519.PublicKey(signer), digest, sig) {
		return ErrInvalidSignature
	}

	return nil
}
