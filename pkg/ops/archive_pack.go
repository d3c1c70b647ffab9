package ops

import (
	"archive/tar"
	"compress/gzip"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
	"lab47.dev/kiln/pkg/data"
)

const (
	ArchiveInfoJson = ".archive-info.json"
	SignatureEntry  = "~signature"
	ArchiveExt      = ".tar.gz"
)

var epoch = time.Unix(0, 0).UTC()

// ArchivePack writes a package as a signed tar.gz. Entries are sorted and
// stripped of owners and times, so the same package and key always give
// the same bytes.
type ArchivePack struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey

	// Sum is the blake2b digest of the written archive.
	Sum []byte
}

func deterministicHeader(hdr *tar.Header) {
	hdr.Uid = 0
	hdr.Gid = 0
	hdr.Uname = ""
	hdr.Gname = ""
	hdr.AccessTime = time.Time{}
	hdr.ChangeTime = time.Time{}
	hdr.ModTime = epoch
	hdr.Format = tar.FormatPAX
}

// digestEntry records an entry in the digest the signature covers. The
// digest is every entry name, link target and file contents in archive
// order, followed by the archive info.
func digestEntry(w io.Writer, name, link string) {
	if link == "" {
		fmt.Fprint(w, name)
		w.Write([]byte{0})
	} else {
		fmt.Fprint(w, name)
		w.Write([]byte{1})
		fmt.Fprint(w, link)
		w.Write([]byte{0})
	}
}

func (c *ArchivePack) Pack(info *data.ArchiveInfo, dir string, w io.Writer) error {
	var files []string

	err := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		switch fi.Mode() & os.ModeType {
		case 0, os.ModeSymlink:
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return err
	}

	sort.Strings(files)

	h, _ := blake2b.New256(nil)

	gz := gzip.NewWriter(io.MultiWriter(w, h))
	defer gz.Close()

	tw := tar.NewWriter(gz)
	defer tw.Close()

	dh, _ := blake2b.New256(nil)

	for _, file := range files {
		fi, err := os.Lstat(file)
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, file)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)

		err = func() error {
			var link string

			if fi.Mode()&os.ModeSymlink != 0 {
				link, err = os.Readlink(file)
				if err != nil {
					return err
				}

				if filepath.IsAbs(link) {
					if !strings.HasPrefix(link, dir+string(filepath.Separator)) {
						return errors.Errorf("link points outside of package: %s -> %s", rel, link)
					}

					link, err = filepath.Rel(filepath.Dir(file), link)
					if err != nil {
						return err
					}
				}

				link = filepath.ToSlash(link)
			}

			hdr, err := tar.FileInfoHeader(fi, link)
			if err != nil {
				return err
			}

			deterministicHeader(hdr)
			hdr.Name = rel

			digestEntry(dh, hdr.Name, hdr.Linkname)

			err = tw.WriteHeader(hdr)
			if err != nil {
				return fmt.Errorf("error writing file header: %s: %w", hdr.Name, err)
			}

			if link != "" {
				return nil
			}

			f, err := os.Open(file)
			if err != nil {
				return err
			}

			defer f.Close()

			_, err = io.Copy(io.MultiWriter(tw, dh), f)

			return err
		}()

		if err != nil {
			return err
		}
	}

	info.Signer = base58.Encode(c.PublicKey)

	infoData, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	dh.Write(infoData)

	err = writeMeta(tw, ArchiveInfoJson, infoData)
	if err != nil {
		return err
	}

	signature := ed25519.Sign(c.PrivateKey, dh.Sum(nil))

	err = writeMeta(tw, SignatureEntry, signature)
	if err != nil {
		return err
	}

	err = tw.Close()
	if err != nil {
		return errors.Wrapf(err, "tar writer flush")
	}

	err = gz.Close()
	if err != nil {
		return errors.Wrapf(err, "gzip flush")
	}

	c.Sum = h.Sum(nil)

	return nil
}

func writeMeta(tw *tar.Writer, name string, body []byte) error {
	var hdr tar.Header

	deterministicHeader(&hdr)
	hdr.Name = name
	hdr.Typeflag = tar.TypeReg
	hdr.Mode = 0400
	hdr.Size = int64(len(body))

	err := tw.WriteHeader(&hdr)
	if err != nil {
		return err
	}

	_, err = tw.Write(body)
	return err
}
