package ops

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"sort"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
	"lab47.dev/kiln/pkg/data"
)

type ArchiveEntry struct {
	Name string
	Mode os.FileMode
	Size int64
	Link string
}

// ArchiveInspect reads an archive without installing it.
type ArchiveInspect struct {
	Info      data.ArchiveInfo
	Signature []byte
	Entries   []ArchiveEntry

	// Err is why the signature did not verify, nil when it did.
	Err error
}

func (r *ArchiveInspect) Read(in io.Reader) error {
	gz, err := gzip.NewReader(in)
	if err != nil {
		return err
	}

	tr := tar.NewReader(gz)

	dh, _ := blake2b.New256(nil)

	var infoData []byte

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

			io.Copy(&buf, tr)

			infoData = buf.Bytes()

			err = json.Unmarshal(infoData, &r.Info)
			if err != nil {
				return err
			}

			continue top
		case SignatureEntry:
			r.Signature, err = ioutil.ReadAll(tr)
			if err != nil {
				return err
			}

			continue top
		}

		ent := ArchiveEntry{
			Name: hdr.Name,
			Mode: hdr.FileInfo().Mode(),
			Size: hdr.Size,
		}

		switch hdr.Typeflag {
		case tar.TypeReg:
			digestEntry(dh, hdr.Name, "")

			_, err = io.Copy(dh, tr)
			if err != nil {
				return err
			}
		case tar.TypeSymlink:
			digestEntry(dh, hdr.Name, hdr.Linkname)
			ent.Link = hdr.Linkname
		}

		r.Entries = append(r.Entries, ent)
	}

	dh.Write(infoData)

	var ru ArchiveUnpack
	ru.Info = r.Info

	r.Err = ru.verify(dh.Sum(nil), r.Signature)

	return nil
}

// Show reads the archive and writes a tab separated listing and summary.
func (r *ArchiveInspect) Show(in io.Reader, show io.Writer) error {
	err := r.Read(in)
	if err != nil {
		return err
	}

	for _, ent := range r.Entries {
		if ent.Link != "" {
			fmt.Fprintf(show, "%s\t%d\t%s => %s\n", ent.Mode.String(), ent.Size, ent.Name, ent.Link)
		} else {
			fmt.Fprintf(show, "%s\t%d\t%s\n", ent.Mode.String(), ent.Size, ent.Name)
		}
	}

	fmt.Fprintf(show, "\nName:\t%s\n", r.Info.Name)
	fmt.Fprintf(show, "Version:\t%s\n", r.Info.Version)
	fmt.Fprintf(show, "ID:\t%s\n", r.Info.ID)
	fmt.Fprintf(show, "Requires:\t%s\n", strings.Join(r.Info.Requires, ", "))

	if p := r.Info.Platform; p != nil {
		fmt.Fprintf(show, "Platform:\t%s %s %s\n", p.OS, p.OSVersion, p.Arch)
	}

	var keys []string

	for k := range r.Info.Settings {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var settings []string

	for _, k := range keys {
		settings = append(settings, k+"="+r.Info.Settings[k])
	}

	fmt.Fprintf(show, "Settings:\t%s\n", strings.Join(settings, ", "))

	if r.Err != nil {
		fmt.Fprintf(show, "\n! Warning: %s\n", r.Err)
		return nil
	}

	fmt.Fprintf(show, "Signer:\t%s\n", r.Info.Signer)
	fmt.Fprintf(show, "Signature:\t%s\n", base58.Encode(r.Signature))

	return nil
}
