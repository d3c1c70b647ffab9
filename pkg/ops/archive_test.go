package ops

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
	"lab47.dev/kiln/pkg/data"
	"lab47.dev/kiln/pkg/sumfile"
	"lab47.dev/kiln/pkg/vcs"
)

func testPackage(t *testing.T) string {
	e, _ := testEvaluator(t, vcs.StaticRevision(testHash))

	buildRoot := t.TempDir()

	writeTree(t, buildRoot, map[string]string{
		"src/cpp/polars/Series.h":    "series",
		"build/src/libpolars_cpp.a":  "archive",
		"build/src/libpolars_cpp.so": "shared",
	})

	pkgRoot := filepath.Join(t.TempDir(), "Polars-a1b2c3d")

	_, err := e.Package(testContext(), buildRoot, pkgRoot)
	require.NoError(t, err)

	// Links inside the package survive packing.
	require.NoError(t, os.Symlink("libpolars_cpp.so", filepath.Join(pkgRoot, "lib", "libpolars.so")))

	_, err = sumfile.Write(pkgRoot)
	require.NoError(t, err)

	return pkgRoot
}

func testKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return pub, priv
}

// rewrite copies an archive entry by entry, letting fn alter each body.
func rewrite(t *testing.T, archive []byte, fn func(hdr *tar.Header, body []byte) []byte) []byte {
	gr, err := gzip.NewReader(bytes.NewReader(archive))
	require.NoError(t, err)

	tr := tar.NewReader(gr)

	var out bytes.Buffer

	gz := gzip.NewWriter(&out)
	tw := tar.NewWriter(gz)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		body, err := ioutil.ReadAll(tr)
		require.NoError(t, err)

		body = fn(hdr, body)
		hdr.Size = int64(len(body))

		require.NoError(t, tw.WriteHeader(hdr))

		_, err = tw.Write(body)
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	return out.Bytes()
}

func TestArchivePack(t *testing.T) {
	pkgRoot := testPackage(t)

	pub, priv := testKeys(t)

	pack := func() ([]byte, *ArchivePack) {
		ap := &ArchivePack{PrivateKey: priv, PublicKey: pub}

		var buf bytes.Buffer

		err := ap.Pack(&data.ArchiveInfo{ID: "Polars-a1b2c3d", Name: "Polars", Version: "a1b2c3d"}, pkgRoot, &buf)
		require.NoError(t, err)

		return buf.Bytes(), ap
	}

	t.Run("round trips through unpack", func(t *testing.T) {
		archive, ap := pack()

		sum := blake2b.Sum256(archive)
		assert.Equal(t, sum[:], ap.Sum)

		dest := filepath.Join(t.TempDir(), "out")

		var ru ArchiveUnpack
		require.NoError(t, ru.Install(bytes.NewReader(archive), dest))

		assert.Equal(t, "Polars-a1b2c3d", ru.Info.ID)
		assert.Equal(t, base58.Encode(pub), ru.Info.Signer)
		assert.NotEmpty(t, ru.Signature)

		link, err := os.Readlink(filepath.Join(dest, "lib", "libpolars.so"))
		require.NoError(t, err)
		assert.Equal(t, "libpolars_cpp.so", link)

		sf, err := sumfile.Read(dest)
		require.NoError(t, err)
		require.NoError(t, sf.Verify(dest))
	})

	t.Run("is deterministic", func(t *testing.T) {
		a, _ := pack()

		// Touch a file; times are not recorded.
		require.NoError(t, os.Chtimes(filepath.Join(pkgRoot, "lib", "libpolars_cpp.a"), epoch, epoch))

		b, _ := pack()

		assert.Equal(t, a, b)
	})

	t.Run("rejects tampered contents", func(t *testing.T) {
		archive, _ := pack()

		tampered := rewrite(t, archive, func(hdr *tar.Header, body []byte) []byte {
			if hdr.Name == "lib/libpolars_cpp.a" {
				return []byte("evil")
			}

			return body
		})

		dest := filepath.Join(t.TempDir(), "out")

		var ru ArchiveUnpack
		err := ru.Install(bytes.NewReader(tampered), dest)
		assert.ErrorIs(t, err, ErrInvalidSignature)

		_, err = os.Stat(dest)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("rejects a missing signature", func(t *testing.T) {
		archive, _ := pack()

		stripped := rewrite(t, archive, func(hdr *tar.Header, body []byte) []byte {
			if hdr.Name == SignatureEntry {
				return nil
			}

			return body
		})

		var ru ArchiveUnpack
		err := ru.Install(bytes.NewReader(stripped), filepath.Join(t.TempDir(), "out"))
		assert.ErrorIs(t, err, ErrNoSignature)
	})

	t.Run("rejects an unexpected signer", func(t *testing.T) {
		archive, _ := pack()

		other, _ := testKeys(t)

		ru := ArchiveUnpack{Signer: base58.Encode(other)}
		err := ru.Install(bytes.NewReader(archive), filepath.Join(t.TempDir(), "out"))
		assert.ErrorIs(t, err, ErrUntrustedSigner)
	})

	t.Run("rejects entries escaping the directory", func(t *testing.T) {
		archive, _ := pack()

		evil := rewrite(t, archive, func(hdr *tar.Header, body []byte) []byte {
			if hdr.Name == "lib/libpolars_cpp.a" {
				hdr.Name = "../../escape.a"
			}

			return body
		})

		var ru ArchiveUnpack
		err := ru.Install(bytes.NewReader(evil), filepath.Join(t.TempDir(), "out"))
		assert.ErrorIs(t, err, ErrUnsafePath)
	})
}

func TestArchiveExport(t *testing.T) {
	pkgRoot := testPackage(t)

	pub, priv := testKeys(t)

	ae := &ArchiveExport{
		PrivateKey: priv,
		PublicKey:  pub,
		Platform:   &data.ArchivePlatform{OS: "linux", Arch: "x86_64"},
	}

	dir := t.TempDir()

	ea, err := ae.Export(testContext(), pkgRoot, dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "Polars-a1b2c3d"+ArchiveExt), ea.Path)
	assert.Equal(t, []string{"Armadillo/9.200.1@felix/stable", "Date/2.4.1@felix/stable"}, ea.Info.Requires)

	fi, err := os.Stat(ea.Path)
	require.NoError(t, err)
	assert.Equal(t, fi.Size(), ea.Size)

	info, sig, err := ReadArchiveMeta(ea.Path)
	require.NoError(t, err)

	assert.Equal(t, "Polars-a1b2c3d", info.ID)
	assert.Equal(t, "linux", info.Platform.OS)
	assert.Len(t, sig, ed25519.SignatureSize)

	t.Run("inspect lists and verifies", func(t *testing.T) {
		f, err := os.Open(ea.Path)
		require.NoError(t, err)
		defer f.Close()

		var (
			ai  ArchiveInspect
			out bytes.Buffer
		)

		require.NoError(t, ai.Show(f, &out))
		require.NoError(t, ai.Err)

		s := out.String()

		assert.Contains(t, s, "include/polars/Series.h")
		assert.Contains(t, s, "lib/libpolars.so => libpolars_cpp.so")
		assert.Contains(t, s, "ID:\tPolars-a1b2c3d")
		assert.Contains(t, s, "Signer:\t"+base58.Encode(pub))
		assert.False(t, strings.Contains(s, "Warning"))
	})

	t.Run("refuses a modified package", func(t *testing.T) {
		require.NoError(t, ioutil.WriteFile(filepath.Join(pkgRoot, "lib", "libpolars_cpp.a"), []byte("patched"), 0644))

		_, err := ae.Export(testContext(), pkgRoot, t.TempDir())
		assert.ErrorIs(t, err, sumfile.ErrSumMismatch)
	})
}

func TestReadArchiveMetaMissing(t *testing.T) {
	_, _, err := ReadArchiveMeta(filepath.Join(t.TempDir(), "nope"+ArchiveExt))
	assert.True(t, os.IsNotExist(err))
}
