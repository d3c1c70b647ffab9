package sumfile

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumfile(t *testing.T) {
	t.Run("adds entries", func(t *testing.T) {
		var sf Sumfile

		sf.Add("b", "x", []byte{4, 5, 6})
		sf.Add("ab", "x", []byte{1, 2, 3})

		algo, data, ok := sf.Lookup("ab")
		require.True(t, ok)

		assert.Equal(t, "x", algo)
		assert.Equal(t, []byte{1, 2, 3}, data)

		algo, data, ok = sf.Lookup("b")
		require.True(t, ok)

		assert.Equal(t, "x", algo)
		assert.Equal(t, []byte{4, 5, 6}, data)

		_, _, ok = sf.Lookup("c")
		require.False(t, ok)

		_, _, ok = sf.Lookup("a")
		require.False(t, ok)

		assert.Equal(t, []string{"ab", "b"}, sf.Entities())
	})

	t.Run("replaces an existing entry", func(t *testing.T) {
		var sf Sumfile

		sf.Add("a", "x", []byte{1})
		sf.Add("a", "x", []byte{2})

		_, data, ok := sf.Lookup("a")
		require.True(t, ok)
		assert.Equal(t, []byte{2}, data)
		assert.Len(t, sf.Entities(), 1)
	})

	t.Run("loads entites", func(t *testing.T) {
		var buf bytes.Buffer

		fmt.Fprintf(&buf, "x:%s b\n", base58.Encode([]byte{4, 5, 6}))
		fmt.Fprintf(&buf, "x:%s a\n", base58.Encode([]byte{1, 2, 3}))

		var sf Sumfile

		err := sf.Load(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)

		require.Equal(t, 2, len(sf.entities))

		he := sf.entities[0]

		assert.Equal(t, "a", he.entity)
		assert.Equal(t, "x", he.algo)
		assert.Equal(t, []byte{1, 2, 3}, he.hash)

		he = sf.entities[1]

		assert.Equal(t, "b", he.entity)
		assert.Equal(t, []byte{4, 5, 6}, he.hash)
	})

	t.Run("saves entries", func(t *testing.T) {
		var sf Sumfile

		sf.Add("a", "x", []byte{1, 2, 3})
		sf.Add("b", "x", []byte{4, 5, 6})

		var buf bytes.Buffer

		err := sf.Save(&buf)
		require.NoError(t, err)

		expected := fmt.Sprintf("x:%s a\nx:%s b\n",
			base58.Encode([]byte{1, 2, 3}),
			base58.Encode([]byte{4, 5, 6}),
		)

		assert.Equal(t, expected, buf.String())
	})
}

func TestBundleSums(t *testing.T) {
	root := t.TempDir()

	wf := func(name, content string) {
		t.Helper()

		name = filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(name), 0755))
		require.NoError(t, ioutil.WriteFile(name, []byte(content), 0644))
	}

	wf("include/polars/Series.h", "series")
	wf("lib/libpolars_cpp.a", "archive")
	require.NoError(t, os.Symlink("libpolars_cpp.a", filepath.Join(root, "lib", "libpolars.a")))

	sf, err := Write(root)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"include/polars/Series.h",
		"lib/libpolars.a",
		"lib/libpolars_cpp.a",
	}, sf.Entities())

	t.Run("verifies an untouched bundle", func(t *testing.T) {
		read, err := Read(root)
		require.NoError(t, err)

		require.NoError(t, read.Verify(root))
	})

	t.Run("is stable across runs", func(t *testing.T) {
		first, err := ioutil.ReadFile(filepath.Join(root, Name))
		require.NoError(t, err)

		_, err = Write(root)
		require.NoError(t, err)

		second, err := ioutil.ReadFile(filepath.Join(root, Name))
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("reports every problem", func(t *testing.T) {
		read, err := Read(root)
		require.NoError(t, err)

		wf("include/polars/Series.h", "tampered")
		wf("lib/extra.so", "extra")
		require.NoError(t, os.Remove(filepath.Join(root, "lib", "libpolars_cpp.a")))

		err = read.Verify(root)
		require.Error(t, err)

		assert.ErrorIs(t, err, ErrSumMismatch)
		assert.ErrorIs(t, err, ErrExtraFile)
		assert.ErrorIs(t, err, ErrMissingFile)
		assert.ErrorIs(t, err, ErrBrokenLink)
	})
}

func TestVerifyBrokenLink(t *testing.T) {
	root := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0755))
	require.NoError(t, os.Symlink("libpolars_cpp.so.1.0", filepath.Join(root, "lib", "libpolars_cpp.so")))

	sf, err := Write(root)
	require.NoError(t, err)

	err = sf.Verify(root)
	assert.ErrorIs(t, err, ErrBrokenLink)
	assert.NotErrorIs(t, err, ErrSumMismatch)
}
