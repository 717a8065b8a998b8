package storage

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveOpenDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	n, err := store.SaveStream("evaluations/2026/10/sheet.pdf", strings.NewReader("%PDF-1.7 body"))
	require.NoError(t, err)
	require.EqualValues(t, 13, n)

	f, err := store.Open("evaluations/2026/10/sheet.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Equal(t, "%PDF-1.7 body", string(data))

	_, err = store.SaveStream("evaluations/2026/10/sheet.pdf", strings.NewReader("again"))
	require.Error(t, err)

	require.NoError(t, store.Delete("evaluations/2026/10/sheet.pdf"))
	require.NoError(t, store.Delete("evaluations/2026/10/sheet.pdf"))
	_, err = store.Open("evaluations/2026/10/sheet.pdf")
	require.Error(t, err)
}

func TestLocalStorageRejectsEscapingRefs(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, ref := range []string{"", "../secret", "a/../../b", "/etc/passwd", `a\b`} {
		_, err := store.SaveStream(ref, strings.NewReader("x"))
		require.True(t, errors.Is(err, ErrInvalidRef), ref)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestLocalStorageRemovesPartialFile(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.SaveStream("partial.png", io.MultiReader(strings.NewReader("abc"), failingReader{}))
	require.Error(t, err)
	_, err = store.Open("partial.png")
	require.Error(t, err)
}
