package snapshot

import (
	"testing"

	"github.com/mrshabel/treekeep/internal/fs"
	"github.com/mrshabel/treekeep/internal/storage"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestLayout(t *testing.T) *storage.Layout {
	t.Helper()
	layout, err := storage.NewEphemeralLayout()
	require.NoError(t, err)
	t.Cleanup(func() { layout.Close() })
	return layout
}

func TestWriterSaveThenReader(t *testing.T) {
	layout := newTestLayout(t)

	w, err := NewWriter(layout, 1700000000, 0)
	require.NoError(t, err)
	require.NoError(t, w.WriteMessage(sample{Name: "a", Count: 1}))
	require.NoError(t, w.WriteMessage(sample{Name: "b", Count: 2}))
	require.NoError(t, w.WriteRaw([]byte("trailing-raw")))
	size, err := w.Save()
	require.NoError(t, err)
	require.Greater(t, size, uint64(0))

	r, err := NewReader(layout)
	require.NoError(t, err)
	defer r.Close()

	var got sample
	require.NoError(t, r.ReadMessage(&got))
	require.Equal(t, sample{Name: "a", Count: 1}, got)
	require.NoError(t, r.ReadMessage(&got))
	require.Equal(t, sample{Name: "b", Count: 2}, got)

	raw, err := r.ReadRaw(uint64(len("trailing-raw")))
	require.NoError(t, err)
	require.Equal(t, "trailing-raw", string(raw))
	require.Equal(t, r.SizeBytes(), r.BytesRead())
}

func TestWriterDiscard(t *testing.T) {
	layout := newTestLayout(t)
	w, err := NewWriter(layout, 1700000000, 1)
	require.NoError(t, err)
	require.NoError(t, w.WriteRaw([]byte("x")))
	w.Discard()

	_, err = NewReader(layout)
	require.Error(t, err)
}

func TestDiscardPartialSnapshots(t *testing.T) {
	layout := newTestLayout(t)
	w, err := NewWriter(layout, 1700000000, 2)
	require.NoError(t, err)
	require.NoError(t, w.WriteRaw([]byte("x")))
	// crash-equivalent: never call Save or Discard

	require.NoError(t, DiscardPartialSnapshots(layout))
	names, err := fs.Ls(layout.SnapshotDir)
	require.NoError(t, err)
	require.Empty(t, names)
}
