package tree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMakeAndListDirectory(t *testing.T) {
	tr := New()
	require.Equal(t, StatusOK, tr.MakeDirectory("/a/b").Status)

	res, children := tr.ListDirectory("/a")
	require.Equal(t, StatusOK, res.Status)
	require.Equal(t, []string{"b/"}, children)
}

func TestWriteReadRemoveFile(t *testing.T) {
	tr := New()
	require.Equal(t, StatusLookupError, func() Status { res, _ := tr.Read("/x"); return res.Status }())

	require.Equal(t, StatusOK, tr.Write("/x", "hello").Status)
	res, contents := tr.Read("/x")
	require.Equal(t, StatusOK, res.Status)
	require.Equal(t, "hello", contents)

	require.Equal(t, StatusOK, tr.RemoveFile("/x").Status)
	res, _ = tr.Read("/x")
	require.Equal(t, StatusLookupError, res.Status)
}

func TestTypeErrors(t *testing.T) {
	tr := New()
	require.Equal(t, StatusOK, tr.MakeDirectory("/a").Status)
	require.Equal(t, StatusTypeError, tr.Write("/a", "x").Status)

	require.Equal(t, StatusOK, tr.Write("/f", "x").Status)
	require.Equal(t, StatusTypeError, tr.MakeDirectory("/f").Status)
}

func TestCheckCondition(t *testing.T) {
	tr := New()
	require.Equal(t, StatusOK, tr.CheckCondition("/missing", "").Status)
	require.Equal(t, StatusConditionNotMet, tr.CheckCondition("/missing", "x").Status)

	require.Equal(t, StatusOK, tr.Write("/f", "v1").Status)
	require.Equal(t, StatusOK, tr.CheckCondition("/f", "v1").Status)
	require.Equal(t, StatusConditionNotMet, tr.CheckCondition("/f", "v2").Status)
}

func TestRemoveDirectoryRemovesDescendants(t *testing.T) {
	tr := New()
	require.Equal(t, StatusOK, tr.MakeDirectory("/a/b").Status)
	require.Equal(t, StatusOK, tr.Write("/a/b/f", "x").Status)

	require.Equal(t, StatusOK, tr.RemoveDirectory("/a").Status)
	res, _ := tr.ListDirectory("/a")
	require.Equal(t, StatusLookupError, res.Status)
}

func TestSnapshotRoundTrip(t *testing.T) {
	tr := New()
	require.Equal(t, StatusOK, tr.MakeDirectory("/a/b").Status)
	require.Equal(t, StatusOK, tr.Write("/a/b/f", "contents").Status)
	require.Equal(t, StatusOK, tr.Write("/top", "val").Status)

	dumped := tr.DumpSnapshot()

	loaded := New()
	loaded.LoadSnapshot(dumped)

	res, contents := loaded.Read("/a/b/f")
	require.Equal(t, StatusOK, res.Status)
	require.Equal(t, "contents", contents)

	res, contents = loaded.Read("/top")
	require.Equal(t, StatusOK, res.Status)
	require.Equal(t, "val", contents)
}

func TestInvalidPath(t *testing.T) {
	tr := New()
	require.Equal(t, StatusInvalidArgument, tr.MakeDirectory("relative").Status)
	require.Equal(t, StatusInvalidArgument, tr.MakeDirectory("/a//b").Status)
}
