package preview

import (
	"os"
	"path/filepath"
	"testing"

	"floradrop/internal/uploader/media"

	"github.com/stretchr/testify/require"
)

func TestCreate_CopiesContent(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	payload := []byte("leafy bytes")
	p, err := m.Create(media.FromBytes("leaf.jpg", "image/jpeg", payload))
	require.NoError(t, err)
	require.Equal(t, 1, m.Live())
	require.Equal(t, ".jpg", filepath.Ext(p.Path))

	got, err := os.ReadFile(p.Path)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	require.NoError(t, m.Release(p))
	require.Equal(t, 0, m.Live())
	_, err = os.Stat(p.Path)
	require.True(t, os.IsNotExist(err))
}

func TestRelease_Twice(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	p, err := m.Create(media.FromBytes("a.png", "image/png", []byte("x")))
	require.NoError(t, err)

	require.NoError(t, m.Release(p))
	require.ErrorIs(t, m.Release(p), ErrAlreadyReleased)
	require.Equal(t, 0, m.Live(), "double release must not skew the live count")
}

func TestRelease_NilSafe(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, m.Release(nil))
}

func TestNewManager_DefaultsToTempDir(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)

	p, err := m.Create(media.FromBytes("b.png", "image/png", []byte("y")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Release(p) })

	require.FileExists(t, p.Path)
}

func TestCreate_IndependentHandles(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	c := media.FromBytes("same.png", "image/png", []byte("z"))
	p1, err := m.Create(c)
	require.NoError(t, err)
	p2, err := m.Create(c)
	require.NoError(t, err)
	require.NotEqual(t, p1.Path, p2.Path)
	require.Equal(t, 2, m.Live())

	require.NoError(t, m.Release(p1))
	require.Equal(t, 1, m.Live())
	require.FileExists(t, p2.Path)
	require.NoError(t, m.Release(p2))
}
