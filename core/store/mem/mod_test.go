package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_Get(t *testing.T) {
	s := NewStore()

	s.values["A"] = []byte{1}

	value, err := s.Get([]byte("A"))
	require.NoError(t, err)
	require.Equal(t, []byte{1}, value)

	value, err = s.Get([]byte("B"))
	require.NoError(t, err)
	require.Nil(t, value)
}

func TestStore_Set(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.Set([]byte("A"), []byte{1}))
	require.Equal(t, []byte{1}, s.values["A"])
	require.Equal(t, 1, s.Len())
}

func TestStore_Delete(t *testing.T) {
	s := NewStore()
	s.values["A"] = []byte{1}

	require.NoError(t, s.Delete([]byte("A")))
	require.Equal(t, 0, s.Len())

	require.NoError(t, s.Delete([]byte("B")))
}

func TestOverlay_Get(t *testing.T) {
	parent := NewStore()
	parent.values["A"] = []byte{1}
	parent.values["B"] = []byte{2}

	overlay := NewOverlay(parent)
	overlay.store["B"] = item{value: []byte{3}}
	overlay.store["C"] = item{value: []byte{4}}

	value, err := overlay.Get([]byte("A"))
	require.NoError(t, err)
	require.Equal(t, []byte{1}, value)

	value, err = overlay.Get([]byte("B"))
	require.NoError(t, err)
	require.Equal(t, []byte{3}, value)

	value, err = overlay.Get([]byte("C"))
	require.NoError(t, err)
	require.Equal(t, []byte{4}, value)

	value, err = overlay.Get([]byte("D"))
	require.NoError(t, err)
	require.Nil(t, value)
}

func TestOverlay_Delete(t *testing.T) {
	parent := NewStore()
	parent.values["A"] = []byte{1}

	overlay := NewOverlay(parent)

	require.NoError(t, overlay.Delete([]byte("A")))

	value, err := overlay.Get([]byte("A"))
	require.NoError(t, err)
	require.Nil(t, value)

	// The parent is left untouched.
	value, err = parent.Get([]byte("A"))
	require.NoError(t, err)
	require.Equal(t, []byte{1}, value)
}

func TestOverlay_Set(t *testing.T) {
	overlay := NewOverlay(NewStore())

	require.NoError(t, overlay.Set([]byte("A"), []byte{1}))
	require.Equal(t, item{value: []byte{1}}, overlay.store["A"])
}
