// ABOUTME: Tests for content-addressed naming and the disk storage backend
// ABOUTME: Covers hash stability, existence checks, and URL resolution

package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashName_Stable(t *testing.T) {
	a := HashName([]byte("same bytes"), ".jpg")
	b := HashName([]byte("same bytes"), ".jpg")
	assert.Equal(t, a, b, "identical bytes must map to identical names")

	c := HashName([]byte("other bytes"), ".jpg")
	assert.NotEqual(t, a, c)

	assert.Equal(t, 64+len(".jpg"), len(a))
}

func TestDiskStorage_WriteExistsURL(t *testing.T) {
	s, err := NewDiskStorage(t.TempDir(), "https://files.example.com")
	require.NoError(t, err)

	name := HashName([]byte("payload"), ".png")
	assert.False(t, s.Exists(name))

	require.NoError(t, s.Write(name, []byte("payload")))
	assert.True(t, s.Exists(name))

	assert.Equal(t, "https://files.example.com/"+name, s.URL(name))
}

func TestMemStorage_CountsWrites(t *testing.T) {
	s := NewMemStorage("http://x/")

	require.NoError(t, s.Write("a", []byte("1")))
	require.NoError(t, s.Write("b", []byte("2")))
	assert.Equal(t, 2, s.Writes())
	assert.True(t, s.Exists("a"))
	assert.False(t, s.Exists("c"))
	assert.Equal(t, []byte("2"), s.Get("b"))
}
