package mem

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-did-agent/storage"
)

func TestStore(t *testing.T) {
	p := NewProvider()

	s, err := p.OpenStore("Keys")
	require.NoError(t, err)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, storage.ErrDataNotFound)

	require.NoError(t, s.Put("b", []byte("2")))
	require.NoError(t, s.Put("a", []byte("1")))

	v, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	same, err := p.OpenStore("keys")
	require.NoError(t, err)

	v, err = same.Get("b")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	require.NoError(t, s.Delete("a"))
	_, err = s.Get("a")
	assert.ErrorIs(t, err, storage.ErrDataNotFound)

	assert.Error(t, s.Put("", []byte("x")))
	assert.Error(t, s.Put("k", nil))

	_, err = p.OpenStore("")
	assert.Error(t, err)
}

func TestStoreReturnsCopies(t *testing.T) {
	s, err := NewProvider().OpenStore("copy")
	require.NoError(t, err)

	in := []byte("value")
	require.NoError(t, s.Put("k", in))
	in[0] = 'X'

	out, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "value", string(out))

	out[0] = 'Y'
	again, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "value", string(again))
}

func TestStoreConcurrentAccess(t *testing.T) {
	s, err := NewProvider().OpenStore("concurrent")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			key := fmt.Sprintf("k%02d", i)
			assert.NoError(t, s.Put(key, []byte(key)))

			_, err := s.Get(key)
			assert.NoError(t, err)
		}(i)
	}

	wg.Wait()

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 50)
}
