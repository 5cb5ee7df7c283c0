package util

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

func TestBitstringRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		bits []byte
	}{
		{"empty", []byte{}},
		{"single byte", []byte{0x08}},
		{"minimum list", make([]byte, 16*1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodeBitstring(tt.bits)
			require.NoError(t, err)
			assert.NotContains(t, encoded, "=")
			assert.Equal(t, gzipPrefix, encoded[:4])

			bits, err := DecodeBitstring(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.bits, bits)

			bits, err = DecodeBitstring("u" + encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.bits, bits)
		})
	}
}

func TestDecodeBitstringPadded(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte{0x01, 0x02})
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	bits, err := DecodeBitstring(base64.URLEncoding.EncodeToString(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, bits)
}

func TestDecodeBitstringErrors(t *testing.T) {
	_, err := DecodeBitstring("!!!")
	assert.ErrorIs(t, err, dErrors.ErrInvalidInput)

	_, err = DecodeBitstring(base64.RawURLEncoding.EncodeToString([]byte("not gzip")))
	assert.ErrorIs(t, err, dErrors.ErrInvalidInput)

	huge, err := EncodeBitstring(make([]byte, MaxBitstringSize+1))
	require.NoError(t, err)

	_, err = DecodeBitstring(huge)
	assert.ErrorIs(t, err, dErrors.ErrInvalidInput)
}
