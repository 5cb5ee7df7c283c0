package util

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

// MaxBitstringSize bounds a decoded status list.
const MaxBitstringSize = 16 << 20

// gzipPrefix is the base64url form of the gzip magic and deflate method bytes.
const gzipPrefix = "H4sI"

// EncodeBitstring gzips a status list bitstring and encodes it as unpadded base64url.
func EncodeBitstring(bits []byte) (string, error) {
	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)

	if _, err := gz.Write(bits); err != nil {
		return "", fmt.Errorf("failed to compress bitstring: %w", err)
	}

	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("failed to compress bitstring: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeBitstring reverses EncodeBitstring. It also accepts padded input and the
// multibase "u" prefix used by Bitstring Status List credentials.
func DecodeBitstring(encoded string) ([]byte, error) {
	if strings.HasPrefix(encoded, "u"+gzipPrefix) {
		encoded = encoded[1:]
	}

	compressed, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return nil, dErrors.ErrInvalidInput.WithCause(err, "encoded list is not base64url")
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, dErrors.ErrInvalidInput.WithCause(err, "encoded list is not gzip")
	}
	defer gz.Close()

	bits, err := io.ReadAll(io.LimitReader(gz, MaxBitstringSize+1))
	if err != nil {
		return nil, dErrors.ErrInvalidInput.WithCause(err, "failed to decompress encoded list")
	}

	if len(bits) > MaxBitstringSize {
		return nil, dErrors.ErrInvalidInput.Errorf("encoded list exceeds %d bytes", MaxBitstringSize)
	}

	return bits, nil
}
