package crypto

import (
	"crypto/sha256"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestECDSAVerifySignature(t *testing.T) {
	priv, err := crypto.HexToECDSA("2e61ecd84e20a343231f82e0b89067d32c4fb26e8db1af65e071edcc96ad2f34")
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("canonical document"))
	sig, err := crypto.Sign(digest[:], priv)
	require.NoError(t, err)

	addr := crypto.PubkeyToAddress(priv.PublicKey)
	other := common.HexToAddress("0xc1255Ab675404c5179595923CCfCDc1aeFdAD8b9")

	tests := []struct {
		name string
		key  interface{}
		sig  []byte
		want bool
	}{
		{"public key, R||S", &priv.PublicKey, sig[:64], true},
		{"public key, R||S||V", &priv.PublicKey, sig, true},
		{"compressed bytes", crypto.CompressPubkey(&priv.PublicKey), sig[:64], true},
		{"address, R||S||V", addr, sig, true},
		{"address, R||S tries both ids", addr, sig[:64], true},
		{"address, 27-based V", addr, append(append([]byte{}, sig[:64]...), sig[64]+27), true},
		{"other address", other, sig, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := ECDSAVerifySignature(tt.key, tt.sig, digest[:])
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}

	tampered := append([]byte{}, sig...)
	tampered[10] ^= 0x01

	ok, err := ECDSAVerifySignature(&priv.PublicKey, tampered, digest[:])
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ECDSAVerifySignature(&priv.PublicKey, sig[:10], digest[:])
	assert.Error(t, err)

	_, err = ECDSAVerifySignature("key", sig, digest[:])
	assert.Error(t, err)
}
