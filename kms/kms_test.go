package kms

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/storage"
	"github.com/pilacorp/go-did-agent/storage/mem"
)

const (
	testSecret     = "9098cd3c5449083c36678295780e57d4d05dbdfa56a22eb3a2b960d85e6d2abe"
	senderPrivHex  = "2e61ecd84e20a343231f82e0b89067d32c4fb26e8db1af65e071edcc96ad2f34"
	senderAddress  = "0xB2f0b48736D868E24DFdA5034DFC688FaDeC0F19"
	otherSecretHex = "0000000000000000000000000000000000000000000000000000000000000001"
)

func newTestManager(t *testing.T, p storage.Provider) *KeyManager {
	t.Helper()

	m, err := NewLocalKeyManager(p, testSecret)
	require.NoError(t, err)

	return m
}

func TestSignVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, mem.NewProvider())
	msg := []byte("header.payload")

	t.Run("Secp256k1 ES256K", func(t *testing.T) {
		key, err := m.CreateKey(ctx, DefaultKMS, Secp256k1)
		require.NoError(t, err)
		assert.Equal(t, DefaultKMS, key.KMS)
		assert.Equal(t, key.KID, key.PublicKeyHex)

		sig, err := m.Sign(ctx, key.KID, msg, AlgES256K)
		require.NoError(t, err)
		require.Len(t, sig, 64)

		pubBytes, err := hex.DecodeString(key.PublicKeyHex)
		require.NoError(t, err)
		pub, err := crypto.DecompressPubkey(pubBytes)
		require.NoError(t, err)

		hash := sha256.Sum256(msg)
		r := new(big.Int).SetBytes(sig[:32])
		s := new(big.Int).SetBytes(sig[32:])
		assert.True(t, ecdsa.Verify(pub, hash[:], r, s))

		again, err := m.Sign(ctx, key.KID, msg, "")
		require.NoError(t, err)
		assert.Equal(t, sig, again, "secp256k1 signatures are deterministic")
	})

	t.Run("Secp256k1 ES256K-R", func(t *testing.T) {
		key, err := m.CreateKey(ctx, DefaultKMS, Secp256k1)
		require.NoError(t, err)

		sig, err := m.Sign(ctx, key.KID, msg, AlgES256KR)
		require.NoError(t, err)
		require.Len(t, sig, 65)

		hash := sha256.Sum256(msg)
		recovered, err := crypto.SigToPub(hash[:], sig)
		require.NoError(t, err)
		assert.Equal(t, key.PublicKeyHex, hex.EncodeToString(crypto.CompressPubkey(recovered)))
	})

	t.Run("Ed25519 EdDSA", func(t *testing.T) {
		key, err := m.CreateKey(ctx, DefaultKMS, Ed25519)
		require.NoError(t, err)

		sig, err := m.Sign(ctx, key.KID, msg, "")
		require.NoError(t, err)

		pub, err := hex.DecodeString(key.PublicKeyHex)
		require.NoError(t, err)
		assert.True(t, ed25519.Verify(pub, msg, sig))
	})
}

func TestSignErrors(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, mem.NewProvider())

	x, err := m.CreateKey(ctx, DefaultKMS, X25519)
	require.NoError(t, err)

	secp, err := m.CreateKey(ctx, DefaultKMS, Secp256k1)
	require.NoError(t, err)

	tests := []struct {
		name string
		kid  string
		alg  string
		want error
	}{
		{name: "unknown key", kid: "02deadbeef", alg: AlgES256K, want: dErrors.ErrKeyNotFound},
		{name: "x25519 has no signer", kid: x.KID, alg: "", want: dErrors.ErrUnsupportedAlgorithm},
		{name: "secp256k1 cannot EdDSA", kid: secp.KID, alg: AlgEdDSA, want: dErrors.ErrUnsupportedAlgorithm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Sign(ctx, tt.kid, []byte("data"), tt.alg)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = m.CreateKey(ctx, DefaultKMS, KeyType("RSA"))
	assert.ErrorIs(t, err, dErrors.ErrUnsupportedAlgorithm)

	_, err = m.CreateKey(ctx, "remote", Secp256k1)
	assert.Equal(t, dErrors.CodeConfiguration, dErrors.CodeOf(err))
}

func TestImportKey(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, mem.NewProvider())

	key, err := m.ImportKey(ctx, DefaultKMS, Secp256k1, "0x"+senderPrivHex)
	require.NoError(t, err)

	pubBytes, err := hex.DecodeString(key.PublicKeyHex)
	require.NoError(t, err)
	require.Len(t, pubBytes, 33)

	pub, err := crypto.DecompressPubkey(pubBytes)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(senderAddress), crypto.PubkeyToAddress(*pub))

	again, err := m.ImportKey(ctx, DefaultKMS, Secp256k1, senderPrivHex)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	keys, err := m.ListKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	_, err = m.ImportKey(ctx, DefaultKMS, Secp256k1, "zz")
	assert.ErrorIs(t, err, dErrors.ErrInvalidInput)

	_, err = m.ImportKey(ctx, DefaultKMS, Ed25519, "abcd")
	assert.ErrorIs(t, err, dErrors.ErrInvalidInput)
}

func TestPrivateKeysAreSealed(t *testing.T) {
	ctx := context.Background()
	p := mem.NewProvider()
	m := newTestManager(t, p)

	key, err := m.ImportKey(ctx, DefaultKMS, Secp256k1, senderPrivHex)
	require.NoError(t, err)

	s, err := p.OpenStore(privateKeyStoreName)
	require.NoError(t, err)

	raw, err := s.Get(key.KID)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), senderPrivHex)

	wrongSecret, err := NewLocalKeyManager(p, otherSecretHex)
	require.NoError(t, err)

	_, err = wrongSecret.Sign(ctx, key.KID, []byte("data"), AlgES256K)
	assert.ErrorIs(t, err, dErrors.ErrDecryptFailed)
	assert.Equal(t, dErrors.CodeCrypto, dErrors.CodeOf(err))
}

func TestSignEthTX(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, mem.NewProvider())

	key, err := m.ImportKey(ctx, DefaultKMS, Secp256k1, senderPrivHex)
	require.NoError(t, err)

	chainID := big.NewInt(1337)
	tx := types.NewTransaction(0, common.HexToAddress("0xdca7ef03e98e0dc2b855be647c39abe984fcf21b"), big.NewInt(0), 80000, big.NewInt(0), []byte{0x01})

	signed, err := m.SignEthTX(ctx, key.KID, tx, chainID)
	require.NoError(t, err)

	from, err := types.Sender(types.NewEIP155Signer(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(senderAddress), from)

	ed, err := m.CreateKey(ctx, DefaultKMS, Ed25519)
	require.NoError(t, err)

	_, err = m.SignEthTX(ctx, ed.KID, tx, chainID)
	assert.ErrorIs(t, err, dErrors.ErrUnsupportedAlgorithm)
}

func TestDeleteKey(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, mem.NewProvider())

	key, err := m.CreateKey(ctx, DefaultKMS, Ed25519)
	require.NoError(t, err)

	require.NoError(t, m.DeleteKey(ctx, key.KID))

	_, err = m.GetKey(ctx, key.KID)
	assert.ErrorIs(t, err, dErrors.ErrKeyNotFound)
}

func TestSecretBox(t *testing.T) {
	_, err := NewSecretBox("")
	assert.ErrorIs(t, err, dErrors.ErrMissingSecret)

	_, err = NewSecretBox("abcd")
	assert.ErrorIs(t, err, dErrors.ErrMissingSecret)

	secret, err := GenerateSecretKey()
	require.NoError(t, err)

	box, err := NewSecretBox(secret)
	require.NoError(t, err)

	sealed, err := box.Encrypt([]byte("private"))
	require.NoError(t, err)

	opened, err := box.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "private", string(opened))

	sealed[len(sealed)-1] ^= 0x01
	_, err = box.Decrypt(sealed)
	assert.ErrorIs(t, err, dErrors.ErrDecryptFailed)

	_, err = box.Decrypt([]byte("short"))
	assert.ErrorIs(t, err, dErrors.ErrDecryptFailed)
}
