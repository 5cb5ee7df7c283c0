package kms

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/storage/mem"
)

// fakeSigner is an in-memory signing service speaking the RemoteKMS protocol.
type fakeSigner struct {
	mu   sync.Mutex
	keys map[string]*ecdsa.PrivateKey
}

func (f *fakeSigner) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("x-api-key") != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/keys":
		var req remoteKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var (
			priv *ecdsa.PrivateKey
			err  error
		)

		if req.PrivateKeyHex != "" {
			priv, err = crypto.HexToECDSA(req.PrivateKeyHex)
		} else {
			priv, err = crypto.GenerateKey()
		}

		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		pub := hex.EncodeToString(crypto.CompressPubkey(&priv.PublicKey))
		f.keys[pub] = priv

		_ = json.NewEncoder(w).Encode(remoteKeyResponse{PublicKeyHex: "0x" + pub})
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/keys/"):
		kid := strings.TrimPrefix(r.URL.Path, "/keys/")
		if _, ok := f.keys[kid]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		delete(f.keys, kid)
	case r.Method == http.MethodPost && r.URL.Path == "/sign":
		var req remoteSignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		priv, ok := f.keys[req.KID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		digest, _ := hex.DecodeString(req.PayloadHex)

		sig, err := crypto.Sign(digest, priv)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		sig[64] += 27

		_ = json.NewEncoder(w).Encode(remoteSignResponse{SignatureHex: hex.EncodeToString(sig)})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newRemoteManager(t *testing.T) *KeyManager {
	t.Helper()

	srv := httptest.NewServer(&fakeSigner{keys: make(map[string]*ecdsa.PrivateKey)})
	t.Cleanup(srv.Close)

	remote, err := NewRemoteKMS(srv.URL+"/", "secret", srv.Client())
	require.NoError(t, err)

	m, err := NewLocalKeyManager(mem.NewProvider(), testSecret, WithKMS("remote", remote))
	require.NoError(t, err)

	return m
}

func TestRemoteKMS(t *testing.T) {
	ctx := context.Background()
	m := newRemoteManager(t)

	assert.Equal(t, []string{DefaultKMS, "remote"}, m.KMSNames())

	key, err := m.ImportKey(ctx, "remote", Secp256k1, senderPrivHex)
	require.NoError(t, err)
	assert.Equal(t, "remote", key.KMS)

	pubBytes, err := hex.DecodeString(key.PublicKeyHex)
	require.NoError(t, err)
	pub, err := crypto.DecompressPubkey(pubBytes)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(senderAddress), crypto.PubkeyToAddress(*pub))

	msg := []byte("header.payload")
	hash := sha256.Sum256(msg)

	t.Run("ES256K-R", func(t *testing.T) {
		sig, err := m.Sign(ctx, key.KID, msg, AlgES256KR)
		require.NoError(t, err)
		require.Len(t, sig, 65)

		recovered, err := crypto.SigToPub(hash[:], sig)
		require.NoError(t, err)
		assert.Equal(t, crypto.PubkeyToAddress(*pub), crypto.PubkeyToAddress(*recovered))
	})

	t.Run("ES256K", func(t *testing.T) {
		sig, err := m.Sign(ctx, key.KID, msg, AlgES256K)
		require.NoError(t, err)
		require.Len(t, sig, 64)
		assert.True(t, crypto.VerifySignature(pubBytes, hash[:], sig))
	})

	t.Run("matches local signature", func(t *testing.T) {
		local, err := NewLocalKeyManager(mem.NewProvider(), testSecret)
		require.NoError(t, err)

		lk, err := local.ImportKey(ctx, DefaultKMS, Secp256k1, senderPrivHex)
		require.NoError(t, err)
		assert.Equal(t, key.KID, lk.KID)

		want, err := local.Sign(ctx, lk.KID, msg, AlgES256KR)
		require.NoError(t, err)

		have, err := m.Sign(ctx, key.KID, msg, AlgES256KR)
		require.NoError(t, err)
		assert.Equal(t, want, have)
	})

	t.Run("transaction", func(t *testing.T) {
		chainID := big.NewInt(1337)
		to := common.HexToAddress("0xdca7ef03e98e0dc2b855be647c39abe984fcf21b")
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     1,
			GasTipCap: big.NewInt(1),
			GasFeeCap: big.NewInt(2),
			Gas:       21000,
			To:        &to,
		})

		signed, err := m.SignEthTX(ctx, key.KID, tx, chainID)
		require.NoError(t, err)

		sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(senderAddress), sender)
	})

	require.NoError(t, m.DeleteKey(ctx, key.KID))

	_, err = m.GetKey(ctx, key.KID)
	assert.ErrorIs(t, err, dErrors.ErrKeyNotFound)
}

func TestRemoteKMSErrors(t *testing.T) {
	ctx := context.Background()
	m := newRemoteManager(t)

	_, err := m.CreateKey(ctx, "remote", Ed25519)
	assert.ErrorIs(t, err, dErrors.ErrUnsupportedAlgorithm)

	key, err := m.CreateKey(ctx, "remote", Secp256k1)
	require.NoError(t, err)

	_, err = m.Sign(ctx, key.KID, []byte("x"), AlgEdDSA)
	assert.ErrorIs(t, err, dErrors.ErrUnsupportedAlgorithm)

	unreachable, err := NewRemoteKMS("http://127.0.0.1:1", "", nil)
	require.NoError(t, err)

	_, err = unreachable.Sign(ctx, key.KID, []byte("x"), AlgES256K)
	assert.ErrorIs(t, err, dErrors.ErrRemoteSigner)
	assert.True(t, dErrors.IsRetryable(err))

	_, err = NewRemoteKMS(" ", "", nil)
	assert.True(t, dErrors.Is(err, dErrors.CodeConfiguration))
}
