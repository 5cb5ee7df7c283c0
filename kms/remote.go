package kms

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

// RemoteKMS delegates secp256k1 keys to a remote signing service. Private keys never
// leave the service.
//
// The service exposes:
//
//	POST   {endpoint}/keys        {"type", "private_key_hex"?}  -> {"public_key_hex"}
//	DELETE {endpoint}/keys/{kid}
//	POST   {endpoint}/sign        {"kid", "payload_hex"}        -> {"signature_hex"}
//
// payload_hex is always a 32-byte digest and signature_hex is R||S||V.
type RemoteKMS struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewRemoteKMS creates a RemoteKMS for endpoint. A nil client gets a traced client with a
// 10s timeout.
func NewRemoteKMS(endpoint, apiKey string, client *http.Client) (*RemoteKMS, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, dErrors.New(dErrors.CodeConfiguration, "remote kms endpoint is required")
	}

	if client == nil {
		client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   10 * time.Second,
		}
	}

	return &RemoteKMS{endpoint: endpoint, apiKey: apiKey, client: client}, nil
}

type remoteKeyRequest struct {
	Type          KeyType `json:"type"`
	PrivateKeyHex string  `json:"private_key_hex,omitempty"`
}

type remoteKeyResponse struct {
	PublicKeyHex string `json:"public_key_hex"`
}

type remoteSignRequest struct {
	KID        string `json:"kid"`
	PayloadHex string `json:"payload_hex"`
}

type remoteSignResponse struct {
	SignatureHex string `json:"signature_hex"`
}

// CreateKey asks the service to generate a key.
func (r *RemoteKMS) CreateKey(ctx context.Context, keyType KeyType) (*Key, error) {
	return r.putKey(ctx, remoteKeyRequest{Type: keyType})
}

// ImportKey hands privateKeyHex to the service.
func (r *RemoteKMS) ImportKey(ctx context.Context, keyType KeyType, privateKeyHex string) (*Key, error) {
	return r.putKey(ctx, remoteKeyRequest{Type: keyType, PrivateKeyHex: strings.TrimPrefix(privateKeyHex, "0x")})
}

func (r *RemoteKMS) putKey(ctx context.Context, req remoteKeyRequest) (*Key, error) {
	if req.Type != Secp256k1 {
		return nil, dErrors.ErrUnsupportedAlgorithm.Errorf("remote kms only holds %s keys", Secp256k1)
	}

	var out remoteKeyResponse
	if err := r.do(ctx, http.MethodPost, "/keys", req, &out); err != nil {
		return nil, err
	}

	pub, err := hex.DecodeString(strings.TrimPrefix(out.PublicKeyHex, "0x"))
	if err != nil {
		return nil, dErrors.ErrRemoteSigner.WithCause(err, "remote kms returned an invalid public key")
	}

	kid := hex.EncodeToString(pub)

	return &Key{
		KID:          kid,
		Type:         req.Type,
		PublicKeyHex: kid,
		Meta:         &KeyMeta{Algorithms: req.Type.Algorithms()},
	}, nil
}

// DeleteKey asks the service to forget kid.
func (r *RemoteKMS) DeleteKey(ctx context.Context, kid string) error {
	return r.do(ctx, http.MethodDelete, "/keys/"+url.PathEscape(kid), nil, nil)
}

// Sign signs SHA-256(data) remotely. ES256K drops the recovery id.
func (r *RemoteKMS) Sign(ctx context.Context, kid string, data []byte, algorithm string) ([]byte, error) {
	if algorithm != AlgES256K && algorithm != AlgES256KR {
		return nil, dErrors.ErrUnsupportedAlgorithm.Errorf("remote kms cannot sign with %q", algorithm)
	}

	hash := sha256.Sum256(data)

	sig, err := r.signDigest(ctx, kid, hash[:])
	if err != nil {
		return nil, err
	}

	if algorithm == AlgES256K {
		return sig[:64], nil
	}

	return sig, nil
}

// SignEthTX signs the transaction hash of the latest signer for chainID remotely.
func (r *RemoteKMS) SignEthTX(ctx context.Context, kid string, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(chainID)

	sig, err := r.signDigest(ctx, kid, signer.Hash(tx).Bytes())
	if err != nil {
		return nil, err
	}

	signed, err := tx.WithSignature(signer, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	return signed, nil
}

func (r *RemoteKMS) signDigest(ctx context.Context, kid string, digest []byte) ([]byte, error) {
	var out remoteSignResponse

	err := r.do(ctx, http.MethodPost, "/sign", remoteSignRequest{KID: kid, PayloadHex: hex.EncodeToString(digest)}, &out)
	if err != nil {
		return nil, err
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(out.SignatureHex, "0x"))
	if err != nil {
		return nil, dErrors.ErrRemoteSigner.WithCause(err, "remote kms returned an invalid signature")
	}

	if len(sig) != 65 {
		return nil, dErrors.ErrRemoteSigner.Errorf("invalid signature length %d", len(sig))
	}

	// Some signers return Ethereum-style 27/28 recovery ids.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	return sig, nil
}

func (r *RemoteKMS) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body bytes.Buffer

	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, r.endpoint+path, &body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if r.apiKey != "" {
		req.Header.Set("x-api-key", r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return dErrors.ErrRemoteSigner.WithCause(err, "remote kms request failed").MarkRetryable()
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return dErrors.ErrKeyNotFound.Errorf("remote kms: %s %s not found", method, path)
	case resp.StatusCode >= 300:
		return dErrors.ErrRemoteSigner.Errorf("remote kms http %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dErrors.ErrRemoteSigner.WithCause(err, "failed to decode remote kms response")
	}

	return nil
}
