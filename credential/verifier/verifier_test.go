package verifier_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	credentialstatus "github.com/pilacorp/go-did-agent/credential/common/credential-status"
	credjwt "github.com/pilacorp/go-did-agent/credential/common/jwt"
	"github.com/pilacorp/go-did-agent/credential/common/schema"
	"github.com/pilacorp/go-did-agent/credential/common/util"
	"github.com/pilacorp/go-did-agent/credential/issuer"
	"github.com/pilacorp/go-did-agent/credential/vc"
	"github.com/pilacorp/go-did-agent/credential/verifier"
	"github.com/pilacorp/go-did-agent/did"
	"github.com/pilacorp/go-did-agent/did/resolver"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/kms"
	"github.com/pilacorp/go-did-agent/metrics"
	"github.com/pilacorp/go-did-agent/storage/mem"
)

const (
	testSecret  = "9098cd3c5449083c36678295780e57d4d05dbdfa56a22eb3a2b960d85e6d2abe"
	issuerPriv  = "2e61ecd84e20a343231f82e0b89067d32c4fb26e8db1af65e071edcc96ad2f34"
	issuerDID   = "did:ethr:1337:0xB2f0b48736D868E24DFdA5034DFC688FaDeC0F19"
	receiverDID = "did:ethr:1337:0xc1255Ab675404c5179595923CCfCDc1aeFdAD8b9"
)

var issuedAt = time.Date(2024, 1, 18, 8, 13, 9, 0, time.UTC)

type env struct {
	keys     *kms.KeyManager
	dids     *did.Manager
	resolver *resolver.Resolver
	issuer   *issuer.Issuer
	metrics  *metrics.Metrics
}

func newEnv(t *testing.T) *env {
	t.Helper()

	ctx := context.Background()
	p := mem.NewProvider()

	keys, err := kms.NewLocalKeyManager(p, testSecret)
	require.NoError(t, err)

	store, err := did.NewStore(p)
	require.NoError(t, err)

	dids := did.NewManager(store, keys)

	_, err = dids.Import(ctx, did.ImportArgs{
		DID:  issuerDID,
		Keys: []did.KeyArgs{{PrivateKeyHex: issuerPriv, Type: kms.Secp256k1}},
	})
	require.NoError(t, err)

	iss, err := issuer.New(dids, keys, issuer.WithClock(func() time.Time { return issuedAt }))
	require.NoError(t, err)

	return &env{
		keys:     keys,
		dids:     dids,
		resolver: resolver.New(resolver.WithLocal(dids)),
		issuer:   iss,
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
}

func (e *env) verifier(t *testing.T, opts ...verifier.Option) *verifier.Verifier {
	t.Helper()

	opts = append([]verifier.Option{
		verifier.WithClock(func() time.Time { return issuedAt.Add(time.Minute) }),
		verifier.WithMetrics(e.metrics),
		verifier.WithLogger(zaptest.NewLogger(t)),
	}, opts...)

	v, err := verifier.New(e.resolver, opts...)
	require.NoError(t, err)

	return v
}

func (e *env) issue(t *testing.T, req issuer.CredentialRequest) *vc.Credential {
	t.Helper()

	if req.Issuer == "" {
		req.Issuer = issuerDID
	}

	if req.Subject == nil {
		req.Subject = map[string]interface{}{"id": "Alice", "role": "tester"}
	}

	c, err := e.issuer.IssueCredential(context.Background(), req)
	require.NoError(t, err)

	return c
}

// tamper flips the low bit of the first occurrence of old in the token payload.
func tamper(t *testing.T, token, old string) string {
	t.Helper()

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	i := bytes.Index(payload, []byte(old))
	require.GreaterOrEqual(t, i, 0)
	payload[i+2] ^= 0x01

	parts[1] = base64.RawURLEncoding.EncodeToString(payload)

	return strings.Join(parts, ".")
}

func TestVerifyCredential(t *testing.T) {
	e := newEnv(t)
	v := e.verifier(t)

	subject := map[string]interface{}{"id": "Alice", "role": "tester"}
	c := e.issue(t, issuer.CredentialRequest{Subject: subject})

	res, err := v.Verify(context.Background(), c.JWT())
	require.NoError(t, err)
	require.True(t, res.Valid, res.Reason)

	assert.Equal(t, verifier.KindCredential, res.Type)
	assert.Equal(t, issuerDID, res.Issuer)
	assert.Equal(t, "tester", res.Claims["role"])

	want, err := json.Marshal(subject)
	require.NoError(t, err)
	have, err := json.Marshal(res.Claims)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(have))

	assert.Equal(t, c.JWT(), res.Credential.JWT())
	assert.Equal(t, issuerDID, res.Payload["iss"])
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.Verifications.WithLabelValues("credential", "valid")))
}

func TestVerifyInvalid(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	exp := issuedAt.Add(30 * time.Second)
	expiring := e.issue(t, issuer.CredentialRequest{ExpirationDate: &exp})
	c := e.issue(t, issuer.CredentialRequest{})

	other, err := e.keys.CreateKey(ctx, kms.DefaultKMS, kms.Secp256k1)
	require.NoError(t, err)

	ks, err := credjwt.NewKeySigner(ctx, e.keys, *other)
	require.NoError(t, err)

	claims, err := c.JWTClaims()
	require.NoError(t, err)

	forged, err := credjwt.Sign(ks, kms.AlgES256K, issuerDID+"#controller", claims)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		v      *verifier.Verifier
		reason string
	}{
		{
			name:   "tampered claim",
			token:  tamper(t, c.JWT(), "tester"),
			v:      e.verifier(t),
			reason: "invalid signature",
		},
		{
			name:   "signed by another key",
			token:  forged,
			v:      e.verifier(t),
			reason: "invalid signature",
		},
		{
			name:   "expired",
			token:  expiring.JWT(),
			v:      e.verifier(t),
			reason: "token expired",
		},
		{
			name:   "not yet valid",
			token:  c.JWT(),
			v:      e.verifier(t, verifier.WithClock(func() time.Time { return issuedAt.Add(-time.Hour) })),
			reason: "token not yet valid",
		},
		{
			name:   "unresolvable issuer",
			token:  c.JWT(),
			v:      must(verifier.New(resolver.New())),
			reason: "unresolvable DID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.v.Verify(ctx, tt.token)
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.Contains(t, res.Reason, tt.reason)
		})
	}

	res, err := e.verifier(t, verifier.WithLeeway(time.Hour)).Verify(ctx, expiring.JWT())
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Reason)
}

func must(v *verifier.Verifier, err error) *verifier.Verifier {
	if err != nil {
		panic(err)
	}

	return v
}

func TestVerifyMalformed(t *testing.T) {
	e := newEnv(t)
	v := e.verifier(t)
	ctx := context.Background()

	ks, err := credjwt.NewKeySigner(ctx, e.keys, mustControllerKey(t, e))
	require.NoError(t, err)

	noDocument, err := credjwt.Sign(ks, kms.AlgES256K, issuerDID+"#controller", jwt.MapClaims{"iss": issuerDID})
	require.NoError(t, err)

	noIssuer, err := credjwt.Sign(ks, kms.AlgES256K, issuerDID+"#controller", jwt.MapClaims{"vc": map[string]interface{}{}})
	require.NoError(t, err)

	for _, token := range []string{"not-a-token", "a.b", "e30.e30.", "eyJhbGciOiJFUzI1NksifQ.bm90IGpzb24.c2ln", noDocument, noIssuer} {
		res, err := v.Verify(ctx, token)
		assert.ErrorIs(t, err, dErrors.ErrMalformedToken, token)
		require.NotNil(t, res)
		assert.False(t, res.Valid)
	}

	assert.Equal(t, float64(6), testutil.ToFloat64(e.metrics.Verifications.WithLabelValues("", "malformed"))+
		testutil.ToFloat64(e.metrics.Verifications.WithLabelValues("credential", "malformed"))+
		testutil.ToFloat64(e.metrics.Verifications.WithLabelValues("presentation", "malformed")))
}

func mustControllerKey(t *testing.T, e *env) kms.Key {
	t.Helper()

	id, err := e.dids.Get(context.Background(), issuerDID)
	require.NoError(t, err)

	key, ok := id.ControllerKey()
	require.True(t, ok)

	return key
}

func TestVerifyPresentation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c := e.issue(t, issuer.CredentialRequest{})

	p, err := e.issuer.IssuePresentation(ctx, issuer.PresentationRequest{
		Holder:      issuerDID,
		Verifier:    []string{receiverDID},
		Credentials: []*vc.Credential{c},
	})
	require.NoError(t, err)

	res, err := e.verifier(t, verifier.WithAudience(receiverDID)).Verify(ctx, p.JWT())
	require.NoError(t, err)
	require.True(t, res.Valid, res.Reason)

	assert.Equal(t, verifier.KindPresentation, res.Type)
	assert.Equal(t, issuerDID, res.Issuer)
	require.Len(t, res.Presentation.VerifiableCredential, 1)

	want, err := json.Marshal(c)
	require.NoError(t, err)
	have, err := json.Marshal(res.Presentation.VerifiableCredential[0])
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(have))

	res, err = e.verifier(t, verifier.WithAudience(issuerDID)).Verify(ctx, p.JWT())
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "audience mismatch", res.Reason)
}

func TestVerifyPresentationWithInvalidCredential(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c := e.issue(t, issuer.CredentialRequest{})
	c.Proof.JWT = tamper(t, c.JWT(), "tester")

	p, err := e.issuer.IssuePresentation(ctx, issuer.PresentationRequest{
		Holder:      issuerDID,
		Credentials: []*vc.Credential{c},
	})
	require.NoError(t, err)

	res, err := e.verifier(t).Verify(ctx, p.JWT())
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "embedded credential 0: invalid signature", res.Reason)
}

func TestVerifyLD(t *testing.T) {
	e := newEnv(t)
	v := e.verifier(t)
	ctx := context.Background()

	c := e.issue(t, issuer.CredentialRequest{ProofFormat: issuer.FormatLDS})

	res, err := v.VerifyCredential(ctx, c)
	require.NoError(t, err)
	require.True(t, res.Valid, res.Reason)
	assert.Equal(t, "tester", res.Claims["role"])
	assert.Nil(t, res.Payload)

	p, err := e.issuer.IssuePresentation(ctx, issuer.PresentationRequest{
		Holder:      issuerDID,
		Credentials: []*vc.Credential{c},
		ProofFormat: issuer.FormatLDS,
	})
	require.NoError(t, err)

	res, err = v.VerifyPresentation(ctx, p)
	require.NoError(t, err)
	require.True(t, res.Valid, res.Reason)

	c.IssuanceDate = c.IssuanceDate.Add(-time.Second)

	res, err = v.VerifyCredential(ctx, c)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "invalid signature", res.Reason)

	res, err = v.VerifyPresentation(ctx, p)
	require.NoError(t, err)
	assert.False(t, res.Valid)

	c.Proof.VerificationMethod = receiverDID + "#controller"

	res, err = v.VerifyCredential(ctx, c)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "does not belong to")
}

func TestVerifyRevoked(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// bit 3 set, LSB-first
	list, err := util.EncodeBitstring([]byte{0x08})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(credentialstatus.StatusListCredential{
			ID:   "http://example.com/status/1",
			Type: []string{"VerifiableCredential", "BitstringStatusListCredential"},
			CredentialSubject: credentialstatus.StatusListCredentialSubject{
				Type:          "BitstringStatusList",
				StatusPurpose: credentialstatus.PurposeRevocation,
				EncodedList:   list,
			},
		})
	}))
	defer srv.Close()

	v := e.verifier(t, verifier.WithStatusClient(credentialstatus.NewClient(srv.Client())))

	status := func(index string) map[string]interface{} {
		return map[string]interface{}{
			"id":                   srv.URL + "#" + index,
			"type":                 credentialstatus.TypeBitstringStatusListEntry,
			"statusPurpose":        credentialstatus.PurposeRevocation,
			"statusListIndex":      index,
			"statusListCredential": srv.URL,
		}
	}

	res, err := v.Verify(ctx, e.issue(t, issuer.CredentialRequest{CredentialStatus: status("3")}).JWT())
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "revoked", res.Reason)

	res, err = v.Verify(ctx, e.issue(t, issuer.CredentialRequest{CredentialStatus: status("2")}).JWT())
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Reason)
}

func TestVerifySchema(t *testing.T) {
	e := newEnv(t)

	sv := schema.NewValidator(nil)
	require.NoError(t, sv.AddSchema("http://example.com/schemas/admin", []byte(`{
		"type": "object",
		"properties": {
			"credentialSubject": {
				"type": "object",
				"required": ["role"],
				"properties": {"role": {"enum": ["admin"]}}
			}
		}
	}`)))

	c := e.issue(t, issuer.CredentialRequest{
		CredentialSchema: &vc.Schema{ID: "http://example.com/schemas/admin", Type: "JsonSchema"},
	})

	res, err := e.verifier(t, verifier.WithSchemaValidator(sv)).Verify(context.Background(), c.JWT())
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.True(t, strings.HasPrefix(res.Reason, "schema validation failed"), res.Reason)
}
