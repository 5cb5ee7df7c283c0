package did

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/kms"
	"github.com/pilacorp/go-did-agent/storage/mem"
)

const (
	testSecret    = "9098cd3c5449083c36678295780e57d4d05dbdfa56a22eb3a2b960d85e6d2abe"
	senderPrivHex = "2e61ecd84e20a343231f82e0b89067d32c4fb26e8db1af65e071edcc96ad2f34"
	senderDID     = "did:ethr:1337:0xB2f0b48736D868E24DFdA5034DFC688FaDeC0F19"
	receiverDID   = "did:ethr:1337:0xc1255Ab675404c5179595923CCfCDc1aeFdAD8b9"
)

type recordingPublisher struct {
	mu       sync.Mutex
	keys     []string
	services []string
	err      error
}

func (p *recordingPublisher) PublishKey(_ context.Context, id *Identifier, key kms.Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}

	p.keys = append(p.keys, id.DID+" "+key.KID)

	return nil
}

func (p *recordingPublisher) PublishService(_ context.Context, id *Identifier, s Service) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}

	p.services = append(p.services, id.DID+" "+s.ID)

	return nil
}

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *kms.KeyManager) {
	t.Helper()

	p := mem.NewProvider()

	km, err := kms.NewLocalKeyManager(p, testSecret)
	require.NoError(t, err)

	store, err := NewStore(p)
	require.NoError(t, err)

	opts = append([]ManagerOption{WithManagerLogger(zaptest.NewLogger(t))}, opts...)

	return NewManager(store, km, opts...), km
}

func importSender(t *testing.T, m *Manager) *Identifier {
	t.Helper()

	id, err := m.Import(context.Background(), ImportArgs{
		DID:             senderDID,
		ControllerKeyID: "sender",
		Keys:            []KeyArgs{{KID: "sender", KMS: kms.DefaultKMS, Type: kms.Secp256k1, PrivateKeyHex: senderPrivHex}},
	})
	require.NoError(t, err)

	return id
}

func TestImport(t *testing.T) {
	ctx := context.Background()

	t.Run("derived did", func(t *testing.T) {
		m, _ := newTestManager(t)
		id := importSender(t, m)

		assert.Equal(t, senderDID, id.DID)
		assert.Equal(t, "did:ethr", id.Provider)
		require.Len(t, id.Keys, 1)
		assert.Equal(t, id.Keys[0].KID, id.ControllerKeyID)

		got, err := m.Get(ctx, strings.ToLower(senderDID))
		require.NoError(t, err)
		assert.Equal(t, id, got)
	})

	t.Run("lowercase address is canonicalized", func(t *testing.T) {
		m, _ := newTestManager(t)

		id, err := m.Import(ctx, ImportArgs{
			DID:  strings.ToLower(senderDID),
			Keys: []KeyArgs{{PrivateKeyHex: "0x" + senderPrivHex}},
		})
		require.NoError(t, err)
		assert.Equal(t, senderDID, id.DID)
	})

	t.Run("existing key by kid", func(t *testing.T) {
		m, km := newTestManager(t)

		key, err := km.ImportKey(ctx, kms.DefaultKMS, kms.Secp256k1, senderPrivHex)
		require.NoError(t, err)

		id, err := m.Import(ctx, ImportArgs{DID: senderDID, Keys: []KeyArgs{{KID: key.KID}}})
		require.NoError(t, err)
		assert.Equal(t, key.KID, id.ControllerKeyID)
	})

	tests := []struct {
		name string
		args ImportArgs
		want error
	}{
		{
			name: "did of another key",
			args: ImportArgs{DID: receiverDID, Keys: []KeyArgs{{PrivateKeyHex: senderPrivHex}}},
			want: dErrors.ErrDIDMismatch,
		},
		{
			name: "other chain",
			args: ImportArgs{DID: "did:ethr:1:0xB2f0b48736D868E24DFdA5034DFC688FaDeC0F19", Keys: []KeyArgs{{PrivateKeyHex: senderPrivHex}}},
			want: dErrors.ErrDIDMismatch,
		},
		{
			name: "unknown controller",
			args: ImportArgs{DID: senderDID, ControllerKeyID: "nope", Keys: []KeyArgs{{PrivateKeyHex: senderPrivHex}}},
			want: dErrors.ErrKeyNotFound,
		},
		{
			name: "unknown kid",
			args: ImportArgs{DID: senderDID, Keys: []KeyArgs{{KID: "02abcdef"}}},
			want: dErrors.ErrKeyNotFound,
		},
		{
			name: "no keys",
			args: ImportArgs{DID: senderDID},
			want: dErrors.ErrInvalidInput,
		},
		{
			name: "ed25519 controller",
			args: ImportArgs{DID: senderDID, Keys: []KeyArgs{{Type: kms.Ed25519, PrivateKeyHex: strings.Repeat("01", 32)}}},
			want: dErrors.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t)

			_, err := m.Import(ctx, tt.args)
			assert.ErrorIs(t, err, tt.want)

			_, err = m.Get(ctx, senderDID)
			assert.ErrorIs(t, err, dErrors.ErrIdentifierNotFound)
		})
	}

	t.Run("mismatch is a validation error", func(t *testing.T) {
		m, _ := newTestManager(t)

		_, err := m.Import(ctx, tests[0].args)
		assert.Equal(t, dErrors.CodeValidation, dErrors.CodeOf(err))
	})

	t.Run("unknown provider", func(t *testing.T) {
		m, _ := newTestManager(t)

		_, err := m.Import(ctx, ImportArgs{DID: senderDID, Provider: "did:web", Keys: []KeyArgs{{PrivateKeyHex: senderPrivHex}}})
		assert.Equal(t, dErrors.CodeConfiguration, dErrors.CodeOf(err))
	})
}

func TestCustomMethodDerivation(t *testing.T) {
	m, _ := newTestManager(t, WithProvider(NewEthrProvider("method", 1337)))

	id, err := m.Import(context.Background(), ImportArgs{
		DID:      "did:method:1337:0xB2f0b48736D868E24DFdA5034DFC688FaDeC0F19",
		Provider: "did:method",
		Keys:     []KeyArgs{{PrivateKeyHex: senderPrivHex}},
	})
	require.NoError(t, err)
	assert.Equal(t, "did:method:1337:0xB2f0b48736D868E24DFdA5034DFC688FaDeC0F19", id.DID)
}

func TestDeriveDID(t *testing.T) {
	_, km := newTestManager(t)

	key, err := km.ImportKey(context.Background(), kms.DefaultKMS, kms.Secp256k1, senderPrivHex)
	require.NoError(t, err)

	p := NewEthrProvider(DefaultMethod, DefaultChainID)

	derived, err := deriveDID(p, &Identifier{ControllerKeyID: key.KID, Keys: []kms.Key{*key}})
	require.NoError(t, err)
	assert.True(t, strings.EqualFold(senderDID, derived))

	_, err = deriveDID(p, &Identifier{ControllerKeyID: "missing", Keys: []kms.Key{*key}})
	assert.ErrorIs(t, err, dErrors.ErrKeyNotFound)

	_, err = deriveDID(p, &Identifier{ControllerKeyID: key.KID})
	assert.ErrorIs(t, err, dErrors.ErrKeyNotFound)
}

func TestAddKey(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	m, km := newTestManager(t, WithPublisher(pub))
	importSender(t, m)

	key, err := km.CreateKey(ctx, kms.DefaultKMS, kms.Secp256k1)
	require.NoError(t, err)

	id, err := m.AddKey(ctx, senderDID, *key)
	require.NoError(t, err)
	require.Len(t, id.Keys, 2)
	assert.Equal(t, key.KID, id.Keys[1].KID)

	id, err = m.AddKey(ctx, senderDID, *key)
	require.NoError(t, err)
	assert.Len(t, id.Keys, 2)
	assert.Equal(t, []string{senderDID + " " + key.KID}, pub.keys)

	_, err = m.AddKey(ctx, receiverDID, *key)
	assert.ErrorIs(t, err, dErrors.ErrIdentifierNotFound)

	_, err = m.AddKey(ctx, senderDID, kms.Key{KID: "unmanaged"})
	assert.ErrorIs(t, err, dErrors.ErrKeyNotFound)
}

func TestAddService(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	importSender(t, m)

	svc := Service{ID: "svc1", Type: "test", ServiceEndpoint: "http://example.com"}

	id, err := m.AddService(ctx, senderDID, svc)
	require.NoError(t, err)
	assert.Equal(t, []Service{svc}, id.Services)

	replaced := Service{ID: "svc1", Type: "test", ServiceEndpoint: "http://example.org"}
	second := Service{ID: "svc2", Type: "messaging", ServiceEndpoint: "https://example.com/inbox"}

	_, err = m.AddService(ctx, senderDID, second)
	require.NoError(t, err)

	id, err = m.AddService(ctx, senderDID, replaced)
	require.NoError(t, err)
	assert.Equal(t, []Service{replaced, second}, id.Services)

	_, err = m.AddService(ctx, senderDID, Service{ID: "svc3"})
	assert.ErrorIs(t, err, dErrors.ErrInvalidInput)

	_, err = m.AddService(ctx, receiverDID, svc)
	assert.ErrorIs(t, err, dErrors.ErrIdentifierNotFound)
}

func TestPublishFailureLeavesIdentifierUnchanged(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{err: fmt.Errorf("rpc down")}
	m, _ := newTestManager(t, WithPublisher(pub))
	importSender(t, m)

	_, err := m.AddService(ctx, senderDID, Service{ID: "svc1", Type: "test", ServiceEndpoint: "http://example.com"})
	require.Error(t, err)

	id, err := m.Get(ctx, senderDID)
	require.NoError(t, err)
	assert.Empty(t, id.Services)
}

func TestConcurrentWritesOnOneIdentifier(t *testing.T) {
	ctx := context.Background()
	m, km := newTestManager(t)
	importSender(t, m)

	const n = 20

	keys := make([]*kms.Key, n)
	for i := range keys {
		k, err := km.CreateKey(ctx, kms.DefaultKMS, kms.Ed25519)
		require.NoError(t, err)
		keys[i] = k
	}

	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(2)

		go func(i int) {
			defer wg.Done()

			_, err := m.AddService(ctx, senderDID, Service{ID: fmt.Sprintf("svc%d", i), Type: "test", ServiceEndpoint: "http://example.com"})
			assert.NoError(t, err)
		}(i)

		go func(i int) {
			defer wg.Done()

			_, err := m.AddKey(ctx, senderDID, *keys[i])
			assert.NoError(t, err)
		}(i)
	}

	wg.Wait()

	id, err := m.Get(ctx, senderDID)
	require.NoError(t, err)
	assert.Len(t, id.Services, n)
	assert.Len(t, id.Keys, n+1)
}

func TestDocument(t *testing.T) {
	ctx := context.Background()
	m, km := newTestManager(t)
	id := importSender(t, m)

	edKey, err := km.CreateKey(ctx, kms.DefaultKMS, kms.Ed25519)
	require.NoError(t, err)
	_, err = m.AddKey(ctx, senderDID, *edKey)
	require.NoError(t, err)

	xKey, err := km.CreateKey(ctx, kms.DefaultKMS, kms.X25519)
	require.NoError(t, err)
	_, err = m.AddKey(ctx, senderDID, *xKey)
	require.NoError(t, err)

	svc := Service{ID: "svc1", Type: "test", ServiceEndpoint: "http://example.com"}
	_, err = m.AddService(ctx, senderDID, svc)
	require.NoError(t, err)

	doc, err := m.Document(ctx, senderDID)
	require.NoError(t, err)

	assert.Equal(t, senderDID, doc.ID)
	require.Len(t, doc.VerificationMethod, 4)

	controller := doc.VerificationMethod[0]
	assert.Equal(t, senderDID+"#controller", controller.ID)
	assert.Equal(t, TypeSecp256k1RecoveryMethod2020, controller.Type)
	assert.Equal(t, "eip155:1337:0xB2f0b48736D868E24DFdA5034DFC688FaDeC0F19", controller.BlockchainAccountID)

	assert.Equal(t, senderDID+"#key-1", doc.VerificationMethod[1].ID)
	assert.Equal(t, id.Keys[0].PublicKeyHex, doc.VerificationMethod[1].PublicKeyHex)
	assert.Equal(t, TypeEd25519VerificationKey2018, doc.VerificationMethod[2].Type)
	assert.NotEmpty(t, doc.VerificationMethod[2].PublicKeyBase58)
	assert.Equal(t, TypeX25519KeyAgreementKey2019, doc.VerificationMethod[3].Type)

	assert.Equal(t, []string{senderDID + "#controller", senderDID + "#key-1", senderDID + "#key-2"}, doc.AssertionMethod)
	assert.Equal(t, []string{senderDID + "#key-3"}, doc.KeyAgreement)
	assert.Equal(t, []Service{svc}, doc.Service)

	vm, ok := doc.VerificationMethodByID("#key-1")
	assert.True(t, ok)
	assert.Equal(t, TypeSecp256k1VerificationKey2019, vm.Type)
	assert.Len(t, doc.AssertionMethods(), 3)

	again, err := m.Document(ctx, strings.ToLower(senderDID))
	require.NoError(t, err)

	first, err := json.Marshal(doc)
	require.NoError(t, err)
	second, err := json.Marshal(again)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	_, err = m.Document(ctx, receiverDID)
	assert.ErrorIs(t, err, dErrors.ErrIdentifierNotFound)
}

func TestParse(t *testing.T) {
	tests := []struct {
		in       string
		did      string
		method   string
		network  string
		identity string
		fragment string
		wantErr  bool
	}{
		{in: senderDID, did: senderDID, method: "ethr", network: "1337", identity: "0xB2f0b48736D868E24DFdA5034DFC688FaDeC0F19"},
		{in: senderDID + "#controller", did: senderDID, method: "ethr", network: "1337", identity: "0xB2f0b48736D868E24DFdA5034DFC688FaDeC0F19", fragment: "controller"},
		{in: "did:ethr:0xb2f0b48736d868e24dfda5034dfc688fadec0f19/path?versionId=1", did: "did:ethr:0xb2f0b48736d868e24dfda5034dfc688fadec0f19", method: "ethr", identity: "0xb2f0b48736d868e24dfda5034dfc688fadec0f19"},
		{in: "did:web:example.com", did: "did:web:example.com", method: "web", identity: "example.com"},
		{in: "did:ethr", wantErr: true},
		{in: "Alice", wantErr: true},
		{in: "did:ETHR:0x1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, err := Parse(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, dErrors.ErrInvalidInput)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.did, u.DID)
			assert.Equal(t, tt.method, u.Method)
			assert.Equal(t, tt.network, u.Network())
			assert.Equal(t, tt.identity, u.Identity())
			assert.Equal(t, tt.fragment, u.Fragment)
		})
	}
}
