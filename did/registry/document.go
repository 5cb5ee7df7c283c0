package registry

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"

	"github.com/pilacorp/go-did-agent/did"
)

var attributePattern = regexp.MustCompile(`^did/(pub|svc)/(\w+)(/(\w+))?(/(\w+))?$`)

// legacy purpose names used in attribute names.
var attributePurposeTypes = map[string]string{
	"sigAuth": "SignatureAuthentication2018",
	"veriKey": "VerificationKey2018",
	"enc":     "KeyAgreementKey2019",
}

var legacyKeyTypes = map[string]string{
	"Secp256k1VerificationKey2018":         did.TypeSecp256k1VerificationKey2019,
	"Secp256k1SignatureAuthentication2018": did.TypeSecp256k1VerificationKey2019,
	"Ed25519SignatureAuthentication2018":   did.TypeEd25519VerificationKey2018,
	"Ed25519VerificationKey2018":           did.TypeEd25519VerificationKey2018,
	"RSAVerificationKey2018":               "RsaVerificationKey2018",
	"X25519KeyAgreementKey2019":            did.TypeX25519KeyAgreementKey2019,
}

// orderedMap keeps insertion order. Setting an existing key keeps its position.
type orderedMap[V any] struct {
	keys   []string
	values map[string]V
}

func newOrderedMap[V any]() *orderedMap[V] {
	return &orderedMap[V]{values: make(map[string]V)}
}

func (m *orderedMap[V]) set(k string, v V) {
	if _, ok := m.values[k]; !ok {
		m.keys = append(m.keys, k)
	}

	m.values[k] = v
}

func (m *orderedMap[V]) delete(k string) {
	if _, ok := m.values[k]; !ok {
		return
	}

	delete(m.values, k)

	for i, key := range m.keys {
		if key == k {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

func (m *orderedMap[V]) list() []V {
	out := make([]V, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.values[k])
	}

	return out
}

// DocumentInput is what BuildDocument needs to rebuild a did:ethr document.
type DocumentInput struct {
	DID      string
	Identity common.Address
	// ChainID is the CAIP-2 reference used in blockchainAccountId values.
	ChainID string
	// ControllerKeyHex is set when the DID identity is a public key rather than an address.
	ControllerKeyHex string
	// History holds the identity's events oldest first.
	History []Event
	// Now is compared against each event's validTo.
	Now time.Time
}

// BuildDocument replays the history of an identity into its DID document.
//
// Delegates and "did/pub/..." attributes share one counter and become "#delegate-N" methods;
// "did/svc/..." attributes become "#service-N". Counters advance for every such event,
// including expired and revoked ones, so ids stay stable as history grows. Every method except
// key agreement keys is an assertion method. An owner change to the zero address deactivates
// the document.
func BuildDocument(in DocumentInput) (*did.Document, did.DocumentMetadata) {
	id := in.DID
	now := big.NewInt(in.Now.Unix())

	controller := in.Identity
	deactivated := false

	var (
		delegateCount int
		serviceCount  int
		versionID     uint64
	)

	auth := newOrderedMap[string]()
	keyAgreement := newOrderedMap[string]()
	methods := newOrderedMap[did.VerificationMethod]()
	services := newOrderedMap[did.Service]()

	for _, ev := range in.History {
		if ev.BlockNumber > versionID {
			versionID = ev.BlockNumber
		}

		index := eventIndex(ev)
		validTo := ev.ValidTo
		if validTo == nil {
			validTo = new(big.Int)
		}

		if validTo.Sign() > 0 && validTo.Cmp(now) >= 0 {
			switch ev.Name {
			case EventDelegateChanged:
				delegateCount++
				vmID := fmt.Sprintf("%s#delegate-%d", id, delegateCount)

				switch ev.DelegateType {
				case "sigAuth":
					auth.set(index, vmID)
					fallthrough
				case "veriKey":
					methods.set(index, did.VerificationMethod{
						ID:                  vmID,
						Type:                did.TypeSecp256k1RecoveryMethod2020,
						Controller:          id,
						BlockchainAccountID: did.BlockchainAccountID(in.ChainID, ev.Delegate),
					})
				}
			case EventAttributeChanged:
				match := attributePattern.FindStringSubmatch(ev.AttributeName)
				if match == nil {
					continue
				}

				section, algorithm, purpose, encoding := match[1], match[2], match[4], match[6]

				switch section {
				case "pub":
					delegateCount++

					vm := publicKeyMethod(fmt.Sprintf("%s#delegate-%d", id, delegateCount), id, algorithm, purpose, encoding, ev.Value)
					methods.set(index, vm)

					switch purpose {
					case "sigAuth":
						auth.set(index, vm.ID)
					case "enc":
						keyAgreement.set(index, vm.ID)
					}
				case "svc":
					serviceCount++
					services.set(index, did.Service{
						ID:              fmt.Sprintf("%s#service-%d", id, serviceCount),
						Type:            algorithm,
						ServiceEndpoint: serviceEndpoint(ev.Value),
					})
				}
			}

			continue
		}

		if ev.Name == EventOwnerChanged {
			controller = ev.Owner
			if ev.Owner == (common.Address{}) {
				deactivated = true
				break
			}

			continue
		}

		if ev.Name == EventDelegateChanged {
			delegateCount++
		} else if match := attributePattern.FindStringSubmatch(ev.AttributeName); match != nil {
			if match[1] == "pub" {
				delegateCount++
			} else {
				serviceCount++
			}
		}

		auth.delete(index)
		keyAgreement.delete(index)
		methods.delete(index)
		services.delete(index)
	}

	meta := did.DocumentMetadata{Deactivated: deactivated}
	if versionID > 0 {
		meta.VersionID = strconv.FormatUint(versionID, 10)
	}

	doc := &did.Document{
		Context:            []string{did.ContextDIDv1, did.ContextSecp256k1Recovery, did.ContextSecurityV3Unstable},
		ID:                 id,
		VerificationMethod: []did.VerificationMethod{},
		Authentication:     []string{},
		AssertionMethod:    []string{},
	}

	if deactivated {
		return doc, meta
	}

	controllerID := id + "#" + did.ControllerFragment
	doc.VerificationMethod = append(doc.VerificationMethod, did.VerificationMethod{
		ID:                  controllerID,
		Type:                did.TypeSecp256k1RecoveryMethod2020,
		Controller:          id,
		BlockchainAccountID: did.BlockchainAccountID(in.ChainID, controller),
	})
	doc.Authentication = append(doc.Authentication, controllerID)

	if in.ControllerKeyHex != "" && controller == in.Identity {
		keyID := id + "#controllerKey"
		doc.VerificationMethod = append(doc.VerificationMethod, did.VerificationMethod{
			ID:           keyID,
			Type:         did.TypeSecp256k1VerificationKey2019,
			Controller:   id,
			PublicKeyHex: in.ControllerKeyHex,
		})
		doc.Authentication = append(doc.Authentication, keyID)
	}

	doc.VerificationMethod = append(doc.VerificationMethod, methods.list()...)
	doc.Authentication = append(doc.Authentication, auth.list()...)

	agreement := make(map[string]bool)
	if refs := keyAgreement.list(); len(refs) > 0 {
		doc.KeyAgreement = refs
		for _, ref := range refs {
			agreement[ref] = true
		}
	}

	for _, vm := range doc.VerificationMethod {
		if !agreement[vm.ID] {
			doc.AssertionMethod = append(doc.AssertionMethod, vm.ID)
		}
	}

	if svcs := services.list(); len(svcs) > 0 {
		doc.Service = svcs
	}

	return doc, meta
}

func eventIndex(ev Event) string {
	switch ev.Name {
	case EventDelegateChanged:
		return fmt.Sprintf("%s-%s-%s", ev.Name, ev.DelegateType, ev.Delegate.Hex())
	case EventAttributeChanged:
		return fmt.Sprintf("%s-%s-0x%s", ev.Name, ev.AttributeName, hex.EncodeToString(ev.Value))
	}

	return fmt.Sprintf("%s-%s", ev.Name, ev.Owner.Hex())
}

func publicKeyMethod(vmID, controller, algorithm, purpose, encoding string, value []byte) did.VerificationMethod {
	vm := did.VerificationMethod{ID: vmID, Controller: controller, Type: algorithm}

	suffix, ok := attributePurposeTypes[purpose]
	if !ok {
		suffix = purpose
	}

	if t, ok := legacyKeyTypes[algorithm+suffix]; ok {
		vm.Type = t
	}

	switch encoding {
	case "", "hex":
		vm.PublicKeyHex = hex.EncodeToString(value)
	case "base64":
		vm.PublicKeyBase64 = base64.StdEncoding.EncodeToString(value)
	case "base58":
		vm.PublicKeyBase58 = base58.Encode(value)
	default:
		vm.PublicKeyHex = hex.EncodeToString(value)
	}

	return vm
}

// serviceEndpoint decodes an attribute value. JSON-encoded endpoints are compacted,
// anything else is taken as a plain string.
func serviceEndpoint(value []byte) string {
	var v interface{}
	if err := json.Unmarshal(value, &v); err == nil {
		if s, ok := v.(string); ok {
			return s
		}

		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}

	return string(value)
}
