package registry

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-did-agent/did"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/kms"
)

// Publisher anchors identifier keys and services as registry attributes signed by the
// identifier's controller key. It implements did.Publisher.
type Publisher struct {
	writer   *Writer
	validity time.Duration
}

// NewPublisher creates a Publisher writing attributes valid for validity (DefaultValidity if zero).
func NewPublisher(w *Writer, validity time.Duration) *Publisher {
	return &Publisher{writer: w, validity: validity}
}

// KeyAttributeName returns the attribute name of a public key, did/pub/<type>/<purpose>/hex.
func KeyAttributeName(keyType kms.KeyType) string {
	purpose := "veriKey"
	if keyType == kms.X25519 {
		purpose = "enc"
	}

	return fmt.Sprintf("did/pub/%s/%s/hex", keyType, purpose)
}

// ServiceAttributeName returns the attribute name of a service, did/svc/<type>.
func ServiceAttributeName(serviceType string) string {
	return "did/svc/" + serviceType
}

func (p *Publisher) PublishKey(ctx context.Context, id *did.Identifier, key kms.Key) error {
	identity, auth, err := p.auth(id)
	if err != nil {
		return err
	}

	value, err := hex.DecodeString(strings.TrimPrefix(key.PublicKeyHex, "0x"))
	if err != nil {
		return dErrors.ErrInvalidInput.WithCause(err, "public key of %s is not valid hex", key.KID)
	}

	_, err = p.writer.SetAttribute(ctx, auth, identity, KeyAttributeName(key.Type), value, p.validity)

	return err
}

// PublishService anchors service. id holds the services before the change: re-publishing an
// unchanged service is a no-op, and the attribute of a service replaced under the same id is
// revoked first.
func (p *Publisher) PublishService(ctx context.Context, id *did.Identifier, service did.Service) error {
	identity, auth, err := p.auth(id)
	if err != nil {
		return err
	}

	for _, old := range id.Services {
		if old.ID != service.ID {
			continue
		}

		if sameAttribute(old, service) {
			return nil
		}

		if sharedAttribute(id.Services, old) {
			break
		}

		_, err := p.writer.RevokeAttribute(ctx, auth, identity, ServiceAttributeName(old.Type), []byte(old.ServiceEndpoint))
		if err != nil {
			return fmt.Errorf("failed to revoke replaced service %s: %w", old.ID, err)
		}

		break
	}

	_, err = p.writer.SetAttribute(ctx, auth, identity, ServiceAttributeName(service.Type), []byte(service.ServiceEndpoint), p.validity)

	return err
}

func sameAttribute(a, b did.Service) bool {
	return a.Type == b.Type && a.ServiceEndpoint == b.ServiceEndpoint
}

// sharedAttribute reports whether a service other than s is anchored by the same attribute.
func sharedAttribute(services []did.Service, s did.Service) bool {
	for _, other := range services {
		if other.ID != s.ID && sameAttribute(other, s) {
			return true
		}
	}

	return false
}

func (p *Publisher) auth(id *did.Identifier) (common.Address, TxAuth, error) {
	u, err := did.Parse(id.DID)
	if err != nil {
		return common.Address{}, TxAuth{}, err
	}

	identity, err := did.IdentityAddress(u.Identity())
	if err != nil {
		return common.Address{}, TxAuth{}, err
	}

	controller, ok := id.ControllerKey()
	if !ok {
		return common.Address{}, TxAuth{}, dErrors.ErrKeyNotFound.Errorf("controller key of %s not found", id.DID)
	}

	from, err := did.AddressFromPublicKeyHex(controller.PublicKeyHex)
	if err != nil {
		return common.Address{}, TxAuth{}, err
	}

	return identity, TxAuth{KID: controller.KID, From: from}, nil
}
