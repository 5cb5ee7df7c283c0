package did

import (
	"encoding/json"
	"errors"
	"fmt"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/storage"
)

const identifierStoreName = "identifiers"

// Store persists managed identifiers keyed by DID.
type Store struct {
	store storage.Store
}

// NewStore opens the identifier namespace of p.
func NewStore(p storage.Provider) (*Store, error) {
	s, err := p.OpenStore(identifierStoreName)
	if err != nil {
		return nil, fmt.Errorf("failed to open identifier store: %w", err)
	}

	return &Store{store: s}, nil
}

// Put stores id, replacing any previous version.
func (s *Store) Put(id *Identifier) error {
	b, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("failed to marshal identifier: %w", err)
	}

	return s.store.Put(id.DID, b)
}

// Get returns the identifier for did.
func (s *Store) Get(did string) (*Identifier, error) {
	b, err := s.store.Get(did)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, dErrors.ErrIdentifierNotFound.Errorf("identifier %s not found", did)
		}

		return nil, fmt.Errorf("failed to get identifier %s: %w", did, err)
	}

	var id Identifier
	if err := json.Unmarshal(b, &id); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identifier %s: %w", did, err)
	}

	return &id, nil
}

// List returns all identifiers ordered by DID.
func (s *Store) List() ([]*Identifier, error) {
	dids, err := s.store.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list identifiers: %w", err)
	}

	ids := make([]*Identifier, 0, len(dids))
	for _, d := range dids {
		id, err := s.Get(d)
		if err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, nil
}
