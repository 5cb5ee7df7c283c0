// Package mem is an in-memory storage.Provider, used by tests and by agents without a
// configured database path.
package mem

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/pilacorp/go-did-agent/storage"
)

// Provider is an in-memory storage.Provider.
type Provider struct {
	stores map[string]*store
	lock   sync.RWMutex
}

// NewProvider instantiates Provider.
func NewProvider() *Provider {
	return &Provider{stores: make(map[string]*store)}
}

// OpenStore opens and returns a store for the given namespace.
func (p *Provider) OpenStore(name string) (storage.Store, error) {
	if name == "" {
		return nil, errors.New("store name cannot be blank")
	}

	name = strings.ToLower(name)

	p.lock.Lock()
	defer p.lock.Unlock()

	s, ok := p.stores[name]
	if !ok {
		s = &store{db: make(map[string][]byte)}
		p.stores[name] = s
	}

	return s, nil
}

// Close closes all stores. Data is kept so a store can be reopened.
func (p *Provider) Close() error {
	return nil
}

type store struct {
	db   map[string][]byte
	lock sync.RWMutex
}

func (s *store) Put(key string, value []byte) error {
	if key == "" {
		return errors.New("key cannot be blank")
	}

	if value == nil {
		return errors.New("value cannot be nil")
	}

	v := make([]byte, len(value))
	copy(v, value)

	s.lock.Lock()
	defer s.lock.Unlock()

	s.db[key] = v

	return nil
}

func (s *store) Get(key string) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	v, ok := s.db[key]
	if !ok {
		return nil, storage.ErrDataNotFound
	}

	out := make([]byte, len(v))
	copy(out, v)

	return out, nil
}

func (s *store) Delete(key string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.db, key)

	return nil
}

func (s *store) Keys() ([]string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	keys := make([]string, 0, len(s.db))
	for k := range s.db {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys, nil
}

func (s *store) Close() error {
	return nil
}
