// Package leveldb is a storage.Provider backed by goleveldb. Every namespace gets its own
// database directory under the provider path.
package leveldb

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/pilacorp/go-did-agent/storage"
)

const pathPattern = "%s-%s"

// Provider is a LevelDB implementation of storage.Provider.
type Provider struct {
	dbPath string
	dbs    map[string]*store
	lock   sync.RWMutex
}

// NewProvider instantiates Provider. Databases are created lazily as "<dbPath>-<name>".
func NewProvider(dbPath string) *Provider {
	return &Provider{dbs: make(map[string]*store), dbPath: dbPath}
}

// OpenStore opens and returns a store for the given namespace.
func (p *Provider) OpenStore(name string) (storage.Store, error) {
	if name == "" {
		return nil, errors.New("store name cannot be blank")
	}

	name = strings.ToLower(name)

	p.lock.Lock()
	defer p.lock.Unlock()

	if s, ok := p.dbs[name]; ok {
		return s, nil
	}

	db, err := leveldb.OpenFile(fmt.Sprintf(pathPattern, p.dbPath, name), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb store %q: %w", name, err)
	}

	s := &store{db: db, name: name, close: p.removeStore}
	p.dbs[name] = s

	return s, nil
}

// Close closes all stores opened by this provider.
func (p *Provider) Close() error {
	p.lock.RLock()

	snapshot := make([]*store, 0, len(p.dbs))
	for _, s := range p.dbs {
		snapshot = append(snapshot, s)
	}
	p.lock.RUnlock()

	for _, s := range snapshot {
		if err := s.Close(); err != nil {
			return fmt.Errorf(`failed to close store "%s": %w`, s.name, err)
		}
	}

	return nil
}

func (p *Provider) removeStore(name string) {
	p.lock.Lock()
	defer p.lock.Unlock()

	delete(p.dbs, name)
}

type store struct {
	db    *leveldb.DB
	name  string
	close func(name string)
}

func (s *store) Put(key string, value []byte) error {
	if key == "" {
		return errors.New("key cannot be blank")
	}

	if value == nil {
		return errors.New("value cannot be nil")
	}

	return s.db.Put([]byte(key), value, nil)
}

func (s *store) Get(key string) ([]byte, error) {
	v, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, storage.ErrDataNotFound
		}

		if errors.Is(err, leveldb.ErrClosed) {
			return nil, storage.ErrStoreClosed
		}

		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}

	return v, nil
}

func (s *store) Delete(key string) error {
	return s.db.Delete([]byte(key), nil)
}

// Keys iterates the whole namespace; leveldb iterates in key order.
func (s *store) Keys() ([]string, error) {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()))
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate store %q: %w", s.name, err)
	}

	return keys, nil
}

func (s *store) Close() error {
	s.close(s.name)

	if err := s.db.Close(); err != nil && !errors.Is(err, leveldb.ErrClosed) {
		return err
	}

	return nil
}
