// Package badgerkv is the L2 durable object store tier: a transactional,
// commit-confirmed key-value store backed by github.com/dgraph-io/badger/v3.
// Adapted directly from the teacher's storage/badger/badger.go stgBase:
// the same ref-counted connection-by-path, prefix-scoped key namespace,
// and Update/View transaction shape, narrowed to a single prefix (engine
// snapshots) instead of the teacher's four dataType buckets.
package badgerkv

import (
	"context"
	"errors"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

var (
	ErrBlankPath = errors.New("badgerkv: blank path")
	ErrBlankKey  = errors.New("badgerkv: blank key")
)

var prefix = []byte{'t', 's', 0}

type dbconn struct {
	path     string
	dbh      *badger.DB
	useCount uint16
}

var (
	connections = map[string]*dbconn{}
	connLock    sync.Mutex
)

func connect(path string) (*dbconn, error) {
	if path == "" {
		return nil, ErrBlankPath
	}

	connLock.Lock()
	defer connLock.Unlock()

	conn, present := connections[path]
	if !present {
		opt := badger.DefaultOptions(path).WithLogger(nil)
		dbh, err := badger.Open(opt)
		if err != nil {
			return nil, err
		}
		conn = &dbconn{path: path, dbh: dbh}
		connections[path] = conn
	}
	conn.useCount++
	return conn, nil
}

func (c *dbconn) disconnect() {
	connLock.Lock()
	defer connLock.Unlock()
	c.useCount--
	if c.useCount <= 0 {
		c.dbh.Close()
		delete(connections, c.path)
	}
}

// Store is an L2-tier badger-backed durable object store.
type Store struct {
	db *dbconn
}

// Open connects to (or joins an already-open) badger database at path.
func Open(path string) (*Store, error) {
	db, err := connect(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close detaches this Store from the shared database, closing it once no
// other Store uses the same path.
func (s *Store) Close() error {
	s.db.disconnect()
	s.db = nil
	return nil
}

// Commit writes value for key inside a badger transaction. Badger's
// Update already fsyncs on commit, so a successful return here satisfies
// §4.8's "await oncomplete" durability requirement.
func (s *Store) Commit(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrBlankKey
	}
	pk := append(append([]byte{}, prefix...), key...)
	return s.db.dbh.Update(func(txn *badger.Txn) error {
		return txn.Set(pk, value)
	})
}

// Read performs the §4.8 post-commit readback (and doubles as the L2
// fallback read when L1 is empty on startup).
func (s *Store) Read(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrBlankKey
	}
	pk := append(append([]byte{}, prefix...), key...)

	var value []byte
	err := s.db.dbh.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pk)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}
