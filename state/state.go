// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"errors"
	"sync"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/database/versiondb"
	"github.com/ava-labs/avalanchego/ids"
)

var (
	// These are prefixes for db keys.
	// It's important to set different prefixes for each separate database objects.
	singletonStatePrefix = []byte("singleton")
	blockStatePrefix     = []byte("block")
	txIndexPrefix        = []byte("txindex")
	contractStatePrefix  = []byte("contract")
	schemaPrefix         = []byte("schema")
	rowPrefix            = []byte("row")
	indexPrefix          = []byte("index")

	ErrSessionInProgress = errors.New("a session is already in progress")
	ErrSessionClosed     = errors.New("session is closed")
	ErrTxClosed          = errors.New("transaction layer is closed")
)

// views are the prefixed sub-databases of one layer of the store.
type views struct {
	singletonDB database.Database
	blockDB     database.Database
	txIndexDB   database.Database
	contractDB  database.Database
	schemaDB    database.Database
	rowDB       database.Database
	indexDB     database.Database
}

func newViews(db database.Database) views {
	return views{
		singletonDB: prefixdb.New(singletonStatePrefix, db),
		blockDB:     prefixdb.New(blockStatePrefix, db),
		txIndexDB:   prefixdb.New(txIndexPrefix, db),
		contractDB:  prefixdb.New(contractStatePrefix, db),
		schemaDB:    prefixdb.New(schemaPrefix, db),
		rowDB:       prefixdb.New(rowPrefix, db),
		indexDB:     prefixdb.New(indexPrefix, db),
	}
}

// Store owns all persisted state: table rows, contract registrations and
// the block chain. Mutations only happen inside a [Session]; readers going
// through [View] only ever observe committed data.
type Store struct {
	// commitLock is held exclusively while a session flushes to baseDB and
	// shared by committed readers.
	commitLock sync.RWMutex

	sessionLock sync.Mutex
	session     *Session

	baseDB database.Database
	committed views
}

// New returns a store persisting to [db].
func New(db database.Database) *Store {
	return &Store{
		baseDB:    db,
		committed: newViews(db),
	}
}

// View runs [fn] against committed state.
func (s *Store) View(fn func(v *View) error) error {
	s.commitLock.RLock()
	defer s.commitLock.RUnlock()

	return fn(&View{views: s.committed})
}

// BeginSession opens the atomic-commit scope of one block. Only one session
// may be open at a time.
func (s *Store) BeginSession() (*Session, error) {
	s.sessionLock.Lock()
	defer s.sessionLock.Unlock()

	if s.session != nil {
		return nil, ErrSessionInProgress
	}
	s.session = &Session{
		store: s,
		vDB:   versiondb.New(s.baseDB),
	}
	return s.session, nil
}

func (s *Store) endSession() {
	s.sessionLock.Lock()
	s.session = nil
	s.sessionLock.Unlock()
}

// Close closes the underlying base database
func (s *Store) Close() error {
	return s.baseDB.Close()
}

// View is a read-only view over committed state.
type View struct {
	views
}

// Session buffers every mutation of one block in memory until Commit.
type Session struct {
	store *Store
	vDB   *versiondb.Database

	mutations []Mutation
	closed    bool
}

// Begin opens a transaction layer on top of the session.
func (s *Session) Begin() *Tx {
	return newTx(s.vDB, s, nil)
}

// Mutations returns every committed transaction-layer mutation in order.
func (s *Session) Mutations() []Mutation { return s.mutations }

// Hash digests every mutation applied during the session.
func (s *Session) Hash() (ids.ID, error) { return hashMutations(s.mutations) }

// Commit atomically flushes the session to the base database.
func (s *Session) Commit() error {
	if s.closed {
		return ErrSessionClosed
	}
	s.closed = true
	defer s.store.endSession()

	s.store.commitLock.Lock()
	defer s.store.commitLock.Unlock()
	return s.vDB.Commit()
}

// Abort discards everything written during the session. It is a no-op on a
// closed session so it can be deferred.
func (s *Session) Abort() {
	if s.closed {
		return
	}
	s.closed = true
	s.vDB.Abort()
	s.store.endSession()
}

// Tx is one revertible layer of writes: a transaction, or a nested contract
// call inside a transaction.
type Tx struct {
	views

	vDB     *versiondb.Database
	session *Session
	parent  *Tx

	mutations []Mutation
	closed    bool
}

func newTx(db database.Database, session *Session, parent *Tx) *Tx {
	vDB := versiondb.New(db)
	return &Tx{
		views:   newViews(vDB),
		vDB:     vDB,
		session: session,
		parent:  parent,
	}
}

// Begin opens a nested layer whose writes can be discarded without
// affecting [t].
func (t *Tx) Begin() *Tx {
	return newTx(t.vDB, t.session, t)
}

// Mutations returns the mutations applied in this layer so far.
func (t *Tx) Mutations() []Mutation { return t.mutations }

// Hash digests the mutations applied in this layer.
func (t *Tx) Hash() (ids.ID, error) { return hashMutations(t.mutations) }

// Commit merges this layer into its parent.
func (t *Tx) Commit() error {
	if t.closed {
		return ErrTxClosed
	}
	t.closed = true
	if err := t.vDB.Commit(); err != nil {
		return err
	}
	if t.parent != nil {
		t.parent.mutations = append(t.parent.mutations, t.mutations...)
	} else {
		t.session.mutations = append(t.session.mutations, t.mutations...)
	}
	return nil
}

// Abort discards this layer. It is a no-op on a closed layer.
func (t *Tx) Abort() {
	if t.closed {
		return
	}
	t.closed = true
	t.vDB.Abort()
	t.mutations = nil
}
