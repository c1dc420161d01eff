package accounts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/fortiblox/X1-Crowdfund/internal/types"
)

// On-disk key layout. Campaign, wallet and staging accounts all share the
// account keyspace; node bookkeeping lives under the meta prefix.
const (
	keyspaceAccount byte = 0x01
	keyspaceMeta    byte = 0x02

	accountKeyLen = 1 + 32
)

var (
	metaSlotKey  = []byte{keyspaceMeta, 's', 'l', 'o', 't'}
	metaCountKey = []byte{keyspaceMeta, 'c', 'o', 'u', 'n', 't'}
)

// BadgerDBConfig configures the on-disk accounts store.
type BadgerDBConfig struct {
	// Path is the badger directory, usually <data-dir>/accounts.
	Path string

	// InMemory keeps badger tables in RAM. Path is ignored.
	InMemory bool

	// SyncWrites fsyncs every write. Off by default: the ledger is the
	// durable record and Commit persists slot and count on shutdown.
	SyncWrites bool

	NumCompactors    int
	NumMemtables     int
	ValueLogFileSize int64

	// Logger receives badger's internal logs. Nil silences them.
	Logger badger.Logger
}

// DefaultBadgerDBConfig returns the node's settings for an accounts store at path.
func DefaultBadgerDBConfig(path string) BadgerDBConfig {
	return BadgerDBConfig{
		Path:             path,
		NumCompactors:    4,
		NumMemtables:     5,
		ValueLogFileSize: 256 << 20,
	}
}

// BadgerDB stores accounts in badger, keyed by pubkey, so a prefix scan
// returns them in ascending pubkey order. The current slot and the number of
// live accounts are held in memory and written back by Commit and Close.
type BadgerDB struct {
	db *badger.DB

	slot          atomic.Uint64
	accountsCount atomic.Uint64

	// mu serializes writers so the account count matches the keyspace.
	mu     sync.RWMutex
	closed atomic.Bool
}

// NewBadgerDB opens (or creates) the accounts store described by cfg.
func NewBadgerDB(cfg BadgerDBConfig) (*BadgerDB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumCompactors(cfg.NumCompactors).
		WithNumMemtables(cfg.NumMemtables).
		WithValueLogFileSize(cfg.ValueLogFileSize).
		WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open accounts store: %w", err)
	}

	store := &BadgerDB{db: db}
	if err := store.restoreCounters(); err != nil {
		db.Close()
		return nil, fmt.Errorf("read slot and account count: %w", err)
	}
	return store, nil
}

// restoreCounters reloads the slot and account count written by the last
// Commit. A fresh store starts both at zero.
func (b *BadgerDB) restoreCounters() error {
	return b.db.View(func(txn *badger.Txn) error {
		slot, err := readUint64(txn, metaSlotKey)
		if err != nil {
			return err
		}
		count, err := readUint64(txn, metaCountKey)
		if err != nil {
			return err
		}
		b.slot.Store(slot)
		b.accountsCount.Store(count)
		return nil
	})
}

func readUint64(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("%w: meta key %q has %d bytes", ErrInvalidData, key[1:], len(val))
		}
		v = binary.LittleEndian.Uint64(val)
		return nil
	})
	return v, err
}

func writeUint64(txn *badger.Txn, key []byte, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return txn.Set(key, buf[:])
}

func accountKey(pubkey types.Pubkey) []byte {
	key := make([]byte, accountKeyLen)
	key[0] = keyspaceAccount
	copy(key[1:], pubkey[:])
	return key
}

func keyExists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetAccount returns the stored account or ErrAccountNotFound.
func (b *BadgerDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var account *Account
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(pubkey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			account, err = DeserializeAccount(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// SetAccount stores a single account.
func (b *BadgerDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	return b.SetAccounts([]AccountEntry{{Pubkey: pubkey, Account: account}})
}

// SetAccounts writes a transaction's account changes atomically. Accounts left
// with no lamports and no data are removed, which is how a swept staging
// account disappears after a donate.
func (b *BadgerDB) SetAccounts(entries []AccountEntry) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var added, removed uint64
	err := b.db.Update(func(txn *badger.Txn) error {
		// Update may retry the closure on conflict.
		added, removed = 0, 0
		for _, e := range entries {
			key := accountKey(e.Pubkey)
			exists, err := keyExists(txn, key)
			if err != nil {
				return err
			}

			if e.Account.IsZero() {
				if !exists {
					continue
				}
				if err := txn.Delete(key); err != nil {
					return err
				}
				removed++
				continue
			}

			if err := txn.Set(key, e.Account.Serialize()); err != nil {
				return err
			}
			if !exists {
				added++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.accountsCount.Add(added - removed)
	return nil
}

// DeleteAccount removes an account. Deleting a missing account is a no-op.
func (b *BadgerDB) DeleteAccount(pubkey types.Pubkey) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var removed bool
	err := b.db.Update(func(txn *badger.Txn) error {
		key := accountKey(pubkey)
		exists, err := keyExists(txn, key)
		if err != nil || !exists {
			removed = false
			return err
		}
		removed = true
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}
	if removed {
		b.accountsCount.Add(^uint64(0))
	}
	return nil
}

// HasAccount reports whether pubkey has a stored account.
func (b *BadgerDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	if b.closed.Load() {
		return false, ErrClosed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		exists, err = keyExists(txn, accountKey(pubkey))
		return err
	})
	return exists, err
}

func (b *BadgerDB) GetSlot() uint64 {
	return b.slot.Load()
}

// SetSlot records the slot of the last processed transaction. It reaches
// disk on the next Commit.
func (b *BadgerDB) SetSlot(slot uint64) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.slot.Store(slot)
	return nil
}

func (b *BadgerDB) AccountsCount() (uint64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	return b.accountsCount.Load(), nil
}

// Commit writes the slot and account count to disk.
func (b *BadgerDB) Commit() error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.persistCounters()
}

func (b *BadgerDB) persistCounters() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		if err := writeUint64(txn, metaSlotKey, b.slot.Load()); err != nil {
			return err
		}
		return writeUint64(txn, metaCountKey, b.accountsCount.Load())
	})
}

// Close persists the counters and closes badger. A second Close returns
// ErrClosed.
func (b *BadgerDB) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}

	persistErr := b.persistCounters()
	if err := b.db.Close(); err != nil {
		return err
	}
	return persistErr
}

// IterateAccounts calls fn for every account in ascending pubkey order, as
// snapshots and the accounts hash require. An error from fn stops the scan
// and is returned.
func (b *BadgerDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	if b.closed.Load() {
		return ErrClosed
	}

	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{keyspaceAccount}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != accountKeyLen {
				continue
			}
			var pubkey types.Pubkey
			copy(pubkey[:], key[1:])

			err := item.Value(func(val []byte) error {
				account, err := DeserializeAccount(val)
				if err != nil {
					return fmt.Errorf("account %s: %w", pubkey, err)
				}
				return fn(pubkey, account)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// RunGC rewrites one value log file if at least half of it is garbage. The
// node calls it on a ticker; badger.ErrNoRewrite means nothing was reclaimed.
func (b *BadgerDB) RunGC() error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.db.RunValueLogGC(0.5)
}

// Sync flushes pending writes when SyncWrites is off.
func (b *BadgerDB) Sync() error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.db.Sync()
}

var _ DB = (*BadgerDB)(nil)
