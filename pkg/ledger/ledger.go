// Package ledger provides persistent storage for executed transactions.
//
// Every transaction the runtime processes, successful or not, is recorded
// with its slot, status, program logs and the accounts it referenced. The
// ledger backs the getTransaction and getSignaturesForAddress RPC methods
// and lets the runtime reject replayed signatures.
package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/X1-Crowdfund/internal/types"
)

var (
	// ErrTransactionNotFound is returned when a transaction doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrClosed is returned when operating on a closed ledger.
	ErrClosed = errors.New("ledger closed")
)

// Bucket names for BoltDB.
var (
	// bucketTxBySignature stores transaction records keyed by signature.
	bucketTxBySignature = []byte("tx_by_sig")

	// bucketAddressSignatures indexes signatures by address+slot+signature.
	bucketAddressSignatures = []byte("addr_sigs")

	// bucketSlotSignatures indexes signatures by slot+signature for pruning.
	bucketSlotSignatures = []byte("slot_sigs")

	// bucketMetadata stores ledger metadata.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyLatestSlot       = []byte("latest_slot")
	keyTransactionCount = []byte("transaction_count")
)

// DefaultRetainSlots is the number of slots kept by pruning.
const DefaultRetainSlots = 1_000_000

// Config holds ledger configuration options.
type Config struct {
	// Path is the database file path.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// PruneEnabled enables automatic pruning of old transactions.
	PruneEnabled bool

	// PruneInterval is how often to run the pruning routine.
	PruneInterval time.Duration

	// RetainSlots is the number of slots to retain during pruning.
	RetainSlots uint64
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		NoSync:        false,
		PruneEnabled:  true,
		PruneInterval: 1 * time.Hour,
		RetainSlots:   DefaultRetainSlots,
	}
}

// TransactionRecord is the stored outcome of one transaction.
type TransactionRecord struct {
	Signature            types.Signature
	Slot                 uint64
	BlockTime            int64
	Success              bool
	Err                  string
	Logs                 []string
	AccountKeys          []types.Pubkey
	ComputeUnitsConsumed uint64
	PreBalances          []uint64
	PostBalances         []uint64

	// DeltaHash is the Merkle root over the accounts the transaction wrote.
	DeltaHash types.Hash

	// Raw is the wire encoding of the transaction.
	Raw []byte
}

// SignatureInfo is an entry in the address index.
type SignatureInfo struct {
	Signature types.Signature
	Slot      uint64
	Err       string
	BlockTime int64
}

// SignatureQueryOptions configures signature queries.
type SignatureQueryOptions struct {
	// Limit is the maximum number of signatures to return.
	Limit int

	// Before returns signatures older than (not including) this signature.
	Before *types.Signature
}

// Store is a BoltDB-backed transaction ledger.
type Store struct {
	db     *bolt.DB
	config Config
	logger zerolog.Logger

	// Cached values for fast reads.
	mu               sync.RWMutex
	latestSlot       uint64
	transactionCount uint64

	// Pruning control.
	pruneStop chan struct{}
	pruneWG   sync.WaitGroup

	closed bool
}

// Open creates or opens a ledger at the configured path.
func Open(config Config, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(config.Path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
		NoSync:  config.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{
		db:        db,
		config:    config,
		logger:    logger.With().Str("component", "ledger").Logger(),
		pruneStop: make(chan struct{}),
	}

	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	if err := s.loadCachedValues(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load cached values: %w", err)
	}

	if config.PruneEnabled && config.PruneInterval > 0 {
		s.startPruning()
	}

	return s, nil
}

// initBuckets creates all required buckets.
func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketTxBySignature, bucketAddressSignatures, bucketSlotSignatures, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// loadCachedValues loads frequently-accessed values into memory.
func (s *Store) loadCachedValues() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if v := meta.Get(keyLatestSlot); v != nil {
			s.latestSlot = DecodeSlotKey(v)
		}
		if v := meta.Get(keyTransactionCount); v != nil {
			s.transactionCount = DecodeSlotKey(v)
		}
		return nil
	})
}

// startPruning starts the background pruning goroutine.
func (s *Store) startPruning() {
	s.pruneWG.Add(1)
	go func() {
		defer s.pruneWG.Done()
		ticker := time.NewTicker(s.config.PruneInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				pruned, err := s.Prune(s.config.RetainSlots)
				if err != nil {
					s.logger.Error().Err(err).Msg("prune failed")
					continue
				}
				if pruned > 0 {
					s.logger.Info().Uint64("pruned", pruned).Msg("pruned old transactions")
				}
			case <-s.pruneStop:
				return
			}
		}
	}()
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// PutTransaction stores a record and indexes it by every referenced address.
func (s *Store) PutTransaction(rec *TransactionRecord) error {
	if s.isClosed() {
		return ErrClosed
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}

	var infoBuf bytes.Buffer
	info := SignatureInfo{Signature: rec.Signature, Slot: rec.Slot, Err: rec.Err, BlockTime: rec.BlockTime}
	if err := gob.NewEncoder(&infoBuf).Encode(&info); err != nil {
		return fmt.Errorf("encode signature info: %w", err)
	}

	var isNew bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		txBySig := tx.Bucket(bucketTxBySignature)
		isNew = txBySig.Get(rec.Signature[:]) == nil
		if err := txBySig.Put(rec.Signature[:], buf.Bytes()); err != nil {
			return err
		}

		addrSigs := tx.Bucket(bucketAddressSignatures)
		for _, addr := range rec.AccountKeys {
			if err := addrSigs.Put(EncodeAddressSlotKey(addr, rec.Slot, rec.Signature), infoBuf.Bytes()); err != nil {
				return err
			}
		}

		if err := tx.Bucket(bucketSlotSignatures).Put(EncodeSlotSignatureKey(rec.Slot, rec.Signature), []byte{}); err != nil {
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		latest, count := s.latestSlot, s.transactionCount
		if rec.Slot > latest {
			latest = rec.Slot
		}
		if isNew {
			count++
		}
		meta := tx.Bucket(bucketMetadata)
		if err := meta.Put(keyLatestSlot, EncodeSlotKey(latest)); err != nil {
			return err
		}
		return meta.Put(keyTransactionCount, EncodeSlotKey(count))
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if rec.Slot > s.latestSlot {
		s.latestSlot = rec.Slot
	}
	if isNew {
		s.transactionCount++
	}
	s.mu.Unlock()
	return nil
}

// GetTransaction retrieves a record by signature.
func (s *Store) GetTransaction(signature types.Signature) (*TransactionRecord, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	var rec TransactionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTxBySignature).Get(signature[:])
		if data == nil {
			return ErrTransactionNotFound
		}
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// HasTransaction reports whether a record exists for signature.
func (s *Store) HasTransaction(signature types.Signature) (bool, error) {
	if s.isClosed() {
		return false, ErrClosed
	}

	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketTxBySignature).Get(signature[:]) != nil
		return nil
	})
	return found, err
}

// GetSignaturesForAddress returns signatures for transactions involving an
// address, newest first.
func (s *Store) GetSignaturesForAddress(address types.Pubkey, opts *SignatureQueryOptions) ([]SignatureInfo, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	limit := 1000
	if opts != nil && opts.Limit > 0 && opts.Limit < limit {
		limit = opts.Limit
	}

	var results []SignatureInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAddressSignatures).Cursor()
		prefix := address[:]

		var k, v []byte
		if opts != nil && opts.Before != nil {
			data := tx.Bucket(bucketTxBySignature).Get(opts.Before[:])
			if data == nil {
				return nil
			}
			var before TransactionRecord
			if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&before); err != nil {
				return fmt.Errorf("decode before: %w", err)
			}
			// Position on the first key older than the before signature.
			c.Seek(EncodeAddressSlotKey(address, before.Slot, before.Signature))
			k, v = c.Prev()
		} else {
			// Seek past the highest possible key for this address, then step back.
			end := EncodeAddressSlotKey(address, ^uint64(0), types.Signature{})
			for i := 40; i < len(end); i++ {
				end[i] = 0xFF
			}
			k, v = c.Seek(end)
			if !bytes.Equal(k, end) {
				k, v = c.Prev()
			}
		}

		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
			var info SignatureInfo
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&info); err != nil {
				continue // Skip corrupted entries.
			}
			results = append(results, info)
			if len(results) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// LatestSlot returns the highest slot recorded.
func (s *Store) LatestSlot() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestSlot
}

// TransactionCount returns the number of stored transactions.
func (s *Store) TransactionCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transactionCount
}

// Prune removes transactions older than the retention window.
// Returns the number of transactions pruned.
func (s *Store) Prune(keepSlots uint64) (uint64, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, ErrClosed
	}
	latestSlot := s.latestSlot
	s.mu.RUnlock()

	if latestSlot <= keepSlots {
		return 0, nil
	}
	cutoff := EncodeSlotKey(latestSlot - keepSlots)

	var pruned uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		slotSigs := tx.Bucket(bucketSlotSignatures)
		txBySig := tx.Bucket(bucketTxBySignature)
		addrSigs := tx.Bucket(bucketAddressSignatures)

		var expired [][]byte
		c := slotSigs.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k[:8], cutoff) < 0; k, _ = c.Next() {
			expired = append(expired, append([]byte(nil), k...))
		}

		for _, k := range expired {
			slot := DecodeSlotKey(k[:8])
			var sig types.Signature
			copy(sig[:], k[8:])

			if data := txBySig.Get(sig[:]); data != nil {
				var rec TransactionRecord
				if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err == nil {
					for _, addr := range rec.AccountKeys {
						if err := addrSigs.Delete(EncodeAddressSlotKey(addr, slot, sig)); err != nil {
							return err
						}
					}
				}
				if err := txBySig.Delete(sig[:]); err != nil {
					return err
				}
				pruned++
			}
			if err := slotSigs.Delete(k); err != nil {
				return err
			}
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		return tx.Bucket(bucketMetadata).Put(keyTransactionCount, EncodeSlotKey(s.transactionCount-pruned))
	})
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.transactionCount -= pruned
	s.mu.Unlock()
	return pruned, nil
}

// Close shuts down the ledger.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.pruneStop)
	s.pruneWG.Wait()

	return s.db.Close()
}

// EncodeSlotKey encodes a slot number as a big-endian 8-byte key.
func EncodeSlotKey(slot uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, slot)
	return key
}

// DecodeSlotKey decodes a slot number from a big-endian 8-byte key.
func DecodeSlotKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

// EncodeAddressSlotKey encodes an address+slot+signature composite key.
// Format: [32-byte address][8-byte slot big-endian][64-byte signature]
func EncodeAddressSlotKey(addr types.Pubkey, slot uint64, sig types.Signature) []byte {
	key := make([]byte, 32+8+64)
	copy(key[:32], addr[:])
	binary.BigEndian.PutUint64(key[32:40], slot)
	copy(key[40:], sig[:])
	return key
}

// EncodeSlotSignatureKey encodes a slot+signature composite key.
func EncodeSlotSignatureKey(slot uint64, sig types.Signature) []byte {
	key := make([]byte, 8+64)
	binary.BigEndian.PutUint64(key[:8], slot)
	copy(key[8:], sig[:])
	return key
}
