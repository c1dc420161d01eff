// Package accounts implements the account store for ledger state.
//
// The store keeps the current state of every account: balances, owners and
// data regions, including campaign records written by the crowdfund program.
// Two implementations are provided:
// - MemoryDB for tests and ephemeral nodes
// - BadgerDB for persistent nodes
//
// Writes produced by a transaction are committed with SetAccounts so that a
// transaction's effects land together or not at all.
package accounts

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Crowdfund/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when a stored account is malformed.
	ErrInvalidData = errors.New("invalid account data")
)

// MaxAccountDataSize is the maximum size of an account's data region.
const MaxAccountDataSize = 10 * 1024 * 1024

// Account represents a single account in the state.
type Account struct {
	// Lamports is the account balance.
	Lamports uint64

	// Data is the account data region.
	Data []byte

	// Owner is the program that owns this account.
	// Only the owner program can modify the account data.
	Owner types.Pubkey

	// Executable marks program accounts. Their data cannot be modified.
	Executable bool

	// RentEpoch is the epoch at which rent was last collected.
	RentEpoch uint64
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Data = append([]byte(nil), a.Data...)
	return &c
}

// IsZero returns true if the account has no lamports and no data.
// Zero accounts are deleted from storage.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

// Size returns the total serialized size of the account.
func (a *Account) Size() int {
	// 8 (lamports) + 8 (data_len) + data + 32 (owner) + 1 (executable) + 8 (rent_epoch)
	return 8 + 8 + len(a.Data) + 32 + 1 + 8
}

// MarshalWithEncoder implements bin.BinaryMarshaler.
// Format: lamports (8) + data_len (8) + data + owner (32) + executable (1) + rent_epoch (8)
func (a Account) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint64(a.Lamports, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint64(uint64(len(a.Data)), bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteBytes(a.Data, false); err != nil {
		return err
	}
	if err := encoder.WriteBytes(a.Owner[:], false); err != nil {
		return err
	}
	if err := encoder.WriteBool(a.Executable); err != nil {
		return err
	}
	return encoder.WriteUint64(a.RentEpoch, bin.LE)
}

// UnmarshalWithDecoder implements bin.BinaryUnmarshaler.
func (a *Account) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if a.Lamports, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	dataLen, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	if dataLen > MaxAccountDataSize || dataLen > uint64(decoder.Remaining()) {
		return fmt.Errorf("data length %d out of range", dataLen)
	}
	data, err := decoder.ReadBytes(int(dataLen))
	if err != nil {
		return err
	}
	a.Data = append([]byte(nil), data...)

	owner, err := decoder.ReadBytes(types.PubkeySize)
	if err != nil {
		return err
	}
	copy(a.Owner[:], owner)

	if a.Executable, err = decoder.ReadBool(); err != nil {
		return err
	}
	a.RentEpoch, err = decoder.ReadUint64(bin.LE)
	return err
}

// Serialize encodes the account to bytes for storage.
func (a *Account) Serialize() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, a.Size()))
	// Writes to a bytes.Buffer do not fail.
	_ = a.MarshalWithEncoder(bin.NewBorshEncoder(buf))
	return buf.Bytes()
}

// DeserializeAccount decodes an account from bytes.
func DeserializeAccount(data []byte) (*Account, error) {
	var a Account
	if err := a.UnmarshalWithDecoder(bin.NewBorshDecoder(data)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &a, nil
}

// AccountEntry pairs a pubkey with its account.
type AccountEntry struct {
	Pubkey  types.Pubkey
	Account *Account
}

// DB is the accounts database interface.
// Implementations must be safe for concurrent use.
type DB interface {
	// GetAccount retrieves an account by public key.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// SetAccount stores an account.
	// If the account is zero (no lamports and no data), it will be deleted.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// SetAccounts stores every entry atomically. Zero accounts are deleted.
	SetAccounts(entries []AccountEntry) error

	// DeleteAccount removes an account.
	// Returns nil if the account doesn't exist.
	DeleteAccount(pubkey types.Pubkey) error

	// HasAccount checks if an account exists.
	HasAccount(pubkey types.Pubkey) (bool, error)

	// IterateAccounts calls fn for every account in ascending pubkey order.
	// Returning an error from fn stops iteration.
	IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error

	// GetSlot returns the current slot.
	GetSlot() uint64

	// SetSlot updates the current slot.
	SetSlot(slot uint64) error

	// AccountsCount returns the total number of accounts.
	AccountsCount() (uint64, error)

	// Commit persists pending metadata.
	Commit() error

	// Close closes the database.
	Close() error
}

// MemoryDB is an in-memory implementation of DB.
type MemoryDB struct {
	mu       sync.RWMutex
	accounts map[types.Pubkey]*Account
	slot     uint64
	closed   bool
}

// NewMemoryDB creates a new in-memory accounts database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[types.Pubkey]*Account),
	}
}

// GetAccount retrieves an account.
func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// SetAccount stores an account.
func (m *MemoryDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	return m.SetAccounts([]AccountEntry{{Pubkey: pubkey, Account: account}})
}

// SetAccounts stores every entry under a single lock.
func (m *MemoryDB) SetAccounts(entries []AccountEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	for _, e := range entries {
		if e.Account.IsZero() {
			delete(m.accounts, e.Pubkey)
			continue
		}
		m.accounts[e.Pubkey] = e.Account.Clone()
	}
	return nil
}

// DeleteAccount removes an account.
func (m *MemoryDB) DeleteAccount(pubkey types.Pubkey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.accounts, pubkey)
	return nil
}

// HasAccount checks if an account exists.
func (m *MemoryDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

// IterateAccounts iterates over a copy of all accounts in sorted pubkey order.
func (m *MemoryDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	entries := make([]AccountEntry, 0, len(m.accounts))
	for k, v := range m.accounts {
		entries = append(entries, AccountEntry{Pubkey: k, Account: v.Clone()})
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Pubkey[:], entries[j].Pubkey[:]) < 0
	})
	for _, e := range entries {
		if err := fn(e.Pubkey, e.Account); err != nil {
			return err
		}
	}
	return nil
}

// GetSlot returns the current slot.
func (m *MemoryDB) GetSlot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slot
}

// SetSlot updates the current slot.
func (m *MemoryDB) SetSlot(slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.slot = slot
	return nil
}

// AccountsCount returns the number of accounts.
func (m *MemoryDB) AccountsCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// Commit is a no-op for MemoryDB.
func (m *MemoryDB) Commit() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.accounts = nil
	return nil
}

// Verify that MemoryDB implements DB interface.
var _ DB = (*MemoryDB)(nil)
