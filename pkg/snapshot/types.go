// Package snapshot saves and restores the full account state.
//
// A snapshot lets a node restart from a known slot without its original data
// directory. Snapshots are zstd-compressed streams named
// snapshot-SLOT-HASH.bin.zst with the following layout:
//
//	magic      8 bytes  "XCFSNAP\x00"
//	version    u32
//	slot       u64
//	accounts   repeated: 0x01, pubkey (32 bytes), account (accounts.Account encoding)
//	end        0x00
//	count      u64
//	hash       32 bytes, the accounts hash of every account in the stream
//
// Accounts appear in ascending pubkey order. Load recomputes the accounts hash
// and refuses a snapshot whose trailer does not match.
package snapshot

import (
	"errors"

	"github.com/fortiblox/X1-Crowdfund/internal/types"
)

// Errors returned by the snapshot package.
var (
	// ErrInvalidSnapshot indicates the snapshot file is malformed.
	ErrInvalidSnapshot = errors.New("invalid snapshot")

	// ErrUnsupportedVersion indicates the snapshot version is not supported.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")

	// ErrHashMismatch indicates the computed hash doesn't match expected.
	ErrHashMismatch = errors.New("snapshot hash mismatch")

	// ErrSnapshotNotFound indicates no snapshot was found at the path.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrDecompressionFailed indicates zstd decompression failed.
	ErrDecompressionFailed = errors.New("decompression failed")

	// ErrNotEmpty indicates a snapshot was loaded into a database that
	// already holds accounts.
	ErrNotEmpty = errors.New("accounts database is not empty")
)

// Version is the current snapshot format version.
const Version uint32 = 1

var magic = [8]byte{'X', 'C', 'F', 'S', 'N', 'A', 'P', 0}

const (
	entryAccount byte = 0x01
	entryEnd     byte = 0x00
)

// SnapshotInfo contains metadata about a snapshot file.
type SnapshotInfo struct {
	// Path is the full path to the snapshot file.
	Path string

	// Slot is the slot at which the snapshot was taken.
	Slot uint64

	// Hash is the base58 accounts hash from the filename.
	Hash string

	// Size is the file size in bytes.
	Size int64
}

// SnapshotResult contains the result of writing or loading a snapshot.
type SnapshotResult struct {
	// Slot is the slot of the snapshot.
	Slot uint64

	// AccountsLoaded is the number of accounts in the snapshot.
	AccountsLoaded uint64

	// TotalLamports is the sum of all account balances.
	TotalLamports uint64

	// AccountsHash is the Merkle root over all snapshot accounts.
	AccountsHash types.Hash
}
