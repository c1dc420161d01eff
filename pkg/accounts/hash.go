package accounts

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/X1-Crowdfund/internal/types"
)

// Hashing
//
// 1. Account Hash: BLAKE3 of individual account fields
//    BLAKE3(lamports || rent_epoch || data || executable || owner || pubkey)
//    Zero accounts hash to the zero hash.
//
// 2. Accounts Hash: binary Merkle root over the account hashes of ALL
//    accounts, sorted by pubkey. Used to verify snapshots and exposed over RPC.
//
// 3. Delta Hash: the same Merkle root over the accounts written by a single
//    transaction. Recorded with each ledger entry.
//
// Merkle tree:
// - Leaf: SHA256(0x00 || hash)
// - Node: SHA256(0x01 || left || right)
// - If odd number of nodes, last node is paired with zero hash

// ComputeAccountHash computes the hash of a single account.
func ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	if account == nil || account.IsZero() {
		return types.Hash{}
	}

	h := blake3.New()
	var u64 [8]byte

	binary.LittleEndian.PutUint64(u64[:], account.Lamports)
	h.Write(u64[:])
	binary.LittleEndian.PutUint64(u64[:], account.RentEpoch)
	h.Write(u64[:])
	h.Write(account.Data)
	if account.Executable {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(account.Owner[:])
	h.Write(pubkey[:])

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ComputeAccountsHash computes the Merkle root over every account in db.
func ComputeAccountsHash(db DB) (types.Hash, error) {
	var hashes []types.Hash
	err := db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	return ComputeMerkleRoot(hashes), nil
}

// ComputeDeltaHash computes the Merkle root over the given accounts as they
// are currently stored. Deleted accounts contribute the zero hash.
// The pubkeys are sorted in place.
func ComputeDeltaHash(db DB, pubkeys []types.Pubkey) (types.Hash, error) {
	if len(pubkeys) == 0 {
		return types.Hash{}, nil
	}
	SortPubkeys(pubkeys)

	hashes := make([]types.Hash, 0, len(pubkeys))
	for _, pubkey := range pubkeys {
		account, err := db.GetAccount(pubkey)
		if errors.Is(err, ErrAccountNotFound) {
			hashes = append(hashes, types.Hash{})
			continue
		}
		if err != nil {
			return types.Hash{}, err
		}
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
	}
	return ComputeMerkleRoot(hashes), nil
}

// ComputeMerkleRoot computes the Merkle root of a list of hashes.
func ComputeMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = computeLeafHash(h)
	}

	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = computeNodeHash(level[i], right)
		}
		level = next
	}

	return level[0]
}

func computeLeafHash(data types.Hash) types.Hash {
	var buf [1 + types.HashSize]byte
	buf[0] = 0x00
	copy(buf[1:], data[:])
	return sha256.Sum256(buf[:])
}

func computeNodeHash(left, right types.Hash) types.Hash {
	var buf [1 + 2*types.HashSize]byte
	buf[0] = 0x01
	copy(buf[1:], left[:])
	copy(buf[1+types.HashSize:], right[:])
	return sha256.Sum256(buf[:])
}

// SortPubkeys sorts a slice of pubkeys in ascending order.
func SortPubkeys(pubkeys []types.Pubkey) {
	sort.Slice(pubkeys, func(i, j int) bool {
		return bytes.Compare(pubkeys[i][:], pubkeys[j][:]) < 0
	})
}
