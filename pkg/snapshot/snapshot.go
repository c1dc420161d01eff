package snapshot

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math/bits"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	bin "github.com/gagliardetto/binary"
	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/X1-Crowdfund/internal/types"
	"github.com/fortiblox/X1-Crowdfund/pkg/accounts"
)

// snapshot-SLOT-HASH.bin.zst
var snapshotPattern = regexp.MustCompile(`^snapshot-(\d+)-([1-9A-HJ-NP-Za-km-z]+)\.bin\.zst$`)

// FileName returns the canonical snapshot file name for slot and hash.
func FileName(slot uint64, hash types.Hash) string {
	return fmt.Sprintf("snapshot-%d-%s.bin.zst", slot, hash)
}

// FindSnapshots discovers available snapshots in a directory.
// Returns snapshots sorted by slot (newest first).
func FindSnapshots(dir string) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var snapshots []SnapshotInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := snapshotPattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}
		slot, err := strconv.ParseUint(matches[1], 10, 64)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, SnapshotInfo{
			Path: filepath.Join(dir, entry.Name()),
			Slot: slot,
			Hash: matches[2],
			Size: info.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Slot > snapshots[j].Slot
	})
	return snapshots, nil
}

// FindLatestSnapshot finds the most recent snapshot in a directory.
func FindLatestSnapshot(dir string) (*SnapshotInfo, error) {
	snapshots, err := FindSnapshots(dir)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, ErrSnapshotNotFound
	}
	return &snapshots[0], nil
}

// Write streams every account in db to w.
func Write(w io.Writer, db accounts.DB) (*SnapshotResult, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	bw := bufio.NewWriter(zw)
	encoder := bin.NewBorshEncoder(bw)

	result := &SnapshotResult{Slot: db.GetSlot()}
	if err := encoder.WriteBytes(magic[:], false); err != nil {
		return nil, err
	}
	if err := encoder.WriteUint32(Version, bin.LE); err != nil {
		return nil, err
	}
	if err := encoder.WriteUint64(result.Slot, bin.LE); err != nil {
		return nil, err
	}

	var hashes []types.Hash
	err = db.IterateAccounts(func(pubkey types.Pubkey, account *accounts.Account) error {
		if err := encoder.WriteUint8(entryAccount); err != nil {
			return err
		}
		if err := encoder.WriteBytes(pubkey[:], false); err != nil {
			return err
		}
		if err := account.MarshalWithEncoder(encoder); err != nil {
			return err
		}
		hashes = append(hashes, accounts.ComputeAccountHash(pubkey, account))
		result.AccountsLoaded++
		result.TotalLamports += account.Lamports
		return nil
	})
	if err != nil {
		zw.Close()
		return nil, fmt.Errorf("write accounts: %w", err)
	}

	result.AccountsHash = accounts.ComputeMerkleRoot(hashes)
	if err := encoder.WriteUint8(entryEnd); err != nil {
		return nil, err
	}
	if err := encoder.WriteUint64(result.AccountsLoaded, bin.LE); err != nil {
		return nil, err
	}
	if err := encoder.WriteBytes(result.AccountsHash[:], false); err != nil {
		return nil, err
	}

	if err := bw.Flush(); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zstd close: %w", err)
	}
	return result, nil
}

// Create writes a snapshot of db into dir and returns its metadata. The file
// is written under a temporary name and renamed once complete.
func Create(dir string, db accounts.DB) (*SnapshotInfo, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	result, err := Write(tmp, db)
	if err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, FileName(result.Slot, result.AccountsHash))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("rename snapshot: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &SnapshotInfo{
		Path: path,
		Slot: result.Slot,
		Hash: result.AccountsHash.String(),
		Size: info.Size(),
	}, nil
}

// Read decodes a snapshot stream and verifies its accounts hash. The
// accounts are returned in stream order.
func Read(r io.Reader) (*SnapshotResult, []accounts.AccountEntry, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}
	decoder := bin.NewBorshDecoder(data)

	head, err := decoder.ReadBytes(len(magic))
	if err != nil || !bytes.Equal(head, magic[:]) {
		return nil, nil, fmt.Errorf("%w: bad magic", ErrInvalidSnapshot)
	}
	version, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if version != Version {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	result := &SnapshotResult{}
	if result.Slot, err = decoder.ReadUint64(bin.LE); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	var (
		entries []accounts.AccountEntry
		hashes  []types.Hash
		prev    types.Pubkey
	)
	for {
		tag, err := decoder.ReadUint8()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		if tag == entryEnd {
			break
		}
		if tag != entryAccount {
			return nil, nil, fmt.Errorf("%w: unknown entry tag %d", ErrInvalidSnapshot, tag)
		}

		raw, err := decoder.ReadBytes(types.PubkeySize)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		var pubkey types.Pubkey
		copy(pubkey[:], raw)
		if len(entries) > 0 && bytes.Compare(prev[:], pubkey[:]) >= 0 {
			return nil, nil, fmt.Errorf("%w: accounts out of order at %s", ErrInvalidSnapshot, pubkey)
		}

		account := new(accounts.Account)
		if err := account.UnmarshalWithDecoder(decoder); err != nil {
			return nil, nil, fmt.Errorf("%w: account %s: %v", ErrInvalidSnapshot, pubkey, err)
		}
		if account.IsZero() {
			return nil, nil, fmt.Errorf("%w: empty account %s", ErrInvalidSnapshot, pubkey)
		}

		sum, carry := bits.Add64(result.TotalLamports, account.Lamports, 0)
		if carry != 0 {
			return nil, nil, fmt.Errorf("%w: lamport total overflows", ErrInvalidSnapshot)
		}
		result.TotalLamports = sum

		entries = append(entries, accounts.AccountEntry{Pubkey: pubkey, Account: account})
		hashes = append(hashes, accounts.ComputeAccountHash(pubkey, account))
		prev = pubkey
	}

	count, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if count != uint64(len(entries)) {
		return nil, nil, fmt.Errorf("%w: trailer count %d, read %d", ErrInvalidSnapshot, count, len(entries))
	}
	expected, err := decoder.ReadBytes(types.HashSize)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if decoder.Remaining() != 0 {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidSnapshot, decoder.Remaining())
	}

	result.AccountsLoaded = count
	result.AccountsHash = accounts.ComputeMerkleRoot(hashes)
	if !bytes.Equal(result.AccountsHash[:], expected) {
		return nil, nil, fmt.Errorf("%w: computed %s", ErrHashMismatch, result.AccountsHash)
	}
	return result, entries, nil
}

// Load restores the snapshot at path into an empty accounts database and
// sets its slot.
func Load(path string, db accounts.DB) (*SnapshotResult, error) {
	count, err := db.AccountsCount()
	if err != nil {
		return nil, err
	}
	if count != 0 {
		return nil, fmt.Errorf("%w: %d accounts", ErrNotEmpty, count)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	result, entries, err := Read(f)
	if err != nil {
		return nil, err
	}

	if err := db.SetAccounts(entries); err != nil {
		return nil, fmt.Errorf("store accounts: %w", err)
	}
	if err := db.SetSlot(result.Slot); err != nil {
		return nil, err
	}
	if err := db.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}
