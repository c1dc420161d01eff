package main

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestOpenLedgerInMemoryRemovesTempDir(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	store, closeLedger, err := openLedger(&Config{InMemory: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("openLedger failed: %v", err)
	}
	if store == nil {
		t.Fatal("openLedger returned nil store")
	}

	dirs, err := filepath.Glob(filepath.Join(tmp, "crowdfund-ledger-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 1 {
		t.Fatalf("expected one ledger temp dir, found %v", dirs)
	}

	closeLedger()

	dirs, err = filepath.Glob(filepath.Join(tmp, "crowdfund-ledger-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 0 {
		t.Errorf("ledger temp dir left behind: %v", dirs)
	}
}

func TestOpenLedgerOnDiskKeepsDataDir(t *testing.T) {
	dataDir := t.TempDir()

	_, closeLedger, err := openLedger(&Config{DataDir: dataDir}, zerolog.Nop())
	if err != nil {
		t.Fatalf("openLedger failed: %v", err)
	}
	closeLedger()

	matches, err := filepath.Glob(filepath.Join(dataDir, "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Errorf("ledger.db should remain in the data dir, found %v", matches)
	}
}
