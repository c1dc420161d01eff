package types

import (
	"encoding/json"
	"testing"
)

func TestPubkeyBase58(t *testing.T) {
	if !SystemProgramAddr.IsZero() {
		t.Fatalf("system program address should be all zeros, got %s", SystemProgramAddr)
	}
	if SystemProgramAddr.String() != "11111111111111111111111111111111" {
		t.Errorf("String: got %s", SystemProgramAddr.String())
	}

	kp, err := NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair: %v", err)
	}
	parsed, err := PubkeyFromBase58(kp.Pubkey.String())
	if err != nil {
		t.Fatalf("PubkeyFromBase58: %v", err)
	}
	if parsed != kp.Pubkey {
		t.Errorf("round trip mismatch: got %s, want %s", parsed, kp.Pubkey)
	}

	if _, err := PubkeyFromBase58("3yZe7d"); err == nil {
		t.Error("expected error for short pubkey")
	}
	if _, err := PubkeyFromBytes(make([]byte, 31)); err != ErrInvalidPubkey {
		t.Errorf("PubkeyFromBytes: got %v, want ErrInvalidPubkey", err)
	}
}

func TestPubkeyJSON(t *testing.T) {
	kp, err := NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair: %v", err)
	}

	data, err := json.Marshal(map[string]Pubkey{"key": kp.Pubkey})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out map[string]Pubkey
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out["key"] != kp.Pubkey {
		t.Errorf("JSON round trip mismatch")
	}
}

func TestKeypairSignVerify(t *testing.T) {
	seed := make([]byte, 32)
	seed[0] = 7
	kp, err := KeypairFromSeed(seed)
	if err != nil {
		t.Fatalf("KeypairFromSeed: %v", err)
	}

	again, _ := KeypairFromSeed(seed)
	if again.Pubkey != kp.Pubkey {
		t.Error("seeded keypairs should be deterministic")
	}

	msg := []byte("campaign")
	sig := kp.Sign(msg)
	if !sig.Verify(kp.Pubkey, msg) {
		t.Error("signature should verify")
	}
	if sig.Verify(kp.Pubkey, []byte("other")) {
		t.Error("signature should not verify for a different message")
	}

	parsed, err := SignatureFromBase58(sig.String())
	if err != nil {
		t.Fatalf("SignatureFromBase58: %v", err)
	}
	if parsed != sig {
		t.Error("signature base58 round trip mismatch")
	}

	if _, err := KeypairFromSeed([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short seed")
	}
}
