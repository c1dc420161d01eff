package runtime

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fortiblox/X1-Crowdfund/internal/types"
	"github.com/fortiblox/X1-Crowdfund/pkg/svm"
	"github.com/fortiblox/X1-Crowdfund/pkg/svm/programs/system"
)

func testKeypair(t *testing.T, b byte) *types.Keypair {
	t.Helper()
	seed := bytes.Repeat([]byte{b}, 32)
	kp, err := types.KeypairFromSeed(seed)
	if err != nil {
		t.Fatalf("KeypairFromSeed failed: %v", err)
	}
	return kp
}

func testPubkey(b byte) types.Pubkey {
	var p types.Pubkey
	p[0] = b
	p[31] = b
	return p
}

func TestNewTransactionOrdering(t *testing.T) {
	payer := testPubkey(1)
	signer := testPubkey(2)
	writable := testPubkey(3)
	readonly := testPubkey(4)
	program := testPubkey(5)

	inst := svm.Instruction{
		ProgramID: program,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(readonly, false, false),
			svm.NewAccountMeta(writable, false, true),
			svm.NewAccountMeta(signer, true, false),
			svm.NewAccountMeta(payer, true, false),
		},
		Data: []byte{7},
	}

	tx, err := NewTransaction([]svm.Instruction{inst}, payer, types.Hash{1})
	if err != nil {
		t.Fatalf("NewTransaction failed: %v", err)
	}

	msg := tx.Message
	want := []types.Pubkey{payer, signer, writable, readonly, program}
	if len(msg.AccountKeys) != len(want) {
		t.Fatalf("account keys = %d, want %d", len(msg.AccountKeys), len(want))
	}
	for i := range want {
		if msg.AccountKeys[i] != want[i] {
			t.Errorf("AccountKeys[%d] = %s, want %s", i, msg.AccountKeys[i], want[i])
		}
	}

	if msg.Header.NumRequiredSignatures != 2 {
		t.Errorf("NumRequiredSignatures = %d, want 2", msg.Header.NumRequiredSignatures)
	}
	if msg.Header.NumReadonlySignedAccounts != 1 {
		t.Errorf("NumReadonlySignedAccounts = %d, want 1", msg.Header.NumReadonlySignedAccounts)
	}
	if msg.Header.NumReadonlyUnsignedAccounts != 2 {
		t.Errorf("NumReadonlyUnsignedAccounts = %d, want 2", msg.Header.NumReadonlyUnsignedAccounts)
	}

	// Payer keeps write access even though the instruction marks it read-only.
	if !msg.IsWritable(0) || !msg.IsSigner(0) {
		t.Error("payer should be a writable signer")
	}
	if msg.IsWritable(1) || !msg.IsSigner(1) {
		t.Error("second signer should be read-only")
	}
	if !msg.IsWritable(2) || msg.IsSigner(2) {
		t.Error("writable account flags wrong")
	}
	if msg.IsWritable(3) || msg.IsWritable(4) {
		t.Error("read-only accounts should not be writable")
	}

	compiled := msg.Instructions[0]
	if compiled.ProgramIDIndex != 4 {
		t.Errorf("ProgramIDIndex = %d, want 4", compiled.ProgramIDIndex)
	}
	if !bytes.Equal(compiled.AccountIndexes, []uint8{3, 2, 1, 0}) {
		t.Errorf("AccountIndexes = %v, want [3 2 1 0]", compiled.AccountIndexes)
	}
	if len(tx.Signatures) != 2 {
		t.Errorf("signatures = %d, want 2", len(tx.Signatures))
	}
	if err := msg.Sanitize(); err != nil {
		t.Errorf("Sanitize failed: %v", err)
	}
}

func TestTransactionSerializeRoundTrip(t *testing.T) {
	payer := testKeypair(t, 1)
	to := testPubkey(9)

	tx, err := NewTransaction([]svm.Instruction{system.Transfer(payer.Pubkey, to, 5000)}, payer.Pubkey, types.Hash{3})
	if err != nil {
		t.Fatalf("NewTransaction failed: %v", err)
	}
	if err := tx.Sign(payer); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	raw := tx.Serialize()
	decoded, err := DeserializeTransaction(raw)
	if err != nil {
		t.Fatalf("DeserializeTransaction failed: %v", err)
	}
	if !bytes.Equal(decoded.Serialize(), raw) {
		t.Error("re-serialized transaction differs")
	}
	if decoded.Signature() != tx.Signature() {
		t.Error("signature mismatch after round trip")
	}
	if decoded.FeePayer() != payer.Pubkey {
		t.Error("fee payer mismatch after round trip")
	}
	if err := decoded.VerifySignatures(); err != nil {
		t.Errorf("VerifySignatures failed after round trip: %v", err)
	}
}

func TestDeserializeTransactionMalformed(t *testing.T) {
	payer := testKeypair(t, 1)
	tx, err := NewTransaction([]svm.Instruction{system.Transfer(payer.Pubkey, testPubkey(2), 1)}, payer.Pubkey, types.Hash{})
	if err != nil {
		t.Fatalf("NewTransaction failed: %v", err)
	}
	if err := tx.Sign(payer); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	raw := tx.Serialize()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", raw[:len(raw)-1]},
		{"trailing", append(append([]byte{}, raw...), 0)},
		{"huge signature count", []byte{0xff, 0xff, 0xff, 0x7f}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DeserializeTransaction(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSignAndVerify(t *testing.T) {
	payer := testKeypair(t, 1)
	other := testKeypair(t, 2)
	stranger := testKeypair(t, 3)

	inst := system.CreateAccount(payer.Pubkey, other.Pubkey, 1_000_000, 0, system.ProgramID)
	tx, err := NewTransaction([]svm.Instruction{inst}, payer.Pubkey, types.Hash{})
	if err != nil {
		t.Fatalf("NewTransaction failed: %v", err)
	}

	if err := tx.Sign(payer); err == nil {
		t.Error("expected error when a signer is missing")
	}
	if err := tx.Sign(payer, other, stranger); err == nil {
		t.Error("expected error for a keypair that is not a signer")
	}
	if err := tx.Sign(other, payer); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if err := tx.VerifySignatures(); err != nil {
		t.Fatalf("VerifySignatures failed: %v", err)
	}

	tx.Message.Instructions[0].Data[4] ^= 0xff
	if err := tx.VerifySignatures(); !errors.Is(err, ErrSignatureVerification) {
		t.Errorf("tampered message: got %v, want ErrSignatureVerification", err)
	}

	tx.Signatures = tx.Signatures[:1]
	if err := tx.VerifySignatures(); !errors.Is(err, ErrSignatureVerification) {
		t.Errorf("short signatures: got %v, want ErrSignatureVerification", err)
	}
}

func TestSanitize(t *testing.T) {
	valid := func() Message {
		return Message{
			Header:      MessageHeader{NumRequiredSignatures: 1, NumReadonlyUnsignedAccounts: 1},
			AccountKeys: []types.Pubkey{testPubkey(1), testPubkey(2), testPubkey(3)},
			Instructions: []CompiledInstruction{
				{ProgramIDIndex: 2, AccountIndexes: []uint8{0, 1}},
			},
		}
	}

	if m := valid(); m.Sanitize() != nil {
		t.Fatalf("valid message rejected: %v", m.Sanitize())
	}

	tests := []struct {
		name   string
		mutate func(m *Message)
	}{
		{"no keys", func(m *Message) { m.AccountKeys = nil }},
		{"no signers", func(m *Message) { m.Header.NumRequiredSignatures = 0 }},
		{"too many signers", func(m *Message) { m.Header.NumRequiredSignatures = 4 }},
		{"read-only payer", func(m *Message) { m.Header.NumReadonlySignedAccounts = 1 }},
		{"too many read-only", func(m *Message) { m.Header.NumReadonlyUnsignedAccounts = 3 }},
		{"duplicate key", func(m *Message) { m.AccountKeys[1] = m.AccountKeys[0] }},
		{"program index out of range", func(m *Message) { m.Instructions[0].ProgramIDIndex = 3 }},
		{"program is payer", func(m *Message) { m.Instructions[0].ProgramIDIndex = 0 }},
		{"account index out of range", func(m *Message) { m.Instructions[0].AccountIndexes = []uint8{5} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(&m)
			if err := m.Sanitize(); !errors.Is(err, ErrInvalidTransaction) {
				t.Errorf("got %v, want ErrInvalidTransaction", err)
			}
		})
	}
}
