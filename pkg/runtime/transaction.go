package runtime

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Crowdfund/internal/types"
	"github.com/fortiblox/X1-Crowdfund/pkg/svm"
)

// MaxAccountKeys is the largest number of account keys a message may carry,
// bounded by the u8 account indexes of compiled instructions.
const MaxAccountKeys = 256

// MaxTransactionSize bounds the wire size of a transaction.
const MaxTransactionSize = 64 * 1024

// MessageHeader describes the account types in a transaction.
//
// Account keys are ordered: writable signers, read-only signers, writable
// non-signers, read-only non-signers.
type MessageHeader struct {
	NumRequiredSignatures       uint8 `json:"numRequiredSignatures"`
	NumReadonlySignedAccounts   uint8 `json:"numReadonlySignedAccounts"`
	NumReadonlyUnsignedAccounts uint8 `json:"numReadonlyUnsignedAccounts"`
}

// CompiledInstruction references its program and accounts by index into the
// message's account keys.
type CompiledInstruction struct {
	ProgramIDIndex uint8   `json:"programIdIndex"`
	AccountIndexes []uint8 `json:"accounts"`
	Data           []byte  `json:"data"`
}

// Message is the signed portion of a transaction.
type Message struct {
	Header          MessageHeader         `json:"header"`
	AccountKeys     []types.Pubkey        `json:"accountKeys"`
	RecentBlockhash types.Hash            `json:"recentBlockhash"`
	Instructions    []CompiledInstruction `json:"instructions"`
}

// Transaction is a message plus one signature per required signer.
type Transaction struct {
	Signatures []types.Signature `json:"signatures"`
	Message    Message           `json:"message"`
}

// IsSigner reports whether the account at index must sign.
func (m *Message) IsSigner(index int) bool {
	return index < int(m.Header.NumRequiredSignatures)
}

// IsWritable reports whether the account at index may be written.
func (m *Message) IsWritable(index int) bool {
	return isAccountWritable(index,
		int(m.Header.NumRequiredSignatures),
		int(m.Header.NumReadonlySignedAccounts),
		int(m.Header.NumReadonlyUnsignedAccounts),
		len(m.AccountKeys))
}

// isAccountWritable determines if an account is writable based on its position.
func isAccountWritable(index, numSigners, numReadonlySigned, numReadonlyUnsigned, total int) bool {
	if index < numSigners {
		// Signer accounts: first (numSigners - numReadonlySigned) are writable
		return index < (numSigners - numReadonlySigned)
	}
	// Non-signer accounts: first (total - numSigners - numReadonlyUnsigned) are writable
	nonSignerIndex := index - numSigners
	numWritableUnsigned := total - numSigners - numReadonlyUnsigned
	return nonSignerIndex < numWritableUnsigned
}

// Sanitize checks the structural invariants of a message.
func (m *Message) Sanitize() error {
	h := m.Header
	n := len(m.AccountKeys)
	switch {
	case n == 0:
		return fmt.Errorf("%w: no account keys", ErrInvalidTransaction)
	case n > MaxAccountKeys:
		return fmt.Errorf("%w: %d account keys", ErrInvalidTransaction, n)
	case h.NumRequiredSignatures == 0:
		return fmt.Errorf("%w: no fee payer signature", ErrInvalidTransaction)
	case int(h.NumRequiredSignatures) > n:
		return fmt.Errorf("%w: more signers than accounts", ErrInvalidTransaction)
	case h.NumReadonlySignedAccounts >= h.NumRequiredSignatures:
		return fmt.Errorf("%w: fee payer must be writable", ErrInvalidTransaction)
	case int(h.NumReadonlyUnsignedAccounts) > n-int(h.NumRequiredSignatures):
		return fmt.Errorf("%w: too many read-only unsigned accounts", ErrInvalidTransaction)
	}

	seen := make(map[types.Pubkey]struct{}, n)
	for _, key := range m.AccountKeys {
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate account key %s", ErrInvalidTransaction, key)
		}
		seen[key] = struct{}{}
	}

	for i, inst := range m.Instructions {
		if int(inst.ProgramIDIndex) >= n {
			return fmt.Errorf("%w: instruction %d program index out of range", ErrInvalidTransaction, i)
		}
		if inst.ProgramIDIndex == 0 {
			return fmt.Errorf("%w: instruction %d invokes the fee payer", ErrInvalidTransaction, i)
		}
		for _, idx := range inst.AccountIndexes {
			if int(idx) >= n {
				return fmt.Errorf("%w: instruction %d account index %d out of range", ErrInvalidTransaction, i, idx)
			}
		}
	}
	return nil
}

// MarshalWithEncoder implements bin.BinaryMarshaler.
func (m Message) MarshalWithEncoder(encoder *bin.Encoder) error {
	for _, b := range []uint8{m.Header.NumRequiredSignatures, m.Header.NumReadonlySignedAccounts, m.Header.NumReadonlyUnsignedAccounts} {
		if err := encoder.WriteUint8(b); err != nil {
			return err
		}
	}

	if err := encoder.WriteUint32(uint32(len(m.AccountKeys)), bin.LE); err != nil {
		return err
	}
	for _, key := range m.AccountKeys {
		if err := encoder.WriteBytes(key[:], false); err != nil {
			return err
		}
	}

	if err := encoder.WriteBytes(m.RecentBlockhash[:], false); err != nil {
		return err
	}

	if err := encoder.WriteUint32(uint32(len(m.Instructions)), bin.LE); err != nil {
		return err
	}
	for _, inst := range m.Instructions {
		if err := encoder.WriteUint8(inst.ProgramIDIndex); err != nil {
			return err
		}
		if err := encoder.WriteUint32(uint32(len(inst.AccountIndexes)), bin.LE); err != nil {
			return err
		}
		if err := encoder.WriteBytes(inst.AccountIndexes, false); err != nil {
			return err
		}
		if err := encoder.WriteUint32(uint32(len(inst.Data)), bin.LE); err != nil {
			return err
		}
		if err := encoder.WriteBytes(inst.Data, false); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalWithDecoder implements bin.BinaryUnmarshaler.
func (m *Message) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if m.Header.NumRequiredSignatures, err = decoder.ReadUint8(); err != nil {
		return err
	}
	if m.Header.NumReadonlySignedAccounts, err = decoder.ReadUint8(); err != nil {
		return err
	}
	if m.Header.NumReadonlyUnsignedAccounts, err = decoder.ReadUint8(); err != nil {
		return err
	}

	numKeys, err := readCount(decoder, types.PubkeySize)
	if err != nil {
		return fmt.Errorf("account keys: %w", err)
	}
	m.AccountKeys = make([]types.Pubkey, numKeys)
	for i := range m.AccountKeys {
		b, err := decoder.ReadBytes(types.PubkeySize)
		if err != nil {
			return err
		}
		copy(m.AccountKeys[i][:], b)
	}

	b, err := decoder.ReadBytes(types.HashSize)
	if err != nil {
		return fmt.Errorf("recent blockhash: %w", err)
	}
	copy(m.RecentBlockhash[:], b)

	// Each instruction is at least 1 + 4 + 4 bytes.
	numInstructions, err := readCount(decoder, 9)
	if err != nil {
		return fmt.Errorf("instructions: %w", err)
	}
	m.Instructions = make([]CompiledInstruction, numInstructions)
	for i := range m.Instructions {
		inst := &m.Instructions[i]
		if inst.ProgramIDIndex, err = decoder.ReadUint8(); err != nil {
			return err
		}
		n, err := readCount(decoder, 1)
		if err != nil {
			return fmt.Errorf("instruction %d accounts: %w", i, err)
		}
		idx, err := decoder.ReadBytes(n)
		if err != nil {
			return err
		}
		inst.AccountIndexes = append([]uint8{}, idx...)

		n, err = readCount(decoder, 1)
		if err != nil {
			return fmt.Errorf("instruction %d data: %w", i, err)
		}
		data, err := decoder.ReadBytes(n)
		if err != nil {
			return err
		}
		inst.Data = append([]byte{}, data...)
	}
	return nil
}

// Serialize returns the wire encoding of the message. This is the byte
// string signers sign.
func (m *Message) Serialize() []byte {
	var buf bytes.Buffer
	// Writes to a bytes.Buffer do not fail.
	_ = m.MarshalWithEncoder(bin.NewBorshEncoder(&buf))
	return buf.Bytes()
}

// MarshalWithEncoder implements bin.BinaryMarshaler.
func (tx Transaction) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint32(uint32(len(tx.Signatures)), bin.LE); err != nil {
		return err
	}
	for _, sig := range tx.Signatures {
		if err := encoder.WriteBytes(sig[:], false); err != nil {
			return err
		}
	}
	return tx.Message.MarshalWithEncoder(encoder)
}

// UnmarshalWithDecoder implements bin.BinaryUnmarshaler.
func (tx *Transaction) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	numSigs, err := readCount(decoder, types.SignatureSize)
	if err != nil {
		return fmt.Errorf("signatures: %w", err)
	}
	tx.Signatures = make([]types.Signature, numSigs)
	for i := range tx.Signatures {
		b, err := decoder.ReadBytes(types.SignatureSize)
		if err != nil {
			return err
		}
		copy(tx.Signatures[i][:], b)
	}
	return tx.Message.UnmarshalWithDecoder(decoder)
}

// Serialize returns the wire encoding of the transaction.
func (tx *Transaction) Serialize() []byte {
	var buf bytes.Buffer
	_ = tx.MarshalWithEncoder(bin.NewBorshEncoder(&buf))
	return buf.Bytes()
}

// DeserializeTransaction decodes a transaction that must occupy data exactly.
func DeserializeTransaction(data []byte) (*Transaction, error) {
	if len(data) > MaxTransactionSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidTransaction, len(data), MaxTransactionSize)
	}
	decoder := bin.NewBorshDecoder(data)
	var tx Transaction
	if err := tx.UnmarshalWithDecoder(decoder); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	if decoder.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidTransaction, decoder.Remaining())
	}
	return &tx, nil
}

// readCount reads a u32 element count and checks that count elements of at
// least minSize bytes can fit in the remaining input.
func readCount(decoder *bin.Decoder, minSize int) (int, error) {
	n, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return 0, err
	}
	if uint64(n)*uint64(minSize) > uint64(decoder.Remaining()) {
		return 0, fmt.Errorf("count %d exceeds remaining input", n)
	}
	return int(n), nil
}

// Signature returns the transaction's first signature, which identifies it.
func (tx *Transaction) Signature() types.Signature {
	if len(tx.Signatures) == 0 {
		return types.Signature{}
	}
	return tx.Signatures[0]
}

// FeePayer returns the first account key.
func (tx *Transaction) FeePayer() types.Pubkey {
	if len(tx.Message.AccountKeys) == 0 {
		return types.Pubkey{}
	}
	return tx.Message.AccountKeys[0]
}

// Sign replaces the transaction's signatures with signatures from the given
// keypairs. Every required signer must be covered and every keypair must be a
// required signer.
func (tx *Transaction) Sign(signers ...*types.Keypair) error {
	msg := tx.Message.Serialize()
	n := int(tx.Message.Header.NumRequiredSignatures)
	tx.Signatures = make([]types.Signature, n)

	used := 0
	for i := 0; i < n; i++ {
		key := tx.Message.AccountKeys[i]
		for _, kp := range signers {
			if kp.Pubkey == key {
				tx.Signatures[i] = kp.Sign(msg)
				used++
				break
			}
		}
		if tx.Signatures[i].IsZero() {
			return fmt.Errorf("missing keypair for signer %s", key)
		}
	}
	if used < len(signers) {
		return errors.New("keypair is not a required signer")
	}
	return nil
}

// VerifySignatures checks every required signature against the message.
func (tx *Transaction) VerifySignatures() error {
	n := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) != n {
		return fmt.Errorf("%w: %d signatures for %d signers", ErrSignatureVerification, len(tx.Signatures), n)
	}
	msg := tx.Message.Serialize()
	for i, sig := range tx.Signatures {
		if !sig.Verify(tx.Message.AccountKeys[i], msg) {
			return fmt.Errorf("%w: signer %s", ErrSignatureVerification, tx.Message.AccountKeys[i])
		}
	}
	return nil
}

// NewTransaction compiles instructions into an unsigned transaction paid by
// payer. Account flags are merged across instructions and keys are ordered
// as described on MessageHeader, with the payer first.
func NewTransaction(instructions []svm.Instruction, payer types.Pubkey, recentBlockhash types.Hash) (*Transaction, error) {
	type keyMeta struct {
		key                  types.Pubkey
		isSigner, isWritable bool
	}

	var order []types.Pubkey
	metas := make(map[types.Pubkey]*keyMeta)
	add := func(key types.Pubkey, signer, writable bool) {
		m, ok := metas[key]
		if !ok {
			m = &keyMeta{key: key}
			metas[key] = m
			order = append(order, key)
		}
		m.isSigner = m.isSigner || signer
		m.isWritable = m.isWritable || writable
	}

	add(payer, true, true)
	for _, inst := range instructions {
		for _, acc := range inst.Accounts {
			add(acc.Pubkey, acc.IsSigner, acc.IsWritable)
		}
		add(inst.ProgramID, false, false)
	}

	// Stable partition into the four header groups.
	var groups [4][]types.Pubkey
	for _, key := range order {
		m := metas[key]
		switch {
		case m.isSigner && m.isWritable:
			groups[0] = append(groups[0], key)
		case m.isSigner:
			groups[1] = append(groups[1], key)
		case m.isWritable:
			groups[2] = append(groups[2], key)
		default:
			groups[3] = append(groups[3], key)
		}
	}

	var keys []types.Pubkey
	for _, g := range groups {
		keys = append(keys, g...)
	}
	if len(keys) > MaxAccountKeys {
		return nil, fmt.Errorf("%w: %d account keys", ErrInvalidTransaction, len(keys))
	}

	index := make(map[types.Pubkey]uint8, len(keys))
	for i, key := range keys {
		index[key] = uint8(i)
	}

	msg := Message{
		Header: MessageHeader{
			NumRequiredSignatures:       uint8(len(groups[0]) + len(groups[1])),
			NumReadonlySignedAccounts:   uint8(len(groups[1])),
			NumReadonlyUnsignedAccounts: uint8(len(groups[3])),
		},
		AccountKeys:     keys,
		RecentBlockhash: recentBlockhash,
	}
	for _, inst := range instructions {
		compiled := CompiledInstruction{
			ProgramIDIndex: index[inst.ProgramID],
			AccountIndexes: make([]uint8, len(inst.Accounts)),
			Data:           append([]byte{}, inst.Data...),
		}
		for i, acc := range inst.Accounts {
			compiled.AccountIndexes[i] = index[acc.Pubkey]
		}
		msg.Instructions = append(msg.Instructions, compiled)
	}

	return &Transaction{
		Signatures: make([]types.Signature, msg.Header.NumRequiredSignatures),
		Message:    msg,
	}, nil
}
