// Package system implements the System Program.
//
// The System Program is responsible for:
// - Creating new accounts and funding them
// - Transferring lamports between system-owned accounts
// - Assigning account ownership
// - Allocating account space
//
// Campaign and donor staging accounts are created here and then assigned to
// the crowdfund program.
package system

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Crowdfund/internal/types"
	"github.com/fortiblox/X1-Crowdfund/pkg/svm"
)

// ProgramID is the System Program address.
var ProgramID = types.SystemProgramAddr

// Instruction discriminants. Gaps are reserved for the nonce instructions,
// which are not supported.
const (
	InstructionCreateAccount         uint32 = 0
	InstructionAssign                uint32 = 1
	InstructionTransfer              uint32 = 2
	InstructionCreateAccountWithSeed uint32 = 3
	InstructionAllocate              uint32 = 8
)

// Error types.
var (
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrAccountAlreadyInUse      = errors.New("account already in use")
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrInvalidAccountOwner      = errors.New("invalid account owner")
	ErrAccountNotRentExempt     = errors.New("account not rent exempt")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrAccountDataTooSmall      = errors.New("account data too small")
	ErrAccountDataTooLarge      = errors.New("account data too large")
	ErrInvalidSeed              = errors.New("invalid seed")
	ErrAddressMismatch          = errors.New("address with seed mismatch")
	ErrAccountNotWritable       = errors.New("account not writable")
	ErrLamportOverflow          = errors.New("lamport overflow")
)

// MaxAccountDataSize is the largest data region an account may hold.
const MaxAccountDataSize = 10 * 1024 * 1024 // 10 MB

// MaxSeedLen is the longest seed accepted by CreateAccountWithSeed.
const MaxSeedLen = 32

// Processor executes System Program instructions.
type Processor struct{}

// NewProcessor creates a new System Program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes a System Program instruction.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCompute(svm.CUSystemProgramDefault); err != nil {
		return err
	}

	decoder := bin.NewBorshDecoder(data)
	instruction, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
	}

	switch instruction {
	case InstructionCreateAccount:
		return p.processCreateAccount(ctx, decoder)
	case InstructionAssign:
		return p.processAssign(ctx, decoder)
	case InstructionTransfer:
		return p.processTransfer(ctx, decoder)
	case InstructionCreateAccountWithSeed:
		return p.processCreateAccountWithSeed(ctx, decoder)
	case InstructionAllocate:
		return p.processAllocate(ctx, decoder)
	default:
		return fmt.Errorf("%w: unsupported instruction %d", ErrInvalidInstructionData, instruction)
	}
}

// CreateAccountParams for CreateAccount instruction.
type CreateAccountParams struct {
	Lamports uint64
	Space    uint64
	Owner    types.Pubkey
}

// MarshalWithEncoder implements bin.BinaryMarshaler.
func (c CreateAccountParams) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint64(c.Lamports, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint64(c.Space, bin.LE); err != nil {
		return err
	}
	return encoder.WriteBytes(c.Owner[:], false)
}

// UnmarshalWithDecoder implements bin.BinaryUnmarshaler.
func (c *CreateAccountParams) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if c.Lamports, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if c.Space, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	return readPubkey(decoder, &c.Owner)
}

// processCreateAccount creates a new account.
//
// Accounts: [0] funding (signer, writable), [1] new account (signer, writable).
func (p *Processor) processCreateAccount(ctx svm.InvokeContext, decoder *bin.Decoder) error {
	var params CreateAccountParams
	if err := params.UnmarshalWithDecoder(decoder); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
	}

	funder, err := getAccount(ctx, 0)
	if err != nil {
		return err
	}
	newAccount, err := getAccount(ctx, 1)
	if err != nil {
		return err
	}

	if !funder.IsSigner || !newAccount.IsSigner {
		return ErrMissingRequiredSignature
	}

	if err := createAccount(ctx, funder, newAccount, params); err != nil {
		return err
	}

	ctx.Log("CreateAccount: success")
	return nil
}

// CreateAccountWithSeedParams for CreateAccountWithSeed instruction.
type CreateAccountWithSeedParams struct {
	Base     types.Pubkey
	Seed     string
	Lamports uint64
	Space    uint64
	Owner    types.Pubkey
}

// MarshalWithEncoder implements bin.BinaryMarshaler. The seed is encoded with
// a u64 length prefix.
func (c CreateAccountWithSeedParams) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteBytes(c.Base[:], false); err != nil {
		return err
	}
	if err := encoder.WriteUint64(uint64(len(c.Seed)), bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteBytes([]byte(c.Seed), false); err != nil {
		return err
	}
	return CreateAccountParams{Lamports: c.Lamports, Space: c.Space, Owner: c.Owner}.MarshalWithEncoder(encoder)
}

// UnmarshalWithDecoder implements bin.BinaryUnmarshaler.
func (c *CreateAccountWithSeedParams) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	if err := readPubkey(decoder, &c.Base); err != nil {
		return err
	}
	seedLen, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	if seedLen > MaxSeedLen {
		return ErrInvalidSeed
	}
	seed, err := decoder.ReadBytes(int(seedLen))
	if err != nil {
		return err
	}
	c.Seed = string(seed)

	var params CreateAccountParams
	if err := params.UnmarshalWithDecoder(decoder); err != nil {
		return err
	}
	c.Lamports, c.Space, c.Owner = params.Lamports, params.Space, params.Owner
	return nil
}

// processCreateAccountWithSeed creates an account at an address derived from
// base, seed and owner, so the new account does not need to sign.
//
// Accounts: [0] funding (signer, writable), [1] new account (writable),
// [2] base (signer) when base differs from the funding account.
func (p *Processor) processCreateAccountWithSeed(ctx svm.InvokeContext, decoder *bin.Decoder) error {
	var params CreateAccountWithSeedParams
	if err := params.UnmarshalWithDecoder(decoder); err != nil {
		if errors.Is(err, ErrInvalidSeed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
	}

	funder, err := getAccount(ctx, 0)
	if err != nil {
		return err
	}
	newAccount, err := getAccount(ctx, 1)
	if err != nil {
		return err
	}

	if !funder.IsSigner {
		return ErrMissingRequiredSignature
	}
	if params.Base != funder.Key {
		base, err := getAccount(ctx, 2)
		if err != nil {
			return err
		}
		if base.Key != params.Base || !base.IsSigner {
			return ErrMissingRequiredSignature
		}
	}

	expected, err := CreateWithSeed(params.Base, params.Seed, params.Owner)
	if err != nil {
		return err
	}
	if expected != newAccount.Key {
		return fmt.Errorf("%w: expected %s, got %s", ErrAddressMismatch, expected, newAccount.Key)
	}

	if err := createAccount(ctx, funder, newAccount, CreateAccountParams{
		Lamports: params.Lamports,
		Space:    params.Space,
		Owner:    params.Owner,
	}); err != nil {
		return err
	}

	ctx.Log("CreateAccountWithSeed: success")
	return nil
}

func createAccount(ctx svm.InvokeContext, funder, newAccount *svm.AccountInfo, params CreateAccountParams) error {
	if params.Space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}
	if !funder.IsWritable || !newAccount.IsWritable {
		return ErrAccountNotWritable
	}

	// Verify new account is empty (owned by system program and no data)
	if newAccount.Owner != ProgramID || len(newAccount.Data) > 0 || newAccount.Lamports > 0 {
		ctx.Log(fmt.Sprintf("Create Account: account %s already in use", newAccount.Key))
		return ErrAccountAlreadyInUse
	}

	if funder.Lamports < params.Lamports {
		ctx.Log(fmt.Sprintf("Transfer: insufficient lamports %d, need %d", funder.Lamports, params.Lamports))
		return ErrInsufficientFunds
	}

	rentMinimum := ctx.GetRentMinimum(params.Space)
	if params.Lamports < rentMinimum {
		return fmt.Errorf("%w: %d lamports, need %d", ErrAccountNotRentExempt, params.Lamports, rentMinimum)
	}

	funder.Lamports -= params.Lamports
	newAccount.Lamports = params.Lamports
	newAccount.Data = make([]byte, params.Space)
	newAccount.Owner = params.Owner
	return nil
}

// processAssign changes the owner of an account.
//
// Accounts: [0] account (signer, writable).
func (p *Processor) processAssign(ctx svm.InvokeContext, decoder *bin.Decoder) error {
	var newOwner types.Pubkey
	if err := readPubkey(decoder, &newOwner); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
	}

	account, err := getAccount(ctx, 0)
	if err != nil {
		return err
	}
	if account.Owner == newOwner {
		return nil
	}
	if !account.IsSigner {
		return ErrMissingRequiredSignature
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}

	account.Owner = newOwner

	ctx.Log("Assign: success")
	return nil
}

// processTransfer transfers lamports between accounts.
//
// Accounts: [0] from (signer, writable, system-owned), [1] to (writable).
func (p *Processor) processTransfer(ctx svm.InvokeContext, decoder *bin.Decoder) error {
	lamports, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
	}

	from, err := getAccount(ctx, 0)
	if err != nil {
		return err
	}
	to, err := getAccount(ctx, 1)
	if err != nil {
		return err
	}

	if !from.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !from.IsWritable || !to.IsWritable {
		return ErrAccountNotWritable
	}
	if from.Owner != ProgramID || len(from.Data) > 0 {
		return fmt.Errorf("%w: from must not carry data", ErrInvalidAccountOwner)
	}

	if from.Lamports < lamports {
		ctx.Log(fmt.Sprintf("Transfer: insufficient lamports %d, need %d", from.Lamports, lamports))
		return ErrInsufficientFunds
	}
	if from.Key != to.Key && to.Lamports > math.MaxUint64-lamports {
		return ErrLamportOverflow
	}

	from.Lamports -= lamports
	to.Lamports += lamports

	ctx.Log("Transfer: success")
	return nil
}

// processAllocate allocates space in an account.
//
// Accounts: [0] account (signer, writable, system-owned).
func (p *Processor) processAllocate(ctx svm.InvokeContext, decoder *bin.Decoder) error {
	space, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
	}
	if space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	account, err := getAccount(ctx, 0)
	if err != nil {
		return err
	}
	if !account.IsSigner {
		return ErrMissingRequiredSignature
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}
	if len(account.Data) > 0 {
		return ErrAccountAlreadyInUse
	}

	account.Data = make([]byte, space)

	ctx.Log("Allocate: success")
	return nil
}

// CreateWithSeed derives an address from base, seed and owner as
// SHA256(base || seed || owner).
func CreateWithSeed(base types.Pubkey, seed string, owner types.Pubkey) (types.Pubkey, error) {
	if len(seed) > MaxSeedLen {
		return types.Pubkey{}, ErrInvalidSeed
	}
	h := sha256.New()
	h.Write(base[:])
	h.Write([]byte(seed))
	h.Write(owner[:])

	var result types.Pubkey
	copy(result[:], h.Sum(nil))
	return result, nil
}

func getAccount(ctx svm.InvokeContext, index int) (*svm.AccountInfo, error) {
	acct, err := ctx.GetAccount(index)
	if err != nil {
		return nil, fmt.Errorf("%w: index %d", ErrNotEnoughAccountKeys, index)
	}
	return acct, nil
}

func readPubkey(decoder *bin.Decoder, dst *types.Pubkey) error {
	b, err := decoder.ReadBytes(types.PubkeySize)
	if err != nil {
		return err
	}
	copy(dst[:], b)
	return nil
}

var _ svm.Processor = (*Processor)(nil)
