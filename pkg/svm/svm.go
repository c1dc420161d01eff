// Package svm defines the execution contract between the host runtime and the
// native programs it runs.
//
// A native program receives an InvokeContext for a single instruction. The
// context exposes the instruction's accounts as mutable AccountInfo values, the
// rent model, the compute meter and a log sink. Programs mutate AccountInfo in
// place; the runtime decides afterwards whether those mutations are committed.
package svm

import (
	"errors"

	"github.com/fortiblox/X1-Crowdfund/internal/types"
)

var (
	// ErrAccountNotFound is returned when an instruction account index is out of range.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidInstruction is returned for malformed instructions.
	ErrInvalidInstruction = errors.New("invalid instruction")
)

// AccountInfo holds account state during execution.
type AccountInfo struct {
	Key        types.Pubkey
	Owner      types.Pubkey
	Lamports   uint64
	Data       []byte
	Executable bool
	RentEpoch  uint64
	IsSigner   bool
	IsWritable bool
}

// Clone returns a deep copy of the account info.
func (a *AccountInfo) Clone() *AccountInfo {
	c := *a
	c.Data = append([]byte(nil), a.Data...)
	return &c
}

// DataLen returns the length of the account's data region.
func (a *AccountInfo) DataLen() uint64 {
	return uint64(len(a.Data))
}

// InvokeContext provides context for program execution.
type InvokeContext interface {
	// ProgramID returns the address of the program being invoked.
	ProgramID() types.Pubkey

	// NumAccounts returns the number of accounts passed to the instruction.
	NumAccounts() int

	// GetAccount returns the account at the given instruction index.
	GetAccount(index int) (*AccountInfo, error)

	// GetRentMinimum returns the rent-exempt minimum for given data size.
	GetRentMinimum(dataLen uint64) uint64

	// ConsumeCompute charges compute units against the transaction budget.
	ConsumeCompute(units uint64) error

	// Log records a log message.
	Log(msg string)
}

// Processor executes the instructions of one native program.
type Processor interface {
	Process(ctx InvokeContext, data []byte) error
}

// AccountMeta describes an account referenced by an instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is an uncompiled instruction: a program, the accounts it reads
// or writes, and its opaque data. The runtime compiles instructions into a
// transaction message.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// NewAccountMeta returns an AccountMeta with the given flags.
func NewAccountMeta(pubkey types.Pubkey, isSigner, isWritable bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: isSigner, IsWritable: isWritable}
}
