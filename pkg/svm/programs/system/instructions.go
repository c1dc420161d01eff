package system

import (
	"bytes"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Crowdfund/internal/types"
	"github.com/fortiblox/X1-Crowdfund/pkg/svm"
)

func encode(discriminant uint32, args bin.BinaryMarshaler) []byte {
	var buf bytes.Buffer
	encoder := bin.NewBorshEncoder(&buf)
	// Writes to a bytes.Buffer do not fail.
	_ = encoder.WriteUint32(discriminant, bin.LE)
	if args != nil {
		_ = args.MarshalWithEncoder(encoder)
	}
	return buf.Bytes()
}

type uint64Arg uint64

func (a uint64Arg) MarshalWithEncoder(encoder *bin.Encoder) error {
	return encoder.WriteUint64(uint64(a), bin.LE)
}

type pubkeyArg types.Pubkey

func (a pubkeyArg) MarshalWithEncoder(encoder *bin.Encoder) error {
	return encoder.WriteBytes(a[:], false)
}

// CreateAccount builds an instruction that funds newAccount from funder,
// allocates space bytes and assigns it to owner. Both accounts must sign.
func CreateAccount(funder, newAccount types.Pubkey, lamports, space uint64, owner types.Pubkey) svm.Instruction {
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(funder, true, true),
			svm.NewAccountMeta(newAccount, true, true),
		},
		Data: encode(InstructionCreateAccount, CreateAccountParams{Lamports: lamports, Space: space, Owner: owner}),
	}
}

// CreateAccountWithSeed builds an instruction that creates the account at
// CreateWithSeed(base, seed, owner). The base account must sign.
func CreateAccountWithSeed(funder, newAccount, base types.Pubkey, seed string, lamports, space uint64, owner types.Pubkey) svm.Instruction {
	accounts := []svm.AccountMeta{
		svm.NewAccountMeta(funder, true, true),
		svm.NewAccountMeta(newAccount, false, true),
	}
	if base != funder {
		accounts = append(accounts, svm.NewAccountMeta(base, true, false))
	}
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  accounts,
		Data: encode(InstructionCreateAccountWithSeed, CreateAccountWithSeedParams{
			Base:     base,
			Seed:     seed,
			Lamports: lamports,
			Space:    space,
			Owner:    owner,
		}),
	}
}

// Assign builds an instruction that assigns account to owner.
func Assign(account, owner types.Pubkey) svm.Instruction {
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.NewAccountMeta(account, true, true)},
		Data:      encode(InstructionAssign, pubkeyArg(owner)),
	}
}

// Transfer builds an instruction that moves lamports from one account to another.
func Transfer(from, to types.Pubkey, lamports uint64) svm.Instruction {
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(from, true, true),
			svm.NewAccountMeta(to, false, true),
		},
		Data: encode(InstructionTransfer, uint64Arg(lamports)),
	}
}

// Allocate builds an instruction that allocates space bytes in account.
func Allocate(account types.Pubkey, space uint64) svm.Instruction {
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.NewAccountMeta(account, true, true)},
		Data:      encode(InstructionAllocate, uint64Arg(space)),
	}
}
