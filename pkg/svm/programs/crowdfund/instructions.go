package crowdfund

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Crowdfund/internal/types"
	"github.com/fortiblox/X1-Crowdfund/pkg/svm"
)

// Opcode is the first byte of a crowdfund instruction payload.
type Opcode uint8

// Crowdfund instruction opcodes.
const (
	OpcodeCreateCampaign Opcode = 0
	OpcodeWithdraw       Opcode = 1
	OpcodeDonate         Opcode = 2
)

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpcodeCreateCampaign:
		return "CreateCampaign"
	case OpcodeWithdraw:
		return "Withdraw"
	case OpcodeDonate:
		return "Donate"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(o))
	}
}

// Instruction is a decoded crowdfund instruction. It is one of
// *CreateCampaign, *Withdraw or *Donate.
type Instruction interface {
	Opcode() Opcode
	marshalArgs(encoder *bin.Encoder) error
}

// CreateCampaign initializes a campaign account.
//
// Accounts:
//  0. [writable] campaign account, owned by the program
//  1. [signer] creator, must equal Record.Admin
type CreateCampaign struct {
	Record CampaignRecord
}

// Opcode implements Instruction.
func (*CreateCampaign) Opcode() Opcode { return OpcodeCreateCampaign }

func (c *CreateCampaign) marshalArgs(encoder *bin.Encoder) error {
	return c.Record.MarshalWithEncoder(encoder)
}

// Withdraw moves lamports from a campaign account to its admin.
//
// Accounts:
//  0. [writable] campaign account, owned by the program
//  1. [writable, signer] admin
type Withdraw struct {
	Request WithdrawRequest
}

// Opcode implements Instruction.
func (*Withdraw) Opcode() Opcode { return OpcodeWithdraw }

func (w *Withdraw) marshalArgs(encoder *bin.Encoder) error {
	return w.Request.MarshalWithEncoder(encoder)
}

// Donate sweeps the whole balance of a staging account into a campaign.
//
// Accounts:
//  0. [writable] campaign account, owned by the program
//  1. [writable] donor staging account, owned by the program
//  2. [signer] donor
type Donate struct{}

// Opcode implements Instruction.
func (*Donate) Opcode() Opcode { return OpcodeDonate }

func (*Donate) marshalArgs(*bin.Encoder) error { return nil }

// DecodeInstruction decodes an opcode-prefixed payload into an Instruction.
// The donate payload after the opcode is ignored.
func DecodeInstruction(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty instruction", ErrInvalidInstruction)
	}

	args := data[1:]
	switch Opcode(data[0]) {
	case OpcodeCreateCampaign:
		record, err := DecodeCampaignRecord(args)
		if err != nil {
			return nil, err
		}
		return &CreateCampaign{Record: *record}, nil

	case OpcodeWithdraw:
		req, err := DecodeWithdrawRequest(args)
		if err != nil {
			return nil, err
		}
		return &Withdraw{Request: *req}, nil

	case OpcodeDonate:
		return &Donate{}, nil

	default:
		return nil, fmt.Errorf("%w: unknown opcode %d", ErrInvalidInstruction, data[0])
	}
}

// EncodeInstruction encodes inst as an opcode-prefixed payload.
func EncodeInstruction(inst Instruction) ([]byte, error) {
	var buf bytes.Buffer
	encoder := bin.NewBorshEncoder(&buf)
	if err := encoder.WriteUint8(uint8(inst.Opcode())); err != nil {
		return nil, err
	}
	if err := inst.marshalArgs(encoder); err != nil {
		return nil, fmt.Errorf("encode %s: %w", inst.Opcode(), err)
	}
	return buf.Bytes(), nil
}

// NewCreateCampaignInstruction builds a CreateCampaign instruction for
// programID. The record's admin is set to admin and its counter to zero.
func NewCreateCampaignInstruction(programID, campaign, admin types.Pubkey, name, description, imageLink string) (svm.Instruction, error) {
	data, err := EncodeInstruction(&CreateCampaign{Record: CampaignRecord{
		Admin:       admin,
		Name:        name,
		Description: description,
		ImageLink:   imageLink,
	}})
	if err != nil {
		return svm.Instruction{}, err
	}
	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(campaign, false, true),
			svm.NewAccountMeta(admin, true, false),
		},
		Data: data,
	}, nil
}

// NewWithdrawInstruction builds a Withdraw instruction for programID.
func NewWithdrawInstruction(programID, campaign, admin types.Pubkey, amount uint64) (svm.Instruction, error) {
	data, err := EncodeInstruction(&Withdraw{Request: WithdrawRequest{Amount: amount}})
	if err != nil {
		return svm.Instruction{}, err
	}
	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(campaign, false, true),
			svm.NewAccountMeta(admin, true, true),
		},
		Data: data,
	}, nil
}

// NewDonateInstruction builds a Donate instruction for programID.
func NewDonateInstruction(programID, campaign, staging, donor types.Pubkey) svm.Instruction {
	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.NewAccountMeta(campaign, false, true),
			svm.NewAccountMeta(staging, false, true),
			svm.NewAccountMeta(donor, true, false),
		},
		Data: []byte{byte(OpcodeDonate)},
	}
}
