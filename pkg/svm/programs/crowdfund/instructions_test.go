package crowdfund

import (
	"errors"
	"testing"
)

func TestInstructionRoundTrip(t *testing.T) {
	insts := []Instruction{
		&CreateCampaign{Record: CampaignRecord{Admin: testPubkey(1), Name: "n", Description: "d", ImageLink: "i"}},
		&Withdraw{Request: WithdrawRequest{Amount: 1234}},
		&Donate{},
	}

	for _, inst := range insts {
		t.Run(inst.Opcode().String(), func(t *testing.T) {
			data, err := EncodeInstruction(inst)
			if err != nil {
				t.Fatalf("EncodeInstruction: %v", err)
			}
			if data[0] != byte(inst.Opcode()) {
				t.Fatalf("opcode byte %d, want %d", data[0], inst.Opcode())
			}

			decoded, err := DecodeInstruction(data)
			if err != nil {
				t.Fatalf("DecodeInstruction: %v", err)
			}
			if decoded.Opcode() != inst.Opcode() {
				t.Fatalf("decoded opcode %s, want %s", decoded.Opcode(), inst.Opcode())
			}

			switch want := inst.(type) {
			case *CreateCampaign:
				if got := decoded.(*CreateCampaign); got.Record != want.Record {
					t.Errorf("record: got %+v, want %+v", got.Record, want.Record)
				}
			case *Withdraw:
				if got := decoded.(*Withdraw); got.Request != want.Request {
					t.Errorf("request: got %+v, want %+v", got.Request, want.Request)
				}
			}
		})
	}
}

func TestDecodeInstructionErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrInvalidInstruction},
		{"unknown opcode", []byte{3}, ErrInvalidInstruction},
		{"high opcode", []byte{0xff, 1, 2}, ErrInvalidInstruction},
		{"create garbled", []byte{0, 1, 2, 3}, ErrMalformedData},
		{"create without args", []byte{0}, ErrMalformedData},
		{"withdraw short", []byte{1, 1, 0}, ErrMalformedData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeInstruction(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeDonateIgnoresPayload(t *testing.T) {
	inst, err := DecodeInstruction([]byte{2, 0xde, 0xad, 0xbe, 0xef})
	if err != nil {
		t.Fatalf("DecodeInstruction: %v", err)
	}
	if _, ok := inst.(*Donate); !ok {
		t.Fatalf("got %T, want *Donate", inst)
	}
}

func TestInstructionBuilders(t *testing.T) {
	program, campaign, admin := testPubkey(1), testPubkey(2), testPubkey(3)

	create, err := NewCreateCampaignInstruction(program, campaign, admin, "n", "d", "i")
	if err != nil {
		t.Fatalf("NewCreateCampaignInstruction: %v", err)
	}
	if create.ProgramID != program || len(create.Accounts) != 2 {
		t.Fatalf("unexpected create instruction: %+v", create)
	}
	if !create.Accounts[0].IsWritable || !create.Accounts[1].IsSigner {
		t.Error("create account flags wrong")
	}

	withdraw, err := NewWithdrawInstruction(program, campaign, admin, 10)
	if err != nil {
		t.Fatalf("NewWithdrawInstruction: %v", err)
	}
	if !withdraw.Accounts[1].IsWritable || !withdraw.Accounts[1].IsSigner {
		t.Error("withdraw admin must be a writable signer")
	}

	donate := NewDonateInstruction(program, campaign, testPubkey(4), testPubkey(5))
	if len(donate.Accounts) != 3 || donate.Data[0] != byte(OpcodeDonate) {
		t.Errorf("unexpected donate instruction: %+v", donate)
	}
}
