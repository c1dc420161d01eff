// Package crowdfund implements the crowdfunding native program.
//
// The program keeps one CampaignRecord per campaign account and supports three
// instructions, selected by the first byte of the instruction payload:
//   - 0 CreateCampaign: initialize a program-owned, rent-exempt account
//   - 1 Withdraw: move lamports from the campaign to its admin
//   - 2 Donate: sweep a program-owned staging account into the campaign
//
// Every handler validates account ownership and signer authority before it
// touches account data or balances. Failures return one of the sentinel errors
// in errors.go; the runtime then discards every change made by the transaction.
package crowdfund

import (
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Crowdfund/pkg/svm"
)

// Processor executes crowdfund instructions.
type Processor struct{}

// NewProcessor creates a new crowdfund processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process decodes data and routes it to the matching handler.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCompute(svm.CUCrowdfundDefault); err != nil {
		return err
	}

	inst, err := DecodeInstruction(data)
	if err != nil {
		if errors.Is(err, ErrInvalidInstruction) {
			ctx.Log("Didn't find the required entrypoint")
		} else {
			ctx.Log("Instruction data deserialization failed")
		}
		return err
	}

	switch inst := inst.(type) {
	case *CreateCampaign:
		return processCreateCampaign(ctx, inst)
	case *Withdraw:
		return processWithdraw(ctx, inst)
	case *Donate:
		return processDonate(ctx, inst)
	default:
		return fmt.Errorf("%w: unhandled opcode %s", ErrInvalidInstruction, inst.Opcode())
	}
}

var _ svm.Processor = (*Processor)(nil)
