package crowdfund

import (
	"fmt"
	"math"

	"github.com/fortiblox/X1-Crowdfund/pkg/svm"
)

// processCreateCampaign initializes the campaign record in a program-owned,
// rent-exempt account on behalf of the signing admin.
func processCreateCampaign(ctx svm.InvokeContext, inst *CreateCampaign) error {
	writing, err := account(ctx, 0, "writing_account")
	if err != nil {
		return err
	}
	creator, err := account(ctx, 1, "creator_account")
	if err != nil {
		return err
	}

	if err := checkProgramOwned(ctx, writing, "writing_account"); err != nil {
		return err
	}
	if err := checkSigner(ctx, creator, "creator_account"); err != nil {
		return err
	}

	record := inst.Record
	if record.Admin != creator.Key {
		ctx.Log("Invalid instruction data")
		return fmt.Errorf("%w: admin %s does not match creator %s", ErrInvalidInstruction, record.Admin, creator.Key)
	}

	if err := checkRentExempt(ctx, writing, "writing_account"); err != nil {
		return err
	}

	record.AmountDonated = 0
	if err := writeCampaignRecord(writing.Data, &record); err != nil {
		return err
	}

	ctx.Log(fmt.Sprintf("Campaign %q created by %s", record.Name, record.Admin))
	return nil
}

// processWithdraw moves lamports from the campaign to its admin, keeping the
// campaign rent exempt. The stored record is not modified.
func processWithdraw(ctx svm.InvokeContext, inst *Withdraw) error {
	writing, err := account(ctx, 0, "writing_account")
	if err != nil {
		return err
	}
	admin, err := account(ctx, 1, "admin_account")
	if err != nil {
		return err
	}

	if err := checkProgramOwned(ctx, writing, "writing_account"); err != nil {
		return err
	}
	if err := checkSigner(ctx, admin, "admin_account"); err != nil {
		return err
	}

	record, err := DecodeCampaignAccount(writing.Data)
	if err != nil {
		return err
	}
	if record.Admin != admin.Key {
		ctx.Log("Only the account admin can withdraw")
		return fmt.Errorf("%w: %s is not the admin of this campaign", ErrInvalidAccountData, admin.Key)
	}

	amount := inst.Request.Amount
	minimum := ctx.GetRentMinimum(writing.DataLen())
	if writing.Lamports < minimum || writing.Lamports-minimum < amount {
		ctx.Log("Insufficient balance")
		return fmt.Errorf("%w: balance %d, rent exemption %d, requested %d",
			ErrInsufficientFunds, writing.Lamports, minimum, amount)
	}
	if admin.Lamports > math.MaxUint64-amount {
		return fmt.Errorf("%w: admin balance", ErrArithmeticOverflow)
	}

	writing.Lamports -= amount
	admin.Lamports += amount

	ctx.Log(fmt.Sprintf("Withdrew %d lamports to %s", amount, admin.Key))
	return nil
}

// processDonate sweeps the staging account's whole balance into the campaign
// and adds it to the donation counter.
func processDonate(ctx svm.InvokeContext, _ *Donate) error {
	writing, err := account(ctx, 0, "writing_account")
	if err != nil {
		return err
	}
	staging, err := account(ctx, 1, "donator_program_account")
	if err != nil {
		return err
	}
	donor, err := account(ctx, 2, "donator")
	if err != nil {
		return err
	}

	if err := checkProgramOwned(ctx, writing, "writing_account"); err != nil {
		return err
	}
	if err := checkProgramOwned(ctx, staging, "donator_program_account"); err != nil {
		return err
	}
	if err := checkSigner(ctx, donor, "donator"); err != nil {
		return err
	}
	if staging.Key == writing.Key {
		return fmt.Errorf("%w: staging account is the campaign account", ErrInvalidArgument)
	}
	// Staging accounts are bare lamport holders. Any data means it belongs to
	// something else, possibly another campaign.
	if staging.DataLen() > 0 {
		ctx.Log("donator_program_account must not hold data")
		return fmt.Errorf("%w: staging account %s holds %d bytes", ErrInvalidArgument, staging.Key, staging.DataLen())
	}

	record, err := DecodeCampaignAccount(writing.Data)
	if err != nil {
		return err
	}

	amount := staging.Lamports
	if record.AmountDonated > math.MaxUint64-amount {
		return fmt.Errorf("%w: amount_donated", ErrArithmeticOverflow)
	}
	if writing.Lamports > math.MaxUint64-amount {
		return fmt.Errorf("%w: campaign balance", ErrArithmeticOverflow)
	}

	record.AmountDonated += amount
	if err := writeCampaignRecord(writing.Data, record); err != nil {
		return err
	}
	writing.Lamports += amount
	staging.Lamports = 0

	ctx.Log(fmt.Sprintf("Donated %d lamports, total %d", amount, record.AmountDonated))
	return nil
}
