package crowdfund

import (
	"fmt"

	"github.com/fortiblox/X1-Crowdfund/pkg/svm"
)

// account returns the instruction account at index.
func account(ctx svm.InvokeContext, index int, role string) (*svm.AccountInfo, error) {
	acct, err := ctx.GetAccount(index)
	if err != nil {
		return nil, fmt.Errorf("%w: missing %s account at index %d", ErrNotEnoughAccountKeys, role, index)
	}
	return acct, nil
}

// checkProgramOwned rejects accounts not owned by the running program.
func checkProgramOwned(ctx svm.InvokeContext, acct *svm.AccountInfo, role string) error {
	if acct.Owner != ctx.ProgramID() {
		ctx.Log(role + " isn't owned by program")
		return fmt.Errorf("%w: %s %s is owned by %s", ErrIncorrectProgramOwner, role, acct.Key, acct.Owner)
	}
	return nil
}

// checkSigner rejects authority accounts that did not sign the transaction.
func checkSigner(ctx svm.InvokeContext, acct *svm.AccountInfo, role string) error {
	if !acct.IsSigner {
		ctx.Log(role + " should be signer")
		return fmt.Errorf("%w: %s %s", ErrMissingRequiredSignature, role, acct.Key)
	}
	return nil
}

// checkRentExempt rejects accounts whose balance is below the rent-exemption
// minimum for their data length.
func checkRentExempt(ctx svm.InvokeContext, acct *svm.AccountInfo, role string) error {
	minimum := ctx.GetRentMinimum(acct.DataLen())
	if acct.Lamports < minimum {
		ctx.Log("The balance of " + role + " should be more than rent exemption")
		return fmt.Errorf("%w: %s holds %d lamports, rent exemption requires %d",
			ErrInsufficientFunds, role, acct.Lamports, minimum)
	}
	return nil
}
