package crowdfund

import "errors"

// Crowdfund program errors. Each variable is a distinct failure kind; call
// sites wrap them with context so errors.Is selects the kind.
var (
	// ErrInvalidInstruction indicates an empty payload, an unknown opcode, or a
	// creation whose admin field does not match the signing creator.
	ErrInvalidInstruction = errors.New("invalid instruction data")

	// ErrIncorrectProgramOwner indicates an account that must be owned by this
	// program is owned by someone else.
	ErrIncorrectProgramOwner = errors.New("incorrect program owner")

	// ErrMissingRequiredSignature indicates an authority account did not sign.
	ErrMissingRequiredSignature = errors.New("missing required signature")

	// ErrInvalidAccountData indicates the stored campaign admin does not match
	// the authorizing account.
	ErrInvalidAccountData = errors.New("invalid account data")

	// ErrInsufficientFunds indicates a balance below the rent-exemption minimum,
	// or below the requested withdrawal plus that minimum.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrMalformedData indicates instruction arguments or account data that do
	// not decode as the expected record.
	ErrMalformedData = errors.New("malformed data")

	// ErrNotEnoughAccountKeys indicates fewer accounts than the instruction needs.
	ErrNotEnoughAccountKeys = errors.New("not enough account keys")

	// ErrAccountDataTooSmall indicates the encoded record does not fit in the
	// account's allocated data region.
	ErrAccountDataTooSmall = errors.New("account data too small")

	// ErrArithmeticOverflow indicates a lamport or counter addition would wrap.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// ErrInvalidArgument indicates an account was passed in a position it
	// cannot occupy, such as sweeping the campaign into itself.
	ErrInvalidArgument = errors.New("invalid argument")
)
