// Package runtime implements the host that executes transactions against the
// account store.
//
// The Executor is responsible for:
// - Sanitizing transactions and verifying ed25519 signatures
// - Rejecting stale blockhashes and replayed signatures
// - Loading accounts into a per-transaction working set
// - Dispatching each instruction to its native program
// - Enforcing account-change rules after every instruction
// - Committing the working set only when every instruction succeeds
// - Recording every processed transaction in the ledger
package runtime

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	"github.com/fortiblox/X1-Crowdfund/internal/types"
	"github.com/fortiblox/X1-Crowdfund/pkg/accounts"
	"github.com/fortiblox/X1-Crowdfund/pkg/ledger"
	"github.com/fortiblox/X1-Crowdfund/pkg/svm"
	"github.com/fortiblox/X1-Crowdfund/pkg/svm/programs/system"
)

// Errors.
var (
	// ErrSignatureVerification is returned when a signature is missing or invalid.
	ErrSignatureVerification = errors.New("signature verification failed")

	// ErrInvalidTransaction is returned for malformed transactions.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrProgramNotFound is returned when an instruction invokes an unknown program.
	ErrProgramNotFound = errors.New("program not found")

	// ErrAccountChangeViolation is returned when a program modifies an account
	// it is not allowed to modify.
	ErrAccountChangeViolation = errors.New("account change violation")

	// ErrUnbalancedInstruction is returned when an instruction changes the
	// total lamports of its accounts.
	ErrUnbalancedInstruction = errors.New("sum of account balances changed")

	// ErrBlockhashNotFound is returned when a transaction's recent blockhash
	// is not among the recent blockhashes.
	ErrBlockhashNotFound = errors.New("blockhash not found")

	// ErrAlreadyProcessed is returned for a signature already in the ledger.
	ErrAlreadyProcessed = errors.New("transaction already processed")
)

// MaxRecentBlockhashes is the number of blockhashes a transaction may reference.
const MaxRecentBlockhashes = 150

// Config holds executor configuration.
type Config struct {
	// ComputeLimit is the compute budget of each transaction.
	ComputeLimit uint64

	// SkipSignatureVerification skips ed25519 signature verification.
	SkipSignatureVerification bool

	// SkipBlockhashCheck accepts any recent blockhash.
	SkipBlockhashCheck bool

	// Rent is the rent model exposed to programs.
	Rent svm.Rent
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		ComputeLimit:              svm.CUDefault,
		SkipSignatureVerification: false,
		SkipBlockhashCheck:        false,
		Rent:                      svm.DefaultRent(),
	}
}

// ExecutionResult contains the result of transaction execution.
type ExecutionResult struct {
	Signature        types.Signature
	Slot             uint64
	Success          bool
	Err              error
	ComputeUnitsUsed uint64
	Logs             []string
	ModifiedAccounts []types.Pubkey
	PreBalances      []uint64
	PostBalances     []uint64

	// Accounts holds the post-execution state of every transaction account,
	// indexed like the message's account keys.
	Accounts []*accounts.Account
}

// Executor executes transactions and commits their effects.
type Executor struct {
	// mu serializes transactions.
	mu sync.Mutex

	accounts accounts.DB
	ledger   *ledger.Store
	programs map[types.Pubkey]svm.Processor
	config   Config
	logger   zerolog.Logger

	blockhashes []types.Hash
}

// New creates an executor over accts. The ledger is optional. The System
// Program is registered by default.
func New(accts accounts.DB, store *ledger.Store, config Config, logger zerolog.Logger) *Executor {
	e := &Executor{
		accounts: accts,
		ledger:   store,
		programs: make(map[types.Pubkey]svm.Processor),
		config:   config,
		logger:   logger.With().Str("component", "runtime").Logger(),
	}
	e.programs[system.ProgramID] = system.NewProcessor()
	e.blockhashes = []types.Hash{deriveBlockhash(types.Hash{}, accts.GetSlot())}
	return e
}

// RegisterProgram registers a native program at id.
func (e *Executor) RegisterProgram(id types.Pubkey, p svm.Processor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs[id] = p
}

// Rent returns the rent model.
func (e *Executor) Rent() svm.Rent {
	return e.config.Rent
}

// Slot returns the current slot.
func (e *Executor) Slot() uint64 {
	return e.accounts.GetSlot()
}

// LatestBlockhash returns the most recent blockhash.
func (e *Executor) LatestBlockhash() types.Hash {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blockhashes[len(e.blockhashes)-1]
}

// IsBlockhashValid reports whether h is still accepted as a recent blockhash.
func (e *Executor) IsBlockhashValid(h types.Hash) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isRecentBlockhash(h)
}

// Execute runs tx and commits its effects if every instruction succeeds.
//
// A returned error means the transaction was rejected before execution
// (malformed, bad signature, stale blockhash, replay) or the host failed to
// persist state; nothing is recorded in that case. Program failures are
// reported in the result, recorded in the ledger and leave accounts unchanged.
func (e *Executor) Execute(ctx context.Context, tx *Transaction) (*ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.precheck(tx, !e.config.SkipSignatureVerification); err != nil {
		return nil, err
	}
	if e.ledger != nil {
		seen, err := e.ledger.HasTransaction(tx.Signature())
		if err != nil {
			return nil, fmt.Errorf("ledger lookup: %w", err)
		}
		if seen {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessed, tx.Signature())
		}
	}

	slot := e.accounts.GetSlot() + 1
	result, working, err := e.run(tx, slot)
	if err != nil {
		return nil, err
	}

	var deltaHash types.Hash
	if result.Success {
		entries := make([]accounts.AccountEntry, 0, len(result.ModifiedAccounts))
		for _, key := range result.ModifiedAccounts {
			entries = append(entries, accounts.AccountEntry{Pubkey: key, Account: working[key]})
		}
		if err := e.accounts.SetAccounts(entries); err != nil {
			return nil, fmt.Errorf("commit accounts: %w", err)
		}
		if deltaHash, err = accounts.ComputeDeltaHash(e.accounts, append([]types.Pubkey(nil), result.ModifiedAccounts...)); err != nil {
			return nil, fmt.Errorf("delta hash: %w", err)
		}
	}

	if err := e.accounts.SetSlot(slot); err != nil {
		return nil, fmt.Errorf("set slot: %w", err)
	}
	if err := e.accounts.Commit(); err != nil {
		return nil, fmt.Errorf("commit slot: %w", err)
	}
	e.advanceBlockhash(slot)

	if e.ledger != nil {
		rec := &ledger.TransactionRecord{
			Signature:            result.Signature,
			Slot:                 slot,
			BlockTime:            time.Now().Unix(),
			Success:              result.Success,
			Logs:                 result.Logs,
			AccountKeys:          tx.Message.AccountKeys,
			ComputeUnitsConsumed: result.ComputeUnitsUsed,
			PreBalances:          result.PreBalances,
			PostBalances:         result.PostBalances,
			DeltaHash:            deltaHash,
			Raw:                  tx.Serialize(),
		}
		if result.Err != nil {
			rec.Err = result.Err.Error()
		}
		if err := e.ledger.PutTransaction(rec); err != nil {
			return nil, fmt.Errorf("record transaction: %w", err)
		}
	}

	event := e.logger.Debug()
	if !result.Success {
		event = e.logger.Info().Err(result.Err)
	}
	event.
		Str("signature", result.Signature.String()).
		Uint64("slot", slot).
		Bool("success", result.Success).
		Uint64("compute_units", result.ComputeUnitsUsed).
		Msg("transaction processed")

	return result, nil
}

// Simulate runs tx without committing anything or advancing the slot.
func (e *Executor) Simulate(ctx context.Context, tx *Transaction, verifySignatures bool) (*ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.precheck(tx, verifySignatures); err != nil {
		return nil, err
	}
	result, _, err := e.run(tx, e.accounts.GetSlot())
	return result, err
}

// Airdrop credits lamports to a system-owned or new account and records a
// synthetic transaction for it. It exists for development clusters only.
func (e *Executor) Airdrop(ctx context.Context, to types.Pubkey, lamports uint64) (types.Signature, error) {
	if err := ctx.Err(); err != nil {
		return types.Signature{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	acct, err := e.accounts.GetAccount(to)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		acct = &accounts.Account{Owner: system.ProgramID}
	} else if err != nil {
		return types.Signature{}, err
	}
	if acct.Owner != system.ProgramID {
		return types.Signature{}, fmt.Errorf("%w: airdrop target %s is owned by %s", ErrAccountChangeViolation, to, acct.Owner)
	}
	if _, carry := bits.Add64(acct.Lamports, lamports, 0); carry != 0 {
		return types.Signature{}, fmt.Errorf("%w: airdrop overflows balance", ErrInvalidTransaction)
	}
	pre := acct.Lamports
	acct.Lamports += lamports

	slot := e.accounts.GetSlot() + 1
	sig := airdropSignature(to, lamports, slot)

	if err := e.accounts.SetAccount(to, acct); err != nil {
		return types.Signature{}, fmt.Errorf("commit airdrop: %w", err)
	}
	if err := e.accounts.SetSlot(slot); err != nil {
		return types.Signature{}, err
	}
	if err := e.accounts.Commit(); err != nil {
		return types.Signature{}, err
	}
	e.advanceBlockhash(slot)

	if e.ledger != nil {
		err := e.ledger.PutTransaction(&ledger.TransactionRecord{
			Signature:    sig,
			Slot:         slot,
			BlockTime:    time.Now().Unix(),
			Success:      true,
			Logs:         []string{fmt.Sprintf("Airdrop %d lamports to %s", lamports, to)},
			AccountKeys:  []types.Pubkey{to},
			PreBalances:  []uint64{pre},
			PostBalances: []uint64{acct.Lamports},
		})
		if err != nil {
			return types.Signature{}, fmt.Errorf("record airdrop: %w", err)
		}
	}

	e.logger.Info().Str("to", to.String()).Uint64("lamports", lamports).Msg("airdrop")
	return sig, nil
}

// precheck sanitizes tx, verifies signatures and checks the blockhash.
func (e *Executor) precheck(tx *Transaction, verifySignatures bool) error {
	if err := tx.Message.Sanitize(); err != nil {
		return err
	}
	if len(tx.Signatures) != int(tx.Message.Header.NumRequiredSignatures) {
		return fmt.Errorf("%w: %d signatures for %d signers",
			ErrSignatureVerification, len(tx.Signatures), tx.Message.Header.NumRequiredSignatures)
	}
	if verifySignatures {
		if err := tx.VerifySignatures(); err != nil {
			return err
		}
	}
	if !e.config.SkipBlockhashCheck && !e.isRecentBlockhash(tx.Message.RecentBlockhash) {
		return fmt.Errorf("%w: %s", ErrBlockhashNotFound, tx.Message.RecentBlockhash)
	}
	return nil
}

// run executes every instruction of tx against a working copy of its
// accounts. The returned map holds the post-execution state of each account.
func (e *Executor) run(tx *Transaction, slot uint64) (*ExecutionResult, map[types.Pubkey]*accounts.Account, error) {
	msg := &tx.Message
	result := &ExecutionResult{
		Signature: tx.Signature(),
		Slot:      slot,
		Logs:      make([]string, 0),
	}

	infos, err := e.loadAccounts(msg)
	if err != nil {
		return nil, nil, err
	}
	result.PreBalances = make([]uint64, len(infos))
	originals := make([]*svm.AccountInfo, len(infos))
	for i, info := range infos {
		result.PreBalances[i] = info.Lamports
		originals[i] = info.Clone()
	}

	meter := svm.NewComputeMeter(e.config.ComputeLimit)
	execErr := meter.Consume(svm.CUSignatureVerify * uint64(len(tx.Signatures)))

	for i := range msg.Instructions {
		if execErr != nil {
			break
		}
		if err := e.executeInstruction(msg, &msg.Instructions[i], infos, meter, &result.Logs); err != nil {
			execErr = fmt.Errorf("instruction %d: %w", i, err)
		}
	}

	result.ComputeUnitsUsed = meter.Consumed()
	result.PostBalances = make([]uint64, len(infos))
	result.Accounts = make([]*accounts.Account, len(infos))

	if execErr != nil {
		result.Err = execErr
		for i, orig := range originals {
			result.PostBalances[i] = orig.Lamports
			result.Accounts[i] = toAccount(orig)
		}
		return result, nil, nil
	}

	result.Success = true
	working := make(map[types.Pubkey]*accounts.Account)
	for i, info := range infos {
		result.PostBalances[i] = info.Lamports
		result.Accounts[i] = toAccount(info)
		if accountChanged(originals[i], info) {
			working[info.Key] = result.Accounts[i]
			result.ModifiedAccounts = append(result.ModifiedAccounts, info.Key)
		}
	}
	return result, working, nil
}

// loadAccounts loads all accounts referenced by a message. Missing accounts
// load as empty system-owned accounts.
func (e *Executor) loadAccounts(msg *Message) ([]*svm.AccountInfo, error) {
	infos := make([]*svm.AccountInfo, len(msg.AccountKeys))
	for i, key := range msg.AccountKeys {
		acct, err := e.accounts.GetAccount(key)
		if errors.Is(err, accounts.ErrAccountNotFound) {
			acct = &accounts.Account{Owner: system.ProgramID}
		} else if err != nil {
			return nil, fmt.Errorf("load account %s: %w", key, err)
		}

		infos[i] = &svm.AccountInfo{
			Key:        key,
			Owner:      acct.Owner,
			Lamports:   acct.Lamports,
			Data:       acct.Data,
			Executable: acct.Executable,
			RentEpoch:  acct.RentEpoch,
			IsSigner:   msg.IsSigner(i),
			// Sysvars are never writable.
			IsWritable: msg.IsWritable(i) && !types.IsSysvar(key),
		}
	}
	return infos, nil
}

// executeInstruction executes a single instruction and verifies the changes
// it made to its accounts.
func (e *Executor) executeInstruction(
	msg *Message,
	inst *CompiledInstruction,
	infos []*svm.AccountInfo,
	meter *svm.ComputeMeter,
	logs *[]string,
) error {
	programID := msg.AccountKeys[inst.ProgramIDIndex]
	processor, ok := e.programs[programID]
	if !ok {
		*logs = append(*logs, fmt.Sprintf("Program %s is not a registered native program", programID))
		return fmt.Errorf("%w: %s", ErrProgramNotFound, programID)
	}

	ctx := &instructionContext{
		programID: programID,
		accounts:  make([]*svm.AccountInfo, len(inst.AccountIndexes)),
		rent:      e.config.Rent,
		meter:     meter,
		logs:      logs,
	}

	// Snapshot each distinct account before the program runs.
	pre := make(map[uint8]*svm.AccountInfo, len(inst.AccountIndexes))
	for i, idx := range inst.AccountIndexes {
		ctx.accounts[i] = infos[idx]
		if _, ok := pre[idx]; !ok {
			pre[idx] = infos[idx].Clone()
		}
	}

	*logs = append(*logs, fmt.Sprintf("Program %s invoke [1]", programID))
	before := meter.Consumed()

	err := processor.Process(ctx, inst.Data)
	if err == nil {
		err = verifyChanges(programID, pre, infos)
	}

	*logs = append(*logs, fmt.Sprintf("Program %s consumed %d of %d compute units",
		programID, meter.Consumed()-before, meter.Limit()))
	if err != nil {
		*logs = append(*logs, fmt.Sprintf("Program %s failed: %v", programID, err))
		return err
	}
	*logs = append(*logs, fmt.Sprintf("Program %s success", programID))
	return nil
}

// verifyChanges enforces the account-change rules for one instruction:
//   - only the owning program may change an account's owner, debit it or
//     change its data, and only if the account is writable
//   - any change requires the account to be writable
//   - executable accounts are immutable and the executable flag is fixed
//   - the instruction's accounts hold the same total lamports before and after
func verifyChanges(programID types.Pubkey, pre map[uint8]*svm.AccountInfo, infos []*svm.AccountInfo) error {
	var preHi, preLo, postHi, postLo uint64
	var carry uint64

	for idx, before := range pre {
		after := infos[idx]
		owned := before.Owner == programID

		if after.Executable != before.Executable {
			return fmt.Errorf("%w: %s executable flag changed", ErrAccountChangeViolation, after.Key)
		}
		if after.Owner != before.Owner && (!owned || !before.IsWritable || before.Executable) {
			return fmt.Errorf("%w: %s owner changed by non-owner", ErrAccountChangeViolation, after.Key)
		}
		if after.Lamports < before.Lamports && !owned {
			return fmt.Errorf("%w: %s debited by non-owner", ErrAccountChangeViolation, after.Key)
		}
		if after.Lamports != before.Lamports && !before.IsWritable {
			return fmt.Errorf("%w: %s balance changed but not writable", ErrAccountChangeViolation, after.Key)
		}
		if !bytesEqual(after.Data, before.Data) && (!owned || !before.IsWritable || before.Executable) {
			return fmt.Errorf("%w: %s data changed by non-owner or read-only", ErrAccountChangeViolation, after.Key)
		}

		preLo, carry = bits.Add64(preLo, before.Lamports, 0)
		preHi += carry
		postLo, carry = bits.Add64(postLo, after.Lamports, 0)
		postHi += carry
	}

	if preHi != postHi || preLo != postLo {
		return ErrUnbalancedInstruction
	}
	return nil
}

func accountChanged(before, after *svm.AccountInfo) bool {
	return before.Lamports != after.Lamports ||
		before.Owner != after.Owner ||
		before.Executable != after.Executable ||
		!bytesEqual(before.Data, after.Data)
}

func bytesEqual(a, b []byte) bool {
	return len(a) == len(b) && string(a) == string(b)
}

func toAccount(info *svm.AccountInfo) *accounts.Account {
	return &accounts.Account{
		Lamports:   info.Lamports,
		Data:       append([]byte(nil), info.Data...),
		Owner:      info.Owner,
		Executable: info.Executable,
		RentEpoch:  info.RentEpoch,
	}
}

func (e *Executor) isRecentBlockhash(h types.Hash) bool {
	for _, b := range e.blockhashes {
		if b == h {
			return true
		}
	}
	return false
}

// advanceBlockhash derives the blockhash for slot and retires the oldest.
func (e *Executor) advanceBlockhash(slot uint64) {
	next := deriveBlockhash(e.blockhashes[len(e.blockhashes)-1], slot)
	e.blockhashes = append(e.blockhashes, next)
	if len(e.blockhashes) > MaxRecentBlockhashes {
		e.blockhashes = e.blockhashes[len(e.blockhashes)-MaxRecentBlockhashes:]
	}
}

// deriveBlockhash chains blockhashes as BLAKE3(prev || slot).
func deriveBlockhash(prev types.Hash, slot uint64) types.Hash {
	h := blake3.New()
	h.Write(prev[:])
	h.Write([]byte{
		byte(slot), byte(slot >> 8), byte(slot >> 16), byte(slot >> 24),
		byte(slot >> 32), byte(slot >> 40), byte(slot >> 48), byte(slot >> 56),
	})
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// airdropSignature derives a unique 64-byte identifier for an airdrop.
func airdropSignature(to types.Pubkey, lamports, slot uint64) types.Signature {
	h := blake3.New()
	h.Write([]byte("airdrop"))
	h.Write(to[:])
	h.Write([]byte(fmt.Sprintf("%d/%d", lamports, slot)))

	var sig types.Signature
	// The XOF reader never fails.
	_, _ = h.Digest().Read(sig[:])
	return sig
}

// instructionContext provides context for instruction execution.
type instructionContext struct {
	programID types.Pubkey
	accounts  []*svm.AccountInfo
	rent      svm.Rent
	meter     *svm.ComputeMeter
	logs      *[]string
}

// ProgramID returns the invoked program.
func (c *instructionContext) ProgramID() types.Pubkey { return c.programID }

// NumAccounts returns the number of instruction accounts.
func (c *instructionContext) NumAccounts() int { return len(c.accounts) }

// GetAccount returns the account at the given index.
func (c *instructionContext) GetAccount(index int) (*svm.AccountInfo, error) {
	if index < 0 || index >= len(c.accounts) {
		return nil, svm.ErrAccountNotFound
	}
	return c.accounts[index], nil
}

// GetRentMinimum returns the rent-exempt minimum.
func (c *instructionContext) GetRentMinimum(dataLen uint64) uint64 {
	return c.rent.MinimumBalance(dataLen)
}

// ConsumeCompute charges the transaction's compute meter.
func (c *instructionContext) ConsumeCompute(units uint64) error {
	return c.meter.Consume(units)
}

// Log records a program log message.
func (c *instructionContext) Log(msg string) {
	*c.logs = append(*c.logs, "Program log: "+msg)
}

var _ svm.InvokeContext = (*instructionContext)(nil)
