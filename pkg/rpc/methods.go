package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fortiblox/X1-Crowdfund/internal/types"
	"github.com/fortiblox/X1-Crowdfund/pkg/accounts"
	"github.com/fortiblox/X1-Crowdfund/pkg/ledger"
	"github.com/fortiblox/X1-Crowdfund/pkg/runtime"
	"github.com/fortiblox/X1-Crowdfund/pkg/svm/programs/crowdfund"
)

// Version information.
const (
	SolanaCore = "crowdfund-1.0.0"
	FeatureSet = 0
)

// Limits.
const (
	maxSignaturesLimit = 1000
	maxStatusQuery     = 256
	maxMultipleKeys    = 100
)

// parseArgs splits positional params. A missing params field is an empty list.
func parseArgs(params json.RawMessage, required int, what string) ([]json.RawMessage, *RPCError) {
	var args []json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, InvalidParamsError("invalid params")
		}
	}
	if len(args) < required {
		return nil, InvalidParamsErrorf("missing %s parameter", what)
	}
	return args, nil
}

// parseConfig decodes the optional config object at args[index].
func parseConfig(args []json.RawMessage, index int, config interface{}) *RPCError {
	if len(args) <= index || string(args[index]) == "null" {
		return nil
	}
	if err := json.Unmarshal(args[index], config); err != nil {
		return InvalidParamsError("invalid config")
	}
	return nil
}

func parsePubkey(raw json.RawMessage, what string) (types.Pubkey, *RPCError) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return types.Pubkey{}, InvalidParamsErrorf("invalid %s", what)
	}
	pubkey, err := types.PubkeyFromBase58(s)
	if err != nil {
		return types.Pubkey{}, InvalidParamsErrorf("invalid %s format", what)
	}
	return pubkey, nil
}

func parseSignature(raw json.RawMessage) (types.Signature, *RPCError) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return types.Signature{}, InvalidParamsError("invalid signature")
	}
	sig, err := types.SignatureFromBase58(s)
	if err != nil {
		return types.Signature{}, InvalidParamsError("invalid signature format")
	}
	return sig, nil
}

func (s *Server) checkMinContextSlot(minSlot *uint64) (uint64, *RPCError) {
	currentSlot := s.accountsDB.GetSlot()
	if minSlot != nil && *minSlot > currentSlot {
		return 0, MinContextSlotError(*minSlot, currentSlot)
	}
	return currentSlot, nil
}

// Account Methods

// getAccountInfo retrieves account information.
func (s *Server) getAccountInfo(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0], "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}

	var config AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	currentSlot, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	info, rpcErr := s.loadAccountInfo(pubkey, config.Encoding, config.DataSlice)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return ResponseWithContext{
		Context: Context{Slot: currentSlot},
		Value:   info,
	}, nil
}

// getBalance retrieves account balance.
func (s *Server) getBalance(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0], "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}

	var config BalanceConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	currentSlot, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var balance uint64
	account, err := s.accountsDB.GetAccount(pubkey)
	switch {
	case err == nil:
		balance = account.Lamports
	case !errors.Is(err, accounts.ErrAccountNotFound):
		return nil, InternalServerErrorf("failed to get account: %v", err)
	}

	return ResponseWithContext{
		Context: Context{Slot: currentSlot},
		Value:   balance,
	}, nil
}

// getMultipleAccounts retrieves multiple accounts.
func (s *Server) getMultipleAccounts(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "pubkeys")
	if rpcErr != nil {
		return nil, rpcErr
	}

	var keys []string
	if err := json.Unmarshal(args[0], &keys); err != nil {
		return nil, InvalidParamsError("invalid pubkeys array")
	}
	if len(keys) > maxMultipleKeys {
		return nil, InvalidParamsErrorf("too many pubkeys (max %d)", maxMultipleKeys)
	}

	var config AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	currentSlot, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	infos := make([]*AccountInfo, len(keys))
	for i, key := range keys {
		pubkey, err := types.PubkeyFromBase58(key)
		if err != nil {
			return nil, InvalidParamsErrorf("invalid pubkey format: %s", key)
		}
		if infos[i], rpcErr = s.loadAccountInfo(pubkey, config.Encoding, config.DataSlice); rpcErr != nil {
			return nil, rpcErr
		}
	}

	return ResponseWithContext{
		Context: Context{Slot: currentSlot},
		Value:   infos,
	}, nil
}

// getProgramAccounts retrieves accounts owned by a program.
func (s *Server) getProgramAccounts(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "program ID")
	if rpcErr != nil {
		return nil, rpcErr
	}
	programID, rpcErr := parsePubkey(args[0], "program ID")
	if rpcErr != nil {
		return nil, rpcErr
	}

	var config ProgramAccountsConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	currentSlot, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	results := []KeyedAccountInfo{}
	err := s.accountsDB.IterateAccounts(func(pubkey types.Pubkey, account *accounts.Account) error {
		if account.Owner != programID || !matchesFilters(account, config.Filters) {
			return nil
		}
		info, rpcErr := s.accountToAccountInfo(account, config.Encoding, config.DataSlice)
		if rpcErr != nil {
			return rpcErr
		}
		results = append(results, KeyedAccountInfo{Pubkey: pubkey.String(), Account: info})
		return nil
	})
	if err != nil {
		return nil, InternalServerErrorf("iteration failed: %v", err)
	}

	if config.WithContext {
		return ResponseWithContext{
			Context: Context{Slot: currentSlot},
			Value:   results,
		}, nil
	}
	return results, nil
}

// Transaction Methods

// decodeTransaction decodes a client-submitted wire transaction.
func decodeTransaction(raw json.RawMessage, encoding Encoding) (*runtime.Transaction, *RPCError) {
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, InvalidParamsError("invalid transaction")
	}
	data, err := DecodeTransactionData(encoded, encoding)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid transaction encoding: %v", err)
	}
	tx, err := runtime.DeserializeTransaction(data)
	if err != nil {
		return nil, InvalidParamsErrorf("failed to deserialize transaction: %v", err)
	}
	return tx, nil
}

// sendTransaction executes a signed transaction and returns its signature.
func (s *Server) sendTransaction(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "transaction")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config SendTransactionConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	tx, rpcErr := decodeTransaction(args[0], config.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if !config.SkipPreflight {
		result, err := s.executor.Simulate(ctx, tx, true)
		if err != nil {
			return nil, TransactionRejectedError(err)
		}
		if !result.Success {
			return nil, PreflightError(result)
		}
	}

	result, err := s.executor.Execute(ctx, tx)
	if err != nil {
		return nil, TransactionRejectedError(err)
	}
	return result.Signature.String(), nil
}

// simulateTransaction executes a transaction without committing it.
func (s *Server) simulateTransaction(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "transaction")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config SimulateTransactionConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	if config.SigVerify && config.ReplaceRecentBlockhash {
		return nil, InvalidParamsError("sigVerify may not be used with replaceRecentBlockhash")
	}
	tx, rpcErr := decodeTransaction(args[0], config.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if config.ReplaceRecentBlockhash {
		tx.Message.RecentBlockhash = s.executor.LatestBlockhash()
	}

	result, err := s.executor.Simulate(ctx, tx, config.SigVerify)
	if err != nil {
		return nil, TransactionRejectedError(err)
	}

	units := result.ComputeUnitsUsed
	sim := SimulationResult{
		Logs:          result.Logs,
		UnitsConsumed: &units,
	}
	if result.Err != nil {
		sim.Err = result.Err.Error()
	}

	if config.Accounts != nil {
		sim.Accounts = make([]*AccountInfo, len(config.Accounts.Addresses))
		for i, addr := range config.Accounts.Addresses {
			pubkey, err := types.PubkeyFromBase58(addr)
			if err != nil {
				return nil, InvalidParamsErrorf("invalid address format: %s", addr)
			}
			if sim.Accounts[i], rpcErr = s.simulatedAccount(tx, result, pubkey, config.Accounts.Encoding); rpcErr != nil {
				return nil, rpcErr
			}
		}
	}

	return ResponseWithContext{
		Context: Context{Slot: result.Slot},
		Value:   sim,
	}, nil
}

// simulatedAccount returns the post-simulation state of pubkey, falling back
// to stored state for accounts the transaction does not reference.
func (s *Server) simulatedAccount(tx *runtime.Transaction, result *runtime.ExecutionResult, pubkey types.Pubkey, encoding Encoding) (*AccountInfo, *RPCError) {
	for i, key := range tx.Message.AccountKeys {
		if key != pubkey {
			continue
		}
		account := result.Accounts[i]
		if account.IsZero() {
			return nil, nil
		}
		return s.accountToAccountInfo(account, encoding, nil)
	}
	return s.loadAccountInfo(pubkey, encoding, nil)
}

// getTransaction retrieves a transaction by signature.
func (s *Server) getTransaction(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "signature")
	if rpcErr != nil {
		return nil, rpcErr
	}
	sig, rpcErr := parseSignature(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	var config TransactionConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	if config.Encoding == "" {
		config.Encoding = EncodingJSON
	}

	rec, err := s.ledger.GetTransaction(sig)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return (*TransactionResponse)(nil), nil
		}
		return nil, InternalServerErrorf("failed to get transaction: %v", err)
	}
	return transactionToResponse(rec, config.Encoding), nil
}

// getSignaturesForAddress retrieves signatures for transactions involving an address.
func (s *Server) getSignaturesForAddress(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "address")
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parsePubkey(args[0], "address")
	if rpcErr != nil {
		return nil, rpcErr
	}

	var config SignaturesForAddressConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	if config.Limit <= 0 || config.Limit > maxSignaturesLimit {
		config.Limit = maxSignaturesLimit
	}

	opts := &ledger.SignatureQueryOptions{Limit: config.Limit}
	if config.Before != "" {
		sig, err := types.SignatureFromBase58(config.Before)
		if err != nil {
			return nil, InvalidParamsError("invalid before signature")
		}
		opts.Before = &sig
	}

	signatures, err := s.ledger.GetSignaturesForAddress(addr, opts)
	if err != nil {
		return nil, InternalServerErrorf("failed to get signatures: %v", err)
	}

	results := make([]SignatureInfo, len(signatures))
	for i, sig := range signatures {
		blockTime := sig.BlockTime
		results[i] = SignatureInfo{
			Signature:          sig.Signature.String(),
			Slot:               sig.Slot,
			BlockTime:          &blockTime,
			ConfirmationStatus: "finalized",
		}
		if sig.Err != "" {
			results[i].Err = sig.Err
		}
	}
	return results, nil
}

// getSignatureStatuses retrieves the status of signatures.
func (s *Server) getSignatureStatuses(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "signatures")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var sigStrs []string
	if err := json.Unmarshal(args[0], &sigStrs); err != nil {
		return nil, InvalidParamsError("invalid signatures array")
	}
	if len(sigStrs) > maxStatusQuery {
		return nil, InvalidParamsErrorf("too many signatures (max %d)", maxStatusQuery)
	}
	var config SignatureStatusConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	currentSlot := s.accountsDB.GetSlot()
	statuses := make([]*SignatureStatus, len(sigStrs))
	for i, sigStr := range sigStrs {
		sig, err := types.SignatureFromBase58(sigStr)
		if err != nil {
			return nil, InvalidParamsErrorf("invalid signature format: %s", sigStr)
		}
		rec, err := s.ledger.GetTransaction(sig)
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			continue
		}
		if err != nil {
			return nil, InternalServerErrorf("failed to get transaction: %v", err)
		}
		statuses[i] = &SignatureStatus{
			Slot:               rec.Slot,
			ConfirmationStatus: "finalized",
		}
		if rec.Err != "" {
			statuses[i].Err = rec.Err
		}
	}

	return ResponseWithContext{
		Context: Context{Slot: currentSlot},
		Value:   statuses,
	}, nil
}

// getTransactionCount returns the number of recorded transactions.
func (s *Server) getTransactionCount(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	return s.ledger.TransactionCount(), nil
}

// Cluster Methods

// getSlot returns the current slot.
func (s *Server) getSlot(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 0, "")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config BalanceConfig
	if rpcErr := parseConfig(args, 0, &config); rpcErr != nil {
		return nil, rpcErr
	}
	return s.checkMinContextSlot(config.MinContextSlot)
}

// getHealth returns the node health status.
func (s *Server) getHealth(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

// getVersion returns the node version.
func (s *Server) getVersion(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	return VersionInfo{
		SolanaCore: SolanaCore,
		FeatureSet: FeatureSet,
	}, nil
}

// getLatestBlockhash returns the latest blockhash.
func (s *Server) getLatestBlockhash(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	slot := s.executor.Slot()
	return ResponseWithContext{
		Context: Context{Slot: slot},
		Value: LatestBlockhash{
			Blockhash:            s.executor.LatestBlockhash().String(),
			LastValidBlockHeight: slot + runtime.MaxRecentBlockhashes,
		},
	}, nil
}

// isBlockhashValid checks if a blockhash is still recent.
func (s *Server) isBlockhashValid(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "blockhash")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var blockhashStr string
	if err := json.Unmarshal(args[0], &blockhashStr); err != nil {
		return nil, InvalidParamsError("invalid blockhash")
	}
	blockhash, err := types.HashFromBase58(blockhashStr)
	if err != nil {
		return nil, InvalidParamsError("invalid blockhash format")
	}

	return ResponseWithContext{
		Context: Context{Slot: s.executor.Slot()},
		Value:   s.executor.IsBlockhashValid(blockhash),
	}, nil
}

// State Methods

// getMinimumBalanceForRentExemption returns the minimum balance for rent exemption.
func (s *Server) getMinimumBalanceForRentExemption(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "data length")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var dataLen uint64
	if err := json.Unmarshal(args[0], &dataLen); err != nil {
		return nil, InvalidParamsError("invalid data length")
	}
	if dataLen > accounts.MaxAccountDataSize {
		return nil, InvalidParamsErrorf("data length exceeds %d", accounts.MaxAccountDataSize)
	}
	return s.executor.Rent().MinimumBalance(dataLen), nil
}

// getAccountsHash returns the Merkle root over all accounts.
func (s *Server) getAccountsHash(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	slot := s.accountsDB.GetSlot()
	hash, err := accounts.ComputeAccountsHash(s.accountsDB)
	if err != nil {
		return nil, InternalServerErrorf("failed to compute accounts hash: %v", err)
	}
	count, err := s.accountsDB.AccountsCount()
	if err != nil {
		return nil, InternalServerErrorf("failed to count accounts: %v", err)
	}
	return AccountsHash{Slot: slot, Hash: hash.String(), Accounts: count}, nil
}

// requestAirdrop credits lamports to an account on development clusters.
func (s *Server) requestAirdrop(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 2, "pubkey and lamports")
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0], "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var lamports uint64
	if err := json.Unmarshal(args[1], &lamports); err != nil || lamports == 0 {
		return nil, InvalidParamsError("invalid lamports")
	}
	if lamports > s.config.MaxAirdropLamports {
		return nil, InvalidParamsErrorf("airdrop exceeds %d lamports", s.config.MaxAirdropLamports)
	}

	sig, err := s.executor.Airdrop(ctx, pubkey, lamports)
	if err != nil {
		return nil, InternalServerErrorf("airdrop failed: %v", err)
	}
	return sig.String(), nil
}

// Helper methods

// loadAccountInfo returns nil for a missing account.
func (s *Server) loadAccountInfo(pubkey types.Pubkey, encoding Encoding, dataSlice *DataSlice) (*AccountInfo, *RPCError) {
	account, err := s.accountsDB.GetAccount(pubkey)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return nil, nil
		}
		return nil, InternalServerErrorf("failed to get account: %v", err)
	}
	return s.accountToAccountInfo(account, encoding, dataSlice)
}

// accountToAccountInfo converts an internal account to RPC AccountInfo.
func (s *Server) accountToAccountInfo(account *accounts.Account, encoding Encoding, dataSlice *DataSlice) (*AccountInfo, *RPCError) {
	info := &AccountInfo{
		Executable: account.Executable,
		Lamports:   account.Lamports,
		Owner:      account.Owner.String(),
		RentEpoch:  account.RentEpoch,
		Space:      uint64(len(account.Data)),
	}

	if encoding == EncodingJSONParsed && dataSlice == nil {
		if parsed := s.parseAccountData(account); parsed != nil {
			info.Data = parsed
			return info, nil
		}
	}

	encodedData, err := EncodeAccountData(ApplyDataSlice(account.Data, dataSlice), encoding)
	if err != nil {
		return nil, InternalServerErrorf("failed to encode data: %v", err)
	}
	info.Data = encodedData
	return info, nil
}

// parseAccountData decodes campaign accounts. Other accounts return nil.
func (s *Server) parseAccountData(account *accounts.Account) *ParsedAccountData {
	if account.Owner != s.config.CrowdfundProgramID {
		return nil
	}
	record, err := crowdfund.DecodeCampaignAccount(account.Data)
	if err != nil {
		return nil
	}
	return &ParsedAccountData{
		Program: "crowdfund",
		Parsed: ParsedCampaign{
			Type: "campaign",
			Info: ParsedCampaignInfo{
				Admin:         record.Admin.String(),
				Name:          record.Name,
				Description:   record.Description,
				ImageLink:     record.ImageLink,
				AmountDonated: record.AmountDonated,
			},
		},
		Space: uint64(len(account.Data)),
	}
}

// matchesFilters checks if an account matches the given filters.
func matchesFilters(account *accounts.Account, filters []ProgramAccountFilter) bool {
	for _, filter := range filters {
		if filter.DataSize != nil && uint64(len(account.Data)) != *filter.DataSize {
			return false
		}

		if filter.Memcmp != nil {
			encoding := EncodingBase58
			if filter.Memcmp.Encoding != "" {
				encoding = filter.Memcmp.Encoding
			}
			cmpBytes, err := DecodeAccountData(filter.Memcmp.Bytes, encoding)
			if err != nil {
				return false
			}

			offset := filter.Memcmp.Offset
			if offset > uint64(len(account.Data)) || uint64(len(cmpBytes)) > uint64(len(account.Data))-offset {
				return false
			}
			for i, b := range cmpBytes {
				if account.Data[offset+uint64(i)] != b {
					return false
				}
			}
		}
	}
	return true
}

// transactionToResponse converts a ledger record to the RPC response.
func transactionToResponse(rec *ledger.TransactionRecord, encoding Encoding) *TransactionResponse {
	units := rec.ComputeUnitsConsumed
	blockTime := rec.BlockTime
	meta := &TransactionMeta{
		PreBalances:          rec.PreBalances,
		PostBalances:         rec.PostBalances,
		LogMessages:          rec.Logs,
		ComputeUnitsConsumed: &units,
	}
	if rec.Err != "" {
		meta.Err = rec.Err
	}
	if !rec.DeltaHash.IsZero() {
		meta.DeltaHash = rec.DeltaHash.String()
	}

	resp := &TransactionResponse{
		Slot:      rec.Slot,
		Meta:      meta,
		BlockTime: &blockTime,
	}
	if len(rec.Raw) == 0 {
		return resp
	}

	switch encoding {
	case EncodingJSON, EncodingJSONParsed:
		if tx, err := runtime.DeserializeTransaction(rec.Raw); err == nil {
			resp.Transaction = tx
			return resp
		}
		resp.Transaction = EncodeTransaction(rec.Raw, EncodingBase64)
	default:
		resp.Transaction = EncodeTransaction(rec.Raw, encoding)
	}
	return resp
}
