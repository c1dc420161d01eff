package rpc

import (
	"encoding/json"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Context provides slot context for RPC responses.
type Context struct {
	Slot uint64 `json:"slot"`
}

// ResponseWithContext wraps a value with context.
type ResponseWithContext struct {
	Context Context     `json:"context"`
	Value   interface{} `json:"value"`
}

// Encoding types for account and transaction data.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
	EncodingJSON       Encoding = "json"
	EncodingJSONParsed Encoding = "jsonParsed"
)

// DataSlice specifies a portion of account data to return.
type DataSlice struct {
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

// AccountInfoConfig configures getAccountInfo and getMultipleAccounts requests.
type AccountInfoConfig struct {
	Encoding       Encoding   `json:"encoding,omitempty"`
	DataSlice      *DataSlice `json:"dataSlice,omitempty"`
	MinContextSlot *uint64    `json:"minContextSlot,omitempty"`
}

// BalanceConfig configures getBalance requests.
type BalanceConfig struct {
	MinContextSlot *uint64 `json:"minContextSlot,omitempty"`
}

// ProgramAccountsConfig configures getProgramAccounts requests.
type ProgramAccountsConfig struct {
	Encoding       Encoding               `json:"encoding,omitempty"`
	DataSlice      *DataSlice             `json:"dataSlice,omitempty"`
	Filters        []ProgramAccountFilter `json:"filters,omitempty"`
	WithContext    bool                   `json:"withContext,omitempty"`
	MinContextSlot *uint64                `json:"minContextSlot,omitempty"`
}

// ProgramAccountFilter filters program accounts.
type ProgramAccountFilter struct {
	Memcmp   *MemcmpFilter `json:"memcmp,omitempty"`
	DataSize *uint64       `json:"dataSize,omitempty"`
}

// MemcmpFilter matches account data at an offset.
type MemcmpFilter struct {
	Offset   uint64   `json:"offset"`
	Bytes    string   `json:"bytes"`
	Encoding Encoding `json:"encoding,omitempty"`
}

// TransactionConfig configures getTransaction requests.
type TransactionConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// SignaturesForAddressConfig configures getSignaturesForAddress requests.
type SignaturesForAddressConfig struct {
	Limit  int    `json:"limit,omitempty"`
	Before string `json:"before,omitempty"`
}

// SignatureStatusConfig configures getSignatureStatuses requests.
type SignatureStatusConfig struct {
	SearchTransactionHistory bool `json:"searchTransactionHistory,omitempty"`
}

// SendTransactionConfig configures sendTransaction requests.
type SendTransactionConfig struct {
	Encoding      Encoding `json:"encoding,omitempty"`
	SkipPreflight bool     `json:"skipPreflight,omitempty"`
}

// SimulateTransactionConfig configures transaction simulation.
type SimulateTransactionConfig struct {
	SigVerify              bool                    `json:"sigVerify,omitempty"`
	Encoding               Encoding                `json:"encoding,omitempty"`
	ReplaceRecentBlockhash bool                    `json:"replaceRecentBlockhash,omitempty"`
	Accounts               *SimulateAccountsConfig `json:"accounts,omitempty"`
}

// SimulateAccountsConfig selects accounts returned from a simulation.
type SimulateAccountsConfig struct {
	Encoding  Encoding `json:"encoding,omitempty"`
	Addresses []string `json:"addresses"`
}

// AccountInfo represents account information returned by RPC.
type AccountInfo struct {
	Data       interface{} `json:"data"` // [encoded, encoding] or parsed JSON
	Executable bool        `json:"executable"`
	Lamports   uint64      `json:"lamports"`
	Owner      string      `json:"owner"`
	RentEpoch  uint64      `json:"rentEpoch"`
	Space      uint64      `json:"space"`
}

// KeyedAccountInfo wraps AccountInfo with its pubkey.
type KeyedAccountInfo struct {
	Pubkey  string       `json:"pubkey"`
	Account *AccountInfo `json:"account"`
}

// ParsedAccountData is the jsonParsed form of account data.
type ParsedAccountData struct {
	Program string      `json:"program"`
	Parsed  interface{} `json:"parsed"`
	Space   uint64      `json:"space"`
}

// ParsedCampaign is the jsonParsed form of a campaign account.
type ParsedCampaign struct {
	Type string             `json:"type"`
	Info ParsedCampaignInfo `json:"info"`
}

// ParsedCampaignInfo holds the decoded campaign record.
type ParsedCampaignInfo struct {
	Admin         string `json:"admin"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ImageLink     string `json:"imageLink"`
	AmountDonated uint64 `json:"amountDonated"`
}

// TransactionMeta contains transaction execution metadata.
type TransactionMeta struct {
	Err                  interface{} `json:"err"`
	Fee                  uint64      `json:"fee"`
	PreBalances          []uint64    `json:"preBalances"`
	PostBalances         []uint64    `json:"postBalances"`
	LogMessages          []string    `json:"logMessages"`
	ComputeUnitsConsumed *uint64     `json:"computeUnitsConsumed,omitempty"`
	DeltaHash            string      `json:"deltaHash,omitempty"`
}

// TransactionResponse represents a transaction returned by RPC.
type TransactionResponse struct {
	Slot        uint64           `json:"slot"`
	Transaction interface{}      `json:"transaction"` // Encoded or JSON
	Meta        *TransactionMeta `json:"meta"`
	BlockTime   *int64           `json:"blockTime"`
}

// SignatureInfo represents signature information for getSignaturesForAddress.
type SignatureInfo struct {
	Signature          string      `json:"signature"`
	Slot               uint64      `json:"slot"`
	Err                interface{} `json:"err"`
	Memo               *string     `json:"memo"`
	BlockTime          *int64      `json:"blockTime"`
	ConfirmationStatus string      `json:"confirmationStatus,omitempty"`
}

// SignatureStatus represents the status of a transaction signature.
type SignatureStatus struct {
	Slot               uint64      `json:"slot"`
	Confirmations      *uint64     `json:"confirmations"`
	Err                interface{} `json:"err"`
	ConfirmationStatus string      `json:"confirmationStatus,omitempty"`
}

// VersionInfo represents node version information.
type VersionInfo struct {
	SolanaCore string `json:"solana-core"`
	FeatureSet uint64 `json:"feature-set"`
}

// SimulationResult represents transaction simulation results.
type SimulationResult struct {
	Err           interface{}    `json:"err"`
	Logs          []string       `json:"logs"`
	Accounts      []*AccountInfo `json:"accounts"`
	UnitsConsumed *uint64        `json:"unitsConsumed,omitempty"`
}

// LatestBlockhash represents the latest blockhash.
type LatestBlockhash struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// AccountsHash is the Merkle root over all accounts at a slot.
type AccountsHash struct {
	Slot     uint64 `json:"slot"`
	Hash     string `json:"hash"`
	Accounts uint64 `json:"accounts"`
}

// PreflightFailure is the data attached to a failed preflight simulation.
type PreflightFailure struct {
	Err           interface{} `json:"err"`
	Logs          []string    `json:"logs"`
	UnitsConsumed uint64      `json:"unitsConsumed"`
}
