package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"

	"github.com/fortiblox/X1-Crowdfund/internal/types"
	"github.com/fortiblox/X1-Crowdfund/pkg/accounts"
	"github.com/fortiblox/X1-Crowdfund/pkg/ledger"
	"github.com/fortiblox/X1-Crowdfund/pkg/runtime"
	"github.com/fortiblox/X1-Crowdfund/pkg/svm"
	"github.com/fortiblox/X1-Crowdfund/pkg/svm/programs/crowdfund"
	"github.com/fortiblox/X1-Crowdfund/pkg/svm/programs/system"
)

const (
	campaignSpace = 200
	startBalance  = 10_000_000_000
)

var crowdfundID = types.Pubkey{0xcf, 0xcf, 0xcf}

type testNode struct {
	server   *Server
	executor *runtime.Executor
	db       *accounts.MemoryDB
}

func newTestServer(t *testing.T) *testNode {
	t.Helper()

	ledgerConfig := ledger.DefaultConfig(filepath.Join(t.TempDir(), "ledger.db"))
	ledgerConfig.PruneEnabled = false
	store, err := ledger.Open(ledgerConfig, zerolog.Nop())
	if err != nil {
		t.Fatalf("ledger.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	db := accounts.NewMemoryDB()
	executor := runtime.New(db, store, runtime.DefaultConfig(), zerolog.Nop())
	executor.RegisterProgram(crowdfundID, crowdfund.NewProcessor())

	config := DefaultConfig()
	config.CrowdfundProgramID = crowdfundID
	config.EnableAirdrop = true

	return &testNode{
		server:   New(config, executor, db, store, zerolog.Nop()),
		executor: executor,
		db:       db,
	}
}

func testKeypair(t *testing.T, b byte) *types.Keypair {
	t.Helper()
	kp, err := types.KeypairFromSeed(bytes.Repeat([]byte{b}, 32))
	if err != nil {
		t.Fatalf("KeypairFromSeed failed: %v", err)
	}
	return kp
}

// Helper function to make an RPC request.
func makeRPCRequest(t *testing.T, server *Server, method string, params interface{}) *Response {
	t.Helper()

	var paramsRaw json.RawMessage
	if params != nil {
		var err error
		paramsRaw, err = json.Marshal(params)
		if err != nil {
			t.Fatalf("Failed to marshal params: %v", err)
		}
	}

	body, err := json.Marshal(Request{
		JSONRPC: JSONRPCVersion,
		ID:      1,
		Method:  method,
		Params:  paramsRaw,
	})
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httpReq)

	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	return &resp
}

func mustResult(t *testing.T, resp *Response) interface{} {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}
	return resp.Result
}

func contextValue(t *testing.T, resp *Response) interface{} {
	t.Helper()
	result, ok := mustResult(t, resp).(map[string]interface{})
	if !ok {
		t.Fatalf("Expected context response, got: %T", resp.Result)
	}
	return result["value"]
}

func (n *testNode) airdrop(t *testing.T, to types.Pubkey, lamports uint64) string {
	t.Helper()
	sig, ok := mustResult(t, makeRPCRequest(t, n.server, "requestAirdrop", []interface{}{to.String(), lamports})).(string)
	if !ok {
		t.Fatal("Expected signature string from requestAirdrop")
	}
	return sig
}

func (n *testNode) signedTx(t *testing.T, signers []*types.Keypair, insts ...svm.Instruction) []byte {
	t.Helper()
	tx, err := runtime.NewTransaction(insts, signers[0].Pubkey, n.executor.LatestBlockhash())
	if err != nil {
		t.Fatalf("NewTransaction failed: %v", err)
	}
	if err := tx.Sign(signers...); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return tx.Serialize()
}

func (n *testNode) createCampaign(t *testing.T, admin, campaign *types.Keypair) string {
	t.Helper()
	inst, err := crowdfund.NewCreateCampaignInstruction(crowdfundID, campaign.Pubkey, admin.Pubkey,
		"Library", "Books for the school", "https://example.com/library.png")
	if err != nil {
		t.Fatalf("NewCreateCampaignInstruction failed: %v", err)
	}
	rent := n.executor.Rent().MinimumBalance(campaignSpace)
	raw := n.signedTx(t, []*types.Keypair{admin, campaign},
		system.CreateAccount(admin.Pubkey, campaign.Pubkey, rent, campaignSpace, crowdfundID),
		inst,
	)

	resp := makeRPCRequest(t, n.server, "sendTransaction", []interface{}{
		base64.StdEncoding.EncodeToString(raw),
		map[string]interface{}{"encoding": "base64"},
	})
	sig, ok := mustResult(t, resp).(string)
	if !ok {
		t.Fatalf("Expected signature string, got: %T", resp.Result)
	}
	return sig
}

func TestGetHealth(t *testing.T) {
	node := newTestServer(t)

	if result := mustResult(t, makeRPCRequest(t, node.server, "getHealth", nil)); result != "ok" {
		t.Errorf("Expected 'ok', got: %v", result)
	}

	node.server.SetHealthy(false)
	resp := makeRPCRequest(t, node.server, "getHealth", nil)
	if resp.Error == nil || resp.Error.Code != NodeUnhealthy {
		t.Errorf("Expected node unhealthy error, got: %v", resp.Error)
	}
}

func TestHealthEndpoint(t *testing.T) {
	node := newTestServer(t)

	rr := httptest.NewRecorder()
	node.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("GET /health = %d %q", rr.Code, rr.Body.String())
	}

	node.server.SetHealthy(false)
	rr = httptest.NewRecorder()
	node.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when unhealthy, got: %d", rr.Code)
	}
}

func TestGetVersion(t *testing.T) {
	node := newTestServer(t)

	result, ok := mustResult(t, makeRPCRequest(t, node.server, "getVersion", nil)).(map[string]interface{})
	if !ok {
		t.Fatal("Expected map result")
	}
	if result["solana-core"] != SolanaCore {
		t.Errorf("solana-core = %v", result["solana-core"])
	}
}

func TestMethodNotFound(t *testing.T) {
	node := newTestServer(t)

	resp := makeRPCRequest(t, node.server, "getBlock", []interface{}{1})
	if resp.Error == nil || resp.Error.Code != MethodNotFound {
		t.Errorf("Expected method not found, got: %v", resp.Error)
	}
}

func TestInvalidParams(t *testing.T) {
	node := newTestServer(t)

	tests := []struct {
		method string
		params interface{}
	}{
		{"getBalance", nil},
		{"getBalance", []interface{}{"not-a-pubkey"}},
		{"getAccountInfo", []interface{}{42}},
		{"getTransaction", []interface{}{"zzz"}},
		{"sendTransaction", []interface{}{"!!!"}},
		{"sendTransaction", []interface{}{"", map[string]interface{}{"encoding": "json"}}},
		{"getMinimumBalanceForRentExemption", []interface{}{-1}},
		{"requestAirdrop", []interface{}{types.Pubkey{1}.String(), 0}},
		{"requestAirdrop", []interface{}{types.Pubkey{1}.String(), uint64(200_000_000_000)}},
		{"simulateTransaction", []interface{}{"", map[string]interface{}{"sigVerify": true, "replaceRecentBlockhash": true}}},
	}

	for _, tt := range tests {
		resp := makeRPCRequest(t, node.server, tt.method, tt.params)
		if resp.Error == nil || resp.Error.Code != InvalidParams {
			t.Errorf("%s(%v): expected invalid params, got: %+v", tt.method, tt.params, resp.Error)
		}
	}
}

func TestInvalidRequest(t *testing.T) {
	node := newTestServer(t)

	body := []byte(`{"jsonrpc":"1.0","id":1,"method":"getHealth"}`)
	rr := httptest.NewRecorder()
	node.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))

	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != InvalidRequest {
		t.Errorf("Expected invalid request, got: %+v", resp.Error)
	}

	rr = httptest.NewRecorder()
	node.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")))
	resp = Response{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != ParseError {
		t.Errorf("Expected parse error, got: %+v", resp.Error)
	}
}

func TestAirdropAndBalance(t *testing.T) {
	node := newTestServer(t)
	to := testKeypair(t, 1).Pubkey

	if v := contextValue(t, makeRPCRequest(t, node.server, "getBalance", []interface{}{to.String()})); v.(float64) != 0 {
		t.Errorf("Expected 0 balance for missing account, got: %v", v)
	}

	node.airdrop(t, to, 5_000)

	if v := contextValue(t, makeRPCRequest(t, node.server, "getBalance", []interface{}{to.String()})); v.(float64) != 5_000 {
		t.Errorf("Expected balance 5000, got: %v", v)
	}
	if slot := mustResult(t, makeRPCRequest(t, node.server, "getSlot", nil)); slot.(float64) != 1 {
		t.Errorf("Expected slot 1, got: %v", slot)
	}
	if count := mustResult(t, makeRPCRequest(t, node.server, "getTransactionCount", nil)); count.(float64) != 1 {
		t.Errorf("Expected 1 transaction, got: %v", count)
	}

	minSlot := map[string]interface{}{"minContextSlot": 10}
	resp := makeRPCRequest(t, node.server, "getBalance", []interface{}{to.String(), minSlot})
	if resp.Error == nil || resp.Error.Code != MinContextSlotNotReached {
		t.Errorf("Expected min context slot error, got: %+v", resp.Error)
	}
}

func TestAirdropDisabled(t *testing.T) {
	node := newTestServer(t)
	config := DefaultConfig()
	server := New(config, node.executor, node.db, node.server.ledger, zerolog.Nop())

	resp := makeRPCRequest(t, server, "requestAirdrop", []interface{}{types.Pubkey{1}.String(), 1})
	if resp.Error == nil || resp.Error.Code != MethodNotFound {
		t.Errorf("Expected method not found, got: %+v", resp.Error)
	}
}

func TestCampaignOverRPC(t *testing.T) {
	node := newTestServer(t)
	admin := testKeypair(t, 1)
	campaign := testKeypair(t, 2)
	node.airdrop(t, admin.Pubkey, startBalance)

	sig := node.createCampaign(t, admin, campaign)

	// jsonParsed decodes the campaign record.
	value := contextValue(t, makeRPCRequest(t, node.server, "getAccountInfo", []interface{}{
		campaign.Pubkey.String(),
		map[string]interface{}{"encoding": "jsonParsed"},
	}))
	info, ok := value.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected account info, got: %T", value)
	}
	if info["owner"] != crowdfundID.String() || info["space"].(float64) != campaignSpace {
		t.Errorf("account info = %v", info)
	}
	data := info["data"].(map[string]interface{})
	parsed := data["parsed"].(map[string]interface{})
	fields := parsed["info"].(map[string]interface{})
	if data["program"] != "crowdfund" || parsed["type"] != "campaign" {
		t.Errorf("parsed data = %v", data)
	}
	if fields["admin"] != admin.Pubkey.String() || fields["name"] != "Library" || fields["amountDonated"].(float64) != 0 {
		t.Errorf("campaign info = %v", fields)
	}

	// base64 returns the raw record.
	value = contextValue(t, makeRPCRequest(t, node.server, "getAccountInfo", []interface{}{
		campaign.Pubkey.String(),
		map[string]interface{}{"encoding": "base64", "dataSlice": map[string]interface{}{"offset": 0, "length": 32}},
	}))
	encoded := value.(map[string]interface{})["data"].([]interface{})
	raw, err := base64.StdEncoding.DecodeString(encoded[0].(string))
	if err != nil {
		t.Fatalf("base64 decode failed: %v", err)
	}
	if !bytes.Equal(raw, admin.Pubkey.Bytes()) {
		t.Errorf("sliced data = %x, want admin key", raw)
	}

	// getProgramAccounts with a memcmp filter on the admin field.
	result := mustResult(t, makeRPCRequest(t, node.server, "getProgramAccounts", []interface{}{
		crowdfundID.String(),
		map[string]interface{}{
			"encoding": "base64",
			"filters": []interface{}{
				map[string]interface{}{"dataSize": campaignSpace},
				map[string]interface{}{"memcmp": map[string]interface{}{"offset": 0, "bytes": base58.Encode(admin.Pubkey.Bytes())}},
			},
		},
	}))
	keyed := result.([]interface{})
	if len(keyed) != 1 || keyed[0].(map[string]interface{})["pubkey"] != campaign.Pubkey.String() {
		t.Errorf("program accounts = %v", keyed)
	}

	result = mustResult(t, makeRPCRequest(t, node.server, "getProgramAccounts", []interface{}{
		crowdfundID.String(),
		map[string]interface{}{"filters": []interface{}{
			map[string]interface{}{"memcmp": map[string]interface{}{"offset": 0, "bytes": base58.Encode(campaign.Pubkey.Bytes())}},
		}},
	}))
	if len(result.([]interface{})) != 0 {
		t.Errorf("Expected no accounts for mismatched memcmp, got: %v", result)
	}

	// The transaction is in the ledger.
	txResult, ok := mustResult(t, makeRPCRequest(t, node.server, "getTransaction", []interface{}{sig})).(map[string]interface{})
	if !ok {
		t.Fatal("Expected transaction response")
	}
	meta := txResult["meta"].(map[string]interface{})
	if meta["err"] != nil || txResult["transaction"] == nil {
		t.Errorf("transaction = %v", txResult)
	}
	if meta["deltaHash"] == nil || meta["computeUnitsConsumed"].(float64) == 0 {
		t.Errorf("meta = %v", meta)
	}

	txResult = mustResult(t, makeRPCRequest(t, node.server, "getTransaction", []interface{}{
		sig, map[string]interface{}{"encoding": "base58"},
	})).(map[string]interface{})
	wire := txResult["transaction"].([]interface{})
	if wire[1] != "base58" {
		t.Errorf("Expected base58 transaction, got: %v", wire)
	}
	if decoded, err := base58.Decode(wire[0].(string)); err != nil || len(decoded) == 0 {
		t.Errorf("base58 transaction decode failed: %v", err)
	}

	sigs := mustResult(t, makeRPCRequest(t, node.server, "getSignaturesForAddress", []interface{}{
		campaign.Pubkey.String(),
	})).([]interface{})
	if len(sigs) != 1 || sigs[0].(map[string]interface{})["signature"] != sig {
		t.Errorf("signatures = %v", sigs)
	}

	statuses := contextValue(t, makeRPCRequest(t, node.server, "getSignatureStatuses", []interface{}{
		[]string{sig, types.Signature{9}.String()},
	})).([]interface{})
	if len(statuses) != 2 || statuses[0] == nil || statuses[1] != nil {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestGetTransactionAirdropAndMissing(t *testing.T) {
	node := newTestServer(t)
	sig := node.airdrop(t, types.Pubkey{7}, 1_000)

	txResult := mustResult(t, makeRPCRequest(t, node.server, "getTransaction", []interface{}{sig})).(map[string]interface{})
	if txResult["transaction"] != nil {
		t.Errorf("airdrop should have no wire transaction, got: %v", txResult["transaction"])
	}

	resp := makeRPCRequest(t, node.server, "getTransaction", []interface{}{types.Signature{1}.String()})
	if resp.Error != nil || resp.Result != nil {
		t.Errorf("Expected null result for unknown signature, got: %+v", resp)
	}
}

func TestSendTransactionPreflightFailure(t *testing.T) {
	node := newTestServer(t)
	admin := testKeypair(t, 1)
	campaign := testKeypair(t, 2)
	node.airdrop(t, admin.Pubkey, startBalance)
	node.createCampaign(t, admin, campaign)

	withdraw, err := crowdfund.NewWithdrawInstruction(crowdfundID, campaign.Pubkey, admin.Pubkey, 1)
	if err != nil {
		t.Fatalf("NewWithdrawInstruction failed: %v", err)
	}
	raw := node.signedTx(t, []*types.Keypair{admin}, withdraw)
	slot := node.executor.Slot()

	resp := makeRPCRequest(t, node.server, "sendTransaction", []interface{}{base58.Encode(raw)})
	if resp.Error == nil || resp.Error.Code != SendTransactionPreflightFailure {
		t.Fatalf("Expected preflight failure, got: %+v", resp.Error)
	}
	data := resp.Error.Data.(map[string]interface{})
	if len(data["logs"].([]interface{})) == 0 {
		t.Error("Expected program logs in preflight failure")
	}
	if node.executor.Slot() != slot {
		t.Error("preflight failure must not advance the slot")
	}

	// Skipping preflight records the failed transaction.
	resp = makeRPCRequest(t, node.server, "sendTransaction", []interface{}{
		base58.Encode(raw), map[string]interface{}{"skipPreflight": true},
	})
	sig := mustResult(t, resp).(string)
	statuses := contextValue(t, makeRPCRequest(t, node.server, "getSignatureStatuses", []interface{}{[]string{sig}})).([]interface{})
	status := statuses[0].(map[string]interface{})
	if status["err"] == nil {
		t.Errorf("Expected failed status, got: %v", status)
	}

	// Resending the same signature is rejected.
	resp = makeRPCRequest(t, node.server, "sendTransaction", []interface{}{
		base58.Encode(raw), map[string]interface{}{"skipPreflight": true},
	})
	if resp.Error == nil || resp.Error.Code != SendTransactionPreflightFailure {
		t.Errorf("Expected replay rejection, got: %+v", resp.Error)
	}
}

func TestSendTransactionBadSignature(t *testing.T) {
	node := newTestServer(t)
	payer := testKeypair(t, 1)
	node.airdrop(t, payer.Pubkey, startBalance)

	raw := node.signedTx(t, []*types.Keypair{payer}, system.Transfer(payer.Pubkey, types.Pubkey{5}, 100))
	raw[4] ^= 0xff // first signature byte after the u32 count

	resp := makeRPCRequest(t, node.server, "sendTransaction", []interface{}{base58.Encode(raw)})
	if resp.Error == nil || resp.Error.Code != TransactionSignatureVerificationFailure {
		t.Errorf("Expected signature verification failure, got: %+v", resp.Error)
	}
}

func TestSimulateTransaction(t *testing.T) {
	node := newTestServer(t)
	payer := testKeypair(t, 1)
	to := types.Pubkey{5}
	node.airdrop(t, payer.Pubkey, startBalance)

	tx, err := runtime.NewTransaction([]svm.Instruction{system.Transfer(payer.Pubkey, to, 100)}, payer.Pubkey, types.Hash{1})
	if err != nil {
		t.Fatalf("NewTransaction failed: %v", err)
	}
	tx.Signatures = make([]types.Signature, 1)
	slot := node.executor.Slot()

	value := contextValue(t, makeRPCRequest(t, node.server, "simulateTransaction", []interface{}{
		base64.StdEncoding.EncodeToString(tx.Serialize()),
		map[string]interface{}{
			"encoding":               "base64",
			"replaceRecentBlockhash": true,
			"accounts":               map[string]interface{}{"addresses": []string{to.String(), types.Pubkey{6}.String()}},
		},
	})).(map[string]interface{})

	if value["err"] != nil {
		t.Fatalf("simulation failed: %v", value)
	}
	simAccounts := value["accounts"].([]interface{})
	if simAccounts[0].(map[string]interface{})["lamports"].(float64) != 100 || simAccounts[1] != nil {
		t.Errorf("simulated accounts = %v", simAccounts)
	}
	if value["unitsConsumed"].(float64) != float64(svm.CUSignatureVerify+svm.CUSystemProgramDefault) {
		t.Errorf("unitsConsumed = %v", value["unitsConsumed"])
	}

	if node.executor.Slot() != slot {
		t.Error("simulation must not advance the slot")
	}
	if v := contextValue(t, makeRPCRequest(t, node.server, "getBalance", []interface{}{to.String()})); v.(float64) != 0 {
		t.Errorf("simulation must not commit, balance = %v", v)
	}
}

func TestBlockhashMethods(t *testing.T) {
	node := newTestServer(t)

	value := contextValue(t, makeRPCRequest(t, node.server, "getLatestBlockhash", nil)).(map[string]interface{})
	blockhash := value["blockhash"].(string)
	if blockhash != node.executor.LatestBlockhash().String() {
		t.Errorf("blockhash = %s", blockhash)
	}
	if value["lastValidBlockHeight"].(float64) != float64(runtime.MaxRecentBlockhashes) {
		t.Errorf("lastValidBlockHeight = %v", value["lastValidBlockHeight"])
	}

	if v := contextValue(t, makeRPCRequest(t, node.server, "isBlockhashValid", []interface{}{blockhash})); v != true {
		t.Errorf("Expected latest blockhash to be valid")
	}
	if v := contextValue(t, makeRPCRequest(t, node.server, "isBlockhashValid", []interface{}{types.Hash{1}.String()})); v != false {
		t.Errorf("Expected unknown blockhash to be invalid")
	}
}

func TestStateMethods(t *testing.T) {
	node := newTestServer(t)

	rent := mustResult(t, makeRPCRequest(t, node.server, "getMinimumBalanceForRentExemption", []interface{}{0}))
	if rent.(float64) != 890_880 {
		t.Errorf("rent for 0 bytes = %v", rent)
	}

	node.airdrop(t, types.Pubkey{1}, 10)
	node.airdrop(t, types.Pubkey{2}, 20)

	result := mustResult(t, makeRPCRequest(t, node.server, "getAccountsHash", nil)).(map[string]interface{})
	want, err := accounts.ComputeAccountsHash(node.db)
	if err != nil {
		t.Fatalf("ComputeAccountsHash failed: %v", err)
	}
	if result["hash"] != want.String() || result["accounts"].(float64) != 2 || result["slot"].(float64) != 2 {
		t.Errorf("accounts hash = %v", result)
	}
}

func TestGetMultipleAccounts(t *testing.T) {
	node := newTestServer(t)
	node.airdrop(t, types.Pubkey{1}, 10)

	value := contextValue(t, makeRPCRequest(t, node.server, "getMultipleAccounts", []interface{}{
		[]string{types.Pubkey{1}.String(), types.Pubkey{2}.String()},
		map[string]interface{}{"encoding": "base58"},
	})).([]interface{})
	if len(value) != 2 || value[1] != nil {
		t.Fatalf("accounts = %v", value)
	}
	first := value[0].(map[string]interface{})
	if first["lamports"].(float64) != 10 || first["owner"] != system.ProgramID.String() {
		t.Errorf("account = %v", first)
	}
}

func TestBatchRequest(t *testing.T) {
	node := newTestServer(t)

	requests := []Request{
		{JSONRPC: JSONRPCVersion, ID: 1, Method: "getHealth"},
		{JSONRPC: JSONRPCVersion, ID: 2, Method: "getVersion"},
		{JSONRPC: JSONRPCVersion, ID: 3, Method: "nope"},
	}
	body, _ := json.Marshal(requests)
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	node.server.Handler().ServeHTTP(rr, httpReq)

	var responses []Response
	if err := json.Unmarshal(rr.Body.Bytes(), &responses); err != nil {
		t.Fatalf("Failed to unmarshal batch response: %v", err)
	}
	if len(responses) != 3 {
		t.Fatalf("Expected 3 responses, got: %d", len(responses))
	}
	if responses[0].Error != nil || responses[1].Error != nil || responses[2].Error == nil {
		t.Errorf("batch errors = %v %v %v", responses[0].Error, responses[1].Error, responses[2].Error)
	}
}

func TestRequestIDHeader(t *testing.T) {
	node := newTestServer(t)
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"getHealth"}`)

	rr := httptest.NewRecorder()
	node.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("Expected a generated X-Request-ID")
	}

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("X-Request-ID", "abc-123")
	rr = httptest.NewRecorder()
	node.server.Handler().ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestCORSHeaders(t *testing.T) {
	node := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://example.com")

	rr := httptest.NewRecorder()
	handler := node.server.corsMiddleware(http.HandlerFunc(node.server.handleRPC))
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status %d for OPTIONS, got: %d", http.StatusNoContent, rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://example.com" {
		t.Error("Expected CORS Allow-Origin header")
	}
}

func TestServerLifecycle(t *testing.T) {
	node := newTestServer(t)
	node.server.config.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- node.server.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Server did not stop in time")
	}
}

func TestEncoding(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}

	for _, enc := range []Encoding{EncodingBase58, EncodingBase64, EncodingBase64Zstd} {
		encoded, err := EncodeAccountData(data, enc)
		if err != nil {
			t.Fatalf("EncodeAccountData(%s) failed: %v", enc, err)
		}
		pair := encoded.([]string)
		if pair[1] != string(enc) {
			t.Errorf("encoding tag = %s, want %s", pair[1], enc)
		}
		decoded, err := DecodeAccountData(pair[0], enc)
		if err != nil {
			t.Fatalf("DecodeAccountData(%s) failed: %v", enc, err)
		}
		if !bytes.Equal(decoded, data) {
			t.Errorf("%s: decoded %v, want %v", enc, decoded, data)
		}
	}
}

func TestDataSlice(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	tests := []struct {
		slice *DataSlice
		want  []byte
	}{
		{nil, data},
		{&DataSlice{Offset: 2, Length: 3}, []byte{2, 3, 4}},
		{&DataSlice{Offset: 8, Length: 5}, []byte{8, 9}},
		{&DataSlice{Offset: 20, Length: 5}, []byte{}},
		{&DataSlice{Offset: 1, Length: ^uint64(0)}, data[1:]},
	}
	for _, tt := range tests {
		if got := ApplyDataSlice(data, tt.slice); !bytes.Equal(got, tt.want) {
			t.Errorf("ApplyDataSlice(%+v) = %v, want %v", tt.slice, got, tt.want)
		}
	}
}
