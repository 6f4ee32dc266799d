// Package chaintest provides an in-process Solana JSON-RPC node for tests.
package chaintest

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Blockhash is the blockhash every fake node hands out.
var Blockhash = solana.Hash{7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7}

// RentExemptLamports is returned for every rent exemption query.
const RentExemptLamports uint64 = 63_530_880

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Handler answers one JSON-RPC method.
type Handler func(params []json.RawMessage) (interface{}, *RPCError)

// AccountState is a stored account.
type AccountState struct {
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

// Node is a minimal Solana JSON-RPC server. Transactions sent to it land
// immediately unless an error is configured.
type Node struct {
	Server *httptest.Server

	mu        sync.Mutex
	overrides map[string]Handler
	calls     map[string]int
	accounts  map[solana.PublicKey]AccountState
	balances  map[solana.PublicKey]uint64
	sent      []*solana.Transaction
	landed    map[solana.Signature]interface{}
	txErr     interface{}
	held      bool
	// OnSend, if set, applies a landed transaction to node state.
	OnSend func(n *Node, tx *solana.Transaction)
}

// NewNode starts a node. Callers must Close it.
func NewNode() *Node {
	n := &Node{
		overrides: make(map[string]Handler),
		calls:     make(map[string]int),
		accounts:  make(map[solana.PublicKey]AccountState),
		balances:  make(map[solana.PublicKey]uint64),
		landed:    make(map[solana.Signature]interface{}),
	}
	n.Server = httptest.NewServer(http.HandlerFunc(n.serve))
	return n
}

// URL returns the RPC endpoint.
func (n *Node) URL() string { return n.Server.URL }

// Close stops the server.
func (n *Node) Close() { n.Server.Close() }

// Handle overrides the answer for method.
func (n *Node) Handle(method string, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.overrides[method] = h
}

// Fail makes method return the given JSON-RPC error.
func (n *Node) Fail(method string, code int, message string, data interface{}) {
	n.Handle(method, func([]json.RawMessage) (interface{}, *RPCError) {
		return nil, &RPCError{Code: code, Message: message, Data: data}
	})
}

// FailTransactions makes subsequently sent transactions land with err as status error.
func (n *Node) FailTransactions(err interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.txErr = err
}

// HoldConfirmations reports every signature status as unknown until release is called.
func (n *Node) HoldConfirmations() (release func()) {
	n.mu.Lock()
	n.held = true
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		n.held = false
		n.mu.Unlock()
	}
}

// SetAccount stores an account.
func (n *Node) SetAccount(address solana.PublicKey, acct AccountState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accounts[address] = acct
}

// Account returns a stored account.
func (n *Node) Account(address solana.PublicKey) (AccountState, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	acct, ok := n.accounts[address]
	return acct, ok
}

// SetBalance stores a wallet balance.
func (n *Node) SetBalance(address solana.PublicKey, lamports uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances[address] = lamports
}

// Calls returns how many times method was invoked.
func (n *Node) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

// Sent returns the transactions received so far.
func (n *Node) Sent() []*solana.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*solana.Transaction(nil), n.sent...)
}

type request struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

func (n *Node) serve(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	h, ok := n.overrides[req.Method]
	n.mu.Unlock()
	if !ok {
		h = n.builtin(req.Method)
	}

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	result, rpcErr := h(req.Params)
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func withContext(value interface{}) map[string]interface{} {
	return map[string]interface{}{
		"context": map[string]interface{}{"slot": 1},
		"value":   value,
	}
}

func (n *Node) builtin(method string) Handler {
	switch method {
	case "getLatestBlockhash":
		return func([]json.RawMessage) (interface{}, *RPCError) {
			return withContext(map[string]interface{}{
				"blockhash":            Blockhash.String(),
				"lastValidBlockHeight": 1000,
			}), nil
		}
	case "getVersion":
		return func([]json.RawMessage) (interface{}, *RPCError) {
			return map[string]interface{}{"solana-core": "1.18.26", "feature-set": 3241752014}, nil
		}
	case "getMinimumBalanceForRentExemption":
		return func([]json.RawMessage) (interface{}, *RPCError) {
			return RentExemptLamports, nil
		}
	case "getBalance":
		return func(params []json.RawMessage) (interface{}, *RPCError) {
			key, rpcErr := pubkeyParam(params)
			if rpcErr != nil {
				return nil, rpcErr
			}
			n.mu.Lock()
			defer n.mu.Unlock()
			return withContext(n.balances[key]), nil
		}
	case "getAccountInfo":
		return func(params []json.RawMessage) (interface{}, *RPCError) {
			key, rpcErr := pubkeyParam(params)
			if rpcErr != nil {
				return nil, rpcErr
			}
			n.mu.Lock()
			defer n.mu.Unlock()
			acct, ok := n.accounts[key]
			if !ok {
				return withContext(nil), nil
			}
			return withContext(map[string]interface{}{
				"data":       []string{base64.StdEncoding.EncodeToString(acct.Data), "base64"},
				"executable": false,
				"lamports":   acct.Lamports,
				"owner":      acct.Owner.String(),
				"rentEpoch":  0,
				"space":      len(acct.Data),
			}), nil
		}
	case "sendTransaction":
		return n.sendTransaction
	case "getSignatureStatuses":
		return func(params []json.RawMessage) (interface{}, *RPCError) {
			if len(params) == 0 {
				return nil, &RPCError{Code: -32602, Message: "missing signatures"}
			}
			var sigs []string
			if err := json.Unmarshal(params[0], &sigs); err != nil {
				return nil, &RPCError{Code: -32602, Message: err.Error()}
			}
			n.mu.Lock()
			defer n.mu.Unlock()
			out := make([]interface{}, len(sigs))
			if n.held {
				return withContext(out), nil
			}
			for i, s := range sigs {
				sig, err := solana.SignatureFromBase58(s)
				if err != nil {
					continue
				}
				txErr, ok := n.landed[sig]
				if !ok {
					continue
				}
				out[i] = map[string]interface{}{
					"slot":               2,
					"confirmations":      nil,
					"err":                txErr,
					"confirmationStatus": "finalized",
				}
			}
			return withContext(out), nil
		}
	default:
		return func([]json.RawMessage) (interface{}, *RPCError) {
			return nil, &RPCError{Code: -32601, Message: "Method not found"}
		}
	}
}

func (n *Node) sendTransaction(params []json.RawMessage) (interface{}, *RPCError) {
	if len(params) == 0 {
		return nil, &RPCError{Code: -32602, Message: "missing transaction"}
	}
	var encoded string
	if err := json.Unmarshal(params[0], &encoded); err != nil {
		return nil, &RPCError{Code: -32602, Message: err.Error()}
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &RPCError{Code: -32602, Message: err.Error()}
	}
	var tx solana.Transaction
	if err := tx.UnmarshalWithDecoder(bin.NewBinDecoder(raw)); err != nil {
		return nil, &RPCError{Code: -32602, Message: err.Error()}
	}
	if len(tx.Signatures) == 0 {
		return nil, &RPCError{Code: -32602, Message: "transaction is not signed"}
	}

	n.mu.Lock()
	n.sent = append(n.sent, &tx)
	txErr := n.txErr
	n.landed[tx.Signatures[0]] = txErr
	onSend := n.OnSend
	n.mu.Unlock()

	if txErr == nil && onSend != nil {
		onSend(n, &tx)
	}
	return tx.Signatures[0].String(), nil
}

func pubkeyParam(params []json.RawMessage) (solana.PublicKey, *RPCError) {
	if len(params) == 0 {
		return solana.PublicKey{}, &RPCError{Code: -32602, Message: "missing address"}
	}
	var s string
	if err := json.Unmarshal(params[0], &s); err != nil {
		return solana.PublicKey{}, &RPCError{Code: -32602, Message: err.Error()}
	}
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, &RPCError{Code: -32602, Message: "Invalid param: WrongSize"}
	}
	return key, nil
}
