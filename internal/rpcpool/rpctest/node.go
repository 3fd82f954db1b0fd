// Package rpctest runs an in-memory EVM JSON-RPC node over httptest for
// tests. It tracks native and ERC-20 balances, executes approve/transfer
// calls, and lets tests plug in router contracts.
package rpctest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ggonzalez94/swapdesk/internal/registry"
)

var (
	erc20ABI     = mustABI(registry.ERC20ABI)
	bytes32ABI   = mustABI(registry.ERC20Bytes32MetaABI)
	stringType   = mustType("string")
	revertPrefix = common.FromHex("0x08c379a0")
)

// RevertError makes a router revert with a reason string.
type RevertError struct{ Reason string }

func (e *RevertError) Error() string { return "execution reverted: " + e.Reason }

// RouterFunc executes a call to a router address. Returning an error reverts
// the transaction.
type RouterFunc func(n *Node, from common.Address, value *big.Int, data []byte) error

type Token struct {
	Name     string
	Symbol   string
	Decimals uint8
	// Bytes32Meta serves name/symbol as bytes32 like some older tokens.
	Bytes32Meta bool

	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

type Node struct {
	*httptest.Server

	ChainID     int64
	BaseFee     *big.Int
	TipCap      *big.Int
	GasPrice    *big.Int
	GasEstimate uint64
	// HoldReceipts keeps sent transactions pending forever.
	HoldReceipts bool
	// RevertOnChain skips router simulation during gas estimation so a
	// failing router reverts in a mined transaction instead.
	RevertOnChain bool

	mu       sync.Mutex
	block    uint64
	native   map[common.Address]*big.Int
	tokens   map[common.Address]*Token
	routers  map[common.Address]RouterFunc
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	pending  []*types.Log
	sent     []*types.Transaction
	calls    map[string]int
}

func NewNode(chainID int64) *Node {
	n := &Node{
		ChainID:     chainID,
		BaseFee:     big.NewInt(1_000_000_000),
		TipCap:      big.NewInt(2_000_000_000),
		GasPrice:    big.NewInt(1_500_000_000),
		GasEstimate: 50_000,
		block:       100,
		native:      map[common.Address]*big.Int{},
		tokens:      map[common.Address]*Token{},
		routers:     map[common.Address]RouterFunc{},
		nonces:      map[common.Address]uint64{},
		receipts:    map[common.Hash]*types.Receipt{},
		calls:       map[string]int{},
	}
	n.Server = httptest.NewServer(http.HandlerFunc(n.serve))
	return n
}

func (n *Node) AddToken(addr common.Address, tok Token) {
	n.mu.Lock()
	defer n.mu.Unlock()
	tok.balances = map[common.Address]*big.Int{}
	tok.allowances = map[common.Address]map[common.Address]*big.Int{}
	n.tokens[addr] = &tok
}

func (n *Node) AddRouter(addr common.Address, fn RouterFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routers[addr] = fn
}

func (n *Node) SetNative(holder common.Address, amount *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.native[holder] = new(big.Int).Set(amount)
}

func (n *Node) Native(holder common.Address) *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nativeOf(holder)
}

func (n *Node) SetTokenBalance(token, holder common.Address, amount *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens[token].balances[holder] = new(big.Int).Set(amount)
}

func (n *Node) TokenBalance(token, holder common.Address) *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.balanceOf(token, holder)
}

func (n *Node) Allowance(token, owner, spender common.Address) *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.allowanceOf(token, owner, spender)
}

// Sent returns every raw transaction accepted so far.
func (n *Node) Sent() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.sent...)
}

// Calls reports how many times a JSON-RPC method was invoked.
func (n *Node) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

// Credit and Debit are for router implementations, which run with the node
// lock held.
func (n *Node) Credit(token, holder common.Address, amount *big.Int) {
	if registry.IsNativePlaceholder(token.Hex()) {
		n.native[holder] = new(big.Int).Add(n.nativeOf(holder), amount)
		return
	}
	n.tokens[token].balances[holder] = new(big.Int).Add(n.balanceOf(token, holder), amount)
	n.logTransfer(token, common.Address{}, holder, amount)
}

// PullFrom moves amount of token from owner to spender using the allowance
// owner granted spender.
func (n *Node) PullFrom(token, owner, spender common.Address, amount *big.Int) error {
	allowed := n.allowanceOf(token, owner, spender)
	if allowed.Cmp(amount) < 0 {
		return &RevertError{Reason: "ERC20: insufficient allowance"}
	}
	if err := n.move(token, owner, spender, amount); err != nil {
		return err
	}
	n.tokens[token].allowances[owner][spender] = new(big.Int).Sub(allowed, amount)
	return nil
}

// FixedSwap returns a router that takes sellAmount of sell from the caller
// and pays buyAmount of buy back.
func FixedSwap(router, sell, buy common.Address, sellAmount, buyAmount *big.Int) RouterFunc {
	return func(n *Node, from common.Address, value *big.Int, _ []byte) error {
		if registry.IsNativePlaceholder(sell.Hex()) {
			if value.Cmp(sellAmount) < 0 {
				return &RevertError{Reason: "insufficient msg.value"}
			}
		} else if err := n.PullFrom(sell, from, router, sellAmount); err != nil {
			return err
		}
		if registry.IsNativePlaceholder(buy.Hex()) {
			n.native[from] = new(big.Int).Add(n.nativeOf(from), buyAmount)
			return nil
		}
		return n.move(buy, router, from, buyAmount)
	}
}

func (n *Node) nativeOf(holder common.Address) *big.Int {
	if v, ok := n.native[holder]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (n *Node) balanceOf(token, holder common.Address) *big.Int {
	tok, ok := n.tokens[token]
	if !ok {
		return new(big.Int)
	}
	if v, ok := tok.balances[holder]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (n *Node) allowanceOf(token, owner, spender common.Address) *big.Int {
	tok, ok := n.tokens[token]
	if !ok {
		return new(big.Int)
	}
	if v, ok := tok.allowances[owner][spender]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (n *Node) move(token, from, to common.Address, amount *big.Int) error {
	tok, ok := n.tokens[token]
	if !ok {
		return &RevertError{Reason: "unknown token"}
	}
	have := n.balanceOf(token, from)
	if have.Cmp(amount) < 0 {
		return &RevertError{Reason: "ERC20: transfer amount exceeds balance"}
	}
	tok.balances[from] = have.Sub(have, amount)
	tok.balances[to] = new(big.Int).Add(n.balanceOf(token, to), amount)
	n.logTransfer(token, from, to, amount)
	return nil
}

func (n *Node) logTransfer(token, from, to common.Address, amount *big.Int) {
	n.pending = append(n.pending, &types.Log{
		Address: token,
		Topics: []common.Hash{
			registry.TransferEventTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(amount.Bytes(), 32),
	})
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (n *Node) serve(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	n.calls[req.Method]++
	result, rerr := n.dispatch(req)
	n.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rerr != nil {
		resp["error"] = rerr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *Node) dispatch(req rpcRequest) (any, *rpcError) {
	switch req.Method {
	case "eth_chainId":
		return hexutil.EncodeBig(big.NewInt(n.ChainID)), nil
	case "eth_blockNumber":
		return hexutil.Uint64(n.block), nil
	case "eth_getBlockByNumber":
		return &types.Header{
			Number:     new(big.Int).SetUint64(n.block),
			Difficulty: new(big.Int),
			BaseFee:    n.BaseFee,
			GasLimit:   30_000_000,
		}, nil
	case "eth_maxPriorityFeePerGas":
		return hexutil.EncodeBig(n.TipCap), nil
	case "eth_gasPrice":
		return hexutil.EncodeBig(n.GasPrice), nil
	case "eth_getBalance":
		var addr common.Address
		if err := param(req, 0, &addr); err != nil {
			return nil, err
		}
		return hexutil.EncodeBig(n.nativeOf(addr)), nil
	case "eth_getTransactionCount":
		var addr common.Address
		if err := param(req, 0, &addr); err != nil {
			return nil, err
		}
		return hexutil.Uint64(n.nonces[addr]), nil
	case "eth_call":
		return n.ethCall(req)
	case "eth_estimateGas":
		return n.estimate(req)
	case "eth_sendRawTransaction":
		return n.sendRaw(req)
	case "eth_getTransactionReceipt":
		var hash common.Hash
		if err := param(req, 0, &hash); err != nil {
			return nil, err
		}
		receipt, ok := n.receipts[hash]
		if !ok || n.HoldReceipts {
			return nil, nil
		}
		return receipt, nil
	default:
		return nil, &rpcError{Code: -32601, Message: "method not supported: " + req.Method}
	}
}

type callArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value"`
	Data  hexutil.Bytes   `json:"data"`
	Input hexutil.Bytes   `json:"input"`
}

func (a callArgs) payload() []byte {
	if len(a.Input) > 0 {
		return a.Input
	}
	return a.Data
}

func (a callArgs) value() *big.Int {
	if a.Value == nil {
		return new(big.Int)
	}
	return a.Value.ToInt()
}

func (n *Node) ethCall(req rpcRequest) (any, *rpcError) {
	var args callArgs
	if err := param(req, 0, &args); err != nil {
		return nil, err
	}
	if args.To == nil {
		return nil, &rpcError{Code: -32602, Message: "missing to"}
	}
	if tok, ok := n.tokens[*args.To]; ok {
		out, err := n.tokenView(*args.To, tok, args.payload())
		if err != nil {
			return nil, revertError(err)
		}
		return hexutil.Bytes(out), nil
	}
	if _, ok := n.routers[*args.To]; ok {
		if err := n.simulate(args.From, *args.To, args.value(), args.payload()); err != nil {
			return nil, revertError(err)
		}
		return hexutil.Bytes{}, nil
	}
	return hexutil.Bytes{}, nil
}

func (n *Node) estimate(req rpcRequest) (any, *rpcError) {
	var args callArgs
	if err := param(req, 0, &args); err != nil {
		return nil, err
	}
	if args.To != nil {
		if _, ok := n.routers[*args.To]; ok && !n.RevertOnChain {
			if err := n.simulate(args.From, *args.To, args.value(), args.payload()); err != nil {
				return nil, revertError(err)
			}
		}
	}
	if args.To == nil || (n.tokens[*args.To] == nil && n.routers[*args.To] == nil) {
		return hexutil.Uint64(21_000), nil
	}
	return hexutil.Uint64(n.GasEstimate), nil
}

// simulate runs a router against a snapshot and discards the changes.
func (n *Node) simulate(from, to common.Address, value *big.Int, data []byte) error {
	snap := n.snapshot()
	err := n.execute(from, to, value, data)
	n.restore(snap)
	return err
}

func (n *Node) tokenView(addr common.Address, tok *Token, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, errors.New("empty calldata")
	}
	method, err := erc20ABI.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "balanceOf":
		return method.Outputs.Pack(n.balanceOf(addr, args[0].(common.Address)))
	case "allowance":
		return method.Outputs.Pack(n.allowanceOf(addr, args[0].(common.Address), args[1].(common.Address)))
	case "decimals":
		return method.Outputs.Pack(tok.Decimals)
	case "name", "symbol":
		value := tok.Name
		if method.Name == "symbol" {
			value = tok.Symbol
		}
		if tok.Bytes32Meta {
			var b [32]byte
			copy(b[:], value)
			return bytes32ABI.Methods[method.Name].Outputs.Pack(b)
		}
		return method.Outputs.Pack(value)
	default:
		return nil, fmt.Errorf("%s is not a view", method.Name)
	}
}

func (n *Node) sendRaw(req rpcRequest) (any, *rpcError) {
	var raw hexutil.Bytes
	if err := param(req, 0, &raw); err != nil {
		return nil, err
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, &rpcError{Code: -32602, Message: err.Error()}
	}
	if tx.To() == nil {
		return nil, &rpcError{Code: -32000, Message: "contract creation not supported"}
	}
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(n.ChainID)), tx)
	if err != nil {
		return nil, &rpcError{Code: -32000, Message: "invalid sender: " + err.Error()}
	}
	if tx.Nonce() != n.nonces[from] {
		return nil, &rpcError{Code: -32000, Message: fmt.Sprintf("nonce too low: have %d want %d", tx.Nonce(), n.nonces[from])}
	}
	price := new(big.Int).Add(n.BaseFee, tx.GasTipCap())
	if price.Cmp(tx.GasFeeCap()) > 0 {
		price = new(big.Int).Set(tx.GasFeeCap())
	}
	gasUsed := tx.Gas()
	if gasUsed > 21_000 && len(tx.Data()) == 0 {
		gasUsed = 21_000
	}
	fee := new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), price)
	need := new(big.Int).Add(fee, tx.Value())
	if n.nativeOf(from).Cmp(need) < 0 {
		return nil, &rpcError{Code: -32000, Message: "insufficient funds for gas * price + value"}
	}

	n.nonces[from]++
	n.native[from] = new(big.Int).Sub(n.nativeOf(from), fee)
	n.sent = append(n.sent, tx)
	n.block++

	status := types.ReceiptStatusSuccessful
	snap := n.snapshot()
	n.native[from] = new(big.Int).Sub(n.nativeOf(from), tx.Value())
	if execErr := n.execute(from, *tx.To(), tx.Value(), tx.Data()); execErr != nil {
		n.restore(snap)
		status = types.ReceiptStatusFailed
	}
	logs := n.pending
	n.pending = nil
	if status == types.ReceiptStatusFailed {
		logs = nil
	}
	for i, lg := range logs {
		lg.TxHash = tx.Hash()
		lg.BlockNumber = n.block
		lg.Index = uint(i)
	}
	if logs == nil {
		logs = []*types.Log{}
	}
	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            status,
		CumulativeGasUsed: gasUsed,
		GasUsed:           gasUsed,
		EffectiveGasPrice: price,
		Logs:              logs,
		TxHash:            tx.Hash(),
		BlockNumber:       new(big.Int).SetUint64(n.block),
	}
	n.receipts[tx.Hash()] = receipt
	return tx.Hash(), nil
}

func (n *Node) execute(from, to common.Address, value *big.Int, data []byte) error {
	if router, ok := n.routers[to]; ok {
		return router(n, from, value, data)
	}
	if _, ok := n.tokens[to]; ok {
		return n.tokenWrite(to, from, data)
	}
	n.native[to] = new(big.Int).Add(n.nativeOf(to), value)
	return nil
}

func (n *Node) tokenWrite(token, from common.Address, data []byte) error {
	if len(data) < 4 {
		return &RevertError{Reason: "empty calldata"}
	}
	method, err := erc20ABI.MethodById(data[:4])
	if err != nil {
		return &RevertError{Reason: "unknown selector"}
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return &RevertError{Reason: "bad calldata"}
	}
	switch method.Name {
	case "approve":
		tok := n.tokens[token]
		if tok.allowances[from] == nil {
			tok.allowances[from] = map[common.Address]*big.Int{}
		}
		tok.allowances[from][args[0].(common.Address)] = new(big.Int).Set(args[1].(*big.Int))
		return nil
	case "transfer":
		return n.move(token, from, args[0].(common.Address), args[1].(*big.Int))
	default:
		return &RevertError{Reason: method.Name + " not writable"}
	}
}

type snapshot struct {
	native   map[common.Address]*big.Int
	balances map[common.Address]map[common.Address]*big.Int
	allow    map[common.Address]map[common.Address]map[common.Address]*big.Int
	pending  int
}

func (n *Node) snapshot() snapshot {
	s := snapshot{
		native:   map[common.Address]*big.Int{},
		balances: map[common.Address]map[common.Address]*big.Int{},
		allow:    map[common.Address]map[common.Address]map[common.Address]*big.Int{},
		pending:  len(n.pending),
	}
	for k, v := range n.native {
		s.native[k] = new(big.Int).Set(v)
	}
	for addr, tok := range n.tokens {
		s.balances[addr] = map[common.Address]*big.Int{}
		for k, v := range tok.balances {
			s.balances[addr][k] = new(big.Int).Set(v)
		}
		s.allow[addr] = map[common.Address]map[common.Address]*big.Int{}
		for owner, spenders := range tok.allowances {
			s.allow[addr][owner] = map[common.Address]*big.Int{}
			for sp, v := range spenders {
				s.allow[addr][owner][sp] = new(big.Int).Set(v)
			}
		}
	}
	return s
}

func (n *Node) restore(s snapshot) {
	n.native = s.native
	for addr, tok := range n.tokens {
		tok.balances = s.balances[addr]
		tok.allowances = s.allow[addr]
	}
	n.pending = n.pending[:s.pending]
}

func revertError(err error) *rpcError {
	var rev *RevertError
	if errors.As(err, &rev) {
		encoded, _ := abi.Arguments{{Type: stringType}}.Pack(rev.Reason)
		return &rpcError{
			Code:    3,
			Message: rev.Error(),
			Data:    hexutil.Encode(append(append([]byte{}, revertPrefix...), encoded...)),
		}
	}
	return &rpcError{Code: 3, Message: "execution reverted: " + err.Error()}
}

func param(req rpcRequest, idx int, out any) *rpcError {
	if len(req.Params) <= idx {
		return &rpcError{Code: -32602, Message: fmt.Sprintf("missing param %d", idx)}
	}
	if err := json.Unmarshal(req.Params[idx], out); err != nil {
		return &rpcError{Code: -32602, Message: err.Error()}
	}
	return nil
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}
