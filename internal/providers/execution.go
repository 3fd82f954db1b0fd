package providers

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/execution"
	"github.com/ggonzalez94/swapdesk/internal/execution/signer"
	"github.com/ggonzalez94/swapdesk/internal/httpx"
	"github.com/ggonzalez94/swapdesk/internal/registry"
)

// Executor implements the transaction half of SwapProvider on top of an
// execution.Sender. Aggregator clients embed it.
type Executor struct {
	Sender *execution.Sender
}

func (e Executor) BuildTransaction(q Quote) (execution.TxRequest, error) {
	req := execution.TxRequest{
		Label:    q.Provider + " swap",
		To:       q.Tx.To,
		Data:     q.Tx.Data,
		Value:    q.Tx.Value,
		GasLimit: q.Gas,
	}
	if req.Value == nil {
		req.Value = new(big.Int)
	}
	if err := execution.ValidateSwapTx(req, q.SellAmount, registry.IsNativePlaceholder(q.SellToken.Hex())); err != nil {
		return execution.TxRequest{}, err
	}
	return req, nil
}

// EnsureAllowance approves the quote's spender for the sell amount. Quotes
// without an allowance target approve the router itself.
func (e Executor) EnsureAllowance(ctx context.Context, s signer.Signer, q Quote, boostBps int64) (string, error) {
	if e.Sender == nil {
		return "", clierr.New(clierr.CodeInternal, "provider has no transaction sender")
	}
	spender := q.AllowanceTarget
	if spender == (common.Address{}) {
		spender = q.Tx.To
	}
	return e.Sender.EnsureAllowance(ctx, s, q.SellToken, spender, q.SellAmount, boostBps)
}

func (e Executor) SendTransaction(ctx context.Context, s signer.Signer, q Quote, boostBps int64) (*execution.Result, error) {
	if e.Sender == nil {
		return nil, clierr.New(clierr.CodeInternal, "provider has no transaction sender")
	}
	req, err := e.BuildTransaction(q)
	if err != nil {
		return nil, err
	}
	return e.Sender.SendTransaction(ctx, s, req, boostBps)
}

// NoRoute reports whether an aggregator HTTP failure means the pair or
// amount has no route, as opposed to the aggregator being down.
func NoRoute(err error) bool {
	status := httpx.Status(err)
	return status == 400 || status == 404
}

// WrapQuoteError maps an aggregator failure onto the error taxonomy.
func WrapQuoteError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if NoRoute(err) {
		return clierr.Wrap(clierr.CodeNoRoute, provider+": no route for this pair/amount", err)
	}
	return err
}

// ParseBig reads a decimal or 0x-hex integer string. Empty input is zero.
func ParseBig(v string) (*big.Int, bool) {
	if v == "" {
		return new(big.Int), true
	}
	base := 10
	if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
		v, base = v[2:], 16
	}
	n, ok := new(big.Int).SetString(v, base)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}
