package execution

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/execution/signer"
	"github.com/ggonzalez94/swapdesk/internal/registry"
	"github.com/ggonzalez94/swapdesk/internal/rpcpool"
)

var (
	erc20ABI = mustABI(registry.ERC20ABI)

	// MaxApproval is 2^255-1. Some tokens reject uint256 max.
	MaxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func (s *Sender) callERC20(ctx context.Context, token common.Address, method string, args ...any) ([]any, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack "+method, err)
	}
	out, err := rpcpool.Do(ctx, s.pool, "erc20 "+method, func(ctx context.Context, c rpcpool.Client) ([]byte, error) {
		return c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	})
	if err != nil {
		return nil, err
	}
	values, err := erc20ABI.Unpack(method, out)
	if err != nil || len(values) == 0 {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode %s from %s", method, token.Hex()), err)
	}
	return values, nil
}

func (s *Sender) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	values, err := s.callERC20(ctx, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

func (s *Sender) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if registry.IsNativePlaceholder(token.Hex()) {
		return s.NativeBalance(ctx, owner)
	}
	values, err := s.callERC20(ctx, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

func (s *Sender) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	values, err := s.callERC20(ctx, token, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, clierr.New(clierr.CodeUnavailable, "unexpected decimals type")
	}
	return d, nil
}

// EnsureAllowance approves spender for amount when the current allowance is
// short, waits for the approval to confirm, and returns its hash. An empty
// hash means no approval was needed. With MaxApproval set the approval is for
// 2^255-1 instead of the exact amount.
func (s *Sender) EnsureAllowance(ctx context.Context, txSigner signer.Signer, token, spender common.Address, amount *big.Int, boostBps int64) (string, error) {
	if registry.IsNativePlaceholder(token.Hex()) {
		return "", nil
	}
	if spender == (common.Address{}) {
		return "", clierr.New(clierr.CodeActionPlan, "quote has no allowance target")
	}
	current, err := s.Allowance(ctx, token, txSigner.Address(), spender)
	if err != nil {
		return "", err
	}
	if current.Cmp(amount) >= 0 {
		return "", nil
	}
	approveAmount := new(big.Int).Set(amount)
	if s.opts.MaxApproval {
		approveAmount = new(big.Int).Set(MaxApproval)
	}
	data, err := erc20ABI.Pack("approve", spender, approveAmount)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "pack approve", err)
	}
	if err := ValidateApproval(data, amount, s.opts.MaxApproval); err != nil {
		return "", err
	}
	res, err := s.SendTransaction(ctx, txSigner, TxRequest{Label: "approve", To: token, Data: data}, boostBps)
	if err != nil {
		return res.Hash(), err
	}
	return res.Hash(), nil
}

func (s *Sender) TransferERC20(ctx context.Context, txSigner signer.Signer, token, to common.Address, amount *big.Int, boostBps int64) (*Result, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "amount must be positive")
	}
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack transfer", err)
	}
	return s.SendTransaction(ctx, txSigner, TxRequest{Label: "token transfer", To: token, Data: data}, boostBps)
}

func asBigInt(v any) (*big.Int, error) {
	if out, ok := toBigInt(v); ok {
		return out, nil
	}
	return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("unexpected numeric type %T", v))
}
