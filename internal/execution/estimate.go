package execution

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/rpcpool"
)

var (
	fallbackTipCap  = big.NewInt(2_000_000_000)
	fallbackBaseFee = big.NewInt(1_000_000_000)
	bpsDenominator  = big.NewInt(10_000)
)

// SuggestFees prices an EIP-1559 transaction: tip from the node (2 gwei when
// unavailable), base fee from the latest header (1 gwei when absent), and a
// fee cap of twice the base fee plus tip.
func (s *Sender) SuggestFees(ctx context.Context) (FeeQuote, error) {
	tipCap, err := rpcpool.Do(ctx, s.pool, "suggest tip cap", func(ctx context.Context, c rpcpool.Client) (*big.Int, error) {
		return c.SuggestGasTipCap(ctx)
	})
	if err != nil || tipCap == nil {
		tipCap = new(big.Int).Set(fallbackTipCap)
	}
	baseFee, err := s.baseFee(ctx)
	if err != nil {
		return FeeQuote{}, err
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return FeeQuote{BaseFee: baseFee, TipCap: tipCap, FeeCap: feeCap}, nil
}

func (s *Sender) baseFee(ctx context.Context) (*big.Int, error) {
	header, err := rpcpool.Do(ctx, s.pool, "latest header", func(ctx context.Context, c rpcpool.Client) (*types.Header, error) {
		return c.HeaderByNumber(ctx, nil)
	})
	if err != nil {
		return nil, err
	}
	if header == nil || header.BaseFee == nil {
		return new(big.Int).Set(fallbackBaseFee), nil
	}
	return new(big.Int).Set(header.BaseFee), nil
}

// GasPrice is the node's legacy gas price suggestion, used to price quotes.
func (s *Sender) GasPrice(ctx context.Context) (*big.Int, error) {
	return rpcpool.Do(ctx, s.pool, "gas price", func(ctx context.Context, c rpcpool.Client) (*big.Int, error) {
		return c.SuggestGasPrice(ctx)
	})
}

// ApplyBoost scales tip and fee caps by (10000+bps)/10000. Zero or negative
// bps leaves the quote unchanged.
func ApplyBoost(fee FeeQuote, bps int64) FeeQuote {
	if bps <= 0 {
		return fee
	}
	factor := big.NewInt(10_000 + bps)
	scale := func(v *big.Int) *big.Int {
		if v == nil {
			return nil
		}
		out := new(big.Int).Mul(v, factor)
		return out.Quo(out, bpsDenominator)
	}
	return FeeQuote{BaseFee: fee.BaseFee, TipCap: scale(fee.TipCap), FeeCap: scale(fee.FeeCap)}
}

// MinOutput is amount reduced by bps basis points, rounded down.
func MinOutput(amount *big.Int, bps int64) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	if bps <= 0 {
		return new(big.Int).Set(amount)
	}
	if bps >= 10_000 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, big.NewInt(10_000-bps))
	return out.Quo(out, bpsDenominator)
}

// EstimateFee prices gasLimit at the current base fee and compares it with
// holder's native balance.
func (s *Sender) EstimateFee(ctx context.Context, gasLimit uint64, holder common.Address) (FeeEstimate, error) {
	baseFee, err := s.baseFee(ctx)
	if err != nil {
		return FeeEstimate{}, err
	}
	balance, err := s.NativeBalance(ctx, holder)
	if err != nil {
		return FeeEstimate{}, err
	}
	cost := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), baseFee)
	est := FeeEstimate{
		GasLimit:   gasLimit,
		GasPrice:   baseFee,
		Cost:       cost,
		Balance:    balance,
		Sufficient: balance.Cmp(cost) >= 0,
		Shortfall:  new(big.Int),
	}
	if !est.Sufficient {
		est.Shortfall.Sub(cost, balance)
	}
	return est, nil
}

// RequireFee fails with CodeInsufficientFunds when the holder cannot pay
// gasLimit plus extra native value.
func (s *Sender) RequireFee(ctx context.Context, gasLimit uint64, holder common.Address, extra *big.Int) (FeeEstimate, error) {
	est, err := s.EstimateFee(ctx, gasLimit, holder)
	if err != nil {
		return est, err
	}
	need := new(big.Int).Set(est.Cost)
	if extra != nil {
		need.Add(need, extra)
	}
	if est.Balance.Cmp(need) < 0 {
		est.Sufficient = false
		est.Shortfall = new(big.Int).Sub(need, est.Balance)
		return est, clierr.New(clierr.CodeInsufficientFunds, "insufficient ETH for gas: need "+need.String()+" wei, have "+est.Balance.String()+" wei")
	}
	return est, nil
}

func (s *Sender) NativeBalance(ctx context.Context, holder common.Address) (*big.Int, error) {
	return rpcpool.Do(ctx, s.pool, "native balance", func(ctx context.Context, c rpcpool.Client) (*big.Int, error) {
		return c.BalanceAt(ctx, holder, nil)
	})
}

// GasCost is gasUsed × effectiveGasPrice for a mined transaction.
func GasCost(receipt *types.Receipt) *big.Int {
	if receipt == nil || receipt.EffectiveGasPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)
}
