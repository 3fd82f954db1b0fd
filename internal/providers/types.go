package providers

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/swapdesk/internal/execution"
	"github.com/ggonzalez94/swapdesk/internal/execution/signer"
	"github.com/ggonzalez94/swapdesk/internal/model"
)

type Provider interface {
	Info() model.ProviderInfo
}

// SwapProvider quotes and executes swaps through one aggregator.
type SwapProvider interface {
	Provider
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
	BuildTransaction(q Quote) (execution.TxRequest, error)
	EnsureAllowance(ctx context.Context, s signer.Signer, q Quote, boostBps int64) (string, error)
	SendTransaction(ctx context.Context, s signer.Signer, q Quote, boostBps int64) (*execution.Result, error)
}

// QuoteRequest asks for an exact-input swap. GasPrice is only used by
// aggregators that price routes with it.
type QuoteRequest struct {
	SellToken   common.Address
	BuyToken    common.Address
	SellAmount  *big.Int
	Taker       common.Address
	SlippageBps int64
	GasPrice    *big.Int
}

// TxPayload is the aggregator-built swap call.
type TxPayload struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Quote is an aggregator response normalized across providers. Amounts are
// in smallest units of their token. Quotes are never cached or persisted.
type Quote struct {
	Provider        string
	SellToken       common.Address
	BuyToken        common.Address
	SellAmount      *big.Int
	BuyAmount       *big.Int
	MinBuyAmount    *big.Int
	Price           string
	GuaranteedPrice string
	AllowanceTarget common.Address
	Gas             uint64
	Tx              TxPayload
	Sources         []string
	SlippageBps     int64
	FetchedAt       time.Time
}

// MinSlippageBps is the floor every aggregator is asked for.
const MinSlippageBps = 10

func ClampSlippage(bps int64) int64 {
	if bps < MinSlippageBps {
		return MinSlippageBps
	}
	return bps
}
