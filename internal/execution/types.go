package execution

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxRequest is an unsigned call the sender prices, signs and broadcasts.
// GasLimit, when set, is a floor for the estimated limit.
type TxRequest struct {
	Label    string
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

type Options struct {
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
	GasMultiplier  float64
	MaxApproval    bool
}

func DefaultOptions() Options {
	return Options{
		PollInterval:   2 * time.Second,
		ConfirmTimeout: 2 * time.Minute,
		GasMultiplier:  1.2,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = d.ConfirmTimeout
	}
	if o.GasMultiplier <= 1 {
		o.GasMultiplier = d.GasMultiplier
	}
	return o
}

// FeeQuote holds EIP-1559 caps for one transaction.
type FeeQuote struct {
	BaseFee *big.Int
	TipCap  *big.Int
	FeeCap  *big.Int
}

type FeeEstimate struct {
	GasLimit   uint64
	GasPrice   *big.Int
	Cost       *big.Int
	Balance    *big.Int
	Sufficient bool
	Shortfall  *big.Int
}

// Result describes a broadcast transaction. It is returned alongside revert
// and timeout errors so callers can still record the hash.
type Result struct {
	TxHash   common.Hash
	Endpoint string
	Receipt  *types.Receipt
	GasCost  *big.Int
}

func (r *Result) Hash() string {
	if r == nil {
		return ""
	}
	return r.TxHash.Hex()
}
