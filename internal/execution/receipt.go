package execution

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ggonzalez94/swapdesk/internal/registry"
)

// TokenFlow sums the Transfer events of token into and out of holder.
type TokenFlow struct {
	In  *big.Int
	Out *big.Int
}

// TransferFlow reads executed amounts from a receipt's ERC-20 Transfer logs.
func TransferFlow(receipt *types.Receipt, token, holder common.Address) TokenFlow {
	flow := TokenFlow{In: new(big.Int), Out: new(big.Int)}
	if receipt == nil {
		return flow
	}
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != token || len(lg.Topics) != 3 || lg.Topics[0] != registry.TransferEventTopic {
			continue
		}
		from := common.BytesToAddress(lg.Topics[1].Bytes())
		to := common.BytesToAddress(lg.Topics[2].Bytes())
		value := new(big.Int).SetBytes(lg.Data)
		if to == holder {
			flow.In.Add(flow.In, value)
		}
		if from == holder {
			flow.Out.Add(flow.Out, value)
		}
	}
	return flow
}
