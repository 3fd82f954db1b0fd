package execution

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
)

var (
	approveSelector  = erc20ABI.Methods["approve"].ID
	transferSelector = erc20ABI.Methods["transfer"].ID
)

// ValidateSwapTx rejects aggregator payloads that cannot be the swap that was
// quoted: no target, native value attached to an ERC-20 sale, more value than
// the quoted native input, or calldata that is a bare token approve/transfer.
func ValidateSwapTx(req TxRequest, sellAmount *big.Int, sellNative bool) error {
	if req.To == (common.Address{}) {
		return clierr.New(clierr.CodeActionPlan, "swap transaction has no target")
	}
	if len(req.Data) < 4 {
		return clierr.New(clierr.CodeActionPlan, "swap transaction has no calldata")
	}
	selector := req.Data[:4]
	if bytes.Equal(selector, approveSelector) || bytes.Equal(selector, transferSelector) {
		return clierr.New(clierr.CodeActionPlan, "swap calldata is a raw token approve/transfer")
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	if !sellNative && value.Sign() > 0 {
		return clierr.New(clierr.CodeActionPlan, "swap transaction attaches native value to an ERC-20 sale")
	}
	if sellNative && sellAmount != nil && value.Cmp(sellAmount) > 0 {
		return clierr.New(clierr.CodeActionPlan, fmt.Sprintf("swap transaction value %s exceeds quoted input %s", value, sellAmount))
	}
	return nil
}

// ValidateApproval checks approve(spender, amount) calldata against the
// requested amount. Unbounded approvals pass only when allowMax is set.
func ValidateApproval(data []byte, requested *big.Int, allowMax bool) error {
	if len(data) < 4 || !bytes.Equal(data[:4], approveSelector) {
		return clierr.New(clierr.CodeActionPlan, "approval must use ERC20 approve(spender,amount)")
	}
	args, err := erc20ABI.Methods["approve"].Inputs.Unpack(data[4:])
	if err != nil || len(args) != 2 {
		return clierr.New(clierr.CodeActionPlan, "approval calldata is invalid")
	}
	spender, ok := toAddress(args[0])
	if !ok || spender == (common.Address{}) {
		return clierr.New(clierr.CodeActionPlan, "approval has invalid spender")
	}
	amount, ok := toBigInt(args[1])
	if !ok || amount.Sign() <= 0 {
		return clierr.New(clierr.CodeActionPlan, "approval has invalid amount")
	}
	if allowMax {
		return nil
	}
	if requested == nil || amount.Cmp(requested) > 0 {
		return clierr.New(clierr.CodeActionPlan, fmt.Sprintf("approval amount %s exceeds requested amount %v", amount, requested))
	}
	return nil
}

func toAddress(v any) (common.Address, bool) {
	switch value := v.(type) {
	case common.Address:
		return value, true
	case *common.Address:
		if value == nil {
			return common.Address{}, false
		}
		return *value, true
	default:
		return common.Address{}, false
	}
}

func toBigInt(v any) (*big.Int, bool) {
	switch value := v.(type) {
	case *big.Int:
		if value == nil {
			return nil, false
		}
		return value, true
	case big.Int:
		cpy := value
		return &cpy, true
	default:
		return nil, false
	}
}
