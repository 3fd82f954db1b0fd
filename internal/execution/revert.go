package execution

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
)

var (
	errorStringSelector = common.FromHex("0x08c379a0")
	panicSelector       = common.FromHex("0x4e487b71")
)

type rpcDataError interface {
	Error() string
	ErrorData() interface{}
}

// wrapEVMExecutionError attaches a decoded revert reason when the node
// returned one.
func wrapEVMExecutionError(code clierr.Code, msg string, err error) error {
	if err == nil {
		return nil
	}
	if isInsufficientFunds(err) {
		return clierr.Wrap(clierr.CodeInsufficientFunds, msg+": insufficient native balance for gas", err)
	}
	if reason := decodeRevertFromError(err); reason != "" {
		return clierr.Wrap(code, fmt.Sprintf("%s: execution reverted: %s", msg, reason), err)
	}
	return clierr.Wrap(code, msg, err)
}

func decodeRevertFromError(err error) string {
	var dataErr rpcDataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	switch v := dataErr.ErrorData().(type) {
	case string:
		return decodeRevertData(common.FromHex(v))
	case []byte:
		return decodeRevertData(v)
	default:
		return ""
	}
}

func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	switch {
	case bytes.Equal(data[:4], errorStringSelector):
		reason, err := abi.UnpackRevert(data)
		if err != nil {
			return ""
		}
		return reason
	case bytes.Equal(data[:4], panicSelector) && len(data) >= 36:
		code := new(big.Int).SetBytes(data[4:36])
		return fmt.Sprintf("panic code 0x%x", code)
	default:
		return fmt.Sprintf("custom error 0x%s", common.Bytes2Hex(data[:4]))
	}
}

func isInsufficientFunds(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "insufficient funds")
}
