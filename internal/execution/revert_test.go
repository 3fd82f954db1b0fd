package execution

import (
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
)

type testRPCDataError struct {
	msg  string
	data any
}

func (e testRPCDataError) Error() string { return e.msg }

func (e testRPCDataError) ErrorData() interface{} { return e.data }

func TestDecodeRevertDataReasonString(t *testing.T) {
	revertData := encodeErrorString(t, "slippage too high")
	reason := decodeRevertData(revertData)
	if reason != "slippage too high" {
		t.Fatalf("expected decoded revert reason, got %q", reason)
	}
}

func TestDecodeRevertDataCustomErrorSelector(t *testing.T) {
	revertData := common.FromHex("0x12345678")
	reason := decodeRevertData(revertData)
	if !strings.Contains(reason, "0x12345678") {
		t.Fatalf("expected custom error selector in reason, got %q", reason)
	}
}

func TestDecodeRevertFromErrorWithDataError(t *testing.T) {
	revertData := encodeErrorString(t, "insufficient output amount")
	err := testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(revertData),
	}
	reason := decodeRevertFromError(err)
	if reason != "insufficient output amount" {
		t.Fatalf("unexpected decoded reason: %q", reason)
	}
}

func TestWrapEVMExecutionErrorIncludesDecodedRevert(t *testing.T) {
	revertData := encodeErrorString(t, "panic path")
	rootErr := testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(revertData),
	}
	wrapped := wrapEVMExecutionError(clierr.CodeActionSim, "simulate step (eth_call)", rootErr)
	var typed *clierr.Error
	if !errors.As(wrapped, &typed) {
		t.Fatalf("expected typed cli error, got %T", wrapped)
	}
	if !strings.Contains(typed.Error(), "panic path") {
		t.Fatalf("expected decoded reason in wrapped error, got: %v", typed)
	}
}

func TestWrapEVMExecutionErrorInsufficientFunds(t *testing.T) {
	wrapped := wrapEVMExecutionError(clierr.CodeActionSim, "estimate gas", errors.New("insufficient funds for gas * price + value"))
	if clierr.CodeOf(wrapped) != clierr.CodeInsufficientFunds {
		t.Fatalf("expected insufficient funds code, got %v", wrapped)
	}
}

func TestDecodeRevertDataPanicCode(t *testing.T) {
	data := append(common.FromHex("0x4e487b71"), common.LeftPadBytes([]byte{0x11}, 32)...)
	if reason := decodeRevertData(data); reason != "panic code 0x11" {
		t.Fatalf("unexpected panic reason: %q", reason)
	}
}

func TestAcquireSignerNonceLockSerializesSameSignerChain(t *testing.T) {
	unlock := acquireSignerNonceLock(big.NewInt(1), common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	secondAcquired := make(chan struct{})
	go func() {
		unlockSecond := acquireSignerNonceLock(big.NewInt(1), common.HexToAddress("0x00000000000000000000000000000000000000aa"))
		close(secondAcquired)
		unlockSecond()
	}()

	select {
	case <-secondAcquired:
		t.Fatal("expected second lock attempt to block while first lock is held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-secondAcquired:
	case <-time.After(250 * time.Millisecond):
		t.Fatal("expected second lock attempt to acquire after unlock")
	}
}

func encodeErrorString(t *testing.T, reason string) []byte {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("create abi string type: %v", err)
	}
	args := abi.Arguments{{Type: stringTy}}
	encoded, err := args.Pack(reason)
	if err != nil {
		t.Fatalf("pack revert reason: %v", err)
	}
	return append(common.FromHex("0x08c379a0"), encoded...)
}
