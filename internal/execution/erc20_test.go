package execution

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/swapdesk/internal/registry"
	"github.com/ggonzalez94/swapdesk/internal/rpcpool/rpctest"
)

func TestEnsureAllowanceApprovesExactAmountOnce(t *testing.T) {
	node := rpctest.NewNode(8453)
	defer node.Close()
	node.AddToken(testToken, rpctest.Token{Name: "Test", Symbol: "TST", Decimals: 6})
	sender := newTestSender(t, node, Options{PollInterval: 10 * time.Millisecond})
	owner := newTestSigner(t)
	node.SetNative(owner.Address(), oneEther)

	amount := big.NewInt(5_000_000)
	hash, err := sender.EnsureAllowance(context.Background(), owner, testToken, testRouter, amount, 0)
	if err != nil {
		t.Fatalf("EnsureAllowance failed: %v", err)
	}
	if hash == "" {
		t.Fatal("expected an approval transaction")
	}
	if got := node.Allowance(testToken, owner.Address(), testRouter); got.Cmp(amount) != 0 {
		t.Fatalf("expected exact allowance %s, got %s", amount, got)
	}

	hash, err = sender.EnsureAllowance(context.Background(), owner, testToken, testRouter, big.NewInt(1_000_000), 0)
	if err != nil || hash != "" {
		t.Fatalf("expected no second approval, got hash=%q err=%v", hash, err)
	}
	if len(node.Sent()) != 1 {
		t.Fatalf("expected one approval broadcast, got %d", len(node.Sent()))
	}
}

func TestEnsureAllowanceMaxApproval(t *testing.T) {
	node := rpctest.NewNode(8453)
	defer node.Close()
	node.AddToken(testToken, rpctest.Token{Decimals: 18})
	sender := newTestSender(t, node, Options{PollInterval: 10 * time.Millisecond, MaxApproval: true})
	owner := newTestSigner(t)
	node.SetNative(owner.Address(), oneEther)

	if _, err := sender.EnsureAllowance(context.Background(), owner, testToken, testRouter, big.NewInt(7), 0); err != nil {
		t.Fatalf("EnsureAllowance failed: %v", err)
	}
	if got := node.Allowance(testToken, owner.Address(), testRouter); got.Cmp(MaxApproval) != 0 {
		t.Fatalf("expected 2^255-1 allowance, got %s", got)
	}
}

func TestEnsureAllowanceSkipsNative(t *testing.T) {
	sender := &Sender{opts: DefaultOptions()}
	hash, err := sender.EnsureAllowance(context.Background(), newTestSigner(t), common.HexToAddress(registry.NativeTokenPlaceholder), testRouter, big.NewInt(1), 0)
	if err != nil || hash != "" {
		t.Fatalf("expected native sale to need no approval, got hash=%q err=%v", hash, err)
	}
}

func TestTokenReadsAndTransfer(t *testing.T) {
	node := rpctest.NewNode(8453)
	defer node.Close()
	node.AddToken(testToken, rpctest.Token{Symbol: "TST", Decimals: 6})
	sender := newTestSender(t, node, Options{PollInterval: 10 * time.Millisecond})
	owner := newTestSigner(t)
	node.SetNative(owner.Address(), oneEther)
	node.SetTokenBalance(testToken, owner.Address(), big.NewInt(10_000_000))

	decimals, err := sender.Decimals(context.Background(), testToken)
	if err != nil || decimals != 6 {
		t.Fatalf("expected 6 decimals, got %d err=%v", decimals, err)
	}
	res, err := sender.TransferERC20(context.Background(), owner, testToken, recipient, big.NewInt(4_000_000), 0)
	if err != nil {
		t.Fatalf("TransferERC20 failed: %v", err)
	}
	flow := TransferFlow(res.Receipt, testToken, owner.Address())
	if flow.Out.Cmp(big.NewInt(4_000_000)) != 0 || flow.In.Sign() != 0 {
		t.Fatalf("unexpected transfer flow: in=%s out=%s", flow.In, flow.Out)
	}
	balance, err := sender.BalanceOf(context.Background(), testToken, recipient)
	if err != nil || balance.Cmp(big.NewInt(4_000_000)) != 0 {
		t.Fatalf("expected recipient balance 4000000, got %v err=%v", balance, err)
	}
	native, err := sender.BalanceOf(context.Background(), common.HexToAddress(registry.NativeTokenPlaceholder), recipient)
	if err != nil || native.Sign() != 0 {
		t.Fatalf("expected zero native balance, got %v err=%v", native, err)
	}
}
