package execution

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ggonzalez94/swapdesk/internal/registry"
)

func transferLog(token, from, to common.Address, amount int64) *types.Log {
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			registry.TransferEventTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
	}
}

func TestTransferFlow(t *testing.T) {
	holder := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	other := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	receipt := &types.Receipt{Logs: []*types.Log{
		transferLog(testToken, other, holder, 700),
		transferLog(testToken, other, holder, 300),
		transferLog(testToken, holder, other, 50),
		transferLog(recipient, other, holder, 999),
		{Address: testToken, Topics: []common.Hash{registry.TransferEventTopic}},
	}}
	flow := TransferFlow(receipt, testToken, holder)
	if flow.In.Cmp(big.NewInt(1000)) != 0 || flow.Out.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected flow in=%s out=%s", flow.In, flow.Out)
	}
	if empty := TransferFlow(nil, testToken, holder); empty.In.Sign() != 0 || empty.Out.Sign() != 0 {
		t.Fatal("expected zero flow for nil receipt")
	}
}
