package trade

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/execution"
	"github.com/ggonzalez94/swapdesk/internal/id"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/registry"
)

// Withdraw sends amount of a token (symbol, address or ETH) from the user's
// custodied wallet to destination.
func (s *Service) Withdraw(ctx context.Context, userID, amount, tokenRef, destination string) (model.WithdrawResult, error) {
	to, err := id.ParseAddress(destination)
	if err != nil {
		return model.WithdrawResult{}, err
	}
	if to == (common.Address{}) {
		return model.WithdrawResult{}, clierr.New(clierr.CodeUsage, "destination cannot be the zero address")
	}
	if strings.TrimSpace(tokenRef) == "" {
		tokenRef = "ETH"
	}

	a := s.begin(userID, model.TradeSideWithdraw)
	res, err := s.withdraw(ctx, a, userID, amount, tokenRef, to)
	if err != nil {
		a.fail(ctx, err)
		s.logger.Warn("withdraw failed",
			zap.String("user", userID),
			zap.String("category", string(clierr.CategoryOf(err))),
			zap.Error(err),
		)
	}
	a.finish(err)
	return res, err
}

func (s *Service) withdraw(ctx context.Context, a *attempt, userID, amount, tokenRef string, to common.Address) (model.WithdrawResult, error) {
	a.stage(ctx, StageResolving, "")
	wallet, sg, err := s.loadSigner(ctx, userID)
	if err != nil {
		return model.WithdrawResult{}, err
	}
	tok, err := s.resolveToken(ctx, tokenRef)
	if err != nil {
		return model.WithdrawResult{}, err
	}
	value, err := parseAmount(amount, tok.Decimals)
	if err != nil {
		return model.WithdrawResult{}, err
	}
	owner := sg.Address()
	if to == owner {
		return model.WithdrawResult{}, clierr.New(clierr.CodeUsage, "destination is the wallet itself")
	}
	if err := s.requireBalance(ctx, tok, owner, value); err != nil {
		return model.WithdrawResult{}, err
	}

	native := registry.IsNativePlaceholder(tok.Address)
	settings, err := s.store.Settings(ctx, userID)
	if err != nil {
		return model.WithdrawResult{}, clierr.Wrap(clierr.CodeInternal, "load settings", err)
	}

	a.stage(ctx, StageGasCheck, "")
	gasLimit, extra := uint64(65_000), (*big.Int)(nil)
	if native {
		gasLimit, extra = 21_000, value
	}
	if _, err := s.sender.RequireFee(ctx, gasLimit, owner, extra); err != nil {
		return model.WithdrawResult{}, err
	}

	a.stage(ctx, StageSending, "")
	var sent *execution.Result
	if native {
		sent, err = s.sender.TransferNative(ctx, sg, to, value, settings.GasBoostBps)
	} else {
		sent, err = s.sender.TransferERC20(ctx, sg, common.HexToAddress(tok.Address), to, value, settings.GasBoostBps)
	}
	if sent == nil {
		return model.WithdrawResult{}, err
	}
	a.txHash = sent.Hash()
	saved := s.record(ctx, model.TradeRecord{
		UserID: wallet.UserID,
		Side:   model.TradeSideWithdraw,
		Token:  tok.Address,
		Amount: amount,
		TxHash: sent.Hash(),
	}, err)
	a.tradeID = saved.ID

	out := model.WithdrawResult{
		TradeID:     saved.ID,
		Status:      saved.Status,
		TxHash:      sent.Hash(),
		Token:       tok,
		Amount:      amountOf(value, tok.Decimals),
		Destination: to.Hex(),
	}
	if err != nil {
		return out, err
	}
	a.stage(ctx, StageConfirmed, "")
	s.refreshBalances(ctx, userID, owner, tok)
	return out, nil
}
