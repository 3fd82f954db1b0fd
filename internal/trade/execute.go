package trade

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/execution"
	"github.com/ggonzalez94/swapdesk/internal/id"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/providers"
	"github.com/ggonzalez94/swapdesk/internal/registry"
	"github.com/ggonzalez94/swapdesk/internal/store"
)

// Execute performs a live swap for userID. Zero slippage or gas boost means
// "use the user's setting, else the configured default". The result is
// returned alongside on-chain errors when a transaction was broadcast.
func (s *Service) Execute(ctx context.Context, side, userID, token, amount string, slippageBps, gasBoostBps int64) (model.SwapResult, error) {
	side, err := normalizeSide(side)
	if err != nil {
		return model.SwapResult{}, err
	}
	if side == model.TradeSideBuy {
		if err := s.checkMinBuy(amount); err != nil {
			return model.SwapResult{}, err
		}
	}
	if slippageBps != 0 {
		if err := ValidateSlippage(slippageBps); err != nil {
			return model.SwapResult{}, err
		}
	}
	if err := ValidateGasBoost(gasBoostBps); err != nil {
		return model.SwapResult{}, err
	}

	a := s.begin(userID, side)
	res, err := s.execute(ctx, a, side, userID, token, amount, slippageBps, gasBoostBps)
	if err != nil {
		a.fail(ctx, err)
		s.logger.Warn("trade failed",
			zap.String("user", userID),
			zap.String("side", side),
			zap.String("category", string(clierr.CategoryOf(err))),
			zap.String("tx_hash", a.txHash),
			zap.Error(err),
		)
	}
	a.finish(err)
	return res, err
}

func (s *Service) execute(ctx context.Context, a *attempt, side, userID, token, amount string, slippageBps, gasBoostBps int64) (model.SwapResult, error) {
	a.stage(ctx, StageResolving, "")
	settings, err := s.store.Settings(ctx, userID)
	if err != nil {
		return model.SwapResult{}, clierr.Wrap(clierr.CodeInternal, "load settings", err)
	}
	if slippageBps == 0 {
		slippageBps = settings.SlippageBps
	}
	if slippageBps == 0 {
		slippageBps = s.cfg.DefaultSlippageBps
	}
	if gasBoostBps == 0 {
		gasBoostBps = settings.GasBoostBps
	}

	wallet, sg, err := s.loadSigner(ctx, userID)
	if err != nil {
		return model.SwapResult{}, err
	}
	tok, err := s.resolveToken(ctx, token)
	if err != nil {
		return model.SwapResult{}, err
	}
	sellTok, buyTok := s.pair(side, tok)
	sellAmount, err := parseAmount(amount, sellTok.Decimals)
	if err != nil {
		return model.SwapResult{}, err
	}
	owner := sg.Address()
	if err := s.requireBalance(ctx, sellTok, owner, sellAmount); err != nil {
		return model.SwapResult{}, err
	}

	a.stage(ctx, StageQuoting, sellTok.Symbol+" -> "+buyTok.Symbol)
	out, err := s.agg.Quote(ctx, s.quoteRequest(ctx, sellTok, buyTok, sellAmount, owner, slippageBps))
	if err != nil {
		return model.SwapResult{}, err
	}
	q, provider := out.Quote, out.Provider
	a.provider = q.Provider
	preview := s.describe(ctx, side, q, sellTok, buyTok)

	rec := model.TradeRecord{
		UserID:   wallet.UserID,
		Side:     side,
		Token:    tok.Address,
		Amount:   amount,
		Provider: q.Provider,
	}

	// The payload is checked before anything is broadcast.
	txReq, err := provider.BuildTransaction(q)
	if err != nil {
		return model.SwapResult{}, err
	}

	a.stage(ctx, StageAllowance, "")
	approvalHash := ""
	// approvalSpent records a failed trade once an approval went out, so
	// its gas is never spent without a record.
	approvalSpent := func(err error) error {
		if approvalHash != "" {
			rec.ApprovalTxHash = approvalHash
			rec.TxHash = approvalHash
			s.record(ctx, rec, err)
		}
		return err
	}
	if !registry.IsNativePlaceholder(sellTok.Address) {
		spender := q.AllowanceTarget
		if spender == (common.Address{}) {
			spender = q.Tx.To
		}
		current, err := s.sender.Allowance(ctx, q.SellToken, owner, spender)
		if err != nil {
			return model.SwapResult{}, err
		}
		if current.Cmp(q.SellAmount) < 0 {
			a.stage(ctx, StageApprove, "approving "+spender.Hex())
			approvalHash, err = provider.EnsureAllowance(ctx, sg, q, gasBoostBps)
			if err != nil {
				return model.SwapResult{}, approvalSpent(err)
			}
		}
	}

	a.stage(ctx, StageGasCheck, "")
	gasLimit := txReq.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultSwapGas
	}
	if _, err := s.sender.RequireFee(ctx, gasLimit, owner, txReq.Value); err != nil {
		return model.SwapResult{}, approvalSpent(err)
	}

	a.stage(ctx, StageSending, "")
	sent, sendErr := provider.SendTransaction(ctx, sg, q, gasBoostBps)
	if sent == nil {
		if sendErr == nil {
			sendErr = clierr.New(clierr.CodeInternal, "provider returned no transaction")
		}
		return model.SwapResult{}, approvalSpent(sendErr)
	}

	a.txHash = sent.Hash()
	rec.TxHash = sent.Hash()
	rec.ApprovalTxHash = approvalHash
	saved := s.record(ctx, rec, sendErr)
	a.tradeID = saved.ID

	result := s.swapResult(ctx, saved, side, q, sent, sellTok, buyTok, owner, approvalHash)
	result.Quote = preview
	if sendErr != nil {
		return result, sendErr
	}
	a.stage(ctx, StageConfirmed, "")
	s.refreshBalances(ctx, userID, owner, tok)
	return result, nil
}

// requireBalance fails fast when the wallet cannot cover the sell amount.
func (s *Service) requireBalance(ctx context.Context, tok model.TokenInfo, owner common.Address, amount *big.Int) error {
	balance, err := s.sender.BalanceOf(ctx, common.HexToAddress(tok.Address), owner)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return clierr.New(clierr.CodeInsufficientFunds, "Insufficient "+tok.Symbol+" balance: have "+id.FormatUnits(balance, tok.Decimals)+", need "+id.FormatUnits(amount, tok.Decimals))
	}
	return nil
}

func (s *Service) swapResult(ctx context.Context, rec model.TradeRecord, side string, q providers.Quote, sent *execution.Result, sellTok, buyTok model.TokenInfo, owner common.Address, approvalHash string) model.SwapResult {
	out := model.SwapResult{
		TradeID:        rec.ID,
		Status:         rec.Status,
		Side:           side,
		Provider:       q.Provider,
		TxHash:         sent.Hash(),
		ApprovalTxHash: approvalHash,
		AmountIn:       amountOf(q.SellAmount, sellTok.Decimals),
	}
	if out.Status == "" {
		out.Status = model.TradeStatusCompleted
	}
	if sent.Receipt == nil {
		return out
	}
	if sent.Receipt.BlockNumber != nil {
		out.BlockNumber = sent.Receipt.BlockNumber.Uint64()
	}
	if !registry.IsNativePlaceholder(buyTok.Address) {
		flow := execution.TransferFlow(sent.Receipt, common.HexToAddress(buyTok.Address), owner)
		if flow.In.Sign() > 0 {
			got := amountOf(flow.In, buyTok.Decimals)
			out.AmountOut = &got
		}
	}
	if !registry.IsNativePlaceholder(sellTok.Address) {
		flow := execution.TransferFlow(sent.Receipt, common.HexToAddress(sellTok.Address), owner)
		if flow.Out.Sign() > 0 {
			out.AmountIn = amountOf(flow.Out, sellTok.Decimals)
		}
	}
	price := sent.Receipt.EffectiveGasPrice
	if price == nil {
		price = new(big.Int)
	}
	out.GasCost = s.gasCost(ctx, sent.Receipt.GasUsed, price, execution.GasCost(sent.Receipt))
	return out
}

// refreshBalances updates the cached balances on the wallet record. Failures
// only cost freshness.
func (s *Service) refreshBalances(ctx context.Context, userID string, owner common.Address, tok model.TokenInfo) {
	b := store.Balances{LastTokenAddress: tok.Address}
	if v, err := s.sender.NativeBalance(ctx, owner); err == nil {
		b.Native = v.String()
	}
	if v, err := s.sender.BalanceOf(ctx, common.HexToAddress(s.cfg.Stable.Address), owner); err == nil {
		b.Stable = v.String()
	}
	if v, err := s.sender.BalanceOf(ctx, common.HexToAddress(tok.Address), owner); err == nil {
		b.LastToken = v.String()
	}
	if err := s.store.UpdateBalances(ctx, userID, b); err != nil {
		s.logger.Debug("balance cache update failed", zap.String("user", userID), zap.Error(err))
	}
}
