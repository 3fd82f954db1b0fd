package execution

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/execution/signer"
	"github.com/ggonzalez94/swapdesk/internal/rpcpool"
)

// Sender prices, signs, broadcasts and confirms transactions on one chain.
// Reads fail over across the pool; broadcasts use the pool's writer only.
type Sender struct {
	pool    *rpcpool.Pool
	chainID *big.Int
	opts    Options
	logger  *zap.Logger
}

func NewSender(pool *rpcpool.Pool, chainID int64, opts Options, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		pool:    pool,
		chainID: big.NewInt(chainID),
		opts:    opts.normalized(),
		logger:  logger,
	}
}

func (s *Sender) Pool() *rpcpool.Pool { return s.pool }

func (s *Sender) ChainID() *big.Int { return new(big.Int).Set(s.chainID) }

func (s *Sender) Options() Options { return s.opts }

// SendTransaction runs the full send path: estimate gas, price fees, take the
// signer's nonce lock, sign, broadcast and wait for the receipt.
func (s *Sender) SendTransaction(ctx context.Context, txSigner signer.Signer, req TxRequest, boostBps int64) (*Result, error) {
	if txSigner == nil {
		return nil, clierr.New(clierr.CodeSigner, "missing signer")
	}
	if req.To == (common.Address{}) {
		return nil, clierr.New(clierr.CodeActionPlan, "transaction has no target")
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	from := txSigner.Address()
	msg := ethereum.CallMsg{From: from, To: &req.To, Value: value, Data: req.Data}

	estimated, err := rpcpool.Do(ctx, s.pool, "estimate gas", func(ctx context.Context, c rpcpool.Client) (uint64, error) {
		return c.EstimateGas(ctx, msg)
	})
	if err != nil {
		return nil, wrapEVMExecutionError(clierr.CodeActionSim, "estimate gas for "+req.Label, err)
	}
	gasLimit := uint64(float64(estimated) * s.opts.GasMultiplier)
	if req.GasLimit > gasLimit {
		gasLimit = req.GasLimit
	}

	fees, err := s.SuggestFees(ctx)
	if err != nil {
		return nil, err
	}
	fees = ApplyBoost(fees, boostBps)

	unlock := acquireSignerNonceLock(s.chainID, from)
	defer unlock()

	nonce, err := rpcpool.Do(ctx, s.pool, "pending nonce", func(ctx context.Context, c rpcpool.Client) (uint64, error) {
		return c.PendingNonceAt(ctx, from)
	})
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: fees.TipCap,
		GasFeeCap: fees.FeeCap,
		Gas:       gasLimit,
		To:        &req.To,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := txSigner.SignTx(s.chainID, tx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}

	writer, endpoint, err := s.pool.Writer(ctx)
	if err != nil {
		return nil, err
	}
	if err := writer.SendTransaction(ctx, signed); err != nil {
		if isInsufficientFunds(err) {
			return nil, clierr.Wrap(clierr.CodeInsufficientFunds, "insufficient native balance for gas", err)
		}
		return nil, clierr.Wrap(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	result := &Result{TxHash: signed.Hash(), Endpoint: endpoint}
	s.logger.Info("transaction broadcast",
		zap.String("label", req.Label),
		zap.String("tx_hash", result.TxHash.Hex()),
		zap.String("from", from.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit),
		zap.String("endpoint", endpoint),
	)

	receipt, err := s.WaitReceipt(ctx, signed.Hash())
	if receipt != nil {
		result.Receipt = receipt
		result.GasCost = GasCost(receipt)
	}
	if err != nil {
		if clierr.CodeOf(err) == clierr.CodeReverted && receipt != nil {
			if reason := s.replayRevert(ctx, msg, receipt.BlockNumber); reason != "" {
				err = clierr.Wrap(clierr.CodeReverted, "transaction reverted on-chain: "+reason, err)
			}
		}
		return result, err
	}
	return result, nil
}

// WaitReceipt polls for the receipt until it appears or the confirmation
// timeout elapses. A reverted receipt is returned with a CodeReverted error.
func (s *Sender) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.opts.ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := rpcpool.Do(waitCtx, s.pool, "transaction receipt", func(ctx context.Context, c rpcpool.Client) (*types.Receipt, error) {
			return c.TransactionReceipt(ctx, hash)
		})
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return receipt, nil
			}
			return receipt, clierr.New(clierr.CodeReverted, "transaction reverted on-chain")
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			s.logger.Debug("receipt poll failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, clierr.Wrap(clierr.CodeActionTimeout, "stopped waiting for receipt", ctx.Err())
			}
			return nil, clierr.Wrap(clierr.CodeActionTimeout, "timed out waiting for receipt of "+hash.Hex(), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// replayRevert re-executes a reverted call at its block to recover the
// reason. Best effort.
func (s *Sender) replayRevert(ctx context.Context, msg ethereum.CallMsg, block *big.Int) string {
	_, err := rpcpool.Do(ctx, s.pool, "replay reverted call", func(ctx context.Context, c rpcpool.Client) ([]byte, error) {
		return c.CallContract(ctx, msg, block)
	})
	return decodeRevertFromError(err)
}

// TransferNative sends ETH to a recipient.
func (s *Sender) TransferNative(ctx context.Context, txSigner signer.Signer, to common.Address, amount *big.Int, boostBps int64) (*Result, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "amount must be positive")
	}
	return s.SendTransaction(ctx, txSigner, TxRequest{Label: "native transfer", To: to, Value: amount}, boostBps)
}
