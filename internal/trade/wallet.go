package trade

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/custody"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/store"
)

// CreateWallet generates a fresh custodied wallet for userID, replacing any
// existing one.
func (s *Service) CreateWallet(ctx context.Context, userID string) (model.WalletView, error) {
	w, err := s.custody.CreateWallet()
	if err != nil {
		return model.WalletView{}, err
	}
	return s.saveWallet(ctx, userID, w)
}

// ImportKey replaces the user's wallet with a hex private key.
func (s *Service) ImportKey(ctx context.Context, userID, hexKey string) (model.WalletView, error) {
	w, err := s.custody.ImportKey(hexKey)
	if err != nil {
		return model.WalletView{}, err
	}
	return s.saveWallet(ctx, userID, w)
}

// ImportKeystore replaces the user's wallet with a V3 keystore.
func (s *Service) ImportKeystore(ctx context.Context, userID string, keyJSON []byte, password string) (model.WalletView, error) {
	w, err := s.custody.ImportKeystore(keyJSON, password)
	if err != nil {
		return model.WalletView{}, err
	}
	return s.saveWallet(ctx, userID, w)
}

func (s *Service) saveWallet(ctx context.Context, userID string, w custody.Wallet) (model.WalletView, error) {
	saved, err := s.store.SaveWallet(ctx, store.Wallet{UserID: userID, Address: w.Address, EncryptedKey: w.Blob})
	if err != nil {
		return model.WalletView{}, clierr.Wrap(clierr.CodeUsage, "save wallet", err)
	}
	return s.view(ctx, saved, nil)
}

// Wallet returns the user's wallet without balances.
func (s *Service) Wallet(ctx context.Context, userID string) (model.WalletView, error) {
	w, err := s.getWallet(ctx, userID)
	if err != nil {
		return model.WalletView{}, err
	}
	return s.view(ctx, w, nil)
}

// Disconnect removes the wallet record. The key is unrecoverable afterwards.
func (s *Service) Disconnect(ctx context.Context, userID string) error {
	if err := s.store.DeleteWallet(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return clierr.New(clierr.CodeAuth, "No wallet connected.")
		}
		return clierr.Wrap(clierr.CodeInternal, "delete wallet", err)
	}
	return nil
}

// Balance reads native and stable balances and caches them on the record.
func (s *Service) Balance(ctx context.Context, userID string) (model.BalanceView, error) {
	w, err := s.getWallet(ctx, userID)
	if err != nil {
		return model.BalanceView{}, err
	}
	owner := common.HexToAddress(w.Address)
	native, err := s.sender.NativeBalance(ctx, owner)
	if err != nil {
		return model.BalanceView{}, err
	}
	stable, err := s.sender.BalanceOf(ctx, common.HexToAddress(s.cfg.Stable.Address), owner)
	if err != nil {
		return model.BalanceView{}, err
	}
	b := w.Balances
	b.Native = native.String()
	b.Stable = stable.String()
	if err := s.store.UpdateBalances(ctx, userID, b); err != nil {
		s.logger.Debug("balance cache update failed", zap.String("user", userID), zap.Error(err))
	}
	return model.BalanceView{
		Address:      w.Address,
		Native:       amountOf(native, 18),
		Stable:       amountOf(stable, s.cfg.Stable.Decimals),
		StableSymbol: s.cfg.Stable.Symbol,
	}, nil
}

func (s *Service) SetSlippage(ctx context.Context, userID string, bps int64) error {
	if err := ValidateSlippage(bps); err != nil {
		return err
	}
	settings, err := s.store.Settings(ctx, userID)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "load settings", err)
	}
	settings.SlippageBps = bps
	if err := s.store.SaveSettings(ctx, userID, settings); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "save settings", err)
	}
	return nil
}

func (s *Service) SetGasBoost(ctx context.Context, userID string, bps int64) error {
	if err := ValidateGasBoost(bps); err != nil {
		return err
	}
	settings, err := s.store.Settings(ctx, userID)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "load settings", err)
	}
	settings.GasBoostBps = bps
	if err := s.store.SaveSettings(ctx, userID, settings); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "save settings", err)
	}
	return nil
}

// Trades lists the user's trade log, newest first.
func (s *Service) Trades(ctx context.Context, userID string, limit int) ([]model.TradeRecord, error) {
	recs, err := s.store.ListTrades(ctx, userID, limit)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "list trades", err)
	}
	return recs, nil
}

func (s *Service) getWallet(ctx context.Context, userID string) (store.Wallet, error) {
	w, err := s.store.GetWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Wallet{}, clierr.New(clierr.CodeAuth, "Wallet not set. Create one with /wallet or import a key with /import.")
		}
		return store.Wallet{}, clierr.Wrap(clierr.CodeInternal, "load wallet", err)
	}
	return w, nil
}

func (s *Service) view(ctx context.Context, w store.Wallet, balances *model.BalanceView) (model.WalletView, error) {
	settings, err := s.store.Settings(ctx, w.UserID)
	if err != nil {
		return model.WalletView{}, clierr.Wrap(clierr.CodeInternal, "load settings", err)
	}
	return model.WalletView{
		UserID:      w.UserID,
		Address:     w.Address,
		CreatedAt:   w.CreatedAt.UTC().Format(time.RFC3339),
		SlippageBps: settings.SlippageBps,
		GasBoostBps: settings.GasBoostBps,
		Balances:    balances,
	}, nil
}
