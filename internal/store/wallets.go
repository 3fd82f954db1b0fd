package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Wallet is the persisted wallet record. EncryptedKey is the custody blob;
// plaintext keys are never stored.
type Wallet struct {
	UserID       string
	Address      string
	EncryptedKey string
	CreatedAt    time.Time
	Balances     Balances
}

// Balances are the last observed balances in base units.
type Balances struct {
	Native           string
	Stable           string
	LastTokenAddress string
	LastToken        string
	UpdatedAt        time.Time
}

type Settings struct {
	SlippageBps int64
	GasBoostBps int64
}

// SaveWallet creates or replaces the user's wallet. Cached balances are reset
// because they belonged to the previous address.
func (s *Store) SaveWallet(ctx context.Context, w Wallet) (Wallet, error) {
	userID, err := normalizeUser(w.UserID)
	if err != nil {
		return Wallet{}, err
	}
	if w.Address == "" || w.EncryptedKey == "" {
		return Wallet{}, fmt.Errorf("save wallet: address and encrypted key are required")
	}
	w.UserID = userID
	if w.CreatedAt.IsZero() {
		w.CreatedAt = s.now()
	}
	w.Balances = Balances{Native: "0", Stable: "0", LastToken: "0"}
	err = s.write(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO wallets (user_id, address, encrypted_key, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				address=excluded.address,
				encrypted_key=excluded.encrypted_key,
				created_at=excluded.created_at,
				native_balance='0',
				stable_balance='0',
				last_token_address='',
				last_token_balance='0',
				balances_updated_at=0
		`, w.UserID, w.Address, w.EncryptedKey, unixOrZero(w.CreatedAt))
		return err
	})
	if err != nil {
		return Wallet{}, fmt.Errorf("save wallet: %w", err)
	}
	return w, nil
}

func (s *Store) GetWallet(ctx context.Context, userID string) (Wallet, error) {
	var (
		w                       Wallet
		createdUnix, updateUnix int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, address, encrypted_key, created_at, native_balance, stable_balance,
			last_token_address, last_token_balance, balances_updated_at
		FROM wallets WHERE user_id = ?`, userID).Scan(
		&w.UserID, &w.Address, &w.EncryptedKey, &createdUnix,
		&w.Balances.Native, &w.Balances.Stable, &w.Balances.LastTokenAddress, &w.Balances.LastToken, &updateUnix,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, fmt.Errorf("read wallet: %w", err)
	}
	w.CreatedAt = fromUnix(createdUnix)
	w.Balances.UpdatedAt = fromUnix(updateUnix)
	return w, nil
}

// DeleteWallet removes the wallet. Settings, trades and alerts stay.
func (s *Store) DeleteWallet(ctx context.Context, userID string) error {
	return s.write(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM wallets WHERE user_id = ?", userID)
		if err != nil {
			return fmt.Errorf("delete wallet: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) UpdateBalances(ctx context.Context, userID string, b Balances) error {
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = s.now()
	}
	return s.write(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE wallets SET native_balance = ?, stable_balance = ?, last_token_address = ?,
				last_token_balance = ?, balances_updated_at = ?
			WHERE user_id = ?`,
			orZero(b.Native), orZero(b.Stable), b.LastTokenAddress, orZero(b.LastToken), unixOrZero(b.UpdatedAt), userID)
		if err != nil {
			return fmt.Errorf("update balances: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Settings returns the user's settings; zero values mean "use defaults".
func (s *Store) Settings(ctx context.Context, userID string) (Settings, error) {
	var out Settings
	err := s.db.QueryRowContext(ctx, "SELECT slippage_bps, gas_boost_bps FROM user_settings WHERE user_id = ?", userID).
		Scan(&out.SlippageBps, &out.GasBoostBps)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	return out, nil
}

func (s *Store) SaveSettings(ctx context.Context, userID string, settings Settings) error {
	userID, err := normalizeUser(userID)
	if err != nil {
		return err
	}
	return s.write(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO user_settings (user_id, slippage_bps, gas_boost_bps) VALUES (?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				slippage_bps=excluded.slippage_bps,
				gas_boost_bps=excluded.gas_boost_bps
		`, userID, settings.SlippageBps, settings.GasBoostBps)
		if err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
		return nil
	})
}

func orZero(v string) string {
	if v == "" {
		return "0"
	}
	return v
}
