package store

import (
	"context"
	"fmt"

	"github.com/ggonzalez94/swapdesk/internal/model"
)

// AppendTrade adds a row to the trade log and returns it with its id and
// timestamp. Rows are never updated.
func (s *Store) AppendTrade(ctx context.Context, rec model.TradeRecord) (model.TradeRecord, error) {
	userID, err := normalizeUser(rec.UserID)
	if err != nil {
		return model.TradeRecord{}, err
	}
	switch rec.Status {
	case model.TradeStatusPending, model.TradeStatusCompleted, model.TradeStatusFailed:
	default:
		return model.TradeRecord{}, fmt.Errorf("append trade: invalid status %q", rec.Status)
	}
	rec.UserID = userID
	rec.ID = s.newID()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	err = s.write(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO trades (id, user_id, side, token, amount, tx_hash, approval_tx_hash, provider, status, error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.UserID, rec.Side, rec.Token, rec.Amount, rec.TxHash, rec.ApprovalTxHash,
			rec.Provider, rec.Status, rec.Error, rec.CreatedAt.UnixMilli())
		return err
	})
	if err != nil {
		return model.TradeRecord{}, fmt.Errorf("append trade: %w", err)
	}
	return rec, nil
}

// ListTrades returns the user's most recent trades, newest first.
func (s *Store) ListTrades(ctx context.Context, userID string, limit int) ([]model.TradeRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, side, token, amount, tx_hash, approval_tx_hash, provider, status, error, created_at
		FROM trades WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	out := make([]model.TradeRecord, 0)
	for rows.Next() {
		var (
			rec     model.TradeRecord
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Side, &rec.Token, &rec.Amount, &rec.TxHash,
			&rec.ApprovalTxHash, &rec.Provider, &rec.Status, &rec.Error, &created); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		rec.CreatedAt = fromUnixMilli(created)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return out, nil
}
