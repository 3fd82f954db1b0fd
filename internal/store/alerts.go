package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ggonzalez94/swapdesk/internal/model"
)

func (s *Store) AddAlert(ctx context.Context, alert model.PriceAlert) (model.PriceAlert, error) {
	userID, err := normalizeUser(alert.UserID)
	if err != nil {
		return model.PriceAlert{}, err
	}
	if alert.Condition != model.AlertAbove && alert.Condition != model.AlertBelow {
		return model.PriceAlert{}, fmt.Errorf("add alert: invalid condition %q", alert.Condition)
	}
	alert.UserID = userID
	alert.ID = s.newID()
	alert.Active = true
	alert.Triggered = false
	alert.TriggeredAt = nil
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = s.now()
	}
	err = s.write(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO price_alerts (id, user_id, token_address, symbol, target_price, condition, active, triggered, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, 0, ?)`,
			alert.ID, alert.UserID, alert.TokenAddress, alert.Symbol, alert.TargetPrice, alert.Condition, alert.CreatedAt.UnixMilli())
		return err
	})
	if err != nil {
		return model.PriceAlert{}, fmt.Errorf("add alert: %w", err)
	}
	return alert, nil
}

// PendingAlerts returns active alerts that have not fired yet.
func (s *Store) PendingAlerts(ctx context.Context) ([]model.PriceAlert, error) {
	return s.queryAlerts(ctx, "WHERE active = 1 AND triggered = 0 ORDER BY created_at")
}

func (s *Store) ListAlerts(ctx context.Context, userID string) ([]model.PriceAlert, error) {
	return s.queryAlerts(ctx, "WHERE user_id = ? ORDER BY created_at DESC", userID)
}

// MarkTriggered records that an alert fired and deactivates it. It reports
// false when another checker got there first.
func (s *Store) MarkTriggered(ctx context.Context, id string, at time.Time) (bool, error) {
	var fired bool
	err := s.write(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE price_alerts SET triggered = 1, active = 0, triggered_at = ?
			WHERE id = ? AND triggered = 0`, at.UTC().UnixMilli(), id)
		if err != nil {
			return fmt.Errorf("mark alert triggered: %w", err)
		}
		n, _ := res.RowsAffected()
		fired = n > 0
		return nil
	})
	return fired, err
}

func (s *Store) DeleteAlert(ctx context.Context, userID, id string) error {
	return s.write(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM price_alerts WHERE id = ? AND user_id = ?", id, userID)
		if err != nil {
			return fmt.Errorf("delete alert: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) queryAlerts(ctx context.Context, where string, args ...any) ([]model.PriceAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, token_address, symbol, target_price, condition, active, triggered, triggered_at, created_at
		FROM price_alerts `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	out := make([]model.PriceAlert, 0)
	for rows.Next() {
		var (
			a           model.PriceAlert
			active      int
			triggered   int
			triggeredAt sql.NullInt64
			created     int64
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.TokenAddress, &a.Symbol, &a.TargetPrice, &a.Condition,
			&active, &triggered, &triggeredAt, &created); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		a.Active = active == 1
		a.Triggered = triggered == 1
		if triggeredAt.Valid {
			t := fromUnixMilli(triggeredAt.Int64)
			a.TriggeredAt = &t
		}
		a.CreatedAt = fromUnixMilli(created)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert rows: %w", err)
	}
	return out, nil
}
