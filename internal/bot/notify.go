package bot

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/swapdesk/internal/model"
)

// NotifyAlert tells the alert's owner that it fired.
func (c *Conversation) NotifyAlert(ctx context.Context, alert model.PriceAlert, price decimal.Decimal) error {
	_, err := c.prompter.Send(ctx, alert.UserID, renderAlertFired(alert, price))
	return err
}
