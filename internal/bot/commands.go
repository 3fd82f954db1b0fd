package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/flow"
	"github.com/ggonzalez94/swapdesk/internal/id"
	"github.com/ggonzalez94/swapdesk/internal/model"
)

const (
	stepKey         = "key"
	stepDestination = "destination"
	stepAmount      = "amount"
	stepAddress     = "address"
)

func (c *Conversation) wallet(ctx context.Context, userID string) {
	c.spawn(ctx, userID, func(ctx context.Context) {
		view, err := c.trader.Wallet(ctx, userID)
		if clierr.CategoryOf(err) == clierr.CategoryAuthorization {
			view, err = c.trader.CreateWallet(ctx, userID)
			if err != nil {
				c.fail(ctx, userID, err)
				return
			}
			c.send(ctx, userID, fmt.Sprintf("New wallet created.\nAddress: %s\nFund it with ETH for gas and %s to trade.", view.Address, c.trader.Stable().Symbol))
			return
		}
		if err != nil {
			c.fail(ctx, userID, err)
			return
		}
		c.send(ctx, userID, renderWallet(view))
	})
}

func (c *Conversation) importKey(ctx context.Context, userID string, args []string) {
	if len(args) == 1 {
		c.onImportKey(ctx, userID, args[0])
		return
	}
	c.flows.Start(userID, flow.ImportKey, stepKey, nil)
	c.send(ctx, userID, "Send the private key to import (hex, with or without 0x). It replaces your current wallet. /cancel to abort.")
}

func (c *Conversation) onImportKey(ctx context.Context, userID, key string) {
	view, err := c.trader.ImportKey(ctx, userID, key)
	if err != nil {
		if clierr.CategoryOf(err) == clierr.CategoryValidation {
			c.send(ctx, userID, "That is not a valid private key. Send a 64-character hex key or /cancel.")
			return
		}
		c.flows.Cancel(userID, flow.ImportKey)
		c.fail(ctx, userID, err)
		return
	}
	c.flows.Cancel(userID, flow.ImportKey)
	c.send(ctx, userID, "Wallet imported.\nAddress: "+view.Address)
}

// trade handles /buy and /sell. Arguments follow "<amount> <token>"; missing
// pieces are asked for one at a time.
func (c *Conversation) trade(ctx context.Context, userID, side string, args []string) {
	switch len(args) {
	case 0:
		c.flows.Start(userID, flow.ContractAddress, stepAddress, map[string]string{"side": side})
		c.send(ctx, userID, fmt.Sprintf("Send the token contract address or symbol to %s.", side))
	case 1:
		if _, err := parseAmount(args[0]); err == nil {
			c.flows.Start(userID, flow.ContractAddress, stepAddress, map[string]string{"side": side, "amount": args[0]})
			c.send(ctx, userID, fmt.Sprintf("Send the token contract address or symbol to %s.", side))
			return
		}
		c.askAmount(ctx, userID, side, args[0])
	default:
		c.quote(ctx, userID, side, args[1], args[0])
	}
}

func (c *Conversation) askAmount(ctx context.Context, userID, side, token string) {
	c.flows.Start(userID, flow.BuyAmount, stepAmount, map[string]string{"side": side, "token": token})
	if side == model.TradeSideBuy {
		stable := c.trader.Stable().Symbol
		c.send(ctx, userID, fmt.Sprintf("How much %s do you want to spend on %s?", stable, token))
		return
	}
	c.send(ctx, userID, fmt.Sprintf("How much %s do you want to sell?", token))
}

func (c *Conversation) onContractAddress(ctx context.Context, userID string, st flow.State, text string) {
	token := strings.TrimSpace(text)
	if strings.HasPrefix(token, "0x") && !id.IsAddress(token) {
		c.send(ctx, userID, "That is not a valid contract address. Send a 0x address with 40 hex characters or /cancel.")
		return
	}
	if !c.flows.Cancel(userID, flow.ContractAddress) {
		return
	}
	side := st.Data["side"]
	if amount := st.Data["amount"]; amount != "" {
		c.quote(ctx, userID, side, token, amount)
		return
	}
	c.askAmount(ctx, userID, side, token)
}

func (c *Conversation) onAmount(ctx context.Context, userID string, st flow.State, text string) {
	amount := strings.TrimSpace(text)
	if _, err := parseAmount(amount); err != nil {
		c.send(ctx, userID, "Send a positive number, for example 25 or 0.5, or /cancel.")
		return
	}
	if !c.flows.Cancel(userID, flow.BuyAmount) {
		return
	}
	c.quote(ctx, userID, st.Data["side"], st.Data["token"], amount)
}

// quote fetches a preview in the background and asks for confirmation.
func (c *Conversation) quote(ctx context.Context, userID, side, token, amount string) {
	c.spawn(ctx, userID, func(ctx context.Context) {
		var slippage int64
		if view, err := c.trader.Wallet(ctx, userID); err == nil {
			slippage = view.SlippageBps
		}
		preview, err := c.trader.Quote(ctx, side, token, amount, slippage)
		if err != nil {
			c.fail(ctx, userID, err)
			return
		}
		buttons := []Button{
			{Label: "Confirm " + side, Data: "confirm:" + side},
			{Label: "Cancel", Data: CallbackCancel},
		}
		msgID, err := c.prompter.Confirm(ctx, userID, renderQuote(preview.Quote), buttons)
		if err != nil {
			c.fail(ctx, userID, err)
			return
		}
		c.putPending(userID, pendingTrade{
			side:        side,
			token:       token,
			amount:      amount,
			slippageBps: preview.Quote.SlippageBps,
			messageID:   msgID,
		})
	})
}

func (c *Conversation) executeTrade(ctx context.Context, userID string, p pendingTrade) {
	res, err := c.trader.Execute(ctx, p.side, userID, p.token, p.amount, p.slippageBps, 0)
	if err != nil {
		msg := clierr.UserMessage(err)
		if res.TxHash != "" {
			msg += "\nTx: " + res.TxHash
		}
		c.edit(ctx, userID, p.messageID, msg)
		return
	}
	c.edit(ctx, userID, p.messageID, renderSwap(res))
}

// withdraw accepts "/withdraw <amount> [token] <address>" or walks through
// destination then amount.
func (c *Conversation) withdraw(ctx context.Context, userID string, args []string) {
	switch len(args) {
	case 2:
		c.runWithdraw(ctx, userID, args[0], "", args[1])
		return
	case 3:
		c.runWithdraw(ctx, userID, args[0], args[1], args[2])
		return
	}
	c.flows.Start(userID, flow.Withdraw, stepDestination, nil)
	c.send(ctx, userID, "Send the destination address.")
}

func (c *Conversation) onWithdraw(ctx context.Context, userID string, st flow.State, text string) {
	switch st.Step {
	case stepDestination:
		if !id.IsAddress(text) {
			c.send(ctx, userID, "That is not a valid address. Send a 0x address or /cancel.")
			return
		}
		c.flows.Advance(userID, flow.Withdraw, stepAmount, map[string]string{"destination": strings.TrimSpace(text)})
		c.send(ctx, userID, "How much? Send an amount and optionally a token, for example 0.01 or 25 USDC. ETH is the default.")
	case stepAmount:
		fields := strings.Fields(text)
		if len(fields) == 0 || len(fields) > 2 {
			c.send(ctx, userID, "Send an amount and optionally a token, or /cancel.")
			return
		}
		if _, err := parseAmount(fields[0]); err != nil {
			c.send(ctx, userID, "Send a positive number, for example 0.01, or /cancel.")
			return
		}
		token := ""
		if len(fields) == 2 {
			token = fields[1]
		}
		if !c.flows.Cancel(userID, flow.Withdraw) {
			return
		}
		c.runWithdraw(ctx, userID, fields[0], token, st.Data["destination"])
	}
}

func (c *Conversation) runWithdraw(ctx context.Context, userID, amount, token, destination string) {
	c.spawn(ctx, userID, func(ctx context.Context) {
		msgID := c.send(ctx, userID, "Sending withdrawal...")
		res, err := c.trader.Withdraw(ctx, userID, amount, token, destination)
		if err != nil {
			msg := clierr.UserMessage(err)
			if res.TxHash != "" {
				msg += "\nTx: " + res.TxHash
			}
			c.edit(ctx, userID, msgID, msg)
			return
		}
		c.edit(ctx, userID, msgID, fmt.Sprintf("Sent %s %s to %s\nTx: %s", res.Amount.AmountDecimal, res.Token.Symbol, res.Destination, res.TxHash))
	})
}

func (c *Conversation) cancel(ctx context.Context, userID string) {
	n := c.flows.CancelAll(userID)
	if c.dropPending(userID) {
		n++
	}
	if n == 0 {
		c.send(ctx, userID, "Nothing to cancel.")
		return
	}
	c.send(ctx, userID, "Cancelled.")
}

func (c *Conversation) setSlippage(ctx context.Context, userID string, args []string) {
	if len(args) != 1 {
		c.send(ctx, userID, "Usage: /set_slippage <1-2000 bps>")
		return
	}
	bps, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		c.send(ctx, userID, "Usage: /set_slippage <1-2000 bps>")
		return
	}
	if err := c.trader.SetSlippage(ctx, userID, bps); err != nil {
		c.fail(ctx, userID, err)
		return
	}
	c.send(ctx, userID, fmt.Sprintf("Slippage set to %d bps (%s%%).", bps, bpsPercent(bps)))
}

func (c *Conversation) balance(ctx context.Context, userID string) {
	c.spawn(ctx, userID, func(ctx context.Context) {
		b, err := c.trader.Balance(ctx, userID)
		if err != nil {
			c.fail(ctx, userID, err)
			return
		}
		c.send(ctx, userID, renderBalance(b))
	})
}

// alert handles "/alert <token> above|below <price>", "/alert list" and
// "/alert delete <id>".
func (c *Conversation) alert(ctx context.Context, userID string, args []string) {
	const usage = "Usage: /alert <token> above|below <usd price>, /alert list, /alert delete <id>"
	if c.alerts == nil {
		c.send(ctx, userID, "Price alerts are not enabled.")
		return
	}
	switch {
	case len(args) == 1 && strings.EqualFold(args[0], "list"):
		list, err := c.alerts.List(ctx, userID)
		if err != nil {
			c.fail(ctx, userID, err)
			return
		}
		c.send(ctx, userID, renderAlerts(list))
	case len(args) == 2 && strings.EqualFold(args[0], "delete"):
		if err := c.alerts.Delete(ctx, userID, args[1]); err != nil {
			c.fail(ctx, userID, err)
			return
		}
		c.send(ctx, userID, "Alert deleted.")
	case len(args) == 3:
		a, err := c.alerts.Add(ctx, userID, args[0], args[1], args[2])
		if err != nil {
			c.fail(ctx, userID, err)
			return
		}
		c.send(ctx, userID, fmt.Sprintf("Alert set: %s %s $%s (id %s)", a.Symbol, a.Condition, a.TargetPrice, a.ID))
	default:
		c.send(ctx, userID, usage)
	}
}

func parseAmount(v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, errors.New("amount must be positive")
	}
	return d, nil
}
