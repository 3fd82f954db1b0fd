// Package bot implements the chat conversation on top of the trade service.
// Commands and free text arrive through HandleMessage, button presses
// through HandleCallback. Network work runs in the background and reports
// back through the Prompter.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/flow"
	"github.com/ggonzalez94/swapdesk/internal/id"
	"github.com/ggonzalez94/swapdesk/internal/logging"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/trade"
)

// Trader is the part of the trade service the conversation drives.
type Trader interface {
	Quote(ctx context.Context, side, token, amount string, slippageBps int64) (trade.Preview, error)
	Execute(ctx context.Context, side, userID, token, amount string, slippageBps, gasBoostBps int64) (model.SwapResult, error)
	Withdraw(ctx context.Context, userID, amount, tokenRef, destination string) (model.WithdrawResult, error)
	CreateWallet(ctx context.Context, userID string) (model.WalletView, error)
	ImportKey(ctx context.Context, userID, hexKey string) (model.WalletView, error)
	Wallet(ctx context.Context, userID string) (model.WalletView, error)
	Balance(ctx context.Context, userID string) (model.BalanceView, error)
	SetSlippage(ctx context.Context, userID string, bps int64) error
	Stable() model.TokenInfo
}

type AlertManager interface {
	Add(ctx context.Context, userID, token, condition, target string) (model.PriceAlert, error)
	List(ctx context.Context, userID string) ([]model.PriceAlert, error)
	Delete(ctx context.Context, userID, alertID string) error
}

// pendingTrade is a quoted trade waiting for its confirm button.
type pendingTrade struct {
	side        string
	token       string
	amount      string
	slippageBps int64
	messageID   string
	expiresAt   time.Time
}

type Conversation struct {
	trader   Trader
	alerts   AlertManager
	flows    *flow.Engine
	prompter Prompter
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]pendingTrade
	turns   map[string]*turn

	wg sync.WaitGroup
}

// turn serializes the synchronous handling of one user's messages and
// button presses. refs counts holders and waiters.
type turn struct {
	mu   sync.Mutex
	refs int
}

func New(trader Trader, alerts AlertManager, flows *flow.Engine, prompter Prompter, logger *zap.Logger) *Conversation {
	if flows == nil {
		flows = flow.New(flow.DefaultTTL)
	}
	return &Conversation{
		trader:   trader,
		alerts:   alerts,
		flows:    flows,
		prompter: prompter,
		logger:   logging.OrNop(logger),
		now:      time.Now,
		pending:  map[string]pendingTrade{},
		turns:    map[string]*turn{},
	}
}

// lockUser waits for the user's previous message to be handled and returns
// the release func.
func (c *Conversation) lockUser(userID string) func() {
	c.mu.Lock()
	t, ok := c.turns[userID]
	if !ok {
		t = &turn{}
		c.turns[userID] = t
	}
	t.refs++
	c.mu.Unlock()

	t.mu.Lock()
	return func() {
		t.mu.Unlock()
		c.mu.Lock()
		t.refs--
		if t.refs == 0 {
			delete(c.turns, userID)
		}
		c.mu.Unlock()
	}
}

// Wait blocks until background quotes and trades have reported back.
func (c *Conversation) Wait() { c.wg.Wait() }

// HandleMessage routes a command or a free-text reply.
func (c *Conversation) HandleMessage(ctx context.Context, userID, text string) {
	defer c.recover(ctx, userID)
	defer c.lockUser(userID)()
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		c.command(ctx, userID, text)
		return
	}
	c.freeText(ctx, userID, text)
}

// HandleCallback handles a button press. messageID is the prompt the button
// belongs to.
func (c *Conversation) HandleCallback(ctx context.Context, userID, messageID, data string) {
	defer c.recover(ctx, userID)
	defer c.lockUser(userID)()
	switch data {
	case CallbackConfirmBuy, CallbackConfirmSell:
		side := strings.TrimPrefix(data, "confirm:")
		p, ok := c.takePending(userID, side)
		if !ok {
			c.edit(ctx, userID, messageID, "This quote is no longer available. Start again with /"+side+".")
			return
		}
		c.edit(ctx, userID, p.messageID, fmt.Sprintf("Submitting %s of %s %s...", side, p.amount, p.token))
		c.spawn(ctx, userID, func(ctx context.Context) { c.executeTrade(ctx, userID, p) })
	case CallbackCancel:
		c.dropPending(userID)
		c.edit(ctx, userID, messageID, "Cancelled.")
	default:
		c.logger.Debug("unknown callback", zap.String("user", userID), zap.String("data", data))
	}
}

func (c *Conversation) command(ctx context.Context, userID, text string) {
	fields := strings.Fields(text)
	name := strings.ToLower(fields[0])
	if at := strings.IndexByte(name, '@'); at > 0 {
		name = name[:at]
	}
	args := fields[1:]
	switch name {
	case "/start", "/help":
		c.send(ctx, userID, helpText(c.trader.Stable()))
	case "/wallet":
		c.wallet(ctx, userID)
	case "/import":
		c.importKey(ctx, userID, args)
	case "/buy":
		c.trade(ctx, userID, model.TradeSideBuy, args)
	case "/sell":
		c.trade(ctx, userID, model.TradeSideSell, args)
	case "/withdraw":
		c.withdraw(ctx, userID, args)
	case "/cancel":
		c.cancel(ctx, userID)
	case "/set_slippage":
		c.setSlippage(ctx, userID, args)
	case "/balance":
		c.balance(ctx, userID)
	case "/alert":
		c.alert(ctx, userID, args)
	default:
		c.send(ctx, userID, "Unknown command. Send /help for the list of commands.")
	}
}

// freeText gives the message to the first pending flow that claims it.
func (c *Conversation) freeText(ctx context.Context, userID, text string) {
	st, ok := c.flows.Route(userID)
	if !ok {
		// A pasted contract address starts a buy.
		if id.IsAddress(text) {
			c.askAmount(ctx, userID, model.TradeSideBuy, text)
			return
		}
		c.send(ctx, userID, "Send /help for the list of commands.")
		return
	}
	switch st.Category {
	case flow.ImportKey:
		c.onImportKey(ctx, userID, text)
	case flow.Withdraw:
		c.onWithdraw(ctx, userID, st, text)
	case flow.ContractAddress:
		c.onContractAddress(ctx, userID, st, text)
	case flow.BuyAmount:
		c.onAmount(ctx, userID, st, text)
	}
}

func (c *Conversation) spawn(ctx context.Context, userID string, fn func(context.Context)) {
	ctx = context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.recover(ctx, userID)
		fn(ctx)
	}()
}

func (c *Conversation) recover(ctx context.Context, userID string) {
	r := recover()
	if r == nil {
		return
	}
	c.logger.Error("conversation handler panicked", zap.String("user", userID), zap.Any("panic", r))
	if userID != "" {
		c.send(ctx, userID, clierr.UserMessage(fmt.Errorf("%v", r)))
	}
}

func (c *Conversation) send(ctx context.Context, userID, text string) string {
	id, err := c.prompter.Send(ctx, userID, text)
	if err != nil {
		c.logger.Warn("send message failed", zap.String("user", userID), zap.Error(err))
	}
	return id
}

func (c *Conversation) edit(ctx context.Context, userID, messageID, text string) {
	if messageID == "" {
		c.send(ctx, userID, text)
		return
	}
	if err := c.prompter.Edit(ctx, userID, messageID, text); err != nil {
		c.logger.Warn("edit message failed", zap.String("user", userID), zap.Error(err))
	}
}

func (c *Conversation) fail(ctx context.Context, userID string, err error) {
	c.logger.Debug("conversation request failed", zap.String("user", userID), zap.Error(err))
	c.send(ctx, userID, clierr.UserMessage(err))
}

func (c *Conversation) putPending(userID string, p pendingTrade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.expiresAt = c.now().Add(c.flows.TTL())
	c.pending[userID] = p
}

// takePending removes the user's quoted trade so a second press of the same
// button cannot execute it twice.
func (c *Conversation) takePending(userID, side string) (pendingTrade, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[userID]
	if !ok || p.side != side {
		return pendingTrade{}, false
	}
	delete(c.pending, userID)
	if c.now().After(p.expiresAt) {
		return pendingTrade{}, false
	}
	return p, true
}

func (c *Conversation) dropPending(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[userID]
	delete(c.pending, userID)
	return ok
}
