package bot

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/swapdesk/internal/model"
)

func helpText(stable model.TokenInfo) string {
	return strings.Join([]string{
		"Welcome to swapdesk. Trade Base tokens against " + stable.Symbol + ".",
		"",
		"/wallet - show or create your wallet",
		"/import - import a private key",
		"/buy <" + stable.Symbol + " amount> <token> - buy a token",
		"/sell <amount> <token> - sell a token",
		"/withdraw <amount> [token] <address> - send funds out",
		"/balance - ETH and " + stable.Symbol + " balances",
		"/set_slippage <bps> - default slippage, 1-2000",
		"/alert <token> above|below <usd> - price alerts",
		"/cancel - abort the current step",
		"",
		"You can also paste a token contract address to buy it.",
	}, "\n")
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func bpsPercent(bps int64) string {
	return decimal.New(bps, -2).StringFixed(2)
}

func renderQuote(q model.SwapQuote) string {
	lines := []string{
		fmt.Sprintf("%s quote via %s", title(q.Side), q.Provider),
		fmt.Sprintf("Pay: %s %s", q.SellAmount.AmountDecimal, q.SellToken.Symbol),
		fmt.Sprintf("Receive: ~%s %s (min %s)", q.BuyAmount.AmountDecimal, q.BuyToken.Symbol, q.MinBuyAmount.AmountDecimal),
		fmt.Sprintf("Slippage: %s%%", bpsPercent(q.SlippageBps)),
	}
	if gas := renderGas(q.Gas); gas != "" {
		lines = append(lines, "Est. gas: "+gas)
	}
	return strings.Join(lines, "\n")
}

func renderGas(g model.GasEstimate) string {
	if g.CostETH == "" {
		return ""
	}
	if g.CostUSD != nil {
		return fmt.Sprintf("%s ETH ($%.2f)", g.CostETH, *g.CostUSD)
	}
	return g.CostETH + " ETH"
}

func renderSwap(res model.SwapResult) string {
	lines := []string{fmt.Sprintf("%s confirmed in block %d", title(res.Side), res.BlockNumber)}
	lines = append(lines, fmt.Sprintf("Spent: %s %s", res.AmountIn.AmountDecimal, res.Quote.SellToken.Symbol))
	if res.AmountOut != nil {
		lines = append(lines, fmt.Sprintf("Received: %s %s", res.AmountOut.AmountDecimal, res.Quote.BuyToken.Symbol))
	}
	if gas := renderGas(res.GasCost); gas != "" {
		lines = append(lines, "Gas: "+gas)
	}
	if res.ApprovalTxHash != "" {
		lines = append(lines, "Approval tx: "+res.ApprovalTxHash)
	}
	lines = append(lines, "Tx: "+res.TxHash)
	return strings.Join(lines, "\n")
}

func renderWallet(v model.WalletView) string {
	lines := []string{"Address: " + v.Address}
	if v.SlippageBps > 0 {
		lines = append(lines, fmt.Sprintf("Slippage: %d bps", v.SlippageBps))
	}
	if v.Balances != nil {
		lines = append(lines, renderBalance(*v.Balances))
	}
	return strings.Join(lines, "\n")
}

func renderBalance(b model.BalanceView) string {
	return fmt.Sprintf("ETH: %s\n%s: %s", b.Native.AmountDecimal, b.StableSymbol, b.Stable.AmountDecimal)
}

func renderAlerts(list []model.PriceAlert) string {
	if len(list) == 0 {
		return "No price alerts."
	}
	var b strings.Builder
	for i, a := range list {
		if i > 0 {
			b.WriteByte('\n')
		}
		state := "active"
		if a.Triggered {
			state = "triggered"
		}
		fmt.Fprintf(&b, "%s %s %s $%s [%s]", a.ID, a.Symbol, a.Condition, a.TargetPrice, state)
	}
	return b.String()
}

func renderAlertFired(a model.PriceAlert, price decimal.Decimal) string {
	return fmt.Sprintf("Price alert: %s is now $%s (%s $%s).", a.Symbol, price.String(), a.Condition, a.TargetPrice)
}
