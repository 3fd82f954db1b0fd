package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/events"
	"github.com/ggonzalez94/swapdesk/internal/trade"
)

type swapFlags struct {
	side        string
	token       string
	amount      string
	slippageBps int64
	gasBoostBps int64
}

func (f *swapFlags) bind(cmd *cobra.Command, withBoost bool) {
	cmd.Flags().StringVar(&f.side, "side", "", "buy (spend stable) or sell (sell token for stable)")
	cmd.Flags().StringVar(&f.token, "token", "", "Token symbol or 0x contract address")
	cmd.Flags().StringVar(&f.amount, "amount", "", "Stable amount to spend (buy) or token amount to sell (sell)")
	cmd.Flags().Int64Var(&f.slippageBps, "slippage-bps", 0, "Slippage tolerance in bps (default: user setting)")
	_ = cmd.MarkFlagRequired("side")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("amount")
	if withBoost {
		cmd.Flags().Int64Var(&f.gasBoostBps, "gas-boost-bps", 0, "Extra gas price in bps over the network price")
	}
}

// broadcaster returns the trade event sink for one-shot commands. Kafka is
// used when brokers are configured.
func (s *runtimeState) broadcaster() events.Broadcaster {
	if len(s.settings.KafkaBrokers) == 0 {
		return events.Nop{}
	}
	pub, err := events.NewKafkaPublisher(s.settings.KafkaBrokers, s.settings.KafkaTopic, s.logger)
	if err != nil {
		s.logger.Warn("kafka publisher disabled", zap.Error(err))
		return events.Nop{}
	}
	return &closingBroadcaster{Broadcaster: pub, close: func() { _ = pub.Close() }}
}

// closingBroadcaster is closed together with the deps built around it.
type closingBroadcaster struct {
	events.Broadcaster
	close func()
}

func (s *runtimeState) tradingDeps() (*deps, error) {
	if s.deps != nil {
		return s.deps, nil
	}
	b := s.broadcaster()
	d, err := s.services(b)
	if cb, ok := b.(*closingBroadcaster); ok {
		if err != nil {
			cb.close()
		} else {
			d.closers = append(d.closers, cb.close)
		}
	}
	return d, err
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var f swapFlags
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a buy or sell across aggregators without trading",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := s.tradingDeps()
			if err != nil {
				return err
			}
			preview, err := d.trader.Quote(s.commandContext(cmd), f.side, f.token, f.amount, f.slippageBps)
			s.lastProviders = preview.Providers
			if err != nil {
				return err
			}
			return s.emitSuccess(preview.Quote, nil)
		},
	}
	f.bind(cmd, false)
	return cmd
}

func (s *runtimeState) newSwapCommand() *cobra.Command {
	var f swapFlags
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Execute a buy or sell from the user's custodied wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := s.user()
			if err != nil {
				return err
			}
			d, err := s.tradingDeps()
			if err != nil {
				return err
			}
			res, err := d.trader.Execute(s.commandContext(cmd), f.side, userID, f.token, f.amount, f.slippageBps, f.gasBoostBps)
			if err != nil {
				if res.TxHash != "" {
					s.errData = res
				}
				return err
			}
			return s.emitSuccess(res, nil)
		},
	}
	f.bind(cmd, true)
	return cmd
}

func (s *runtimeState) newWithdrawCommand() *cobra.Command {
	var amount, token, to string
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Send ETH or an ERC-20 from the user's wallet to an external address",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := s.user()
			if err != nil {
				return err
			}
			d, err := s.tradingDeps()
			if err != nil {
				return err
			}
			res, err := d.trader.Withdraw(s.commandContext(cmd), userID, amount, token, to)
			if err != nil {
				if res.TxHash != "" {
					s.errData = res
				}
				return err
			}
			return s.emitSuccess(res, nil)
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "Amount in token units")
	cmd.Flags().StringVar(&token, "token", "ETH", "ETH, a token symbol, or a 0x contract address")
	cmd.Flags().StringVar(&to, "to", "", "Destination address")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (s *runtimeState) newBalanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the wallet's ETH and stable balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := s.user()
			if err != nil {
				return err
			}
			d, err := s.tradingDeps()
			if err != nil {
				return err
			}
			bal, err := d.trader.Balance(s.commandContext(cmd), userID)
			if err != nil {
				return err
			}
			return s.emitSuccess(bal, nil)
		},
	}
}

func (s *runtimeState) newTradesCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List the user's recorded trades, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 || limit > 500 {
				return clierr.New(clierr.CodeUsage, "--limit must be between 1 and 500")
			}
			userID, err := s.user()
			if err != nil {
				return err
			}
			d, err := s.tradingDeps()
			if err != nil {
				return err
			}
			records, err := d.trader.Trades(s.commandContext(cmd), userID, limit)
			if err != nil {
				return err
			}
			return s.emitSuccess(records, nil)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to return")
	return cmd
}

func (s *runtimeState) newSettingsCommand() *cobra.Command {
	root := &cobra.Command{Use: "settings", Short: "Per-user trading settings"}
	var slippage, boost int64
	set := &cobra.Command{
		Use:   "set",
		Short: "Update slippage and gas boost",
		RunE: func(cmd *cobra.Command, args []string) error {
			slippageSet := cmd.Flags().Changed("slippage-bps")
			boostSet := cmd.Flags().Changed("gas-boost-bps")
			if !slippageSet && !boostSet {
				return clierr.New(clierr.CodeUsage, "set --slippage-bps or --gas-boost-bps")
			}
			if slippageSet {
				if err := trade.ValidateSlippage(slippage); err != nil {
					return err
				}
			}
			if boostSet {
				if err := trade.ValidateGasBoost(boost); err != nil {
					return err
				}
			}
			userID, err := s.user()
			if err != nil {
				return err
			}
			d, err := s.tradingDeps()
			if err != nil {
				return err
			}
			ctx := s.commandContext(cmd)
			if slippageSet {
				if err := d.trader.SetSlippage(ctx, userID, slippage); err != nil {
					return err
				}
			}
			if boostSet {
				if err := d.trader.SetGasBoost(ctx, userID, boost); err != nil {
					return err
				}
			}
			view, err := d.trader.Wallet(ctx, userID)
			if err != nil {
				return err
			}
			return s.emitSuccess(view, nil)
		},
	}
	set.Flags().Int64Var(&slippage, "slippage-bps", 0, fmt.Sprintf("Slippage in bps (%d-%d)", trade.MinSlippageBps, trade.MaxSlippageBps))
	set.Flags().Int64Var(&boost, "gas-boost-bps", 0, fmt.Sprintf("Gas boost in bps (0-%d)", trade.MaxGasBoostBps))
	root.AddCommand(set)
	return root
}
