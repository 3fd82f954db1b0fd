package app

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/swapdesk/internal/alerts"
	"github.com/ggonzalez94/swapdesk/internal/model"
)

type firedAlert struct {
	Alert model.PriceAlert `json:"alert"`
	Price string           `json:"price_usd"`
}

func (s *runtimeState) newAlertsCommand() *cobra.Command {
	root := &cobra.Command{Use: "alerts", Short: "Price alert commands"}

	var token, condition, target string
	add := &cobra.Command{
		Use:   "add",
		Short: "Alert once when a token's USD price crosses a target",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, d, err := s.userDeps()
			if err != nil {
				return err
			}
			alert, err := d.alerts.Add(s.commandContext(cmd), userID, token, condition, target)
			if err != nil {
				return err
			}
			return s.emitSuccess(alert, nil)
		},
	}
	add.Flags().StringVar(&token, "token", "", "Token symbol or 0x contract address")
	add.Flags().StringVar(&condition, "condition", "", "above or below")
	add.Flags().StringVar(&target, "price", "", "Target USD price")
	_ = add.MarkFlagRequired("token")
	_ = add.MarkFlagRequired("condition")
	_ = add.MarkFlagRequired("price")
	root.AddCommand(add)

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the user's alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, d, err := s.userDeps()
			if err != nil {
				return err
			}
			items, err := d.alerts.List(s.commandContext(cmd), userID)
			if err != nil {
				return err
			}
			return s.emitSuccess(items, nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one of the user's alerts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, d, err := s.userDeps()
			if err != nil {
				return err
			}
			if err := d.alerts.Delete(s.commandContext(cmd), userID, args[0]); err != nil {
				return err
			}
			return s.emitSuccess(map[string]any{"id": args[0], "deleted": true}, nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Evaluate pending alerts once against current prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := s.tradingDeps()
			if err != nil {
				return err
			}
			fired := []firedAlert{}
			collect := alerts.NotifierFunc(func(_ context.Context, a model.PriceAlert, price decimal.Decimal) error {
				fired = append(fired, firedAlert{Alert: a, Price: price.String()})
				return nil
			})
			checker := alerts.New(d.store, d.prices, d.tokens, d.meta, collect, s.logger)
			if _, err := checker.CheckOnce(s.commandContext(cmd)); err != nil {
				return err
			}
			return s.emitSuccess(fired, nil)
		},
	})
	return root
}
