package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ggonzalez94/swapdesk/internal/alerts"
	"github.com/ggonzalez94/swapdesk/internal/bot"
	"github.com/ggonzalez94/swapdesk/internal/events"
	"github.com/ggonzalez94/swapdesk/internal/flow"
	"github.com/ggonzalez94/swapdesk/internal/httpapi"
	"github.com/ggonzalez94/swapdesk/internal/model"
)

func (s *runtimeState) newServeCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the websocket chat and the alert checker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				s.settings.ListenAddr = listen
			}
			ctx, stop := signal.NotifyContext(s.commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return s.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from config, :8080)")
	return cmd
}

func (s *runtimeState) serve(ctx context.Context) error {
	logger := s.logger
	hub := events.NewHub(logger)
	sinks := events.Multi{hub}
	if len(s.settings.KafkaBrokers) > 0 {
		pub, err := events.NewKafkaPublisher(s.settings.KafkaBrokers, s.settings.KafkaTopic, logger)
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close() }()
		sinks = append(sinks, pub)
	}

	d, err := s.services(sinks)
	if err != nil {
		hub.Close()
		return err
	}

	flows := flow.New(s.settings.FlowTTL, flow.WithLogger(logger), flow.WithExpireHook(func(userID string, st flow.State) {
		logger.Debug("flow expired", zap.String("user", userID), zap.String("category", string(st.Category)))
	}))
	defer flows.Close()

	var conv *bot.Conversation
	notifier := alerts.NotifierFunc(func(ctx context.Context, a model.PriceAlert, price decimal.Decimal) error {
		return conv.NotifyAlert(ctx, a, price)
	})
	alertSvc := alerts.New(d.store, d.prices, d.tokens, d.meta, notifier, logger)
	conv = bot.New(d.trader, alertSvc, flows, bot.NewHubPrompter(hub), logger)
	hub.SetHandler(conv.FrameHandler(logger))

	server := httpapi.New(httpapi.Config{
		JWTSecret:   s.settings.JWTSecret,
		CORSOrigins: s.settings.CORSOrigins,
	}, d.trader, alertSvc, hub, d.pool.Probe, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.pool.Monitor(ctx, s.settings.HealthInterval)
	}()
	go func() {
		defer wg.Done()
		alertSvc.Run(ctx, s.settings.AlertInterval)
	}()

	logger.Info("serving",
		zap.Strings("rpc", d.pool.URLs()),
		zap.Bool("auth", s.settings.JWTSecret != ""),
		zap.Int("kafka_sinks", len(sinks)-1),
	)
	err = server.Serve(ctx, s.settings.ListenAddr)
	cancel()
	wg.Wait()
	conv.Wait()
	return err
}
