package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"pedebot/internal/bot"
	"pedebot/internal/botapi"
	"pedebot/internal/bus"
	"pedebot/internal/domain"
	"pedebot/internal/menu"
	"pedebot/internal/metrics"
	"pedebot/internal/responder"
	"pedebot/internal/session"
	"pedebot/internal/store"
	"pedebot/internal/webhook"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook gateway, provider session, and reply pipeline",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.General.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventStore, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return err
	}
	defer eventStore.Close()

	messageBus := bus.New(100, logger)
	defer messageBus.Close()

	m, err := menu.Load(cfg.AI.MenuPath, logger)
	if err != nil {
		return err
	}
	aiClient := responder.NewOpenRouter(cfg.AI, menu.SystemPrompt(cfg.AI.SystemPrompt, m), logger)

	credStore := session.NewFileStore(cfg.WhatsApp.SessionDir, cfg.WhatsApp.SessionName)
	transport := session.NewWSTransport(cfg.WhatsApp.SocketURL)
	sess := session.NewManager(transport, credStore, logger)

	recent := botapi.NewRecentStore(cfg.Bot.MaxRecentMessages)

	gateway := webhook.NewGateway(cfg.Server, cfg.WhatsApp.VerifyToken, eventStore, messageBus, logger)
	gatewayServer := webhook.NewServer(cfg.Server.Host, cfg.Server.Port, gateway.Handler(), logger)

	api := botapi.NewAPI(recent, sess, func() string { return string(sess.State()) }, logger)
	apiServer := webhook.NewServer(cfg.Bot.Host, cfg.Bot.Port, api.Handler(cfg.Metrics), logger)

	replyLoop := bot.NewLoop(bot.LoopConfig{
		Bus:         messageBus,
		Store:       eventStore,
		Responder:   aiClient,
		Sender:      sess,
		Logger:      logger,
		Concurrency: cfg.Bot.MaxConcurrentReplies,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return gatewayServer.Run(gctx) })
	g.Go(func() error { return apiServer.Run(gctx) })

	// A terminal logout surfaces as session.ErrLoggedOut and brings the
	// whole group down: the operator restarts the process to pair again.
	g.Go(func() error { return sess.Run(gctx) })

	// Session ingress: the provider's native push channel feeds the same
	// pipeline as the HTTP webhook.
	g.Go(func() error {
		pumpSessionMessages(gctx, sess, eventStore, recent, messageBus)
		return nil
	})

	// Pairing challenges are rendered to the operator terminal.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case challenge, ok := <-sess.PairingChallenges():
				if !ok {
					return nil
				}
				fmt.Fprintf(os.Stderr, "\nPairing required. Confirm this code on the restaurant's WhatsApp:\n\n    %s\n\n", challenge)
			}
		}
	})

	g.Go(func() error {
		replyLoop.Run(gctx)
		return nil
	})

	logger.Info("pedebot serving",
		"webhook", fmt.Sprintf(":%d%s", cfg.Server.Port, cfg.Server.WebhookPath),
		"bot_api", fmt.Sprintf(":%d", cfg.Bot.Port),
	)

	return g.Wait()
}

// pumpSessionMessages persists and forwards messages arriving over the
// socket. The idempotent insert makes provider redelivery safe on this
// ingress path too.
func pumpSessionMessages(ctx context.Context, sess *session.Manager, eventStore domain.EventStore, recent *botapi.RecentStore, messageBus domain.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sess.Messages():
			if !ok {
				return
			}
			if msg.ID == "" {
				msg.ID = uuid.NewString()
			}
			recent.Append(msg)

			inserted, err := eventStore.SaveMessage(ctx, &msg)
			if err != nil {
				logger.Error("socket message not persisted", "id", msg.ID, "err", err)
				continue
			}
			if !inserted {
				metrics.DuplicatesSkipped.Inc()
				continue
			}
			messageBus.Publish(domain.InboundMessage{Source: "socket", Message: msg})
		}
	}
}
