package bot

import (
	"context"
	"log/slog"

	"pedebot/internal/domain"
	"pedebot/internal/metrics"
)

const defaultConcurrency = 5

// Loop is the reply pipeline: consume inbound messages from the bus, ask
// the responder for a reply, send it through the session, mark processed.
// Messages are handled as independent tasks; replies may leave out of
// arrival order while an earlier completion is still waiting on the AI.
type Loop struct {
	bus         domain.Bus
	store       domain.EventStore
	responder   domain.Responder
	sender      domain.Sender
	logger      *slog.Logger
	concurrency int
}

// LoopConfig holds the pipeline dependencies.
type LoopConfig struct {
	Bus         domain.Bus
	Store       domain.EventStore
	Responder   domain.Responder
	Sender      domain.Sender
	Logger      *slog.Logger
	Concurrency int // max parallel reply tasks (default 5)
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Loop{
		bus:         cfg.Bus,
		store:       cfg.Store,
		responder:   cfg.Responder,
		sender:      cfg.Sender,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
	}
}

// Run consumes inbound messages and processes them with bounded concurrency.
// In-flight tasks are abandoned on shutdown; the unprocessed flag in the
// store makes that loss visible to operators.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("reply loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("reply loop stopping")
			return
		case in, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, reply loop stopping")
				return
			}
			sem <- struct{}{}
			go func(in domain.InboundMessage) {
				defer func() { <-sem }()
				l.handle(ctx, in)
			}(in)
		}
	}
}

// handle runs one respond→send task.
func (l *Loop) handle(ctx context.Context, in domain.InboundMessage) {
	msg := in.Message

	if msg.Type != domain.TypeMessage || !msg.HasText() {
		// Receipts, postbacks, and attachment-only messages get no reply.
		if err := l.store.MarkProcessed(ctx, msg.ID); err != nil {
			l.logger.Warn("mark processed failed", "id", msg.ID, "err", err)
		}
		return
	}

	if done, err := l.store.IsProcessed(ctx, msg.ID); err != nil {
		l.logger.Warn("processed check failed", "id", msg.ID, "err", err)
	} else if done {
		l.logger.Info("message already processed, skipping", "id", msg.ID)
		return
	}

	l.logger.Info("replying", "id", msg.ID, "from", msg.From, "source", in.Source)

	reply := l.responder.Reply(ctx, *msg.Text)

	if err := l.sender.Send(ctx, msg.From, reply); err != nil {
		// Left unprocessed: a single lost reply is accepted, not retried here.
		l.logger.Error("reply send failed", "id", msg.ID, "to", msg.From, "err", err)
		return
	}
	metrics.RepliesSent.Inc()

	if err := l.store.MarkProcessed(ctx, msg.ID); err != nil {
		l.logger.Warn("mark processed failed", "id", msg.ID, "err", err)
	}
}
