package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Bus carries index-update notifications from the ingestion pipeline to the
// query-time adapter so cached corpus views never outlive a re-ingestion.
type Bus struct {
	conn    *nats.Conn
	subject string
	log     *slog.Logger
}

func New(url, subject string, log *slog.Logger) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Bus{conn: conn, subject: subject, log: log}, nil
}

func (b *Bus) PublishIndexUpdated(context.Context) error {
	if err := b.conn.Publish(b.subject, []byte("updated")); err != nil {
		return fmt.Errorf("publish index update: %w", err)
	}
	return nil
}

func (b *Bus) SubscribeIndexUpdated(ctx context.Context, handler func(context.Context) error) error {
	_, err := b.conn.Subscribe(b.subject, func(*nats.Msg) {
		if err := handler(ctx); err != nil {
			b.log.Warn("index_invalidation_failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	return nil
}

func (b *Bus) Close() {
	b.conn.Drain()
}
