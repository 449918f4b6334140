package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Invalidator consumes item update events and evicts the cache entries that
// reference them. The payload is a JSON array of item IDs, published by the
// ingestion pipeline after an index write.
type Invalidator struct {
	conn    *nats.Conn
	subject string
	cache   *MultiTier
	logger  *zap.Logger

	sub *nats.Subscription
}

// NewInvalidator connects to NATS and prepares the consumer. Call Start to
// begin receiving events and Close on shutdown.
func NewInvalidator(url, subject string, cache *MultiTier, logger *zap.Logger) (*Invalidator, error) {
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("fuseline"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &Invalidator{conn: conn, subject: subject, cache: cache, logger: logger}, nil
}

// Start subscribes to the invalidation subject. Malformed payloads are
// logged and skipped; invalidation never propagates errors to the publisher.
func (i *Invalidator) Start() error {
	sub, err := i.conn.Subscribe(i.subject, func(msg *nats.Msg) {
		var itemIDs []string
		if err := json.Unmarshal(msg.Data, &itemIDs); err != nil {
			i.logger.Warn("Dropping malformed invalidation event",
				zap.String("subject", i.subject),
				zap.Error(err),
			)
			return
		}
		if len(itemIDs) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		i.cache.Invalidate(ctx, itemIDs)

		i.logger.Debug("Invalidated cache entries",
			zap.Int("item_count", len(itemIDs)),
		)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	i.sub = sub
	return nil
}

// Healthy reports whether the NATS connection is up.
func (i *Invalidator) Healthy() bool {
	return i.conn != nil && i.conn.IsConnected()
}

// Close drains the subscription and closes the connection.
func (i *Invalidator) Close() {
	if i.sub != nil {
		if err := i.sub.Drain(); err != nil {
			i.logger.Warn("NATS drain failed", zap.Error(err))
		}
	}
	if i.conn != nil {
		i.conn.Close()
	}
}
