package realtime

import (
	"context"
	"encoding/json"
	"time"

	"markethub/pkg/logger"
	"markethub/pkg/protocol"
)

// SnapshotCache receives write-through copies of broadcast data. A nil cache
// disables write-through without affecting delivery.
type SnapshotCache interface {
	SetStockSnapshot(ctx context.Context, productID string, data []byte) error
	SetPriceSnapshot(ctx context.Context, productID string, data []byte) error
	RecordLiveness(ctx context.Context, connectedUsers, activeProducts int) error
}

// Stats is a read-only snapshot of aggregate liveness
type Stats struct {
	ConnectedUsers int `json:"connectedUsers"`
	ActiveProducts int `json:"activeProducts"`
}

// Publisher fans events out to topic members and to all connections
type Publisher struct {
	registry *ConnectionRegistry
	router   *TopicRouter
	cache    SnapshotCache
	log      *logger.Logger
}

// NewPublisher creates a publisher over the given registry and router
func NewPublisher(registry *ConnectionRegistry, router *TopicRouter, cache SnapshotCache) *Publisher {
	return &Publisher{
		registry: registry,
		router:   router,
		cache:    cache,
		log:      logger.Get().With("component", "publisher"),
	}
}

// Publish delivers an event to every connection currently in the topic.
// Membership is snapshotted at the moment of the call; a member whose send
// buffer is full is skipped rather than blocked on.
func (p *Publisher) Publish(topic string, msgType protocol.MessageType, payload interface{}) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		p.log.ErrorWithErr("failed to build broadcast message", err, "topic", topic, "type", msgType)
		return
	}

	for _, connID := range p.router.MembersOf(topic) {
		client, ok := p.registry.Get(connID)
		if !ok {
			continue
		}
		if err := client.Send(msg); err != nil {
			p.log.WarnWith("dropping event for slow or closed client",
				"connID", connID, "topic", topic, "type", msgType, "reason", err)
		}
	}
}

// PublishAll delivers an event to every live connection regardless of topic
func (p *Publisher) PublishAll(msgType protocol.MessageType, payload interface{}) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		p.log.ErrorWithErr("failed to build broadcast message", err, "type", msgType)
		return
	}

	for _, client := range p.registry.All() {
		if err := client.Send(msg); err != nil {
			p.log.WarnWith("dropping event for slow or closed client",
				"connID", client.ID(), "type", msgType, "reason", err)
		}
	}
}

// BroadcastStockUpdate publishes a stock change to product viewers and, as a
// separate delivery, to stock alert subscribers. A connection in both topics
// receives two semantically distinct notifications.
func (p *Publisher) BroadcastStockUpdate(productID string, data json.RawMessage) {
	now := time.Now()
	p.Publish(ProductTopic(productID), protocol.MsgTypeStockUpdate, &protocol.StockUpdatePayload{
		ProductID: productID,
		Data:      data,
		Timestamp: now,
	})
	p.Publish(StockAlertTopic(productID), protocol.MsgTypeStockAlert, &protocol.StockUpdatePayload{
		ProductID: productID,
		Data:      data,
		Timestamp: now,
	})

	if p.cache != nil {
		if err := p.cache.SetStockSnapshot(context.Background(), productID, data); err != nil {
			p.log.WarnWith("failed to cache stock snapshot", "productID", productID, "error", err)
		}
	}
}

// BroadcastPriceChange publishes a price change to product viewers
func (p *Publisher) BroadcastPriceChange(productID string, data json.RawMessage) {
	p.Publish(ProductTopic(productID), protocol.MsgTypePriceChange, &protocol.PriceChangePayload{
		ProductID: productID,
		Data:      data,
		Timestamp: time.Now(),
	})

	if p.cache != nil {
		if err := p.cache.SetPriceSnapshot(context.Background(), productID, data); err != nil {
			p.log.WarnWith("failed to cache price snapshot", "productID", productID, "error", err)
		}
	}
}

// Stats returns a read-only snapshot of the registry and router counts
func (p *Publisher) Stats() Stats {
	return Stats{
		ConnectedUsers: p.registry.Count(),
		ActiveProducts: p.router.ActiveProducts(),
	}
}

// Heartbeat sends one system heartbeat to all connections and records the
// counts in the cache
func (p *Publisher) Heartbeat() {
	stats := p.Stats()
	p.PublishAll(protocol.MsgTypeSystemHeartbeat, &protocol.SystemHeartbeatPayload{
		ConnectedUsers: stats.ConnectedUsers,
		ActiveProducts: stats.ActiveProducts,
		Timestamp:      time.Now(),
	})

	if p.cache != nil {
		if err := p.cache.RecordLiveness(context.Background(), stats.ConnectedUsers, stats.ActiveProducts); err != nil {
			p.log.WarnWith("failed to record liveness", "error", err)
		}
	}
}

// RunHeartbeat broadcasts heartbeats at the given interval until the context
// is canceled
func (p *Publisher) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.log.InfoWith("heartbeat started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("heartbeat stopped")
			return
		case <-ticker.C:
			p.Heartbeat()
		}
	}
}
