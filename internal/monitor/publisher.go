// Package monitor fans session events out to teachers watching a packet live.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// Publisher writes session events to the packet's Redis channel.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a new Publisher.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// Publish sends ev to every subscriber of its packet.
func (p *Publisher) Publish(ctx context.Context, ev model.MonitorEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode monitor event: %w", err)
	}
	return p.rdb.Publish(ctx, Channel(ev.PacketID), payload).Err()
}

// Subscribe opens a subscription to a packet's events. The caller must Close it.
func (p *Publisher) Subscribe(ctx context.Context, packetID uuid.UUID) *redis.PubSub {
	return p.rdb.Subscribe(ctx, Channel(packetID))
}

// Channel is the pub/sub channel for a packet.
func Channel(packetID uuid.UUID) string {
	return config.CacheKey.PacketMonitorChannel(packetID.String())
}
