// Package telemetry publishes expert-usage statistics for the offline
// visualizer. Publishing is fire-and-forget: failures are logged and
// never reach the request path.
package telemetry

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// ExpertActivationChannel is the pub/sub channel the visualizer
// subscribes to.
const ExpertActivationChannel = "moe:expert:activation"

// Publisher sends expert activation maps over Redis pub/sub.
type Publisher struct {
	client *redis.Client
}

// NewPublisher wraps a Redis client. A nil client yields a publisher
// that drops everything, for deployments without telemetry.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishExpertUsage delivers an {expertID: activationCount} map to the
// visualizer channel. Empty maps are skipped; any failure is logged and
// swallowed.
func (p *Publisher) PublishExpertUsage(ctx context.Context, usage map[string]int) {
	if p == nil || p.client == nil || len(usage) == 0 {
		return
	}
	payload, err := json.Marshal(usage)
	if err != nil {
		log.Printf("telemetry: marshal expert usage failed: %v", err)
		return
	}
	if err := p.client.Publish(ctx, ExpertActivationChannel, payload).Err(); err != nil {
		log.Printf("telemetry: publishing expert usage failed: %v", err)
		return
	}
	log.Printf("telemetry: published activation counts for %d experts", len(usage))
}
