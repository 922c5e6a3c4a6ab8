package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chicify/socialgraph/internal/graph"
)

const (
	signalChannel   = "graph:signals"
	publishTimeout  = 2 * time.Second
	relayMinBackoff = 500 * time.Millisecond
	relayMaxBackoff = 30 * time.Second
)

// Publisher sends graph signals to every instance over Redis pub/sub.
// Delivery is at-most-once; publish failures are logged and dropped.
type Publisher struct {
	client *Client
	logger *zap.Logger
}

var _ graph.Notifier = (*Publisher)(nil)

// NewPublisher creates a publisher on the shared client
func NewPublisher(client *Client, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// Notify publishes s without blocking the caller.
func (p *Publisher) Notify(ctx context.Context, s graph.Signal) {
	payload, err := json.Marshal(s)
	if err != nil {
		p.logger.Warn("Failed to encode graph signal", zap.Error(err))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := p.client.client.Publish(ctx, p.client.namespaceKey(signalChannel), payload).Err(); err != nil {
			p.logger.Warn("Failed to publish graph signal",
				zap.String("kind", string(s.Kind)),
				zap.String("action", string(s.Action)),
				zap.Error(err))
		}
	}()
}

// Relay subscribes to the signal channel and re-emits every signal into a
// local notifier, usually the process Broadcaster.
type Relay struct {
	client     *Client
	target     graph.Notifier
	logger     *zap.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewRelay creates a relay forwarding into target
func NewRelay(client *Client, target graph.Notifier, logger *zap.Logger) *Relay {
	return &Relay{
		client:     client,
		target:     target,
		logger:     logger,
		minBackoff: relayMinBackoff,
		maxBackoff: relayMaxBackoff,
	}
}

// Run relays signals until ctx is done. A failed or closed subscription is
// retried with exponential backoff, reset after every successful subscribe.
func (r *Relay) Run(ctx context.Context) {
	backoff := r.minBackoff
	for {
		subscribed, err := r.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if subscribed {
			backoff = r.minBackoff
		}

		fields := []zap.Field{zap.Duration("retry_in", backoff)}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		r.logger.Warn("Signal relay interrupted", fields...)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if backoff *= 2; backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

// runOnce holds one subscription until ctx is done or the channel closes.
// subscribed reports whether the subscription was ever confirmed.
func (r *Relay) runOnce(ctx context.Context) (subscribed bool, err error) {
	channel := r.client.namespaceKey(signalChannel)
	sub := r.client.client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return false, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	r.logger.Info("Relaying graph signals", zap.String("channel", channel))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case msg, ok := <-messages:
			if !ok {
				return true, nil
			}
			r.forward(ctx, msg.Payload)
		}
	}
}

func (r *Relay) forward(ctx context.Context, payload string) {
	var s graph.Signal
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		r.logger.Warn("Dropping malformed graph signal", zap.Error(err))
		return
	}
	if s.Actor == "" || s.Target == "" {
		r.logger.Warn("Dropping graph signal without endpoints", zap.String("kind", string(s.Kind)))
		return
	}
	r.target.Notify(ctx, s)
}
