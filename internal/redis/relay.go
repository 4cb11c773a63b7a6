package redisclient

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-lifecycle/internal/notification"
)

// Relay feeds events published on NotificationChannel into a local notifier,
// normally the process hub.
type Relay struct {
	client  *redis.Client
	target  notification.Notifier
	channel string
	logger  *zap.Logger
}

func NewRelay(client *redis.Client, target notification.Notifier, logger *zap.Logger) *Relay {
	return &Relay{
		client:  client,
		target:  target,
		channel: NotificationChannel,
		logger:  logger.Named("relay"),
	}
}

// Run blocks until ctx is cancelled or the subscription channel closes.
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription confirmation so failures surface here.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("relaying notifications", zap.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription %s closed", r.channel)
			}
			r.handle(ctx, msg)
		}
	}
}

func (r *Relay) handle(ctx context.Context, msg *redis.Message) {
	env, err := decodeEnvelope(msg.Payload)
	if err != nil {
		r.logger.Warn("skipping malformed notification", zap.Error(err))
		return
	}
	if err := r.target.Notify(ctx, env.DoctorID, env.Event); err != nil {
		r.logger.Warn("relay delivery failed",
			zap.Stringer("doctor_id", env.DoctorID),
			zap.Error(err),
		)
	}
}
