package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-lifecycle/internal/notification"
)

// NotificationChannel carries events from scheduler processes to every
// api-server replica.
const NotificationChannel = "appointments:notifications"

const publishTimeout = 2 * time.Second

// Envelope is the pub/sub payload: the event plus the doctor it belongs to.
type Envelope struct {
	DoctorID uuid.UUID          `json:"doctorId"`
	Event    notification.Event `json:"event"`
}

func encodeEnvelope(doctorID uuid.UUID, ev notification.Event) ([]byte, error) {
	return json.Marshal(Envelope{DoctorID: doctorID, Event: ev})
}

func decodeEnvelope(payload string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.DoctorID == uuid.Nil {
		return Envelope{}, fmt.Errorf("decode envelope: missing doctorId")
	}
	return env, nil
}

// Publisher is a notification.Notifier that hands events to Redis instead of
// a local hub.
type Publisher struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

var _ notification.Notifier = (*Publisher)(nil)

func NewPublisher(client *redis.Client, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:  client,
		channel: NotificationChannel,
		logger:  logger.Named("publisher"),
	}
}

// Notify publishes one envelope. The publish is bounded by publishTimeout and
// by ctx, whichever ends first.
func (p *Publisher) Notify(ctx context.Context, doctorID uuid.UUID, ev notification.Event) error {
	data, err := encodeEnvelope(doctorID, ev)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		p.logger.Warn("failed to publish notification",
			zap.Stringer("doctor_id", doctorID),
			zap.Stringer("appointment_id", ev.AppointmentID),
			zap.Error(err),
		)
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
