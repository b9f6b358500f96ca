// Package notify is the sink the scheduling engine reports state changes to.
// Dispatch is fire-and-forget: a failed notification is logged and dropped,
// never rolled back into the transition that triggered it.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Event kinds emitted by the engine.
const (
	KindAppointmentBooked      = "APPOINTMENT_BOOKED"
	KindAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	KindAppointmentCanceled    = "APPOINTMENT_CANCELED"
	KindAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	KindAppointmentNoShow      = "APPOINTMENT_NO_SHOW"
	KindRescheduleRequested    = "RESCHEDULE_REQUESTED"
	KindRescheduleApproved     = "RESCHEDULE_APPROVED"
	KindRescheduleRejected     = "RESCHEDULE_REJECTED"
	KindRescheduleAutoRejected = "RESCHEDULE_AUTO_REJECTED"
)

// Event describes one scheduling state change and who should hear about it.
type Event struct {
	AppointmentID uuid.UUID   `json:"appointment_id"`
	Kind          string      `json:"kind"`
	OldStatus     string      `json:"old_status,omitempty"`
	NewStatus     string      `json:"new_status,omitempty"`
	ActorID       uuid.UUID   `json:"actor_id"`
	ActorRole     string      `json:"actor_role"`
	Recipients    []uuid.UUID `json:"recipients"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

// Dispatcher delivers events to doctor and patient. Implementations must not
// block the caller for long and must never return delivery problems as hard
// failures of the operation that produced the event.
type Dispatcher interface {
	Notify(ctx context.Context, ev Event)
}

// RedisDispatcher publishes events as JSON to a Redis pub/sub channel; the
// chat/push/email fanout subscribes on the other side.
type RedisDispatcher struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

func NewRedisDispatcher(client *redis.Client, channel string, logger zerolog.Logger) *RedisDispatcher {
	return &RedisDispatcher{client: client, channel: channel, logger: logger}
}

func (d *RedisDispatcher) Notify(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		d.logger.Error().Err(err).Str("kind", ev.Kind).Msg("marshal notification")
		return
	}

	if err := d.client.Publish(ctx, d.channel, payload).Err(); err != nil {
		d.logger.Error().Err(err).
			Str("kind", ev.Kind).
			Stringer("appointment_id", ev.AppointmentID).
			Msg("publish notification")
	}
}

// LogDispatcher writes events to the log only. Used when Redis is not
// configured and by the worker binaries.
type LogDispatcher struct {
	logger zerolog.Logger
}

func NewLogDispatcher(logger zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Notify(_ context.Context, ev Event) {
	d.logger.Info().
		Str("kind", ev.Kind).
		Stringer("appointment_id", ev.AppointmentID).
		Str("old_status", ev.OldStatus).
		Str("new_status", ev.NewStatus).
		Int("recipients", len(ev.Recipients)).
		Msg("notification")
}
