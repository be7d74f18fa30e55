package notifier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"jan-server/services/visual-api/internal/domain/notification"
)

const writeTimeout = 10 * time.Second

// Event is the envelope written to the topic.
type Event struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	Target     notification.Target `json:"target"`
	Payload    map[string]any      `json:"payload"`
	OccurredAt time.Time           `json:"occurredAt"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher publishes notification events keyed by target, so events for one account stay
// ordered within a partition.
type KafkaDispatcher struct {
	writer messageWriter
	log    zerolog.Logger
	now    func() time.Time
}

func NewKafkaDispatcher(brokers []string, topic string, log zerolog.Logger) *KafkaDispatcher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafkaDispatcher(writer, log)
}

func newKafkaDispatcher(writer messageWriter, log zerolog.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		writer: writer,
		log:    log.With().Str("component", "kafka-dispatcher").Logger(),
		now:    time.Now,
	}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, target notification.Target, event notification.EventType, payload map[string]any) {
	evt := Event{
		ID:         uuid.NewString(),
		Type:       string(event),
		Target:     target,
		Payload:    payload,
		OccurredAt: d.now().UTC(),
	}
	value, err := json.Marshal(evt)
	if err != nil {
		d.log.Error().Err(err).Str("event", string(event)).Msg("failed to encode notification")
		return
	}

	// The request context may already be done once processing finishes.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	err = d.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(string(target.Type) + ":" + target.Value),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event)},
			{Key: "event-id", Value: []byte(evt.ID)},
		},
	})
	if err != nil {
		d.log.Error().Err(err).
			Str("event", string(event)).
			Str("event_id", evt.ID).
			Str("target", target.Value).
			Msg("failed to dispatch notification")
		return
	}
	d.log.Debug().Str("event", string(event)).Str("event_id", evt.ID).Msg("notification dispatched")
}

func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}
