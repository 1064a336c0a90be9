package ingestion

import (
	"RaffleLedger/internal/event"
	"RaffleLedger/internal/observability"
	"RaffleLedger/internal/persistence"
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	EventStream   = "RAFFLE_EVENTS"
	EventSubjects = "raffle.events.>"
)

// PublishableEvent is the outbound form of a persisted event.
type PublishableEvent struct {
	RaffleID       uuid.UUID       `json:"raffle_id"`
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	Command        string          `json:"command,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// EventSubject is raffle.events.{event_type}.{raffle_id}
func (e PublishableEvent) EventSubject() string {
	return "raffle.events." + e.EventType + "." + e.RaffleID.String()
}

// OutboundPublisher publishes events to NATS once they are persisted.
// Publishing is best-effort: consumers that miss events read the event log.
type OutboundPublisher struct {
	js      jetstream.JetStream
	queue   chan PublishableEvent
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, bufferSize int, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:      js,
		queue:   make(chan PublishableEvent, bufferSize),
		metrics: metrics,
		logger:  logger.With().Str("component", "publisher").Logger(),
	}
}

// Flushed queues a committed batch. It never blocks the persistence worker.
func (op *OutboundPublisher) Flushed(events []persistence.EventRow) {
	for _, row := range events {
		select {
		case op.queue <- Publishable(row):
		default:
			if op.metrics != nil {
				op.metrics.PublishDrops.Inc()
			}
		}
	}
}

// Publishable converts a persisted row to its outbound form.
func Publishable(row persistence.EventRow) PublishableEvent {
	return PublishableEvent{
		RaffleID:       row.RaffleID,
		Sequence:       row.Sequence,
		EventType:      row.EventType,
		Command:        row.Command,
		IdempotencyKey: row.IdempotencyKey,
		Payload:        json.RawMessage(row.Payload),
		StateHash:      hex.EncodeToString(row.StateHash),
		Timestamp:      row.Timestamp,
	}
}

// Run publishes queued events until ctx is cancelled.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-op.queue:
			if err := op.publish(ctx, evt); err != nil {
				op.logger.Warn().Err(err).
					Str("raffle_id", evt.RaffleID.String()).
					Int64("sequence", evt.Sequence).
					Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	_, err = op.js.Publish(ctx, evt.EventSubject(), data)
	return err
}

// CommandPublisher submits commands to the command stream.
type CommandPublisher struct {
	js jetstream.JetStream
}

func NewCommandPublisher(js jetstream.JetStream) *CommandPublisher {
	return &CommandPublisher{js: js}
}

// Publish sends cmd on its command subject.
func (cp *CommandPublisher) Publish(ctx context.Context, cmd event.Command) error {
	data, err := EncodeCommand(cmd)
	if err != nil {
		return errors.Wrap(err, "encode command")
	}
	_, err = cp.js.Publish(ctx, CommandSubject(cmd), data)
	return errors.Wrapf(err, "publish %s", cmd.Type)
}
