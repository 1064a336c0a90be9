package ingestion

import (
	"RaffleLedger/internal/observability"
	"RaffleLedger/internal/state"
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Disposition is what happens to a stream message after processing.
type Disposition int

const (
	DispositionAck Disposition = iota // applied, duplicate, or deterministically rejected
	DispositionNak                    // transient failure, redeliver
	DispositionTerm                   // can never be applied
)

func (d Disposition) String() string {
	switch d {
	case DispositionAck:
		return "ack"
	case DispositionNak:
		return "nak"
	case DispositionTerm:
		return "term"
	default:
		return "unknown"
	}
}

// Classify decides the disposition of a processing result. Rejections by the
// engine are final because replaying them yields the same rejection; failed
// external payments may succeed on redelivery.
func Classify(err error) Disposition {
	if err == nil {
		return DispositionAck
	}
	if errors.Cause(err) == ErrMalformedCommand {
		return DispositionTerm
	}
	switch state.KindOf(err) {
	case state.KindPayment, state.KindUnknown:
		return DispositionNak
	default:
		return DispositionAck
	}
}

// CommandProcessor drains raw commands, applies them and settles each
// message according to Classify.
type CommandProcessor struct {
	dispatcher Dispatcher
	input      <-chan RawCommand
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewCommandProcessor(dispatcher Dispatcher, input <-chan RawCommand, metrics *observability.Metrics, logger zerolog.Logger) *CommandProcessor {
	return &CommandProcessor{
		dispatcher: dispatcher,
		input:      input,
		metrics:    metrics,
		logger:     logger.With().Str("component", "command_processor").Logger(),
	}
}

// Run blocks until ctx is cancelled or the input channel is closed.
func (p *CommandProcessor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-p.input:
			if !ok {
				return nil
			}
			p.Process(ctx, raw)
		}
	}
}

// Process applies one raw command and settles it.
func (p *CommandProcessor) Process(ctx context.Context, raw RawCommand) Disposition {
	cmd, err := ParseCommand(raw.Data, typeFromSubject(raw.Subject))
	name := "unparsed"
	if err == nil {
		name = cmd.Type.String()
		_, err = p.dispatcher.Dispatch(ctx, cmd)
	}

	d := Classify(err)
	switch d {
	case DispositionAck:
		settle(raw.AckFunc)
	case DispositionNak:
		settle(raw.NakFunc)
	case DispositionTerm:
		settle(raw.TermFunc)
	}

	if err != nil {
		p.logger.Warn().Err(err).
			Str("subject", raw.Subject).
			Str("disposition", d.String()).
			Msg("command not applied")
	}
	if p.metrics != nil {
		p.metrics.IngestMessages.WithLabelValues(name, d.String()).Inc()
		if !raw.Timestamp.IsZero() {
			p.metrics.IngestLatency.WithLabelValues(name).Observe(time.Since(raw.Timestamp).Seconds())
		}
	}
	return d
}

func settle(fn func()) {
	if fn != nil {
		fn()
	}
}
