package ingestion

import (
	"RaffleLedger/internal/core"
	"RaffleLedger/internal/event"
	"context"
)

// Dispatcher applies a command to its raffle. *core.Manager implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd event.Command) (core.Result, error)
}

// GRPCIngestService applies commands submitted over gRPC synchronously, so the
// caller sees the engine's result or rejection directly. NATS remains the
// path for high-volume producers.
type GRPCIngestService struct {
	dispatcher Dispatcher
}

func NewGRPCIngestService(dispatcher Dispatcher) *GRPCIngestService {
	return &GRPCIngestService{dispatcher: dispatcher}
}

// Submit parses a wire command and dispatches it.
func (s *GRPCIngestService) Submit(ctx context.Context, data []byte) (core.Result, error) {
	cmd, err := ParseCommand(data, "")
	if err != nil {
		return core.Result{}, err
	}
	return s.dispatcher.Dispatch(ctx, cmd)
}

// Apply dispatches an already decoded command.
func (s *GRPCIngestService) Apply(ctx context.Context, cmd event.Command) (core.Result, error) {
	return s.dispatcher.Dispatch(ctx, cmd)
}
