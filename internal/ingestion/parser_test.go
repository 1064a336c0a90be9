package ingestion_test

import (
	"RaffleLedger/internal/core"
	"RaffleLedger/internal/event"
	"RaffleLedger/internal/ingestion"
	"RaffleLedger/internal/state"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	raffleID = "550e8400-e29b-41d4-a716-446655440000"
	callerID = "660e8400-e29b-41d4-a716-446655440001"
	targetID = "770e8400-e29b-41d4-a716-446655440002"
)

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// ============================================================================
// Test: ParseCommand
// ============================================================================

func TestParseCommand_Purchase(t *testing.T) {
	data := mustJSON(t, map[string]interface{}{
		"type":            "purchase",
		"idempotency_key": "order-1",
		"raffle_id":       raffleID,
		"caller":          callerID,
		"count":           3,
	})

	cmd, err := ingestion.ParseCommand(data, "")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Type != event.CommandTypePurchase {
		t.Errorf("type: got %s, want purchase", cmd.Type)
	}
	if cmd.Count != 3 {
		t.Errorf("count: got %d, want 3", cmd.Count)
	}
	if cmd.IdempotencyKey != "order-1" {
		t.Errorf("key: got %q, want order-1", cmd.IdempotencyKey)
	}
	if cmd.RaffleID.String() != raffleID || cmd.Caller.String() != callerID {
		t.Errorf("ids: got %s/%s", cmd.RaffleID, cmd.Caller)
	}
	if cmd.Target != uuid.Nil {
		t.Errorf("target: got %s, want nil", cmd.Target)
	}
}

func TestParseCommand_TypeFromHint(t *testing.T) {
	data := mustJSON(t, map[string]interface{}{
		"raffle_id": raffleID,
		"caller":    callerID,
		"target":    targetID,
	})

	cmd, err := ingestion.ParseCommand(data, "withdraw_native")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Type != event.CommandTypeWithdrawNative {
		t.Errorf("type: got %s, want withdraw_native", cmd.Type)
	}
	if cmd.Target.String() != targetID {
		t.Errorf("target: got %s, want %s", cmd.Target, targetID)
	}
}

func TestParseCommand_OracleResponse(t *testing.T) {
	random := strings.Repeat("ab", 32)
	data := mustJSON(t, map[string]interface{}{
		"type":         "oracle_response",
		"raffle_id":    raffleID,
		"caller":       callerID,
		"request_id":   7,
		"provider":     targetID,
		"random_value": "0x" + random,
	})

	cmd, err := ingestion.ParseCommand(data, "")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.RequestID != 7 {
		t.Errorf("request_id: got %d, want 7", cmd.RequestID)
	}
	if cmd.RandomValue[0] != 0xab || cmd.RandomValue[31] != 0xab {
		t.Errorf("random_value not decoded: %x", cmd.RandomValue)
	}
}

func TestParseCommand_Rejections(t *testing.T) {
	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{"unknown type", map[string]interface{}{"type": "liquidate", "raffle_id": raffleID, "caller": callerID}},
		{"missing raffle", map[string]interface{}{"type": "withdraw", "caller": callerID}},
		{"missing caller", map[string]interface{}{"type": "withdraw", "raffle_id": raffleID}},
		{"bad target", map[string]interface{}{"type": "sweep_native", "raffle_id": raffleID, "caller": callerID, "target": "nope"}},
		{"negative payment", map[string]interface{}{"type": "finalize", "raffle_id": raffleID, "caller": callerID, "payment": -1}},
		{"short random", map[string]interface{}{"type": "oracle_response", "raffle_id": raffleID, "caller": callerID, "random_value": "abcd"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ingestion.ParseCommand(mustJSON(t, tc.body), "")
			if errors.Cause(err) != ingestion.ErrMalformedCommand {
				t.Errorf("got %v, want ErrMalformedCommand", err)
			}
		})
	}
}

func TestParseCommand_InvalidJSON(t *testing.T) {
	_, err := ingestion.ParseCommand([]byte("{"), "purchase")
	if errors.Cause(err) != ingestion.ErrMalformedCommand {
		t.Errorf("got %v, want ErrMalformedCommand", err)
	}
}

func TestEncodeCommand_RoundTrip(t *testing.T) {
	in := event.Command{
		Type:           event.CommandTypeOracleResponse,
		IdempotencyKey: "resp-9",
		RaffleID:       uuid.New(),
		Caller:         uuid.New(),
		RequestID:      9,
		Provider:       uuid.New(),
		RandomValue:    [32]byte{1, 2, 3},
	}
	data, err := ingestion.EncodeCommand(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := ingestion.ParseCommand(data, "")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if out != in {
		t.Errorf("round trip: got %+v, want %+v", out, in)
	}
}

func TestCommandSubject(t *testing.T) {
	id := uuid.MustParse(raffleID)
	got := ingestion.CommandSubject(event.Command{Type: event.CommandTypeClaimRefund, RaffleID: id})
	want := "raffle.commands.claim_refund." + raffleID
	if got != want {
		t.Errorf("subject: got %s, want %s", got, want)
	}
}

// ============================================================================
// Test: CommandProcessor
// ============================================================================

type stubDispatcher struct {
	err  error
	seen []event.Command
}

func (s *stubDispatcher) Dispatch(ctx context.Context, cmd event.Command) (core.Result, error) {
	s.seen = append(s.seen, cmd)
	return core.Result{RaffleID: cmd.RaffleID, Command: cmd.Type.String()}, s.err
}

type settled struct{ ack, nak, term int }

func rawCommand(subject string, data []byte, s *settled) ingestion.RawCommand {
	return ingestion.RawCommand{
		Subject:  subject,
		Data:     data,
		AckFunc:  func() { s.ack++ },
		NakFunc:  func() { s.nak++ },
		TermFunc: func() { s.term++ },
	}
}

func TestCommandProcessor_Dispositions(t *testing.T) {
	body := mustJSON(t, map[string]interface{}{"raffle_id": raffleID, "caller": callerID})
	subject := "raffle.commands.withdraw." + raffleID

	cases := []struct {
		name string
		err  error
		data []byte
		want ingestion.Disposition
	}{
		{"applied", nil, body, ingestion.DispositionAck},
		{"state rejection", errors.Wrap(state.ErrNothingToClaim, "withdraw"), body, ingestion.DispositionAck},
		{"payment failure", errors.Wrap(state.ErrPaymentFailed, "transfer"), body, ingestion.DispositionNak},
		{"malformed", nil, []byte("not json"), ingestion.DispositionTerm},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dispatcher := &stubDispatcher{err: tc.err}
			p := ingestion.NewCommandProcessor(dispatcher, nil, nil, zerolog.Nop())
			var s settled

			got := p.Process(context.Background(), rawCommand(subject, tc.data, &s))
			if got != tc.want {
				t.Fatalf("disposition: got %s, want %s", got, tc.want)
			}
			if s.ack+s.nak+s.term != 1 {
				t.Errorf("expected exactly one settlement, got %+v", s)
			}
			if tc.want != ingestion.DispositionTerm && dispatcher.seen[0].Type != event.CommandTypeWithdraw {
				t.Errorf("type from subject: got %s", dispatcher.seen[0].Type)
			}
		})
	}
}

func TestGRPCIngestService_Submit(t *testing.T) {
	dispatcher := &stubDispatcher{}
	svc := ingestion.NewGRPCIngestService(dispatcher)

	res, err := svc.Submit(context.Background(), mustJSON(t, map[string]interface{}{
		"type": "pause", "raffle_id": raffleID, "caller": callerID,
	}))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Command != "pause" {
		t.Errorf("command: got %s, want pause", res.Command)
	}

	if _, err := svc.Submit(context.Background(), []byte(`{"type":"pause"}`)); err == nil {
		t.Error("expected error for missing ids")
	}
	if len(dispatcher.seen) != 1 {
		t.Errorf("dispatched %d commands, want 1", len(dispatcher.seen))
	}
}
