package ingestion

import (
	"RaffleLedger/internal/event"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrMalformedCommand marks input that can never be applied. Transports
// reject it without retry.
var ErrMalformedCommand = errors.New("malformed command")

// commandJSON is the wire format of a command, shared by NATS and gRPC.
// Amounts are integer base units.
type commandJSON struct {
	Type           string `json:"type"`
	IdempotencyKey string `json:"idempotency_key"`
	RaffleID       string `json:"raffle_id"`
	Caller         string `json:"caller"`

	Count   uint64 `json:"count,omitempty"`
	Payment int64  `json:"payment,omitempty"`
	Target  string `json:"target,omitempty"`

	RequestID   uint64 `json:"request_id,omitempty"`
	Provider    string `json:"provider,omitempty"`
	RandomValue string `json:"random_value,omitempty"` // 32 bytes, hex
}

// ParseCommand decodes a wire command. typeHint is used when the payload
// omits its type, as NATS messages may carry it in the subject instead.
func ParseCommand(data []byte, typeHint string) (event.Command, error) {
	var j commandJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return event.Command{}, errors.Wrapf(ErrMalformedCommand, "decode: %v", err)
	}

	name := j.Type
	if name == "" {
		name = typeHint
	}
	ct, ok := event.ParseCommandType(name)
	if !ok {
		return event.Command{}, errors.Wrapf(ErrMalformedCommand, "unknown command type %q", name)
	}

	cmd := event.Command{
		Type:           ct,
		IdempotencyKey: j.IdempotencyKey,
		Count:          j.Count,
		Payment:        j.Payment,
		RequestID:      j.RequestID,
	}

	var err error
	if cmd.RaffleID, err = requiredUUID("raffle_id", j.RaffleID); err != nil {
		return event.Command{}, err
	}
	if cmd.Caller, err = requiredUUID("caller", j.Caller); err != nil {
		return event.Command{}, err
	}
	if cmd.Target, err = optionalUUID("target", j.Target); err != nil {
		return event.Command{}, err
	}
	if cmd.Provider, err = optionalUUID("provider", j.Provider); err != nil {
		return event.Command{}, err
	}

	if j.Payment < 0 {
		return event.Command{}, errors.Wrap(ErrMalformedCommand, "payment must not be negative")
	}

	if ct == event.CommandTypeOracleResponse {
		if cmd.RandomValue, err = parseRandom(j.RandomValue); err != nil {
			return event.Command{}, err
		}
	}
	return cmd, nil
}

// EncodeCommand is the inverse of ParseCommand.
func EncodeCommand(cmd event.Command) ([]byte, error) {
	j := commandJSON{
		Type:           cmd.Type.String(),
		IdempotencyKey: cmd.IdempotencyKey,
		RaffleID:       cmd.RaffleID.String(),
		Caller:         cmd.Caller.String(),
		Count:          cmd.Count,
		Payment:        cmd.Payment,
		RequestID:      cmd.RequestID,
	}
	if cmd.Target != uuid.Nil {
		j.Target = cmd.Target.String()
	}
	if cmd.Provider != uuid.Nil {
		j.Provider = cmd.Provider.String()
	}
	if cmd.Type == event.CommandTypeOracleResponse {
		j.RandomValue = hex.EncodeToString(cmd.RandomValue[:])
	}
	return json.Marshal(j)
}

func requiredUUID(field, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, errors.Wrapf(ErrMalformedCommand, "%s is required", field)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.Wrapf(ErrMalformedCommand, "parse %s: %v", field, err)
	}
	return id, nil
}

func optionalUUID(field, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return requiredUUID(field, s)
}

func parseRandom(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, errors.Wrapf(ErrMalformedCommand, "parse random_value: %v", err)
	}
	if len(raw) != len(out) {
		return out, errors.Wrapf(ErrMalformedCommand, "random_value must be %d bytes, got %d", len(out), len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// CommandSubject is the NATS subject a command is published on:
// raffle.commands.{type}.{raffle_id}
func CommandSubject(cmd event.Command) string {
	return "raffle.commands." + cmd.Type.String() + "." + cmd.RaffleID.String()
}

// typeFromSubject extracts the command type token of a command subject.
func typeFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) >= 3 && parts[0] == "raffle" && parts[1] == "commands" {
		return parts[2]
	}
	return ""
}
