package core

import (
	"RaffleLedger/internal/event"
	"RaffleLedger/internal/external"
	"RaffleLedger/internal/ledger"
	"RaffleLedger/internal/observability"
	"RaffleLedger/internal/state"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Deps are the collaborators and output channels shared by every raffle a
// process hosts.
type Deps struct {
	Token  external.CustodyToken
	Bank   external.NativeBank
	Oracle external.RandomnessOracle

	// Clock defaults to time.Now.
	Clock func() time.Time

	// PersistChan receives every output with a blocking send. ProjectionChan
	// is best-effort: outputs are dropped when it is full. Either may be nil.
	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

type CoreOutput struct {
	RaffleID uuid.UUID
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
	Snapshot *Snapshot
}

// Raffle is the engine of one raffle instance. Every exported operation
// holds the instance lock from validation through its external calls, so
// operations on one raffle never interleave. Ledgers are updated before any
// outbound payment; a failed payment is compensated before the lock is
// released.
type Raffle struct {
	mu sync.Mutex

	id  uuid.UUID
	cfg state.RaffleConfig

	admin    uuid.UUID
	oracleID uuid.UUID
	provider uuid.UUID
	paused   bool

	lifecycle     state.RaffleState
	entries       *state.EntryBook
	draw          *state.DrawCoordinator
	soldSnapshot  uint64
	winner        *uuid.UUID
	winningIndex  uint64
	prizeRefunded bool

	sequence       int64
	hasher         *StateHasher
	balanceTracker *ledger.BalanceTracker
	journalGen     *ledger.JournalGenerator
	validator      *ledger.InvariantValidator

	deps   Deps
	logger zerolog.Logger
}

// NewRaffle validates the configuration and the custody token's unit scale.
// The raffle starts in FundingPending with admin as depositor.
func NewRaffle(ctx context.Context, id uuid.UUID, cfg state.RaffleConfig, admin, provider uuid.UUID, deps Deps) (*Raffle, error) {
	if id == uuid.Nil {
		return nil, errors.Wrap(state.ErrInvalidConfig, "raffle id is required")
	}
	if admin == uuid.Nil {
		return nil, errors.Wrap(state.ErrInvalidConfig, "admin is required")
	}
	if deps.Token == nil || deps.Bank == nil || deps.Oracle == nil {
		return nil, errors.Wrap(state.ErrInvalidConfig, "token, bank and oracle are required")
	}

	r := newRaffle(id, cfg, deps)
	if err := cfg.Validate(r.now()); err != nil {
		return nil, err
	}

	decimals, err := deps.Token.Decimals(withinRaffle(ctx, id))
	if err != nil {
		return nil, errors.Wrapf(state.ErrCustodyFailure, "decimals query: %v", err)
	}
	if decimals != state.CustodyDecimals {
		return nil, errors.Wrapf(state.ErrDecimalsMismatch, "token reports %d decimals, want %d", decimals, state.CustodyDecimals)
	}

	r.admin = admin
	r.oracleID = deps.Oracle.Identity()
	r.provider = provider
	return r, nil
}

func newRaffle(id uuid.UUID, cfg state.RaffleConfig, deps Deps) *Raffle {
	tracker := ledger.NewBalanceTracker()
	return &Raffle{
		id:             id,
		cfg:            cfg,
		lifecycle:      state.RaffleStateFundingPending,
		entries:        state.NewEntryBook(),
		draw:           state.NewDrawCoordinator(),
		hasher:         NewStateHasher(id),
		balanceTracker: tracker,
		journalGen:     ledger.NewJournalGenerator(0, tracker),
		validator:      ledger.NewInvariantValidator(tracker),
		deps:           deps,
		logger:         deps.Logger.With().Str("raffle_id", id.String()).Logger(),
	}
}

func (r *Raffle) ID() uuid.UUID {
	return r.id
}

// announce emits RaffleCreated once the prize deposit has been pulled.
func (r *Raffle) announce(ctx context.Context) error {
	if err := r.lock(ctx); err != nil {
		return err
	}
	defer r.mu.Unlock()

	r.commit(ctx, r.now(), &event.RaffleCreated{
		EntryPrice:   r.cfg.EntryPrice,
		PrizeAmount:  r.cfg.PrizeAmount,
		MinEntries:   r.cfg.MinEntries,
		MaxEntries:   r.cfg.MaxEntries,
		Deadline:     r.cfg.Deadline,
		FeePercent:   r.cfg.FeePercent,
		Organizer:    r.cfg.Organizer,
		FeeRecipient: r.cfg.FeeRecipient,
		Admin:        r.admin,
		Oracle:       r.oracleID,
		Provider:     r.provider,
	}, nil)
	return nil
}

// recordRegistrationFailure appends a RegistrationFailed event. The raffle
// stays fully usable.
func (r *Raffle) recordRegistrationFailure(ctx context.Context, classification string, creator uuid.UUID, cause error) error {
	if err := r.lock(ctx); err != nil {
		return err
	}
	defer r.mu.Unlock()

	r.commit(ctx, r.now(), &event.RegistrationFailed{
		Classification: classification,
		Creator:        creator,
		Error:          cause.Error(),
	}, nil)
	return nil
}

// lock rejects calls made from inside this raffle's own external calls and
// otherwise acquires the instance lock. Callers must defer r.mu.Unlock().
func (r *Raffle) lock(ctx context.Context) error {
	if isWithinRaffle(ctx, r.id) {
		return errors.Wrapf(state.ErrReentrantCall, "raffle %s", r.id)
	}
	r.mu.Lock()
	r.journalGen.SetSequence(r.sequence)
	return nil
}

func (r *Raffle) now() time.Time {
	if r.deps.Clock != nil {
		return r.deps.Clock().UTC()
	}
	return time.Now().UTC()
}

// ext returns the context handed to collaborators.
func (r *Raffle) ext(ctx context.Context) context.Context {
	return withinRaffle(ctx, r.id)
}

func (r *Raffle) eventRef() string {
	return fmt.Sprintf("%s:%d", r.id, r.sequence)
}

func (r *Raffle) requireAdmin(caller uuid.UUID) error {
	if caller != r.admin {
		return errors.Wrapf(state.ErrNotAdmin, "caller %s", caller)
	}
	return nil
}

func (r *Raffle) transition(next state.RaffleState) {
	if !r.lifecycle.CanTransitionTo(next) {
		panic(fmt.Sprintf("FATAL: raffle %s: illegal transition %s -> %s", r.id, r.lifecycle, next))
	}
	r.lifecycle = next
}

// apply validates and applies a generated batch. Generated batches are
// always well-formed, so a failure here is a defect.
func (r *Raffle) apply(batch *ledger.Batch) {
	if batch.IsEmpty() {
		return
	}
	if err := r.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: raffle %s: malformed batch: %v", r.id, err))
	}
	if err := r.balanceTracker.ApplyBatch(batch); err != nil {
		panic(fmt.Sprintf("FATAL: raffle %s: apply batch failed: %v", r.id, err))
	}
}

// commit is the tail of every accepted operation:
// invariants → state digest → hash chain → envelope → emit.
func (r *Raffle) commit(ctx context.Context, now time.Time, payload event.Payload, batch *ledger.Batch) {
	if err := r.postCheckInvariants(ctx); err != nil {
		r.logger.Error().Err(err).Str("event_type", payload.EventType().String()).Msg("invariant violated")
		panic(fmt.Sprintf("FATAL: raffle %s: invariant violated: %v", r.id, err))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("FATAL: raffle %s: encode %s: %v", r.id, payload.EventType(), err))
	}

	if batch == nil {
		batch = r.journalGen.NewBatch(r.eventRef(), now.UnixMicro())
	}

	prevHash := r.hasher.GetPrevHash()
	stateHash := r.hasher.ComputeHash(r.sequence, r.computeStateDigest(batch))

	cmd := commandFrom(ctx)
	envelope := &event.EventEnvelope{
		Sequence:       r.sequence,
		RaffleID:       r.id,
		Command:        cmd.name,
		IdempotencyKey: cmd.key,
		EventType:      payload.EventType(),
		Timestamp:      now,
		Payload:        body,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	r.sequence++
	output := CoreOutput{
		RaffleID: r.id,
		Envelope: envelope,
		Batch:    batch,
		Snapshot: r.snapshotLocked(),
	}

	r.emit(output)

	if m := r.deps.Metrics; m != nil {
		m.EventsEmitted.WithLabelValues(envelope.EventType.String()).Inc()
		for _, j := range batch.Journals {
			m.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	r.logger.Debug().
		Int64("sequence", envelope.Sequence).
		Str("event_type", envelope.EventType.String()).
		Int("journals", len(batch.Journals)).
		Msg("event committed")
}

// emit: persistence is a blocking send so no event is lost; projections are
// non-blocking and rebuild from the event log when they fall behind.
func (r *Raffle) emit(output CoreOutput) {
	if r.deps.PersistChan != nil {
		select {
		case r.deps.PersistChan <- output:
		default:
			if r.deps.Metrics != nil {
				r.deps.Metrics.PersistBackpressure.Inc()
			}
			r.deps.PersistChan <- output
		}
	}

	if r.deps.ProjectionChan != nil {
		select {
		case r.deps.ProjectionChan <- output:
		default:
			if r.deps.Metrics != nil {
				r.deps.Metrics.ProjectionDrops.WithLabelValues("raffle").Inc()
			}
		}
	}
}

// computeStateDigest creates canonical bytes for the state hash: balances of
// every account the batch touched, then the lifecycle fields.
func (r *Raffle) computeStateDigest(batch *ledger.Batch) []byte {
	affected := make(map[ledger.AccountKey]bool)
	for _, j := range batch.Journals {
		affected[j.DebitAccount] = true
		affected[j.CreditAccount] = true
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+32)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, r.balanceTracker.GetBalance(key))
	}

	digest = append(digest, byte(r.lifecycle))
	if r.paused {
		digest = append(digest, 1)
	} else {
		digest = append(digest, 0)
	}
	digest = appendInt64LE(digest, int64(r.entries.TotalSold()))
	if req := r.draw.Pending(); req != nil {
		digest = appendInt64LE(digest, int64(req.RequestID))
	}
	if r.winner != nil {
		digest = append(digest, r.winner[:]...)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates ledger and lifecycle invariants after an
// operation, including solvency against the collaborators' real balances.
func (r *Raffle) postCheckInvariants(ctx context.Context) error {
	if err := r.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	if err := r.validator.ValidateLiabilitiesNonNegative(); err != nil {
		return err
	}

	drawing := r.lifecycle == state.RaffleStateDrawing
	active := r.draw.ActiveDrawings()
	if active < 0 || active > 1 {
		return errors.Errorf("active drawings = %d", active)
	}
	if drawing != (active == 1) || drawing != (r.draw.Pending() != nil) {
		return errors.Errorf("state %s with %d active drawings", r.lifecycle, active)
	}

	extCtx := r.ext(ctx)
	if held, err := r.deps.Token.BalanceOf(extCtx, r.id); err != nil {
		r.logger.Warn().Err(err).Msg("custody solvency check skipped")
	} else if err := r.validator.ValidateSolvency(ledger.AssetCustody, held); err != nil {
		return err
	}
	if held, err := r.deps.Bank.BalanceOf(extCtx, r.id); err != nil {
		r.logger.Warn().Err(err).Msg("native solvency check skipped")
	} else if err := r.validator.ValidateSolvency(ledger.AssetNative, held); err != nil {
		return err
	}

	return nil
}
