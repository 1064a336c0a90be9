package core

import (
	"RaffleLedger/internal/event"
	"RaffleLedger/internal/external"
	"RaffleLedger/internal/state"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultClassification tags raffles registered with the directory.
const DefaultClassification = "single-prize-raffle"

// CreateParams describe a new raffle. Operator is the identity deploying it:
// the organizer must have approved Operator to pull the prize.
type CreateParams struct {
	RaffleID       uuid.UUID // generated when zero
	Config         state.RaffleConfig
	Operator       uuid.UUID
	Admin          uuid.UUID // defaults to the organizer
	Provider       uuid.UUID
	Classification string
}

// Result is what Dispatch reports back to the transport.
type Result struct {
	RaffleID  uuid.UUID
	Command   string
	Duplicate bool

	TotalSold uint64 // purchase
	Amount    int64  // refunds, withdrawals, sweeps, cancellations
	Finalize  *FinalizeResult
	Outcome   string // oracle_response
}

// Manager hosts independent raffle instances keyed by id. Instances share
// the collaborators and output channels in Deps; each serializes its own
// operations.
type Manager struct {
	mu       sync.RWMutex
	raffles  map[uuid.UUID]*Raffle
	creating map[uuid.UUID]struct{}

	deps        Deps
	directory   external.Directory
	idempotency *IdempotencyChecker
	logger      zerolog.Logger
}

func NewManager(deps Deps, directory external.Directory, idempotency *IdempotencyChecker) *Manager {
	return &Manager{
		raffles:     make(map[uuid.UUID]*Raffle),
		creating:    make(map[uuid.UUID]struct{}),
		deps:        deps,
		directory:   directory,
		idempotency: idempotency,
		logger:      deps.Logger.With().Str("component", "manager").Logger(),
	}
}

// CreateRaffle instantiates a raffle, pulls the prize from the organizer,
// opens it, registers it with the directory and hands administration to the
// requested admin. A directory failure is recorded but does not fail creation.
// The raffle is hosted only once it is open; if opening fails the prize is
// returned to the organizer.
func (m *Manager) CreateRaffle(ctx context.Context, params CreateParams) (*Raffle, error) {
	id := params.RaffleID
	if id == uuid.Nil {
		id = uuid.New()
	}
	if params.Operator == uuid.Nil {
		return nil, errors.Wrap(state.ErrInvalidConfig, "operator is required")
	}
	admin := params.Admin
	if admin == uuid.Nil {
		admin = params.Config.Organizer
	}
	classification := params.Classification
	if classification == "" {
		classification = DefaultClassification
	}

	if err := m.reserve(id); err != nil {
		return nil, err
	}
	defer m.unreserve(id)

	r, err := NewRaffle(ctx, id, params.Config, params.Operator, params.Provider, m.deps)
	if err != nil {
		return nil, err
	}

	err = m.deps.Token.TransferFrom(r.ext(ctx), params.Operator, params.Config.Organizer, id, params.Config.PrizeAmount)
	if err != nil {
		return nil, errors.Wrapf(state.ErrCustodyFailure, "pull prize %d from %s: %v",
			params.Config.PrizeAmount, params.Config.Organizer, err)
	}

	held, err := m.deps.Token.BalanceOf(r.ext(ctx), id)
	if err != nil {
		err = errors.Wrapf(state.ErrCustodyFailure, "balance query: %v", err)
	} else if held < params.Config.PrizeAmount {
		err = errors.Wrapf(state.ErrInsufficientPrize, "held %d, prize %d", held, params.Config.PrizeAmount)
	}
	if err == nil {
		if err = r.announce(ctx); err == nil {
			err = r.ActivateFunding(ctx, params.Operator)
		}
	}
	if err != nil {
		m.returnPrize(ctx, r, params.Config)
		return nil, errors.Wrap(err, "open raffle")
	}

	m.mu.Lock()
	m.raffles[id] = r
	m.mu.Unlock()
	m.updateLoaded()

	if m.directory != nil {
		if err := m.directory.Register(r.ext(ctx), id, classification, params.Operator); err != nil {
			m.logger.Error().Err(err).Str("raffle_id", id.String()).Msg("directory registration failed")
			if m.deps.Metrics != nil {
				m.deps.Metrics.RegistrationFailures.Inc()
			}
			if rerr := r.recordRegistrationFailure(ctx, classification, params.Operator, err); rerr != nil {
				return nil, rerr
			}
		}
	}

	if admin != params.Operator {
		if err := r.TransferAdmin(ctx, params.Operator, admin); err != nil {
			return nil, err
		}
	}

	m.logger.Info().
		Str("raffle_id", id.String()).
		Str("organizer", params.Config.Organizer.String()).
		Int64("prize", params.Config.PrizeAmount).
		Time("deadline", params.Config.Deadline).
		Msg("raffle created")
	return r, nil
}

// reserve claims id for a creation in progress.
func (m *Manager) reserve(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.raffles[id]; exists {
		return errors.Wrapf(state.ErrRaffleExists, "raffle %s", id)
	}
	if _, busy := m.creating[id]; busy {
		return errors.Wrapf(state.ErrRaffleExists, "raffle %s is being created", id)
	}
	m.creating[id] = struct{}{}
	return nil
}

func (m *Manager) unreserve(id uuid.UUID) {
	m.mu.Lock()
	delete(m.creating, id)
	m.mu.Unlock()
}

// returnPrize sends a pulled prize back to the organizer after a failed
// creation.
func (m *Manager) returnPrize(ctx context.Context, r *Raffle, cfg state.RaffleConfig) {
	if err := m.deps.Token.Transfer(r.ext(ctx), r.id, cfg.Organizer, cfg.PrizeAmount); err != nil {
		m.logger.Error().Err(err).
			Str("raffle_id", r.id.String()).
			Int64("prize", cfg.PrizeAmount).
			Msg("prize return failed")
		return
	}
	m.logger.Warn().Str("raffle_id", r.id.String()).Msg("raffle creation failed, prize returned")
}

// Restore loads raffles from persisted snapshots. Existing ids are skipped.
func (m *Manager) Restore(snapshots []*Snapshot) (int, error) {
	restored := 0
	for _, snap := range snapshots {
		r, err := RestoreRaffle(snap, m.deps)
		if err != nil {
			return restored, err
		}

		m.mu.Lock()
		if _, exists := m.raffles[r.id]; !exists {
			m.raffles[r.id] = r
			restored++
		}
		m.mu.Unlock()

		if m.deps.Metrics != nil {
			m.deps.Metrics.SnapshotsRestored.Inc()
		}
	}
	m.updateLoaded()
	return restored, nil
}

func (m *Manager) Get(id uuid.UUID) (*Raffle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.raffles[id]
	if !ok {
		return nil, errors.Wrapf(state.ErrUnknownRaffle, "raffle %s", id)
	}
	return r, nil
}

// List returns hosted raffle ids in a stable order.
func (m *Manager) List() []uuid.UUID {
	m.mu.RLock()
	ids := make([]uuid.UUID, 0, len(m.raffles))
	for id := range m.raffles {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}

func (m *Manager) updateLoaded() {
	if m.deps.Metrics == nil {
		return
	}
	m.mu.RLock()
	n := len(m.raffles)
	m.mu.RUnlock()
	m.deps.Metrics.RafflesLoaded.Set(float64(n))
}

// Dispatch routes a command to its raffle. Commands whose idempotency key was
// already processed are acknowledged without effect. Concurrent deliveries of
// one key are serialized, so at most one of them applies.
func (m *Manager) Dispatch(ctx context.Context, cmd event.Command) (Result, error) {
	name := cmd.Type.String()
	result := Result{RaffleID: cmd.RaffleID, Command: name}

	release := func(bool) {}
	if m.idempotency != nil {
		var duplicate bool
		release, duplicate = m.idempotency.Acquire(name, cmd.IdempotencyKey)
		if duplicate {
			result.Duplicate = true
			return result, nil
		}
	}

	start := time.Now()
	err := m.dispatch(WithCommand(ctx, name, cmd.IdempotencyKey), cmd, &result)
	release(err == nil)

	if metrics := m.deps.Metrics; metrics != nil {
		metrics.CommandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CommandsRejected.WithLabelValues(name, state.KindOf(err).String()).Inc()
		} else {
			metrics.CommandsApplied.WithLabelValues(name).Inc()
		}
	}
	if err != nil {
		m.logger.Debug().Err(err).Str("command", name).Str("raffle_id", cmd.RaffleID.String()).Msg("command rejected")
		return result, err
	}
	return result, nil
}

func (m *Manager) dispatch(ctx context.Context, cmd event.Command, result *Result) error {
	r, err := m.Get(cmd.RaffleID)
	if err != nil {
		return err
	}

	switch cmd.Type {
	case event.CommandTypePurchase:
		result.TotalSold, err = r.Purchase(ctx, cmd.Caller, cmd.Count)
	case event.CommandTypeFinalize:
		var fr FinalizeResult
		fr, err = r.Finalize(ctx, cmd.Caller, cmd.Payment)
		if err == nil {
			result.Finalize = &fr
		}
	case event.CommandTypeCancelExpired:
		result.Amount, err = r.CancelExpired(ctx, cmd.Caller)
	case event.CommandTypeEmergencyCancel:
		result.Amount, err = r.EmergencyCancel(ctx, cmd.Caller)
	case event.CommandTypeClaimRefund:
		result.Amount, err = r.ClaimRefund(ctx, cmd.Caller)
	case event.CommandTypeWithdraw:
		result.Amount, err = r.Withdraw(ctx, cmd.Caller)
	case event.CommandTypeWithdrawNative:
		result.Amount, err = r.WithdrawNative(ctx, cmd.Caller, cmd.Target)
	case event.CommandTypeOracleResponse:
		outcome := r.OnResponse(ctx, cmd.Caller, cmd.RequestID, cmd.Provider, cmd.RandomValue)
		result.Outcome = outcome.String()
	case event.CommandTypePause:
		err = r.Pause(ctx, cmd.Caller)
	case event.CommandTypeUnpause:
		err = r.Unpause(ctx, cmd.Caller)
	case event.CommandTypeSetOracle:
		err = r.SetOracle(ctx, cmd.Caller, cmd.Target)
	case event.CommandTypeSetProvider:
		err = r.SetProvider(ctx, cmd.Caller, cmd.Target)
	case event.CommandTypeSweepCustody:
		result.Amount, err = r.SweepCustodySurplus(ctx, cmd.Caller, cmd.Target)
	case event.CommandTypeSweepNative:
		result.Amount, err = r.SweepNativeSurplus(ctx, cmd.Caller, cmd.Target)
	case event.CommandTypeTransferAdmin:
		err = r.TransferAdmin(ctx, cmd.Caller, cmd.Target)
	default:
		return errors.Errorf("unknown command type %d", cmd.Type)
	}
	return err
}
