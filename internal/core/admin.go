package core

import (
	"RaffleLedger/internal/event"
	"RaffleLedger/internal/ledger"
	"RaffleLedger/internal/state"
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Pause blocks purchases and new draws. Cancellation, refunds, withdrawals
// and the emergency hatch stay available.
func (r *Raffle) Pause(ctx context.Context, caller uuid.UUID) error {
	return r.setPaused(ctx, caller, true)
}

func (r *Raffle) Unpause(ctx context.Context, caller uuid.UUID) error {
	return r.setPaused(ctx, caller, false)
}

func (r *Raffle) setPaused(ctx context.Context, caller uuid.UUID, paused bool) error {
	if err := r.lock(ctx); err != nil {
		return err
	}
	defer r.mu.Unlock()

	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if r.paused == paused {
		return errors.Wrapf(state.ErrInvalidState, "paused is already %t", paused)
	}

	r.paused = paused
	r.commit(ctx, r.now(), &event.PauseChanged{Caller: caller, Paused: paused}, nil)
	return nil
}

// SetOracle changes the identity whose responses are accepted.
func (r *Raffle) SetOracle(ctx context.Context, caller, oracle uuid.UUID) error {
	return r.updateOracleConfig(ctx, caller, func() error {
		if oracle == uuid.Nil {
			return errors.Wrap(state.ErrInvalidAddress, "oracle is required")
		}
		r.oracleID = oracle
		return nil
	})
}

// SetProvider changes the randomness provider used for the next request.
func (r *Raffle) SetProvider(ctx context.Context, caller, provider uuid.UUID) error {
	return r.updateOracleConfig(ctx, caller, func() error {
		if provider == uuid.Nil {
			return errors.Wrap(state.ErrInvalidAddress, "provider is required")
		}
		r.provider = provider
		return nil
	})
}

// updateOracleConfig refuses changes while a request is in flight so the
// outstanding response can still be matched.
func (r *Raffle) updateOracleConfig(ctx context.Context, caller uuid.UUID, set func() error) error {
	if err := r.lock(ctx); err != nil {
		return err
	}
	defer r.mu.Unlock()

	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if r.lifecycle == state.RaffleStateDrawing {
		return errors.Wrapf(state.ErrDrawingInFlight, "request %d", r.draw.Pending().RequestID)
	}
	if err := set(); err != nil {
		return err
	}

	r.commit(ctx, r.now(), &event.OracleConfigUpdated{Oracle: r.oracleID, Provider: r.provider}, nil)
	return nil
}

// SweepCustodySurplus sends custody tokens held above every recorded
// liability to the given address.
func (r *Raffle) SweepCustodySurplus(ctx context.Context, caller, to uuid.UUID) (int64, error) {
	return r.sweep(ctx, caller, to, ledger.AssetCustody)
}

// SweepNativeSurplus does the same for native balance. Credited refunds are
// liabilities and never count as surplus.
func (r *Raffle) SweepNativeSurplus(ctx context.Context, caller, to uuid.UUID) (int64, error) {
	return r.sweep(ctx, caller, to, ledger.AssetNative)
}

func (r *Raffle) sweep(ctx context.Context, caller, to uuid.UUID, assetID ledger.AssetID) (int64, error) {
	if err := r.lock(ctx); err != nil {
		return 0, err
	}
	defer r.mu.Unlock()

	if err := r.requireAdmin(caller); err != nil {
		return 0, err
	}
	if to == uuid.Nil {
		return 0, errors.Wrap(state.ErrInvalidAddress, "destination is required")
	}

	extCtx := r.ext(ctx)
	var held int64
	var err error
	if assetID == ledger.AssetCustody {
		held, err = r.deps.Token.BalanceOf(extCtx, r.id)
	} else {
		held, err = r.deps.Bank.BalanceOf(extCtx, r.id)
	}
	assetName, _ := ledger.GetAssetName(assetID)
	if err != nil {
		return 0, errors.Wrapf(state.ErrPaymentFailed, "%s balance query: %v", assetName, err)
	}

	surplus := r.validator.Surplus(assetID, held)
	if surplus <= 0 {
		return 0, errors.Wrapf(state.ErrNoSurplus, "%s held %d", assetName, held)
	}

	if assetID == ledger.AssetCustody {
		err = r.deps.Token.Transfer(extCtx, r.id, to, surplus)
	} else {
		err = r.deps.Bank.Transfer(extCtx, r.id, to, surplus)
	}
	if err != nil {
		return 0, errors.Wrapf(state.ErrPaymentFailed, "sweep %d %s to %s: %v", surplus, assetName, to, err)
	}

	r.commit(ctx, r.now(), &event.SurplusSwept{Asset: assetName, To: to, Amount: surplus}, nil)
	r.logger.Info().Str("asset", assetName).Int64("amount", surplus).Str("to", to.String()).Msg("surplus swept")
	return surplus, nil
}

// TransferAdmin hands the administrative role to next.
func (r *Raffle) TransferAdmin(ctx context.Context, caller, next uuid.UUID) error {
	if err := r.lock(ctx); err != nil {
		return err
	}
	defer r.mu.Unlock()

	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if next == uuid.Nil {
		return errors.Wrap(state.ErrInvalidAddress, "new admin is required")
	}

	prev := r.admin
	r.admin = next
	r.commit(ctx, r.now(), &event.AdminTransferred{Previous: prev, Current: next}, nil)
	return nil
}
