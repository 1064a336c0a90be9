package main

import (
	"RaffleLedger/internal/core"
	fpmath "RaffleLedger/internal/math"
	"RaffleLedger/internal/state"
	"context"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// bootstrapFile is the TOML document listing raffles to create at startup.
// Amounts are whole custody units ("2.5" is 2_500_000 base units).
//
//	[[raffle]]
//	id            = "4b0c3b2e-..."
//	organizer     = "..."
//	fee_recipient = "..."
//	entry_price   = "2.5"
//	prize         = "100"
//	min_entries   = 10
//	max_entries   = 500
//	duration      = "72h"
//	fee_percent   = 5
type bootstrapFile struct {
	Raffles []bootstrapRaffle `toml:"raffle"`
}

type bootstrapRaffle struct {
	ID             string `toml:"id"`
	Organizer      string `toml:"organizer"`
	FeeRecipient   string `toml:"fee_recipient"`
	Admin          string `toml:"admin"`
	Provider       string `toml:"provider"`
	Classification string `toml:"classification"`

	EntryPrice string `toml:"entry_price"`
	Prize      string `toml:"prize"`

	MinEntries uint64 `toml:"min_entries"`
	MaxEntries uint64 `toml:"max_entries"`
	FeePercent int64  `toml:"fee_percent"`

	// Exactly one of Deadline or Duration. Duration counts from startup.
	Deadline time.Time `toml:"deadline"`
	Duration string    `toml:"duration"`

	MinPurchaseEntries uint64 `toml:"min_purchase_entries"`
	MinNewRangeCost    string `toml:"min_new_range_cost"`
}

func loadBootstrap(path string) (*bootstrapFile, error) {
	var f bootstrapFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("%s: unknown key %s", path, undecoded[0])
	}
	return &f, nil
}

// params converts one entry into creation parameters.
func (b bootstrapRaffle) params(operator uuid.UUID, now time.Time) (core.CreateParams, error) {
	var p core.CreateParams
	var err error

	if p.RaffleID, err = optionalUUID("id", b.ID); err != nil {
		return p, err
	}
	if p.Admin, err = optionalUUID("admin", b.Admin); err != nil {
		return p, err
	}
	if p.Provider, err = optionalUUID("provider", b.Provider); err != nil {
		return p, err
	}
	if p.Config.Organizer, err = uuid.Parse(b.Organizer); err != nil {
		return p, errors.Wrap(err, "organizer")
	}
	if p.Config.FeeRecipient, err = uuid.Parse(b.FeeRecipient); err != nil {
		return p, errors.Wrap(err, "fee_recipient")
	}

	if p.Config.EntryPrice, err = custodyAmount("entry_price", b.EntryPrice); err != nil {
		return p, err
	}
	if p.Config.PrizeAmount, err = custodyAmount("prize", b.Prize); err != nil {
		return p, err
	}
	if b.MinNewRangeCost != "" {
		if p.Config.MinNewRangeCost, err = custodyAmount("min_new_range_cost", b.MinNewRangeCost); err != nil {
			return p, err
		}
	}

	switch {
	case !b.Deadline.IsZero() && b.Duration != "":
		return p, errors.New("set either deadline or duration, not both")
	case b.Duration != "":
		d, err := time.ParseDuration(b.Duration)
		if err != nil {
			return p, errors.Wrap(err, "duration")
		}
		p.Config.Deadline = now.Add(d)
	default:
		p.Config.Deadline = b.Deadline
	}

	p.Config.MinEntries = b.MinEntries
	p.Config.MaxEntries = b.MaxEntries
	p.Config.FeePercent = b.FeePercent
	p.Config.MinPurchaseEntries = b.MinPurchaseEntries
	p.Operator = operator
	p.Classification = b.Classification
	return p, nil
}

func optionalUUID(field, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	return id, errors.Wrap(err, field)
}

func custodyAmount(field, s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrapf(err, "%s %q", field, s)
	}
	if d.Exponent() < -int32(fpmath.CustodyConfig.DecimalPrecision) {
		return 0, errors.Errorf("%s %q has more than %d decimals", field, s, fpmath.CustodyConfig.DecimalPrecision)
	}
	return fpmath.FromDecimal(d, fpmath.CustodyConfig), nil
}

// prizeFunder provisions the organizer's prize before creation. The
// simulated token mints and approves; a real token would be a no-op here.
type prizeFunder func(organizer, operator uuid.UUID, amount int64)

// bootstrapRaffles creates the raffles declared in f. Raffles already hosted,
// for example restored from Postgres, are skipped.
func bootstrapRaffles(ctx context.Context, mgr *core.Manager, f *bootstrapFile, operator uuid.UUID, fund prizeFunder, now time.Time, logger zerolog.Logger) (int, error) {
	created := 0
	for i, entry := range f.Raffles {
		params, err := entry.params(operator, now)
		if err != nil {
			return created, errors.Wrapf(err, "raffle #%d", i)
		}
		if params.RaffleID != uuid.Nil {
			if _, err := mgr.Get(params.RaffleID); err == nil {
				logger.Info().Str("raffle_id", params.RaffleID.String()).Msg("bootstrap raffle already hosted")
				continue
			}
		}
		if fund != nil {
			fund(params.Config.Organizer, operator, params.Config.PrizeAmount)
		}
		r, err := mgr.CreateRaffle(ctx, params)
		if err != nil {
			if errors.Cause(err) == state.ErrRaffleExists {
				continue
			}
			return created, errors.Wrapf(err, "raffle #%d", i)
		}
		created++
		logger.Info().Str("raffle_id", r.ID().String()).Msg("bootstrap raffle created")
	}
	return created, nil
}
