package core_test

import (
	"RaffleLedger/internal/core"
	"RaffleLedger/internal/event"
	"RaffleLedger/internal/external/sim"
	"RaffleLedger/internal/state"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// fakeDBChecker answers tier-2 lookups from a fixed set.
type fakeDBChecker struct {
	seen map[string]bool
	err  error
}

func (f *fakeDBChecker) IsDuplicate(commandType, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.seen[commandType+":"+key], nil
}

// ============================================================================
// Test: Dispatch
// ============================================================================

func TestDispatch_PurchaseDeduplicatedByKey(t *testing.T) {
	env := newTestEnv(t)
	checker := core.NewIdempotencyChecker(16, nil, nil, zerolog.Nop())
	env.mgr = core.NewManager(env.deps, env.directory, checker)
	r := env.createRaffle(t, env.config(1, 100, 1, 10))

	buyer := uuid.New()
	env.token.Mint(buyer, 10)
	env.token.Approve(buyer, r.ID(), 10)
	drainOutputs(env.persist)

	cmd := event.Command{
		Type:           event.CommandTypePurchase,
		IdempotencyKey: "order-1",
		RaffleID:       r.ID(),
		Caller:         buyer,
		Count:          2,
	}
	res, err := env.mgr.Dispatch(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if res.TotalSold != 2 || res.Duplicate {
		t.Fatalf("unexpected result %+v", res)
	}

	res, err = env.mgr.Dispatch(context.Background(), cmd)
	if err != nil {
		t.Fatalf("duplicate Dispatch failed: %v", err)
	}
	if !res.Duplicate {
		t.Error("expected duplicate")
	}
	if r.Snapshot().TotalSold != 2 {
		t.Errorf("duplicate must not apply, sold %d", r.Snapshot().TotalSold)
	}

	outputs := drainOutputs(env.persist)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if outputs[0].Envelope.IdempotencyKey != "order-1" {
		t.Errorf("expected key on envelope, got %q", outputs[0].Envelope.IdempotencyKey)
	}
}

func TestDispatch_RejectedCommandNotMarked(t *testing.T) {
	env := newTestEnv(t)
	checker := core.NewIdempotencyChecker(16, nil, nil, zerolog.Nop())
	env.mgr = core.NewManager(env.deps, env.directory, checker)
	r := env.createRaffle(t, env.config(1, 100, 1, 10))
	buyer := uuid.New()

	cmd := event.Command{
		Type:           event.CommandTypePurchase,
		IdempotencyKey: "order-2",
		RaffleID:       r.ID(),
		Caller:         buyer,
		Count:          1,
	}
	_, err := env.mgr.Dispatch(context.Background(), cmd)
	expectErr(t, err, state.ErrCustodyFailure)

	env.token.Mint(buyer, 1)
	env.token.Approve(buyer, r.ID(), 1)
	res, err := env.mgr.Dispatch(context.Background(), cmd)
	if err != nil {
		t.Fatalf("retry Dispatch failed: %v", err)
	}
	if res.Duplicate || res.TotalSold != 1 {
		t.Errorf("unexpected retry result %+v", res)
	}
}

func TestDispatch_UnknownRaffle(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.mgr.Dispatch(context.Background(), event.Command{
		Type:     event.CommandTypeWithdraw,
		RaffleID: uuid.New(),
		Caller:   uuid.New(),
	})
	expectErr(t, err, state.ErrUnknownRaffle)
	if state.KindOf(err) != state.KindInvalidArgument {
		t.Errorf("expected invalid argument kind, got %s", state.KindOf(err))
	}
}

func TestDispatch_OracleResponseOutcome(t *testing.T) {
	env := newTestEnv(t)
	r := env.createRaffle(t, env.config(1, 100, 1, 2))
	env.buy(t, r, uuid.New(), 2, 1)
	fin := env.startDraw(t, r, uuid.New(), testOracleFee)

	res, err := env.mgr.Dispatch(context.Background(), event.Command{
		Type:      event.CommandTypeOracleResponse,
		RaffleID:  r.ID(),
		Caller:    uuid.New(),
		RequestID: fin.RequestID,
		Provider:  env.provider,
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if res.Outcome != "unauthorized" {
		t.Errorf("expected unauthorized, got %q", res.Outcome)
	}

	res, err = env.mgr.Dispatch(context.Background(), event.Command{
		Type:        event.CommandTypeOracleResponse,
		RaffleID:    r.ID(),
		Caller:      env.oracle.Identity(),
		RequestID:   fin.RequestID,
		Provider:    env.provider,
		RandomValue: randomForIndex(1),
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if res.Outcome != "accepted" {
		t.Errorf("expected accepted, got %q", res.Outcome)
	}
	if r.State() != state.RaffleStateCompleted {
		t.Errorf("expected Completed, got %s", r.State())
	}
}

func TestCreateRaffle_DuplicateID_Fails(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(1, 100, 1, 10)
	r := env.createRaffle(t, cfg)

	env.token.Mint(cfg.Organizer, cfg.PrizeAmount)
	env.token.Approve(cfg.Organizer, env.operator, cfg.PrizeAmount)
	_, err := env.mgr.CreateRaffle(context.Background(), core.CreateParams{
		RaffleID: r.ID(),
		Config:   cfg,
		Operator: env.operator,
		Provider: env.provider,
	})
	expectErr(t, err, state.ErrRaffleExists)
}

func TestCreateRaffle_NoAllowance_Fails(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(1, 100, 1, 10)
	env.token.Mint(cfg.Organizer, cfg.PrizeAmount)

	_, err := env.mgr.CreateRaffle(context.Background(), core.CreateParams{
		Config:   cfg,
		Operator: env.operator,
		Provider: env.provider,
	})
	expectErr(t, err, state.ErrCustodyFailure)
	if len(env.mgr.List()) != 0 {
		t.Errorf("expected no raffle hosted, got %d", len(env.mgr.List()))
	}
}

// ============================================================================
// Test: Idempotency tiers
// ============================================================================

func TestIdempotencyChecker_Tier2Hit(t *testing.T) {
	db := &fakeDBChecker{seen: map[string]bool{"purchase:k1": true}}
	checker := core.NewIdempotencyChecker(4, db, nil, zerolog.Nop())

	if !checker.IsDuplicate("purchase", "k1") {
		t.Fatal("expected tier-2 duplicate")
	}
	if checker.Size() != 1 {
		t.Errorf("expected tier-2 hit cached, size %d", checker.Size())
	}
	if checker.IsDuplicate("withdraw", "k1") {
		t.Error("keys are scoped by command type")
	}
}

func TestIdempotencyChecker_Tier2ErrorFailsOpen(t *testing.T) {
	db := &fakeDBChecker{err: errors.New("connection refused")}
	checker := core.NewIdempotencyChecker(4, db, nil, zerolog.Nop())

	if checker.IsDuplicate("purchase", "k1") {
		t.Error("expected fail-open on tier-2 error")
	}
}

func TestIdempotencyChecker_EmptyKeyNeverDuplicate(t *testing.T) {
	checker := core.NewIdempotencyChecker(4, nil, nil, zerolog.Nop())
	checker.MarkProcessed("purchase", "")
	if checker.IsDuplicate("purchase", "") {
		t.Error("empty key must never deduplicate")
	}
	if checker.Size() != 0 {
		t.Errorf("expected empty cache, size %d", checker.Size())
	}
}

func TestIdempotencyChecker_EvictsOldest(t *testing.T) {
	checker := core.NewIdempotencyChecker(2, nil, nil, zerolog.Nop())
	checker.MarkProcessed("purchase", "a")
	checker.MarkProcessed("purchase", "b")
	checker.MarkProcessed("purchase", "c")

	if checker.IsDuplicate("purchase", "a") {
		t.Error("expected oldest key evicted")
	}
	if !checker.IsDuplicate("purchase", "c") {
		t.Error("expected newest key retained")
	}
}

func TestDispatch_ConcurrentDuplicateAppliesOnce(t *testing.T) {
	env := newTestEnv(t)
	checker := core.NewIdempotencyChecker(16, nil, nil, zerolog.Nop())
	env.mgr = core.NewManager(env.deps, env.directory, checker)
	r := env.createRaffle(t, env.config(10, 100, 1, 100))

	buyer := uuid.New()
	env.token.Mint(buyer, 1000)
	env.token.Approve(buyer, r.ID(), 1000)

	var once sync.Once
	env.token.SetTransferHook(func(ctx context.Context, sender, recipient uuid.UUID, amount int64) error {
		once.Do(func() { time.Sleep(50 * time.Millisecond) })
		return nil
	})

	cmd := event.Command{
		Type:           event.CommandTypePurchase,
		IdempotencyKey: "k1",
		RaffleID:       r.ID(),
		Caller:         buyer,
		Count:          3,
	}

	var wg sync.WaitGroup
	results := make([]core.Result, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.mgr.Dispatch(context.Background(), cmd)
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("Dispatch %d failed: %v", i, errs[i])
		}
		if !results[i].Duplicate {
			applied++
		}
	}
	if applied != 1 {
		t.Errorf("applied: got %d, want 1", applied)
	}
	if got := r.EntriesOwned(buyer); got != 3 {
		t.Errorf("entries owned: got %d, want 3", got)
	}
	if bal, _ := env.token.BalanceOf(context.Background(), buyer); bal != 970 {
		t.Errorf("buyer balance: got %d, want 970", bal)
	}
}

func TestIdempotencyChecker_AcquireReleaseUnprocessed(t *testing.T) {
	checker := core.NewIdempotencyChecker(4, nil, nil, zerolog.Nop())

	release, dup := checker.Acquire("purchase", "k1")
	if dup {
		t.Fatal("first acquire must not be duplicate")
	}
	release(false)

	release, dup = checker.Acquire("purchase", "k1")
	if dup {
		t.Fatal("unprocessed key must stay retryable")
	}
	release(true)

	if _, dup := checker.Acquire("purchase", "k1"); !dup {
		t.Error("expected duplicate after processed release")
	}
}

// ============================================================================
// Test: Creation failures
// ============================================================================

// flakyToken fails custody balance queries while failBalance is set.
type flakyToken struct {
	*sim.Token
	failBalance bool
}

func (f *flakyToken) BalanceOf(ctx context.Context, owner uuid.UUID) (int64, error) {
	if f.failBalance {
		return 0, errors.New("node unavailable")
	}
	return f.Token.BalanceOf(ctx, owner)
}

func TestCreateRaffle_OpenFails_ReturnsPrize(t *testing.T) {
	env := newTestEnv(t)
	flaky := &flakyToken{Token: env.token, failBalance: true}
	env.deps.Token = flaky
	env.mgr = core.NewManager(env.deps, env.directory, nil)

	cfg := env.config(1, 100, 1, 10)
	env.token.Mint(cfg.Organizer, cfg.PrizeAmount)
	env.token.Approve(cfg.Organizer, env.operator, cfg.PrizeAmount)
	id := uuid.New()

	_, err := env.mgr.CreateRaffle(context.Background(), core.CreateParams{
		RaffleID: id,
		Config:   cfg,
		Operator: env.operator,
		Provider: env.provider,
	})
	expectErr(t, err, state.ErrCustodyFailure)

	if len(env.mgr.List()) != 0 {
		t.Errorf("expected no raffle hosted, got %d", len(env.mgr.List()))
	}
	if bal, _ := env.token.BalanceOf(context.Background(), cfg.Organizer); bal != cfg.PrizeAmount {
		t.Errorf("organizer balance: got %d, want %d", bal, cfg.PrizeAmount)
	}
	if bal, _ := env.token.BalanceOf(context.Background(), id); bal != 0 {
		t.Errorf("custody balance: got %d, want 0", bal)
	}

	flaky.failBalance = false
	env.token.Approve(cfg.Organizer, env.operator, cfg.PrizeAmount)
	r, err := env.mgr.CreateRaffle(context.Background(), core.CreateParams{
		RaffleID: id,
		Config:   cfg,
		Operator: env.operator,
		Provider: env.provider,
	})
	if err != nil {
		t.Fatalf("retry CreateRaffle failed: %v", err)
	}
	if r.State() != state.RaffleStateOpen {
		t.Errorf("expected Open, got %s", r.State())
	}
}

func TestCreateRaffle_ConcurrentSameID_PullsOnce(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(1, 100, 1, 10)
	env.token.Mint(cfg.Organizer, 2*cfg.PrizeAmount)
	env.token.Approve(cfg.Organizer, env.operator, 2*cfg.PrizeAmount)
	id := uuid.New()
	params := core.CreateParams{
		RaffleID: id,
		Config:   cfg,
		Operator: env.operator,
		Provider: env.provider,
	}

	var innerErr error
	var once sync.Once
	env.token.SetTransferHook(func(ctx context.Context, sender, recipient uuid.UUID, amount int64) error {
		if recipient == id {
			once.Do(func() {
				_, innerErr = env.mgr.CreateRaffle(context.Background(), params)
			})
		}
		return nil
	})

	if _, err := env.mgr.CreateRaffle(context.Background(), params); err != nil {
		t.Fatalf("CreateRaffle failed: %v", err)
	}
	expectErr(t, innerErr, state.ErrRaffleExists)

	if bal, _ := env.token.BalanceOf(context.Background(), cfg.Organizer); bal != cfg.PrizeAmount {
		t.Errorf("organizer balance: got %d, want %d", bal, cfg.PrizeAmount)
	}
	if len(env.mgr.List()) != 1 {
		t.Errorf("expected 1 raffle hosted, got %d", len(env.mgr.List()))
	}
}
