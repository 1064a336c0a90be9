package main

import (
	"RaffleLedger/internal/core"
	"RaffleLedger/internal/event"
	"RaffleLedger/internal/external"
	"RaffleLedger/internal/external/sim"
	"RaffleLedger/internal/ingestion"
	"RaffleLedger/internal/observability"
	"RaffleLedger/internal/persistence"
	"RaffleLedger/internal/projection"
	"RaffleLedger/internal/query"
	"RaffleLedger/internal/server"
	"RaffleLedger/internal/state"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// serve wires the engine to its collaborators and runs until ctx ends.
func serve(ctx context.Context, cfg Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info().
		Bool("postgres", cfg.PostgresURL != "").
		Bool("nats", cfg.NATSURL != "").
		Msg("RaffleLedger starting")

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Postgres ---
	var db *sql.DB
	if cfg.PostgresURL != "" {
		var err error
		db, err = openPostgres(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		healthChecker.AddCheck("postgres", db.PingContext)
	}

	// --- Simulated custody token, native bank and oracle ---
	token := sim.NewToken(state.CustodyDecimals)
	bank := sim.NewBank()
	oracle := sim.NewOracle(cfg.OracleID, bank, cfg.OracleFee)

	var directory external.Directory = sim.NewDirectory()
	var pgDirectory *persistence.PostgresDirectory
	if db != nil {
		pgDirectory = persistence.NewPostgresDirectory(db)
		directory = pgDirectory
	}

	deps := core.Deps{
		Token:   token,
		Bank:    bank,
		Oracle:  oracle,
		Metrics: metrics,
		Logger:  logger,
	}

	// The persist channel blocks (backpressure); the projection channel drops.
	var persistChan, projectionChan chan core.CoreOutput
	if db != nil {
		persistChan = make(chan core.CoreOutput, cfg.PersistChanSize)
		projectionChan = make(chan core.CoreOutput, cfg.ProjectionChanSize)
		deps.PersistChan = persistChan
		deps.ProjectionChan = projectionChan
	}

	var dbChecker core.DBIdempotencyChecker
	if db != nil {
		dbChecker = persistence.NewPostgresIdempotencyChecker(db)
	}
	idempotency := core.NewIdempotencyChecker(cfg.IdempotencyLRUCapacity, dbChecker, metrics, logger)
	mgr := core.NewManager(deps, directory, idempotency)

	// --- Recovery ---
	if db != nil {
		if err := recoverInstances(ctx, db, mgr, directory, logger); err != nil {
			return err
		}
		seedSimulators(mgr, token, bank, logger)
	}

	errChan := make(chan error, 10)
	run := func(name string, fn func(context.Context) error) {
		go func() {
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- errors.Wrap(err, name)
			}
		}()
	}

	// --- Workers ---
	var persistWorker *persistence.PersistenceWorker
	if db != nil {
		persistWorker = persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, logger)
		run("persistence worker", persistWorker.Run)
		run("projection worker", projection.NewProjectionWorker(db, projectionChan, metrics, logger).Run)
		run("channel monitor", func(ctx context.Context) error {
			monitorChannels(ctx, metrics, persistChan, projectionChan)
			return nil
		})
	}

	// --- NATS ---
	var commandPublisher *ingestion.CommandPublisher
	var subscriber *ingestion.NATSSubscriber
	if cfg.NATSURL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		healthChecker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		})

		if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
			return errors.Wrap(err, "ensure NATS streams")
		}

		rawChan := make(chan ingestion.RawCommand, cfg.CommandChanSize)
		subscriber = ingestion.NewNATSSubscriber(js, rawChan, logger)
		if err := subscriber.Subscribe(ctx); err != nil {
			return errors.Wrap(err, "nats subscribe")
		}
		run("command processor", ingestion.NewCommandProcessor(mgr, rawChan, metrics, logger).Run)

		if persistWorker != nil {
			publisher := ingestion.NewOutboundPublisher(js, cfg.PublishBufferSize, metrics, logger)
			persistWorker.SetObserver(publisher)
			run("outbound publisher", publisher.Run)
		}
		commandPublisher = ingestion.NewCommandPublisher(js)
	}

	// --- Oracle fulfilment ---
	if !cfg.OracleDisabled {
		oracle.AutoRespond(oracleResponder(mgr, commandPublisher, oracle.Identity(), logger), cfg.OracleDelay)
	}
	resumeDraws(mgr, oracle, logger)

	// --- Bootstrap ---
	if cfg.BootstrapFile != "" {
		f, err := loadBootstrap(cfg.BootstrapFile)
		if err != nil {
			return err
		}
		fund := func(organizer, operator uuid.UUID, amount int64) {
			token.Mint(organizer, amount)
			token.Approve(organizer, operator, amount)
		}
		n, err := bootstrapRaffles(ctx, mgr, f, cfg.OperatorID, fund, time.Now(), logger)
		if err != nil {
			return errors.Wrap(err, "bootstrap")
		}
		logger.Info().Int("created", n).Str("file", cfg.BootstrapFile).Msg("bootstrap complete")
	}

	// --- gRPC + HTTP gateway ---
	serverDeps := &server.ServerDeps{
		Creator:       mgr,
		QueryService:  query.NewQueryService(mgr, token, bank, db, metrics),
		IngestService: ingestion.NewGRPCIngestService(mgr),
		DB:            db,
		HealthChecker: healthChecker,
		AdminToken:    cfg.AdminToken,
		Logger:        logger,
	}
	if pgDirectory != nil {
		serverDeps.Directory = pgDirectory
	}
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, serverDeps)
	run("grpc server", grpcServer.StartGRPC)
	run("http gateway", grpcServer.StartHTTPGateway)

	healthChecker.SetReady(true)
	logger.Info().
		Int("raffles", len(mgr.List())).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Msg("RaffleLedger ready")

	// --- Wait for shutdown ---
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	healthChecker.SetReady(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	cancel()

	// Workers flush their pending batch when ctx ends; give them a moment.
	time.Sleep(500 * time.Millisecond)
	logger.Info().Msg("RaffleLedger shutdown complete")
	return runErr
}

func openPostgres(ctx context.Context, cfg Config, logger zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, errors.Wrap(err, "postgres open")
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "postgres ping")
	}
	logger.Info().Msg("Postgres connected")

	n, err := persistence.NewMigrator(db, cfg.MigrationsDir, logger).Up(ctx)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	logger.Info().Int("applied", n).Msg("migrations up to date")
	return db, nil
}

// recoverInstances restores every persisted raffle and retries directory
// registrations that failed earlier.
func recoverInstances(ctx context.Context, db *sql.DB, mgr *core.Manager, directory external.Directory, logger zerolog.Logger) error {
	store := persistence.NewInstanceStore(db)
	snaps, err := store.LoadInstances(ctx)
	if err != nil {
		return errors.Wrap(err, "load instances")
	}
	n, err := mgr.Restore(snaps)
	if err != nil {
		return errors.Wrap(err, "restore instances")
	}
	logger.Info().Int("restored", n).Msg("raffles restored from snapshots")

	failures, err := store.PendingFailures(ctx)
	if err != nil {
		return errors.Wrap(err, "load registration failures")
	}
	for _, f := range failures {
		if err := directory.Register(ctx, f.RaffleID, f.Classification, f.Creator); err != nil {
			logger.Warn().Err(err).
				Str("raffle_id", f.RaffleID.String()).
				Int64("sequence", f.Sequence).
				Msg("directory registration still failing")
			continue
		}
		if err := store.ResolveFailure(ctx, f.RaffleID, f.Sequence); err != nil {
			return errors.Wrap(err, "resolve registration failure")
		}
		logger.Info().Str("raffle_id", f.RaffleID.String()).Msg("directory registration resolved")
	}
	return nil
}

// seedSimulators gives every restored raffle's simulated custody and native
// accounts the balances its ledger reserves. The simulators start empty on
// each boot while the liabilities come back from Postgres.
func seedSimulators(mgr *core.Manager, token *sim.Token, bank *sim.Bank, logger zerolog.Logger) {
	for _, id := range mgr.List() {
		r, err := mgr.Get(id)
		if err != nil {
			continue
		}
		custody, native := r.Reserved()
		minted := token.EnsureBalance(id, custody)
		mintedNative := bank.EnsureBalance(id, native)
		if minted > 0 || mintedNative > 0 {
			logger.Debug().
				Str("raffle_id", id.String()).
				Int64("custody", minted).
				Int64("native", mintedNative).
				Msg("simulated holdings restored")
		}
	}
}

// resumeDraws hands restored pending draws back to the simulated oracle so
// they are answered again.
func resumeDraws(mgr *core.Manager, oracle *sim.Oracle, logger zerolog.Logger) {
	for _, id := range mgr.List() {
		r, err := mgr.Get(id)
		if err != nil {
			continue
		}
		pending := r.Snapshot().PendingDraw
		if pending == nil {
			continue
		}
		oracle.Resume(id, pending.RequestID, pending.Provider)
		logger.Info().
			Str("raffle_id", id.String()).
			Uint64("request_id", pending.RequestID).
			Msg("pending draw resumed")
	}
}

// oracleResponder delivers simulated randomness back to the engine as an
// oracle_response command from the oracle identity. With NATS the response
// travels through the command stream like any external callback.
func oracleResponder(mgr *core.Manager, publisher *ingestion.CommandPublisher, identity uuid.UUID, logger zerolog.Logger) sim.Responder {
	log := logger.With().Str("component", "oracle_responder").Logger()
	return func(ctx context.Context, raffleID uuid.UUID, requestID uint64, provider uuid.UUID, randomValue [32]byte) {
		cmd := event.Command{
			Type:           event.CommandTypeOracleResponse,
			IdempotencyKey: fmt.Sprintf("oracle-%s-%d", raffleID, requestID),
			RaffleID:       raffleID,
			Caller:         identity,
			RequestID:      requestID,
			Provider:       provider,
			RandomValue:    randomValue,
		}

		if publisher != nil {
			err := publisher.Publish(ctx, cmd)
			if err == nil {
				return
			}
			log.Warn().Err(err).Str("raffle_id", raffleID.String()).Msg("publish failed, dispatching directly")
		}

		res, err := mgr.Dispatch(ctx, cmd)
		if err != nil {
			log.Error().Err(err).Str("raffle_id", raffleID.String()).Uint64("request_id", requestID).Msg("oracle response failed")
			return
		}
		log.Info().Str("raffle_id", raffleID.String()).Uint64("request_id", requestID).Str("outcome", res.Outcome).Msg("oracle response delivered")
	}
}

func monitorChannels(ctx context.Context, metrics *observability.Metrics, persistChan, projectionChan chan core.CoreOutput) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
			metrics.SetChannelMetrics("projection", len(projectionChan), cap(projectionChan))
		}
	}
}
