package main

import (
	"RaffleLedger/internal/ingestion"
	"RaffleLedger/internal/observability"
	"RaffleLedger/internal/projection"
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func main() {
	cfg := DefaultConfig()
	logger := observability.NewLoggerWithLevel("raffled", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := &cobra.Command{
		Use:           "raffled",
		Short:         "Single-prize raffle engine with a double-entry ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var standalone bool
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the raffle service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if standalone {
				cfg.PostgresURL = ""
				cfg.NATSURL = ""
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	flags := serveCmd.Flags()
	flags.BoolVar(&standalone, "standalone", false, "run in memory without Postgres or NATS")
	flags.StringVar(&cfg.PostgresURL, "postgres", cfg.PostgresURL, "Postgres connection string")
	flags.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS server URL")
	flags.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC listen address")
	flags.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP gateway listen address")
	flags.StringVar(&cfg.BootstrapFile, "bootstrap", cfg.BootstrapFile, "TOML file of raffles to create at startup")
	flags.StringVar(&cfg.MigrationsDir, "migrations", cfg.MigrationsDir, "migrations directory")
	flags.BoolVar(&cfg.OracleDisabled, "no-oracle-responder", false, "do not answer randomness requests automatically")
	flags.DurationVar(&cfg.OracleDelay, "oracle-delay", cfg.OracleDelay, "delay before the simulated oracle answers")

	rebuildCmd := &cobra.Command{
		Use:   "rebuild-projections",
		Short: "Rebuild read-model projections from the event log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := sql.Open("postgres", cfg.PostgresURL)
			if err != nil {
				return errors.Wrap(err, "postgres open")
			}
			defer db.Close()
			return projection.RebuildProjections(cmd.Context(), db, logger)
		},
	}
	rebuildCmd.Flags().StringVar(&cfg.PostgresURL, "postgres", cfg.PostgresURL, "Postgres connection string")

	submitCmd := &cobra.Command{
		Use:   "submit [command.json]",
		Short: "Publish a JSON command to the command stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrap(err, "read command")
			}
			command, err := ingestion.ParseCommand(data, "")
			if err != nil {
				return err
			}
			nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
			if err != nil {
				return err
			}
			defer nc.Close()
			if err := ingestion.NewCommandPublisher(js).Publish(cmd.Context(), command); err != nil {
				return err
			}
			logger.Info().Str("subject", ingestion.CommandSubject(command)).Msg("command published")
			return nil
		},
	}
	submitCmd.Flags().StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS server URL")

	root.AddCommand(serveCmd, rebuildCmd, submitCmd)

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error().Err(err).Msg("raffled failed")
		os.Exit(1)
	}
}
