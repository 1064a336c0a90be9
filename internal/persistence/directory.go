package persistence

import (
	"RaffleLedger/internal/external"
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var _ external.Directory = (*PostgresDirectory)(nil)

// PostgresDirectory is the raffle directory backed by raffle.directory.
// Registration order is the insertion position.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Register appends instance. Registering the same instance again is a no-op.
func (d *PostgresDirectory) Register(ctx context.Context, instance uuid.UUID, classification string, creator uuid.UUID) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO raffle.directory (raffle_id, classification, creator)
		VALUES ($1, $2, $3)
		ON CONFLICT (raffle_id) DO NOTHING
	`, instance, classification, creator)
	return errors.Wrapf(err, "register %s", instance)
}

// DirectoryEntry is one registered raffle.
type DirectoryEntry struct {
	Position       int64     `json:"position"`
	RaffleID       uuid.UUID `json:"raffle_id"`
	Classification string    `json:"classification"`
	Creator        uuid.UUID `json:"creator"`
}

// List returns a page of entries in registration order.
func (d *PostgresDirectory) List(ctx context.Context, offset, limit int) ([]DirectoryEntry, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT position, raffle_id, classification, creator
		FROM raffle.directory
		ORDER BY position
		OFFSET $1 LIMIT $2
	`, offset, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list directory")
	}
	defer rows.Close()

	var out []DirectoryEntry
	for rows.Next() {
		var e DirectoryEntry
		if err := rows.Scan(&e.Position, &e.RaffleID, &e.Classification, &e.Creator); err != nil {
			return nil, errors.Wrap(err, "scan directory entry")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
