package storage

import (
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/example/campus-dispatch/internal/models"
)

// PostgresArchive writes terminal trips to Postgres for reporting. The live
// dispatch path never reads it back.
type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

func (p *PostgresArchive) ArchiveTrip(t models.Trip) error {
	_, err := p.db.Exec(`INSERT INTO trips(id, request_id, driver_id, rider_name, pickup, dropoff, passengers, cart, fare, status, minutes, started_at, ended_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, ended_at = EXCLUDED.ended_at`,
		t.ID, t.RequestID, t.DriverID, t.RiderName, t.Pickup, t.Dropoff,
		t.Passengers, string(t.Cart), t.Fare, string(t.Status), t.Minutes,
		t.StartedAt, t.EndedAt)
	return err
}

func (p *PostgresArchive) DB() *sql.DB { return p.db }

func (p *PostgresArchive) Close() error { return p.db.Close() }
