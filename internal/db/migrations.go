package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`CREATE TABLE IF NOT EXISTS vehicles (
		id              BIGSERIAL PRIMARY KEY,
		plate           TEXT NOT NULL,
		normalized      TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_vehicles_normalized ON vehicles(normalized);`,
	`CREATE TABLE IF NOT EXISTS parking_record_rows (
		id              BIGSERIAL PRIMARY KEY,
		vehicle_id      BIGINT REFERENCES vehicles(id),
		identity        TEXT NOT NULL,
		camera_id       TEXT NOT NULL,
		entry_time      TIMESTAMPTZ NOT NULL,
		exit_time       TIMESTAMPTZ,
		duration_hours  NUMERIC(10,2),
		fare            NUMERIC(12,2),
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_parking_records_identity ON parking_record_rows(identity);`,
	`CREATE INDEX IF NOT EXISTS idx_parking_records_entry_time ON parking_record_rows(entry_time);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_parking_records_active
		ON parking_record_rows(identity) WHERE exit_time IS NULL;`,
	`CREATE TABLE IF NOT EXISTS crossing_event_rows (
		id              TEXT PRIMARY KEY,
		track_id        TEXT NOT NULL,
		camera_id       TEXT NOT NULL,
		direction       TEXT NOT NULL,
		identity        TEXT NOT NULL,
		event_time      TIMESTAMPTZ NOT NULL,
		payload         JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_crossing_events_identity ON crossing_event_rows(identity);`,
	`CREATE INDEX IF NOT EXISTS idx_crossing_events_event_time ON crossing_event_rows(event_time);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
