package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Weather history",
		SQL: `
CREATE TABLE IF NOT EXISTS weather_days (
    date TEXT PRIMARY KEY,
    temp_max REAL,
    temp_min REAL,
    temp_mean REAL,
    precipitation REAL,
    humidity REAL,
    et0 REAL,
    heat_units REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS heat_units (
    date TEXT PRIMARY KEY,
    value REAL NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "Parcels and treatments",
		SQL: `
CREATE TABLE IF NOT EXISTS parcels (
    name TEXT PRIMARY KEY,
    area_ha REAL NOT NULL DEFAULT 0,
    cultivars TEXT NOT NULL DEFAULT '[]',
    stage TEXT NOT NULL DEFAULT 'dormant',
    biofix TEXT,
    capacity_mm REAL NOT NULL DEFAULT 0,
    yield_target REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS treatments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    parcel TEXT NOT NULL,
    date TEXT NOT NULL,
    product_id TEXT NOT NULL,
    product_name TEXT NOT NULL,
    product_class TEXT NOT NULL,
    persistence_days REAL NOT NULL,
    leaching_threshold_mm REAL NOT NULL,
    reference_dose_kg_ha REAL NOT NULL,
    registration TEXT,
    dose_kg_ha REAL NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_treatments_parcel_date ON treatments(parcel, date);
CREATE INDEX IF NOT EXISTS idx_treatments_date ON treatments(date);
`,
	},
	{
		Version:     3,
		Description: "Analysis history",
		SQL: `
CREATE TABLE IF NOT EXISTS analyses (
    parcel TEXT NOT NULL,
    date TEXT NOT NULL,
    risk REAL NOT NULL,
    protection REAL NOT NULL,
    score REAL NOT NULL,
    urgency TEXT NOT NULL,
    action TEXT NOT NULL,
    powdery_level TEXT,
    reserve_pct REAL,
    gdd INTEGER,
    payload TEXT,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (parcel, date)
);

CREATE INDEX IF NOT EXISTS idx_analyses_urgency_date ON analyses(urgency, date);
`,
	},
	{
		Version:     4,
		Description: "Ingest auditing",
		SQL: `
CREATE TABLE IF NOT EXISTS ingest_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    http_status INTEGER,
    response_size_bytes INTEGER,
    records_parsed INTEGER,
    records_stored INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);

CREATE TABLE IF NOT EXISTS raw_payloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ingest_run_id INTEGER,
    fetched_at DATETIME NOT NULL,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE,
    schema_version INTEGER NOT NULL DEFAULT 1
);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		slog.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
