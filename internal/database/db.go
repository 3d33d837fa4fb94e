package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
)

// ErrDuplicate is returned when an insert collides with an existing
// (tenant, sensor, timestamp) key.
var ErrDuplicate = errors.New("measurement already exists for this sensor at this timestamp")

// DB wraps the database connection
type DB struct {
	*sql.DB
	queryTimeout time.Duration
}

// Connect establishes a connection to the database
func Connect(connectionString string, queryTimeout time.Duration) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &DB{DB: db, queryTimeout: queryTimeout}, nil
}

// withDeadline bounds every store call so a stuck backend surfaces as an
// error instead of hanging the caller.
func (db *DB) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, db.queryTimeout)
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	// Read all migration files
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	// Filter and sort SQL files
	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	// Execute each migration
	for _, filename := range sqlFiles {
		fmt.Printf("Running migration: %s\n", filename)

		filePath := filepath.Join(migrationsDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	fmt.Println("All migrations completed successfully")
	return nil
}

// GetTenantByAPIKey resolves a tenant by its API key. Returns nil when no
// tenant matches.
func (db *DB) GetTenantByAPIKey(ctx context.Context, apiKey string) (*Tenant, error) {
	ctx, cancel := db.withDeadline(ctx)
	defer cancel()

	query := `
		SELECT id, name, api_key, created_at
		FROM tenants
		WHERE api_key = $1
	`

	var t Tenant
	err := db.QueryRowContext(ctx, query, apiKey).Scan(
		&t.ID,
		&t.Name,
		&t.APIKey,
		&t.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up tenant: %w", err)
	}

	return &t, nil
}

// InsertMeasurement appends one measurement. The unique index on
// (tenant_id, sensor_id, ts) makes concurrent writers of the same key race
// last-writer-fails: exactly one insert lands, the rest get ErrDuplicate.
func (db *DB) InsertMeasurement(ctx context.Context, m *Measurement) error {
	ctx, cancel := db.withDeadline(ctx)
	defer cancel()

	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO measurements (id, tenant_id, sensor_id, ts, value, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err = db.QueryRowContext(
		ctx,
		query,
		m.ID,
		m.TenantID,
		m.SensorID,
		m.Timestamp,
		m.Value,
		metadata,
	).Scan(&m.CreatedAt)

	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert measurement: %w", err)
	}

	return nil
}

// SensorExists reports whether at least one measurement is stored for the
// sensor under this tenant.
func (db *DB) SensorExists(ctx context.Context, tenantID, sensorID string) (bool, error) {
	ctx, cancel := db.withDeadline(ctx)
	defer cancel()

	query := `
		SELECT EXISTS (
			SELECT 1 FROM measurements
			WHERE tenant_id = $1 AND sensor_id = $2
		)
	`

	var exists bool
	if err := db.QueryRowContext(ctx, query, tenantID, sensorID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check sensor: %w", err)
	}
	return exists, nil
}

// SelectTimestamps returns every stored timestamp for a sensor, ascending.
func (db *DB) SelectTimestamps(ctx context.Context, tenantID, sensorID string) ([]time.Time, error) {
	ctx, cancel := db.withDeadline(ctx)
	defer cancel()

	query := `
		SELECT ts FROM measurements
		WHERE tenant_id = $1 AND sensor_id = $2
		ORDER BY ts ASC
	`

	rows, err := db.QueryContext(ctx, query, tenantID, sensorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query timestamps: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("failed to scan timestamp: %w", err)
		}
		times = append(times, ts)
	}

	return times, rows.Err()
}

// SelectRange returns measurements for a sensor ordered ascending by
// timestamp. from/to bound the half-open window [from, to); either may be
// nil for an unbounded side.
func (db *DB) SelectRange(ctx context.Context, tenantID, sensorID string, from, to *time.Time) ([]*Measurement, error) {
	ctx, cancel := db.withDeadline(ctx)
	defer cancel()

	query := `
		SELECT id, tenant_id, sensor_id, ts, value, metadata, created_at
		FROM measurements
		WHERE tenant_id = $1 AND sensor_id = $2
		  AND ($3::timestamptz IS NULL OR ts >= $3)
		  AND ($4::timestamptz IS NULL OR ts < $4)
		ORDER BY ts ASC
	`

	rows, err := db.QueryContext(ctx, query, tenantID, sensorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	return scanMeasurements(rows)
}

// SelectMeasurements lists measurements for a tenant, newest first, with
// optional sensor/time filters and limit/skip pagination.
func (db *DB) SelectMeasurements(ctx context.Context, tenantID string, filter MeasurementFilter) ([]*Measurement, error) {
	ctx, cancel := db.withDeadline(ctx)
	defer cancel()

	query := `
		SELECT id, tenant_id, sensor_id, ts, value, metadata, created_at
		FROM measurements
		WHERE tenant_id = $1
		  AND ($2 = '' OR sensor_id = $2)
		  AND ($3::timestamptz IS NULL OR ts >= $3)
		  AND ($4::timestamptz IS NULL OR ts <= $4)
		ORDER BY ts DESC
		LIMIT $5 OFFSET $6
	`

	rows, err := db.QueryContext(ctx, query, tenantID, filter.SensorID, filter.From, filter.To, filter.Limit, filter.Skip)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	return scanMeasurements(rows)
}

// CountMeasurements returns the total row count matching a filter, for
// pagination.
func (db *DB) CountMeasurements(ctx context.Context, tenantID string, filter MeasurementFilter) (int, error) {
	ctx, cancel := db.withDeadline(ctx)
	defer cancel()

	query := `
		SELECT COUNT(*)
		FROM measurements
		WHERE tenant_id = $1
		  AND ($2 = '' OR sensor_id = $2)
		  AND ($3::timestamptz IS NULL OR ts >= $3)
		  AND ($4::timestamptz IS NULL OR ts <= $4)
	`

	var count int
	err := db.QueryRowContext(ctx, query, tenantID, filter.SensorID, filter.From, filter.To).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count measurements: %w", err)
	}
	return count, nil
}

// SelectSensorSummaries returns every sensor of a tenant with its latest
// measurement and total count, ordered by sensor id.
func (db *DB) SelectSensorSummaries(ctx context.Context, tenantID string) ([]*SensorSummary, error) {
	ctx, cancel := db.withDeadline(ctx)
	defer cancel()

	query := `
		SELECT DISTINCT ON (sensor_id)
		       id, tenant_id, sensor_id, ts, value, metadata, created_at,
		       COUNT(*) OVER (PARTITION BY sensor_id) AS total
		FROM measurements
		WHERE tenant_id = $1
		ORDER BY sensor_id, ts DESC
	`

	rows, err := db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*SensorSummary
	for rows.Next() {
		var m Measurement
		var metadata []byte
		var total int
		if err := rows.Scan(
			&m.ID,
			&m.TenantID,
			&m.SensorID,
			&m.Timestamp,
			&m.Value,
			&metadata,
			&m.CreatedAt,
			&total,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sensor summary: %w", err)
		}
		if err := decodeMetadata(metadata, &m); err != nil {
			return nil, err
		}
		summaries = append(summaries, &SensorSummary{
			SensorID: m.SensorID,
			Count:    total,
			Last:     &m,
		})
	}

	return summaries, rows.Err()
}

func scanMeasurements(rows *sql.Rows) ([]*Measurement, error) {
	var measurements []*Measurement
	for rows.Next() {
		var m Measurement
		var metadata []byte
		if err := rows.Scan(
			&m.ID,
			&m.TenantID,
			&m.SensorID,
			&m.Timestamp,
			&m.Value,
			&metadata,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		if err := decodeMetadata(metadata, &m); err != nil {
			return nil, err
		}
		measurements = append(measurements, &m)
	}

	return measurements, rows.Err()
}

func decodeMetadata(raw []byte, m *Measurement) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &m.Metadata); err != nil {
		return fmt.Errorf("failed to decode metadata for %s: %w", m.ID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
