// Package store persists user-submitted incident reports in SQLite.
package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/incident"
)

// DefaultDescription is stored when a report is submitted without one
const DefaultDescription = "No description"

const schema = `
CREATE TABLE IF NOT EXISTS reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	lat REAL NOT NULL,
	lon REAL NOT NULL,
	description TEXT,
	occurred_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// timestampLayouts covers what SQLite's CURRENT_TIMESTAMP and the driver write
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ReportStore provides persistent storage for incident reports
type ReportStore interface {
	List(ctx context.Context) ([]incident.Report, error)
	Add(ctx context.Context, location geo.Point, description string, occurredAt *time.Time) (incident.Report, error)
	Close() error
}

// SQLiteReportStore implements ReportStore on a SQLite database file
type SQLiteReportStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. Use ":memory:"
// for an ephemeral store.
func OpenSQLite(ctx context.Context, path string) (*SQLiteReportStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open report database %s", path)
	}
	// A single connection keeps ":memory:" databases alive and serializes writes
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to create reports table")
	}
	return &SQLiteReportStore{db: db}, nil
}

// List returns every report, oldest first
func (s *SQLiteReportStore) List(ctx context.Context) ([]incident.Report, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, lat, lon, description, occurred_at FROM reports ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "failed to query reports")
	}
	defer rows.Close()

	var reports []incident.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "failed to read reports")
	}
	return reports, nil
}

// Add inserts a report. A nil occurredAt uses the database's current time.
func (s *SQLiteReportStore) Add(ctx context.Context, location geo.Point, description string, occurredAt *time.Time) (incident.Report, error) {
	if err := geo.ValidatePoints([]geo.Point{location}); err != nil {
		return incident.Report{}, err
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = DefaultDescription
	}

	var (
		res sql.Result
		err error
	)
	if occurredAt != nil {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO reports (lat, lon, description, occurred_at) VALUES (?, ?, ?, ?)`,
			location.Latitude, location.Longitude, description, occurredAt.UTC().Format(time.RFC3339Nano))
	} else {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO reports (lat, lon, description) VALUES (?, ?, ?)`,
			location.Latitude, location.Longitude, description)
	}
	if err != nil {
		return incident.Report{}, eris.Wrap(err, "failed to insert report")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return incident.Report{}, eris.Wrap(err, "failed to read report id")
	}
	return s.get(ctx, id)
}

func (s *SQLiteReportStore) get(ctx context.Context, id int64) (incident.Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, lat, lon, description, occurred_at FROM reports WHERE id = ?`, id)
	return scanReport(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (incident.Report, error) {
	var (
		id          int64
		lat, lon    float64
		description sql.NullString
		occurredAt  sql.NullString
	)
	if err := row.Scan(&id, &lat, &lon, &description, &occurredAt); err != nil {
		return incident.Report{}, eris.Wrap(err, "failed to scan report")
	}

	report := incident.Report{
		ID:          strconv.FormatInt(id, 10),
		Location:    geo.Point{Latitude: lat, Longitude: lon},
		Description: description.String,
	}
	if occurredAt.Valid {
		ts, err := parseTimestamp(occurredAt.String)
		if err != nil {
			return incident.Report{}, eris.Wrapf(err, "report %d", id)
		}
		report.OccurredAt = &ts
	}
	return report, nil
}

// Close releases the database
func (s *SQLiteReportStore) Close() error {
	return s.db.Close()
}

// parseTimestamp reads stored timestamps as UTC
func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("unrecognized timestamp %q", value)
}

var _ ReportStore = (*SQLiteReportStore)(nil)
