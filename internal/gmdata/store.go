package gmdata

import (
	"database/sql"
	"fmt"
	"math"

	_ "modernc.org/sqlite"

	"github.com/ftbernales/gmpe-smtk/internal/imt"
)

// RecordStore implements Database over a single-file SQLite strong-motion
// flatfile. Amplitudes are stored in physical units (cm/s/s for
// accelerations, cm/s for velocities); unit conversion happens in the
// residual engine, not here.
type RecordStore struct {
	db     *sql.DB
	dbPath string
	siteID string // non-empty when this store is a per-site selection
}

// OpenRecordStore opens (or creates) a SQLite record flatfile.
func OpenRecordStore(dbPath string) (*RecordStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	return &RecordStore{db: db, dbPath: dbPath}, nil
}

// Close releases the underlying database handle. Per-site selections share
// the parent handle and must not be closed independently.
func (s *RecordStore) Close() error {
	if s.siteID != "" {
		return nil
	}
	return s.db.Close()
}

// Init creates the flatfile schema if it does not exist.
func (s *RecordStore) Init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			magnitude REAL NOT NULL,
			depth REAL,
			rake REAL,
			dip REAL
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL REFERENCES events(event_id),
			seq INTEGER NOT NULL,
			site_id TEXT NOT NULL,
			vs30 REAL,
			elevation REAL,
			repi REAL,
			rhypo REAL,
			rjb REAL,
			rrup REAL
		)`,
		`CREATE TABLE IF NOT EXISTS observations (
			record_id INTEGER NOT NULL REFERENCES records(id),
			imt TEXT NOT NULL,
			component TEXT NOT NULL,
			value REAL NOT NULL,
			PRIMARY KEY (record_id, imt, component)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_event ON records(event_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_records_site ON records(site_id)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// EventRecord is one site record of an event being loaded into the store.
type EventRecord struct {
	SiteID    string
	Vs30      float64
	Elevation float64
	Repi      float64
	Rhypo     float64
	Rjb       float64
	Rrup      float64
	// Amplitudes maps component -> IMT string -> observed amplitude.
	Amplitudes map[Component]map[string]float64
}

// AddEvent inserts one event with its records and observed amplitudes in a
// single transaction. Record order is preserved as the per-event sequence.
func (s *RecordStore) AddEvent(rup *Rupture, eventID string, records []EventRecord) error {
	if s.siteID != "" {
		return fmt.Errorf("cannot add events through a per-site selection")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO events (event_id, magnitude, depth, rake, dip) VALUES (?, ?, ?, ?, ?)`,
		eventID, rup.Mag, nullFloat(rup.Depth), nullFloat(rup.Rake), nullFloat(rup.Dip))
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", eventID, err)
	}

	for seq, rec := range records {
		res, err := tx.Exec(
			`INSERT INTO records (event_id, seq, site_id, vs30, elevation, repi, rhypo, rjb, rrup)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			eventID, seq, rec.SiteID, rec.Vs30, rec.Elevation,
			rec.Repi, rec.Rhypo, rec.Rjb, rec.Rrup)
		if err != nil {
			return fmt.Errorf("failed to insert record for event %s: %w", eventID, err)
		}
		recordID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get record id: %w", err)
		}
		for component, amps := range rec.Amplitudes {
			for imtStr, value := range amps {
				_, err = tx.Exec(
					`INSERT INTO observations (record_id, imt, component, value) VALUES (?, ?, ?, ?)`,
					recordID, imtStr, string(component), value)
				if err != nil {
					return fmt.Errorf("failed to insert observation: %w", err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetContexts assembles one context per event in event-ID order, with
// records in their load sequence.
func (s *RecordStore) GetContexts(component Component, imts []imt.IMT) ([]*Context, error) {
	eventRows, err := s.db.Query(
		`SELECT event_id, magnitude, depth, rake, dip FROM events ORDER BY event_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer eventRows.Close()

	var contexts []*Context
	for eventRows.Next() {
		var eventID string
		var magnitude float64
		var depth, rake, dip sql.NullFloat64
		if err := eventRows.Scan(&eventID, &magnitude, &depth, &rake, &dip); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		rup := NewRupture(magnitude, floatOrNaN(depth))
		rup.Rake = floatOrNaN(rake)
		rup.Dip = floatOrNaN(dip)

		ctx, err := s.buildContext(eventID, rup, component, imts)
		if err != nil {
			return nil, err
		}
		if ctx != nil {
			contexts = append(contexts, ctx)
		}
	}
	if err := eventRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return contexts, nil
}

func (s *RecordStore) buildContext(eventID string, rup *Rupture, component Component, imts []imt.IMT) (*Context, error) {
	query := `SELECT id, site_id, vs30, elevation, repi, rhypo, rjb, rrup
		 FROM records WHERE event_id = ?`
	args := []interface{}{eventID}
	if s.siteID != "" {
		query += ` AND site_id = ?`
		args = append(args, s.siteID)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records for event %s: %w", eventID, err)
	}
	defer rows.Close()

	sites := &Sites{}
	dists := &Distances{}
	var recordIDs []int64
	for rows.Next() {
		var id int64
		var siteID string
		var vs30, elevation, repi, rhypo, rjb, rrup sql.NullFloat64
		if err := rows.Scan(&id, &siteID, &vs30, &elevation, &repi, &rhypo, &rjb, &rrup); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		recordIDs = append(recordIDs, id)
		sites.IDs = append(sites.IDs, siteID)
		sites.Vs30 = append(sites.Vs30, floatOrNaN(vs30))
		sites.Elevation = append(sites.Elevation, floatOrNaN(elevation))
		dists.Repi = append(dists.Repi, floatOrNaN(repi))
		dists.Rhypo = append(dists.Rhypo, floatOrNaN(rhypo))
		dists.Rjb = append(dists.Rjb, floatOrNaN(rjb))
		dists.Rrup = append(dists.Rrup, floatOrNaN(rrup))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	if len(recordIDs) == 0 {
		return nil, nil
	}

	observations := make(map[imt.IMT][]float64, len(imts))
	for _, im := range imts {
		vals := make([]float64, len(recordIDs))
		for i, recordID := range recordIDs {
			var value float64
			err := s.db.QueryRow(
				`SELECT value FROM observations WHERE record_id = ? AND imt = ? AND component = ?`,
				recordID, im.String(), string(component)).Scan(&value)
			if err == sql.ErrNoRows {
				return nil, fmt.Errorf("event %s record %d has no %s observation for component %s",
					eventID, i, im, component)
			}
			if err != nil {
				return nil, fmt.Errorf("failed to query observation: %w", err)
			}
			vals[i] = value
		}
		observations[im] = vals
	}

	return &Context{
		EventID:      eventID,
		Rupture:      rup,
		Sites:        sites,
		Distances:    dists,
		Observations: observations,
	}, nil
}

// SelectFromSiteID returns a read-only view of the store restricted to one
// site. The view shares the parent's database handle.
func (s *RecordStore) SelectFromSiteID(siteID string) (Database, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM records WHERE site_id = ?`, siteID).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("failed to count records for site %s: %w", siteID, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("no records found for site %s", siteID)
	}
	return &RecordStore{db: s.db, dbPath: s.dbPath, siteID: siteID}, nil
}

// SiteIDs returns the distinct site identifiers present in the store.
func (s *RecordStore) SiteIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT site_id FROM records ORDER BY site_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query site ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan site id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullFloat(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
