// Package history archives scan results in a sqlite database so successive
// runs against the same device can be diffed.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/timzifer/regscout/internal/scan"
)

// Store is a sqlite-backed scan archive.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the archive at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL,
		host TEXT NOT NULL,
		port INTEGER NOT NULL,
		unit_id INTEGER NOT NULL,
		artifact TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS readings (
		scan_id INTEGER NOT NULL,
		space TEXT NOT NULL,
		address INTEGER NOT NULL,
		value INTEGER NOT NULL,
		PRIMARY KEY (scan_id, space, address),
		FOREIGN KEY (scan_id) REFERENCES scans(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS volatility (
		scan_id INTEGER NOT NULL,
		space TEXT NOT NULL,
		address INTEGER NOT NULL,
		kind TEXT NOT NULL,
		changes INTEGER NOT NULL,
		samples INTEGER NOT NULL,
		PRIMARY KEY (scan_id, space, address),
		FOREIGN KEY (scan_id) REFERENCES scans(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_scans_target ON scans(host, port, unit_id, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordScan stores the snapshot's readings and returns the archive id of the
// new scan row.
func (s *Store) RecordScan(ctx context.Context, snap *scan.Snapshot, artifact string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin scan record: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO scans (started_at, host, port, unit_id, artifact) VALUES (?, ?, ?, ?, ?)`,
		snap.Meta.Timestamp.Format(time.RFC3339Nano),
		snap.Meta.Host,
		snap.Meta.Port,
		int64(snap.Meta.UnitID),
		artifact,
	)
	if err != nil {
		return 0, fmt.Errorf("insert scan: %w", err)
	}
	scanID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("scan id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO readings (scan_id, space, address, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare reading insert: %w", err)
	}
	defer stmt.Close()

	for _, space := range scan.Spaces {
		for _, addr := range snap.Addresses(space) {
			reading, _ := snap.Reading(space, addr)
			if _, err := stmt.ExecContext(ctx, scanID, string(space), addr, int64(reading.Raw)); err != nil {
				return 0, fmt.Errorf("insert reading %s/%d: %w", space, addr, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit scan record: %w", err)
	}
	return scanID, nil
}

// RecordVolatility stores a monitoring classification for an archived scan.
func (s *Store) RecordVolatility(ctx context.Context, scanID int64, vol map[scan.AddressKey]scan.Volatility) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin volatility record: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO volatility (scan_id, space, address, kind, changes, samples) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare volatility insert: %w", err)
	}
	defer stmt.Close()

	for key, v := range vol {
		if _, err := stmt.ExecContext(ctx, scanID, string(key.Space), key.Address, string(v.Kind), v.Changes, v.Samples); err != nil {
			return fmt.Errorf("insert volatility %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// PreviousScan returns the id of the most recent archived scan of the same
// target that started before the given time.
func (s *Store) PreviousScan(ctx context.Context, host string, port int, unitID uint8, before time.Time) (int64, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM scans WHERE host = ? AND port = ? AND unit_id = ? AND started_at < ? ORDER BY started_at DESC LIMIT 1`,
		host, port, int64(unitID), before.Format(time.RFC3339Nano))
	var id int64
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("query previous scan: %w", err)
	}
	return id, true, nil
}

// Readings loads the raw values archived for one scan.
func (s *Store) Readings(ctx context.Context, scanID int64) (map[scan.AddressKey]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT space, address, value FROM readings WHERE scan_id = ?`, scanID)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	readings := make(map[scan.AddressKey]int)
	for rows.Next() {
		var space string
		var address, value int
		if err := rows.Scan(&space, &address, &value); err != nil {
			return nil, fmt.Errorf("scan reading row: %w", err)
		}
		readings[scan.AddressKey{Space: scan.Space(space), Address: address}] = value
	}
	return readings, rows.Err()
}

// ChangeKind labels one difference between two archived scans.
type ChangeKind string

const (
	// ChangeValue means the address was present in both scans with different values.
	ChangeValue ChangeKind = "value"
	// ChangeAppeared means the address is readable now but was not before.
	ChangeAppeared ChangeKind = "appeared"
	// ChangeVanished means the address was readable before but is not now.
	ChangeVanished ChangeKind = "vanished"
)

// Change is one difference between the previous archived scan and the current
// snapshot.
type Change struct {
	Key      scan.AddressKey
	Kind     ChangeKind
	Previous int
	Current  int
}

// Diff compares previously archived readings against a fresh snapshot.
func Diff(previous map[scan.AddressKey]int, snap *scan.Snapshot) []Change {
	var changes []Change
	seen := make(map[scan.AddressKey]bool, len(previous))
	for _, space := range scan.Spaces {
		for _, addr := range snap.Addresses(space) {
			reading, _ := snap.Reading(space, addr)
			key := reading.Key()
			seen[key] = true
			prev, ok := previous[key]
			if !ok {
				changes = append(changes, Change{Key: key, Kind: ChangeAppeared, Current: int(reading.Raw)})
				continue
			}
			if prev != int(reading.Raw) {
				changes = append(changes, Change{Key: key, Kind: ChangeValue, Previous: prev, Current: int(reading.Raw)})
			}
		}
	}
	for key, prev := range previous {
		if !seen[key] {
			changes = append(changes, Change{Key: key, Kind: ChangeVanished, Previous: prev})
		}
	}
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Key.Space != changes[j].Key.Space {
			return changes[i].Key.Space < changes[j].Key.Space
		}
		return changes[i].Key.Address < changes[j].Key.Address
	})
	return changes
}
