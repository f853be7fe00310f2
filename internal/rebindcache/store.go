// Package rebindcache persists last-seen display coordinates so that
// spaces can be rebound to a display's new UUID by nearest-point matching
// after a disconnect/reconnect cycle (spec §9: "the model retains
// last-seen coordinates to re-bind workspaces by nearest point"). It is
// adapted from internal/opstate.Store's namespaced SQLite key/value
// design: same schema shape, specialized to one namespace and one value
// type instead of arbitrary strings.
package rebindcache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/spaced/internal/model"
)

const namespace = "display"

// Record is one display's last-known position, keyed by the UUID it had
// when last seen.
type Record struct {
	UUID     string
	Frame    model.Rect
	LastSeen time.Time
}

type storedValue struct {
	Frame    model.Rect `json:"frame"`
	LastSeen time.Time  `json:"lastSeen"`
}

// Store is a SQLite-backed cache of last-seen display coordinates.
type Store struct {
	db *sql.DB
}

// Open creates or opens a rebind cache at dbPath. The schema is created
// automatically on first use.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS operational_state (
		namespace  TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (namespace, key)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record upserts a display's last-seen frame and timestamp, keyed by its
// current UUID. Called from internal/dispatcher right before a display's
// UUID is about to disappear from the model.
func (s *Store) Record(uuid string, frame model.Rect, seenAt time.Time) error {
	v, err := json.Marshal(storedValue{Frame: frame, LastSeen: seenAt})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", uuid, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO operational_state (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE
		 SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, uuid, string(v), seenAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", uuid, err)
	}
	return nil
}

// Forget removes a UUID's cached position, once it has been successfully
// rebound to a new UUID or the cache entry is no longer useful.
func (s *Store) Forget(uuid string) error {
	_, err := s.db.Exec(
		`DELETE FROM operational_state WHERE namespace = ? AND key = ?`,
		namespace, uuid,
	)
	if err != nil {
		return fmt.Errorf("forget %s: %w", uuid, err)
	}
	return nil
}

// All returns every cached record, in no particular order.
func (s *Store) All() ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT key, value FROM operational_state WHERE namespace = ?`,
		namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var uuid, raw string
		if err := rows.Scan(&uuid, &raw); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var v storedValue
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", uuid, err)
		}
		out = append(out, Record{UUID: uuid, Frame: v.Frame, LastSeen: v.LastSeen})
	}
	return out, rows.Err()
}

// Nearest returns the cached record whose top-left corner is closest to
// frame's, excluding any UUID present in exclude (UUIDs currently attached
// to a live display, which are not rebind candidates). Returns ok=false if
// the cache holds no candidates.
func (s *Store) Nearest(frame model.Rect, exclude map[string]bool) (Record, bool, error) {
	records, err := s.All()
	if err != nil {
		return Record{}, false, err
	}

	var best Record
	found := false
	bestDist := math.MaxFloat64
	for _, r := range records {
		if exclude[r.UUID] {
			continue
		}
		d := distance(frame, r.Frame)
		if !found || d < bestDist {
			best, bestDist, found = r, d, true
		}
	}
	return best, found, nil
}

func distance(a, b model.Rect) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}
