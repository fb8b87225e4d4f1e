package db

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/forza-telemetry/internal/forza/network"
	"github.com/banshee-data/forza-telemetry/internal/forza/parse"
)

// Session groups the snapshots recorded by one run of the listener.
type Session struct {
	ID        string     `json:"session_id"`
	Source    string     `json:"source"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Snapshots int64      `json:"snapshots"`
}

// StoredSnapshot is a snapshot re-decoded from its stored raw packet.
type StoredSnapshot struct {
	ID         int64          `json:"id"`
	SessionID  string         `json:"session_id"`
	ReceivedAt time.Time      `json:"received_at"`
	Snapshot   parse.Snapshot `json:"snapshot"`
}

// LapSummary aggregates the race-on samples of one lap.
type LapSummary struct {
	LapNumber   int     `json:"lap_number"`
	Samples     int64   `json:"samples"`
	LapTime     float64 `json:"lap_time_s"`
	TopSpeedMPS float64 `json:"top_speed_mps"`
	AvgSpeedMPS float64 `json:"avg_speed_mps"`
	MaxRPM      float64 `json:"max_rpm"`
}

// StartSession creates a new session for traffic from source.
func (db *DB) StartSession(source string) (*Session, error) {
	s := &Session{
		ID:        uuid.NewString(),
		Source:    source,
		StartedAt: time.Now(),
	}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, source, started_unix_nanos) VALUES (?, ?, ?)`,
		s.ID, s.Source, s.StartedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// EndSession stamps the session's end time.
func (db *DB) EndSession(sessionID string) error {
	res, err := db.Exec(
		`UPDATE sessions SET ended_unix_nanos = ? WHERE session_id = ?`,
		time.Now().UnixNano(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, sql.ErrNoRows)
	}
	return nil
}

// Sessions lists sessions, newest first, with their snapshot counts.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(`
		SELECT s.session_id, s.source, s.started_unix_nanos, s.ended_unix_nanos,
		       (SELECT COUNT(*) FROM snapshots p WHERE p.session_id = s.session_id)
		FROM sessions s
		ORDER BY s.started_unix_nanos DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			s       Session
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.Source, &started, &ended, &s.Snapshots); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(0, started)
		if ended.Valid {
			t := time.Unix(0, ended.Int64)
			s.EndedAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

const insertSnapshot = `INSERT INTO snapshots (
		session_id, received_unix_nanos, timestamp_ms, is_race_on, lap_number,
		race_position, speed_mps, engine_rpm, gear, accel, brake, current_lap_s,
		car_ordinal, car_class, raw
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func recordSnapshot(e execer, sessionID string, receivedAt time.Time, s parse.Snapshot, raw []byte) error {
	_, err := e.Exec(insertSnapshot,
		sessionID, receivedAt.UnixNano(), s.TimestampMS, s.IsRaceOn, s.LapNumber,
		s.RacePosition, nullableFloat(s.Speed), nullableFloat(s.CurrentEngineRPM),
		s.Gear, s.Accel, s.Brake, nullableFloat(s.CurrentLap),
		s.CarOrdinal, s.CarClass, raw,
	)
	return err
}

// nullableFloat binds NaN and Inf as NULL. The raw column keeps the exact bits.
func nullableFloat(f float32) sql.NullFloat64 {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// RecordSnapshot stores one decoded snapshot with its raw packet.
func (db *DB) RecordSnapshot(sessionID string, receivedAt time.Time, s parse.Snapshot, raw []byte) error {
	if err := recordSnapshot(db, sessionID, receivedAt, s, raw); err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	return nil
}

// RecordFrames stores frames in a single transaction.
func (db *DB) RecordFrames(sessionID string, frames []network.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, f := range frames {
		if err := recordSnapshot(tx, sessionID, f.ReceivedAt, f.Snapshot, f.Raw); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record snapshot: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshots: %w", err)
	}
	return nil
}

// RecentSnapshots returns up to limit of the newest snapshots in receive
// order. An empty sessionID spans all sessions.
func (db *DB) RecentSnapshots(sessionID string, limit int) ([]StoredSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT snapshot_id, session_id, received_unix_nanos, raw FROM snapshots`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY snapshot_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredSnapshot
	for rows.Next() {
		var (
			ss       StoredSnapshot
			received int64
			raw      []byte
		)
		if err := rows.Scan(&ss.ID, &ss.SessionID, &received, &raw); err != nil {
			return nil, err
		}
		snap, err := parse.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("stored snapshot %d: %w", ss.ID, err)
		}
		ss.ReceivedAt = time.Unix(0, received)
		ss.Snapshot = snap
		out = append(out, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// LapSummaries aggregates race-on snapshots of a session per lap number.
func (db *DB) LapSummaries(sessionID string) ([]LapSummary, error) {
	rows, err := db.Query(`
		SELECT lap_number, COUNT(*),
		       COALESCE(MAX(current_lap_s), 0), COALESCE(MAX(speed_mps), 0),
		       COALESCE(AVG(speed_mps), 0), COALESCE(MAX(engine_rpm), 0)
		FROM snapshots
		WHERE session_id = ? AND is_race_on != 0
		GROUP BY lap_number
		ORDER BY lap_number`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var laps []LapSummary
	for rows.Next() {
		var l LapSummary
		if err := rows.Scan(&l.LapNumber, &l.Samples, &l.LapTime, &l.TopSpeedMPS, &l.AvgSpeedMPS, &l.MaxRPM); err != nil {
			return nil, err
		}
		laps = append(laps, l)
	}
	return laps, rows.Err()
}
