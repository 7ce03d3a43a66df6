package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is one archived acquisition run.
type Session struct {
	ID          string     `json:"id"`
	PortPath    string     `json:"port_path"`
	SampleRate  float64    `json:"sample_rate"`
	BatchSize   int        `json:"batch_size"`
	StartedAt   time.Time  `json:"started_at"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
	SampleCount int        `json:"sample_count"`
	Fault       string     `json:"fault,omitempty"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9)).UTC()
}

func (db *DB) CreateSession(s *Session) error {
	if s.ID == "" {
		return errors.New("session id is required")
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO sessions (session_id, port_path, sample_rate, batch_size, started_unix)
		VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.PortPath, s.SampleRate, s.BatchSize, unixSeconds(s.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", s.ID, err)
	}
	return nil
}

// FinishSession records the stop time, the final sample count and the fault,
// if any.
func (db *DB) FinishSession(id string, stoppedAt time.Time, sampleCount int, fault error) error {
	var faultText string
	if fault != nil {
		faultText = fault.Error()
	}
	res, err := db.Exec(`
		UPDATE sessions SET stopped_unix = ?, sample_count = ?, fault = ?
		WHERE session_id = ?`,
		unixSeconds(stoppedAt), sampleCount, faultText, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

const sessionColumns = `session_id, port_path, sample_rate, batch_size, started_unix, stopped_unix, sample_count, fault`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*Session, error) {
	var (
		s       Session
		started float64
		stopped sql.NullFloat64
	)
	if err := r.Scan(&s.ID, &s.PortPath, &s.SampleRate, &s.BatchSize, &started, &stopped, &s.SampleCount, &s.Fault); err != nil {
		return nil, err
	}
	s.StartedAt = fromUnixSeconds(started)
	if stopped.Valid {
		t := fromUnixSeconds(stopped.Float64)
		s.StoppedAt = &t
	}
	return &s, nil
}

func (db *DB) GetSession(id string) (*Session, error) {
	row := db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	return s, nil
}

// ListSessions returns the most recent sessions first. limit <= 0 returns
// all of them.
func (db *DB) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`SELECT `+sessionColumns+` FROM sessions ORDER BY started_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// DeleteSession removes a session with its samples and spectrum.
func (db *DB) DeleteSession(id string) error {
	res, err := db.Exec(`DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}
