package db

import (
	"fmt"

	"github.com/banshee-data/magmon/internal/packet"
	"github.com/banshee-data/magmon/internal/spectrum"
)

// InsertSamples stores one batch starting at sample index offset. The batch
// is written in a single transaction.
func (db *DB) InsertSamples(sessionID string, offset int, x, y, z []float64) (err error) {
	if len(x) != len(y) || len(y) != len(z) {
		return fmt.Errorf("axis lengths differ: %d/%d/%d", len(x), len(y), len(z))
	}
	if len(x) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin sample insert: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.Prepare(`INSERT INTO samples (session_id, idx, x, y, z) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for i := range x {
		if _, err = stmt.Exec(sessionID, offset+i, x[i], y[i], z[i]); err != nil {
			return fmt.Errorf("failed to insert sample %d of session %s: %w", offset+i, sessionID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit samples of session %s: %w", sessionID, err)
	}
	return nil
}

// SessionSamples returns the archived samples of a session in index order.
func (db *DB) SessionSamples(sessionID string) ([]packet.Sample, error) {
	rows, err := db.Query(`SELECT x, y, z FROM samples WHERE session_id = ? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples of session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []packet.Sample
	for rows.Next() {
		var s packet.Sample
		if err := rows.Scan(&s.X, &s.Y, &s.Z); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertSpectrum replaces the stored spectrum of a session.
func (db *DB) InsertSpectrum(sessionID string, res spectrum.Result) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin spectrum insert: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM spectra WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear spectrum of session %s: %w", sessionID, err)
	}
	stmt, err := tx.Prepare(`INSERT INTO spectra (session_id, bin, frequency, magnitude) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare spectrum insert: %w", err)
	}
	defer stmt.Close()

	for i, pt := range res.Points {
		if _, err = stmt.Exec(sessionID, i, pt.Frequency, pt.Magnitude); err != nil {
			return fmt.Errorf("failed to insert spectrum bin %d of session %s: %w", i, sessionID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit spectrum of session %s: %w", sessionID, err)
	}
	return nil
}

// SessionSpectrum rebuilds the stored spectrum. Count and Resolution are
// derived from the session's sample count and rate.
func (db *DB) SessionSpectrum(sessionID string) (spectrum.Result, error) {
	sess, err := db.GetSession(sessionID)
	if err != nil {
		return spectrum.Result{}, err
	}
	res := spectrum.Result{SampleRate: sess.SampleRate, Count: sess.SampleCount}
	if res.Count > 0 {
		res.Resolution = sess.SampleRate / float64(res.Count)
	}

	rows, err := db.Query(`SELECT frequency, magnitude FROM spectra WHERE session_id = ? ORDER BY bin`, sessionID)
	if err != nil {
		return spectrum.Result{}, fmt.Errorf("failed to query spectrum of session %s: %w", sessionID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var pt spectrum.Point
		if err := rows.Scan(&pt.Frequency, &pt.Magnitude); err != nil {
			return spectrum.Result{}, fmt.Errorf("failed to scan spectrum bin: %w", err)
		}
		res.Points = append(res.Points, pt)
	}
	return res, rows.Err()
}
