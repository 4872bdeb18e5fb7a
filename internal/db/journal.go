package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when a session id is not in the journal.
var ErrSessionNotFound = errors.New("session not found")

const (
	KindDock       = "dock"
	KindDisconnect = "disconnect"
)

// SessionRecord is one journaled attempt.
type SessionRecord struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    string     `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	Cycles    int        `json:"cycles"`
	TracePath string     `json:"trace_path,omitempty"`

	Transitions []TransitionRecord `json:"transitions,omitempty"`
}

// TransitionRecord is one phase or stage change within a session.
type TransitionRecord struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

func toUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnix(f float64) time.Time {
	return time.Unix(0, int64(f*1e9)).UTC()
}

// RecordSessionStart inserts a running session.
func (db *DB) RecordSessionStart(id, kind string, started time.Time) error {
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, kind, started_unix, status) VALUES (?, ?, ?, 'running')`,
		id, kind, toUnix(started),
	)
	if err != nil {
		return fmt.Errorf("record session start: %w", err)
	}
	return nil
}

// RecordTransition appends a transition to a session.
func (db *DB) RecordTransition(sessionID string, tr TransitionRecord) error {
	_, err := db.Exec(
		`INSERT INTO phase_transitions (session_id, from_phase, to_phase, at_unix, reason) VALUES (?, ?, ?, ?, ?)`,
		sessionID, tr.From, tr.To, toUnix(tr.At), tr.Reason,
	)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// RecordSessionEnd closes a session with its outcome.
func (db *DB) RecordSessionEnd(id string, ended time.Time, status, reason string, cycles int, tracePath string) error {
	res, err := db.Exec(
		`UPDATE sessions SET ended_unix = ?, status = ?, reason = ?, cycles = ?, trace_path = ? WHERE session_id = ?`,
		toUnix(ended), status, reason, cycles, tracePath, id,
	)
	if err != nil {
		return fmt.Errorf("record session end: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("record session end %s: %w", id, ErrSessionNotFound)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first, without
// transitions.
func (db *DB) RecentSessions(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(
		`SELECT session_id, kind, started_unix, ended_unix, status, reason, cycles, trace_path
		   FROM sessions ORDER BY started_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Session returns one session with its transitions in order.
func (db *DB) Session(id string) (SessionRecord, error) {
	row := db.QueryRow(
		`SELECT session_id, kind, started_unix, ended_unix, status, reason, cycles, trace_path
		   FROM sessions WHERE session_id = ?`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return SessionRecord{}, err
	}

	rows, err := db.Query(
		`SELECT from_phase, to_phase, at_unix, reason FROM phase_transitions
		  WHERE session_id = ? ORDER BY at_unix, transition_id`, id)
	if err != nil {
		return SessionRecord{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var tr TransitionRecord
		var at float64
		if err := rows.Scan(&tr.From, &tr.To, &at, &tr.Reason); err != nil {
			return SessionRecord{}, err
		}
		tr.At = fromUnix(at)
		rec.Transitions = append(rec.Transitions, tr)
	}
	return rec, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (SessionRecord, error) {
	var (
		rec     SessionRecord
		started float64
		ended   sql.NullFloat64
	)
	if err := s.Scan(&rec.ID, &rec.Kind, &started, &ended, &rec.Status, &rec.Reason, &rec.Cycles, &rec.TracePath); err != nil {
		return SessionRecord{}, err
	}
	rec.StartedAt = fromUnix(started)
	if ended.Valid {
		t := fromUnix(ended.Float64)
		rec.EndedAt = &t
	}
	return rec, nil
}
