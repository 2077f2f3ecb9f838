package db

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/csistudio/internal/csi"
)

// ErrSessionClosed is returned by WriteRecord after Close.
var ErrSessionClosed = errors.New("db: session closed")

// SessionInfo describes a stored recording session.
type SessionInfo struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Subcarriers int        `json:"subcarriers"`
	Started     time.Time  `json:"started"`
	Stopped     *time.Time `json:"stopped,omitempty"`
	Frames      int64      `json:"frames"`
}

// Session records frames under one session ID. It satisfies the stream
// recording sink; each frame is one INSERT.
type Session struct {
	mu     sync.Mutex
	db     *DB
	id     string
	n      int
	insert *sql.Stmt
	frames int64
	closed bool
	now    func() time.Time
}

// StartSession creates a session for frames of n subcarriers.
func (db *DB) StartSession(source string, n int, started time.Time) (*Session, error) {
	if n <= 0 || n > csi.MaxSubcarriers {
		return nil, fmt.Errorf("invalid subcarrier count %d", n)
	}
	id := uuid.NewString()
	if _, err := db.Exec(
		`INSERT INTO sessions (session_id, source, subcarriers, started_ns) VALUES (?, ?, ?, ?)`,
		id, source, n, started.UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	stmt, err := db.Prepare(`INSERT INTO frames (
			session_id, ts_ns, mac, seq, rssi, frame_control, amplitude, phase
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare frame insert: %w", err)
	}
	return &Session{db: db, id: id, n: n, insert: stmt, now: time.Now}, nil
}

// ID returns the session UUID.
func (s *Session) ID() string { return s.id }

// WriteRecord stores rec.
func (s *Session) WriteRecord(rec *csi.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if rec.NSubcarriers != s.n {
		return fmt.Errorf("record has %d subcarriers, session expects %d", rec.NSubcarriers, s.n)
	}
	if _, err := s.insert.Exec(
		s.id, rec.Timestamp.UnixNano(), rec.MAC.String(), int(rec.SeqNr), rec.RSSI, int(rec.FrameControl),
		encodeFloats(rec.Amplitudes()), encodeFloats(rec.Phases()),
	); err != nil {
		return fmt.Errorf("failed to insert frame: %w", err)
	}
	s.frames++
	return nil
}

// Close marks the session stopped.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_, err := s.db.Exec(
		`UPDATE sessions SET stopped_ns = ?, frames = ? WHERE session_id = ?`,
		s.now().UnixNano(), s.frames, s.id,
	)
	return errors.Join(err, s.insert.Close())
}

// Sessions lists sessions, newest first.
func (db *DB) Sessions() ([]SessionInfo, error) {
	rows, err := db.Query(`SELECT session_id, source, subcarriers, started_ns, stopped_ns,
			(SELECT COUNT(*) FROM frames f WHERE f.session_id = s.session_id)
		FROM sessions s ORDER BY started_ns DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var started int64
		var stopped sql.NullInt64
		if err := rows.Scan(&info.ID, &info.Source, &info.Subcarriers, &started, &stopped, &info.Frames); err != nil {
			return nil, err
		}
		info.Started = time.Unix(0, started)
		if stopped.Valid {
			t := time.Unix(0, stopped.Int64)
			info.Stopped = &t
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Frames returns up to limit frames of a session in time order. A
// non-positive limit returns every frame.
func (db *DB) Frames(sessionID string, limit int) ([]csi.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`SELECT ts_ns, mac, seq, rssi, frame_control, amplitude, phase
		FROM frames WHERE session_id = ? ORDER BY ts_ns, frame_id LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []csi.Record
	for rows.Next() {
		var (
			ts         int64
			mac        string
			seq, fc    int
			amp, phase []byte
			rec        csi.Record
		)
		if err := rows.Scan(&ts, &mac, &seq, &rec.RSSI, &fc, &amp, &phase); err != nil {
			return nil, err
		}
		if rec.MAC, err = csi.ParseMAC(mac); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(0, ts)
		rec.SeqNr = uint16(seq)
		rec.FrameControl = uint8(fc)
		rec.Path = csi.PathExport
		n, err := decodeFloats(rec.Amplitude[:], amp)
		if err != nil {
			return nil, fmt.Errorf("amplitude: %w", err)
		}
		if _, err := decodeFloats(rec.Phase[:], phase); err != nil {
			return nil, fmt.Errorf("phase: %w", err)
		}
		rec.NSubcarriers = n
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its frames.
func (db *DB) DeleteSession(id string) error {
	res, err := db.Exec(`DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no session %q", id)
	}
	return nil
}
