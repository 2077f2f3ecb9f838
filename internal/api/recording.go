package api

import (
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/csistudio/internal/config"
	"github.com/banshee-data/csistudio/internal/csi/stream"
	"github.com/banshee-data/csistudio/internal/db"
	"github.com/banshee-data/csistudio/internal/recorder"
	"github.com/banshee-data/csistudio/internal/security"
	"github.com/banshee-data/csistudio/internal/timeutil"
)

// ErrNoDatabase is returned when a sqlite recording is requested without
// a recording database.
var ErrNoDatabase = errors.New("api: no recording database configured")

// RecordingRequest is the body of POST /api/recording/start. Both fields
// are optional.
type RecordingRequest struct {
	Format string `json:"format,omitempty"`
	File   string `json:"file,omitempty"`
}

// RecordingSink is a recording sink that can be closed.
type RecordingSink interface {
	stream.RecordingSink
	io.Closer
}

// Recordings opens recording sinks for the control API and the CLI.
type Recordings struct {
	// Dir receives file recordings. Requested names must stay inside it.
	Dir string
	// Format is used when a request names none.
	Format string
	// Subcarriers is the export length the sink is opened for.
	Subcarriers int
	// Source labels database sessions.
	Source string

	DB    *db.DB
	Clock timeutil.Clock
}

// Open creates a sink and returns it with a name for the caller: the file
// path or the session ID.
func (r *Recordings) Open(req RecordingRequest) (RecordingSink, string, error) {
	format := req.Format
	if format == "" {
		format = r.Format
	}
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	if format == config.FormatSQLite {
		if r.DB == nil {
			return nil, "", ErrNoDatabase
		}
		s, err := r.DB.StartSession(r.Source, r.Subcarriers, clock.Now())
		if err != nil {
			return nil, "", err
		}
		return s, s.ID(), nil
	}

	f, err := recorder.ParseFormat(format)
	if err != nil {
		return nil, "", err
	}
	dir := r.Dir
	if dir == "" {
		dir = "."
	}
	path := dir
	if req.File != "" {
		path, err = security.ResolveWithin(dir, req.File)
		if err != nil {
			return nil, "", fmt.Errorf("invalid recording file: %w", err)
		}
	}
	rec, err := recorder.Open(path, f, r.Subcarriers, clock.Now())
	if err != nil {
		return nil, "", err
	}
	return rec, rec.Name(), nil
}
