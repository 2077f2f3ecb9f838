package stream

import (
	"time"

	"github.com/banshee-data/csistudio/internal/csi"
)

// State is the per-connection lifecycle of the orchestrator.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateDisconnected
	StateError
)

var stateNames = []string{"idle", "connecting", "streaming", "disconnected", "error"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// EventKind classifies host notifications.
type EventKind int

const (
	// EventStateChanged reports every state transition.
	EventStateChanged EventKind = iota
	// EventStreamStopped reports the end of a connection. Err is nil for a
	// clean remote close.
	EventStreamStopped
	// EventRecordingStopped reports that a recording sink failed and was
	// detached.
	EventRecordingStopped
	// EventNewSender reports the first frame from a sender MAC.
	EventNewSender
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state-changed"
	case EventStreamStopped:
		return "stream-stopped"
	case EventRecordingStopped:
		return "recording-stopped"
	case EventNewSender:
		return "new-sender"
	}
	return "unknown"
}

// Event is delivered to Config.OnEvent from the consumer goroutine.
type Event struct {
	Kind  EventKind
	State State
	Err   error
	MAC   csi.MAC
	Time  time.Time
}
