package acquire

import (
	"time"

	"github.com/banshee-data/magmon/internal/packet"
)

// State is the session lifecycle position.
type State int32

const (
	Idle State = iota
	Configured
	Running
	Stopped
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Closed:
		return "closed"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type EventKind int

const (
	EventSample     EventKind = iota // one validated packet
	EventBatch                       // one batch appended to the store
	EventConnection                  // DSR changed
	EventState                       // lifecycle transition
	EventFault                       // session aborted
)

func (k EventKind) String() string {
	switch k {
	case EventSample:
		return "sample"
	case EventBatch:
		return "batch"
	case EventConnection:
		return "connection"
	case EventState:
		return "state"
	case EventFault:
		return "fault"
	}
	return "unknown"
}

// Event is a UI notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind      EventKind
	Time      time.Time
	Index     int           // EventSample: sample number
	Sample    packet.Sample // EventSample
	Offset    int           // EventBatch: index of the first sample
	Count     int           // EventBatch: samples appended
	Connected bool          // EventConnection
	State     State         // EventState
	Err       error         // EventFault
}

// Stats is a snapshot of the receiver indicators.
type Stats struct {
	ID         string        `json:"id"`
	State      State         `json:"state"`
	Connected  bool          `json:"connected"`
	Received   int           `json:"received"`
	Visualized int           `json:"visualized"`
	Queued     int           `json:"queued"`
	Last       packet.Sample `json:"last"`
	Magnitude  float64       `json:"magnitude"`
	Min        float64       `json:"min"`
	Max        float64       `json:"max"`
	LogErrors  int           `json:"log_errors,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	StoppedAt  time.Time     `json:"stopped_at"`
	Fault      string        `json:"fault,omitempty"`
}
