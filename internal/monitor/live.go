// Package monitor serves the receiver indicators over HTTP: live strip chart,
// latest batch table, spectrum charts and a server-sent event stream.
package monitor

import (
	"math"
	"sync"

	"github.com/google/uuid"
)

// DefaultWindow is the strip chart length in seconds.
const DefaultWindow = 10.0

// Batch is the most recent block handed over by the acquisition pipeline.
type Batch struct {
	Offset int       `json:"offset"`
	X      []float64 `json:"x"`
	Y      []float64 `json:"y"`
	Z      []float64 `json:"z"`
}

// Message is one server-sent event.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Live keeps the recent magnitude history and the latest batch, and fans
// every update out to subscribers. It satisfies acquire.Feed.
type Live struct {
	sampleRate float64
	capacity   int

	mu     sync.Mutex
	first  int // sample index of mags[0]
	mags   []float64
	latest Batch
	total  int

	subscriberMu sync.Mutex
	subscribers  map[string]chan Message
	closed       bool
}

// NewLive keeps window seconds of history at sampleRate Hz.
func NewLive(sampleRate, window float64) *Live {
	if window <= 0 {
		window = DefaultWindow
	}
	capacity := int(math.Ceil(window * sampleRate))
	if capacity < 1 {
		capacity = 1
	}
	return &Live{
		sampleRate:  sampleRate,
		capacity:    capacity,
		mags:        make([]float64, 0, capacity),
		subscribers: make(map[string]chan Message),
	}
}

func (l *Live) SampleRate() float64 { return l.sampleRate }

// Capacity is the number of magnitudes kept for the strip chart.
func (l *Live) Capacity() int { return l.capacity }

func (l *Live) OnBatch(offset int, x, y, z []float64) {
	mags := make([]float64, len(x))
	for i := range x {
		mags[i] = math.Sqrt(x[i]*x[i] + y[i]*y[i] + z[i]*z[i])
	}

	l.mu.Lock()
	if len(l.mags) == 0 {
		l.first = offset
	}
	l.mags = append(l.mags, mags...)
	if drop := len(l.mags) - l.capacity; drop > 0 {
		l.mags = append(l.mags[:0], l.mags[drop:]...)
		l.first += drop
	}
	l.latest = Batch{Offset: offset, X: x, Y: y, Z: z}
	l.total = offset + len(x)
	l.mu.Unlock()

	l.Publish(Message{Type: "batch", Data: BatchUpdate{Offset: offset, Magnitudes: mags}})
}

// BatchUpdate is the payload of a "batch" message.
type BatchUpdate struct {
	Offset     int       `json:"offset"`
	Magnitudes []float64 `json:"magnitudes"`
}

// Window returns the sample index of the first kept magnitude and a copy of
// the kept magnitudes.
func (l *Live) Window() (first int, mags []float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.first, append([]float64(nil), l.mags...)
}

// Latest returns the last batch; the zero Batch before any data.
func (l *Live) Latest() Batch {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latest
}

// Total is the number of samples seen so far.
func (l *Live) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Subscribe returns a buffered channel of messages and its id. Slow
// subscribers miss messages rather than block the feed.
func (l *Live) Subscribe() (string, chan Message) {
	id := uuid.NewString()
	ch := make(chan Message, 32)
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	if l.closed {
		close(ch)
		return id, ch
	}
	l.subscribers[id] = ch
	return id, ch
}

func (l *Live) Unsubscribe(id string) {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	if ch, ok := l.subscribers[id]; ok {
		close(ch)
		delete(l.subscribers, id)
	}
}

// Publish delivers m to every subscriber that has room for it.
func (l *Live) Publish(m Message) {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	for _, ch := range l.subscribers {
		select {
		case ch <- m:
		default:
		}
	}
}

// Close ends every subscription. Later subscribers get a closed channel.
func (l *Live) Close() {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	l.closed = true
	for id, ch := range l.subscribers {
		close(ch)
		delete(l.subscribers, id)
	}
}
