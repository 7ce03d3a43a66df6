package db

import (
	"sync"

	"github.com/banshee-data/magmon/internal/monitoring"
)

// Recorder archives every batch it is handed under one session id. It
// satisfies acquire.Feed. Insert failures are logged and counted; they never
// stop acquisition.
type Recorder struct {
	db        *DB
	sessionID string

	mu       sync.Mutex
	failures int
	firstErr error
	stored   int
}

func NewRecorder(db *DB, sessionID string) *Recorder {
	return &Recorder{db: db, sessionID: sessionID}
}

func (r *Recorder) OnBatch(offset int, x, y, z []float64) {
	err := r.db.InsertSamples(r.sessionID, offset, x, y, z)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failures++
		if r.firstErr == nil {
			r.firstErr = err
			monitoring.Logf("[db] archiving batch at %d failed: %v", offset, err)
		}
		return
	}
	r.stored += len(x)
}

// Stored is the number of samples written so far.
func (r *Recorder) Stored() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stored
}

// Failures returns how many batches failed and the first failure.
func (r *Recorder) Failures() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures, r.firstErr
}
