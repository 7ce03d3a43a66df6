package acquire

// Feed receives each batch right after it is appended to the store. offset
// is the index of the first sample of the batch. The slices are copies owned
// by the callee.
//
// OnBatch runs on the consumer goroutine; a slow feed delays the next batch
// but never loses data because the queue absorbs the backlog.
type Feed interface {
	OnBatch(offset int, x, y, z []float64)
}

// FeedFunc adapts a function to Feed.
type FeedFunc func(offset int, x, y, z []float64)

func (f FeedFunc) OnBatch(offset int, x, y, z []float64) { f(offset, x, y, z) }

// MultiFeed hands every batch to each feed in order. Nil entries are skipped.
type MultiFeed []Feed

func (m MultiFeed) OnBatch(offset int, x, y, z []float64) {
	for _, f := range m {
		if f != nil {
			f.OnBatch(offset, x, y, z)
		}
	}
}

type nopFeed struct{}

func (nopFeed) OnBatch(int, []float64, []float64, []float64) {}
