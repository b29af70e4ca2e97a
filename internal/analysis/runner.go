package analysis

import (
	"context"
	"sync"

	"motoreg-bot/internal/models"
)

// Runner runs summaries in the background, one request per key (a chat).
// Starting a new request for a key makes the older one stale: its result is
// dropped instead of delivered.
type Runner struct {
	s Summarizer

	mu     sync.Mutex
	tokens map[int64]uint64
	wg     sync.WaitGroup
}

func NewRunner(s Summarizer) *Runner {
	return &Runner{s: s, tokens: map[int64]uint64{}}
}

// Start launches the summary for key. deliver runs on the worker goroutine
// only if no newer request for key was started meanwhile.
func (r *Runner) Start(ctx context.Context, key int64, ps []models.Participant, deliver func(text string, ok bool)) {
	r.mu.Lock()
	r.tokens[key]++
	token := r.tokens[key]
	r.mu.Unlock()

	ps = append([]models.Participant(nil), ps...)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		text, ok := r.s.Summarize(ctx, ps)

		r.mu.Lock()
		current := r.tokens[key] == token
		r.mu.Unlock()
		if current {
			deliver(text, ok)
		}
	}()
}

// Cancel makes any request in flight for key stale.
func (r *Runner) Cancel(key int64) {
	r.mu.Lock()
	r.tokens[key]++
	r.mu.Unlock()
}

// Wait blocks until every started request has finished.
func (r *Runner) Wait() { r.wg.Wait() }
