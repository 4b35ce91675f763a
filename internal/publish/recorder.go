package publish

import (
	"context"
	"sync"
)

// Recorder is an in-memory Publisher. Failures can be injected per account.
type Recorder struct {
	mu       sync.Mutex
	payloads []Payload
	failures map[string]error
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{failures: make(map[string]error)}
}

// FailAccount makes every publish for accountID return err. A nil err
// clears the failure.
func (r *Recorder) FailAccount(accountID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, accountID)
		return
	}
	r.failures[accountID] = err
}

func (r *Recorder) Publish(ctx context.Context, p Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[p.AccountID]; err != nil {
		return err
	}
	r.payloads = append(r.payloads, p)
	return nil
}

// Payloads returns everything published so far.
func (r *Recorder) Payloads() []Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Payload(nil), r.payloads...)
}

// ForAccount returns the payloads published for one account.
func (r *Recorder) ForAccount(accountID string) []Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Payload
	for _, p := range r.payloads {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out
}
