package jobs

import (
	"sync"
	"time"
)

const (
	EventProgress = "progress"
	EventStatus   = "status"

	subscriberBuffer = 32
)

// Event is a progress or status change for one job.
type Event struct {
	JobID          string    `json:"job_id"`
	Type           string    `json:"type"`
	Status         string    `json:"status,omitempty"`
	Pass           int       `json:"pass,omitempty"`
	Passes         int       `json:"passes,omitempty"`
	ElapsedSeconds int       `json:"elapsed_seconds,omitempty"`
	Percent        float64   `json:"percent"`
	Error          string    `json:"error,omitempty"`
	Time           time.Time `json:"time"`
}

// Final reports whether the event ends the job's stream.
func (e Event) Final() bool {
	if e.Type != EventStatus {
		return false
	}
	j := Job{Status: e.Status}
	return j.IsTerminal()
}

type subscriber struct {
	jobID string // empty = every job
	ch    chan Event
}

// Hub fans job events out to subscribers. Publishing never blocks: a
// subscriber that falls behind loses progress events, and a final status
// event displaces the oldest queued one instead of being dropped.
type Hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a channel of events for jobID, or for all jobs when
// jobID is empty, and a function that ends the subscription. Per-job
// channels are closed after the job's final event.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	s := &subscriber{jobID: jobID, ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				close(s.ch)
			}
		})
	}
}

func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	final := ev.Final()

	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs {
		if s.jobID != "" && s.jobID != ev.JobID {
			continue
		}
		if final {
			deliverFinal(s.ch, ev)
			if s.jobID != "" {
				delete(h.subs, s)
				close(s.ch)
			}
			continue
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
}

func deliverFinal(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
