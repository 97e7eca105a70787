package updates

import (
	"sync"

	"go.uber.org/zap"

	"github.com/doccomply/backend/pkg/logger"
)

// Event mirrors a run or step state transition. Step is nil for
// run-level transitions.
type Event struct {
	Status  string         `json:"status"`
	Step    *string        `json:"step"`
	Payload map[string]any `json:"payload"`
}

const subscriberBuffer = 16

type Subscriber struct {
	ch     chan Event
	closed bool
}

// Events returns the subscriber's receive channel. It is closed when the
// subscriber is pruned or unsubscribed.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Broadcaster fans out run state transitions to live subscribers.
// Publishing is best-effort: it never blocks the pipeline, and there is
// no replay for late joiners.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string]map[*Subscriber]struct{}
}

func New() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]map[*Subscriber]struct{}),
	}
}

func (b *Broadcaster) Subscribe(runID string) *Subscriber {
	sub := &Subscriber{ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subscribers[runID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		b.subscribers[runID] = set
	}
	set[sub] = struct{}{}

	return sub
}

func (b *Broadcaster) Unsubscribe(runID string, sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(runID, sub)
}

// Publish delivers an event to every current subscriber for the run.
// A subscriber that cannot keep up has its channel closed and is removed;
// the send never blocks.
func (b *Broadcaster) Publish(runID string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.subscribers[runID]
	if len(set) == 0 {
		return
	}

	var stale []*Subscriber
	for sub := range set {
		select {
		case sub.ch <- event:
		default:
			stale = append(stale, sub)
		}
	}

	for _, sub := range stale {
		b.remove(runID, sub)
		logger.Debug("Pruned slow run subscriber", zap.String("run_id", runID))
	}
}

// SubscriberCount reports the current number of subscribers for a run.
func (b *Broadcaster) SubscriberCount(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[runID])
}

func (b *Broadcaster) remove(runID string, sub *Subscriber) {
	set := b.subscribers[runID]
	if set == nil {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}

	delete(set, sub)
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	if len(set) == 0 {
		delete(b.subscribers, runID)
	}
}
