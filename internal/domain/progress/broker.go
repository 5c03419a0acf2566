// Package progress fans job progress events out to interested listeners,
// decoupling the pipeline from whoever is watching it run.
package progress

import (
	"sync"

	"github.com/draftmill/draftmill/internal/domain/model"
)

// subscriber channels are buffered so publishers never block on a slow
// consumer. A full channel drops the event; consumers that must not miss
// terminal events should drain promptly.
const subscriberBuffer = 32

// Publisher is the write side of a Broker.
type Publisher interface {
	Publish(event model.ProgressEvent)
}

// NopPublisher discards every event. Useful when nothing is listening.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(model.ProgressEvent) {}

// Broker manages subscriptions for job progress events. Subscriptions are
// keyed by job id; the empty id subscribes to events from every job.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan model.ProgressEvent]struct{}
}

// NewBroker constructs an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan model.ProgressEvent]struct{}),
	}
}

// Subscribe registers a listener for the given job id ("" for all jobs) and
// returns an unsubscribe func together with the event channel. The channel
// closes on unsubscribe or StopAll.
func (b *Broker) Subscribe(jobID string) (func(), <-chan model.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan model.ProgressEvent, subscriberBuffer)
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan model.ProgressEvent]struct{})
	}
	b.subs[jobID][ch] = struct{}{}

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subscribers := b.subs[jobID]
		if subscribers == nil {
			return
		}

		if _, ok := subscribers[ch]; !ok {
			return
		}
		delete(subscribers, ch)
		drainAndClose(ch)
		if len(subscribers) == 0 {
			delete(b.subs, jobID)
		}
	}

	return unsub, ch
}

// Publish delivers an event to the subscribers of its job id and to the
// all-jobs subscribers. Delivery is non-blocking.
func (b *Broker) Publish(event model.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.send(b.subs[event.JobID], event)
	if event.JobID != "" {
		b.send(b.subs[""], event)
	}
}

// StopAll closes every subscription. The broker remains usable; later
// Subscribe calls register fresh channels.
func (b *Broker) StopAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for jobID, subscribers := range b.subs {
		for ch := range subscribers {
			drainAndClose(ch)
		}
		delete(b.subs, jobID)
	}
}

func (b *Broker) send(subscribers map[chan model.ProgressEvent]struct{}, event model.ProgressEvent) {
	for ch := range subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// drainAndClose removes any buffered events before closing the channel so
// receivers observe a closed channel immediately.
func drainAndClose(ch chan model.ProgressEvent) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}

var _ Publisher = (*Broker)(nil)
