// Package status exposes job-state transitions to external callers as an
// ordered event stream.
//
// The contract is transport-agnostic: a subscriber first receives a
// "connected" acknowledgment, then the job's current state, then one
// "status" event per transition, and exactly one terminal "complete" event
// carrying the receipt summary (or failure cause) right before the stream
// closes. A subscriber cancelling never affects the job's execution.
package status

import (
	"sync"
	"time"

	"github.com/veridoc/receipt-ocr-service/internal/models"
)

// Event is one entry in a job's status stream.
type Event struct {
	Type   string          `json:"type"` // "connected", "status", "complete"
	Status models.JobState `json:"status,omitempty"`
	Data   any             `json:"data,omitempty"`
}

// CompleteData is the terminal event payload.
type CompleteData struct {
	Receipt *models.ReconciledReceipt `json:"receipt,omitempty"`
	Error   string                    `json:"error,omitempty"`
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// close is idempotent; cancel and terminal publish may race.
func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// send never blocks the publisher on a slow consumer: a subscriber that
// cannot keep up within its buffer loses intermediate events but still
// observes the rest in order.
func (s *subscriber) send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
	}
}

// sendFinal delivers the terminal event no matter how full the buffer is,
// discarding the oldest buffered event until there is room. The stream may
// lose intermediate events under pressure but never its ending.
func (s *subscriber) sendFinal(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

// terminalRetention covers the window between a caller reading its job
// snapshot and registering with Subscribe. Beyond it, late subscribers get
// their replay from the persistence layer, which already holds the terminal
// state.
const terminalRetention = time.Minute

// Publisher fans job transitions out to any number of per-job subscribers.
// Job state itself is owned by the persistence layer; the publisher only
// relays transitions it is told about.
type Publisher struct {
	mu   sync.Mutex
	subs map[string][]*subscriber
	done map[string]*models.Job // recently finished jobs, for stale snapshots
}

// NewPublisher creates an empty hub.
func NewPublisher() *Publisher {
	return &Publisher{
		subs: make(map[string][]*subscriber),
		done: make(map[string]*models.Job),
	}
}

// Subscribe attaches to a job's stream. The snapshot is the job's state as
// the caller last read it; it seeds the connected and status events. A
// snapshot can be stale — the job may have gone terminal between the
// caller's read and registration here — so terminal jobs are checked against
// the retained snapshots under the same lock that PublishTerminal takes. If
// the job is terminal either way, the full replay (connected, status,
// complete) is buffered and the stream closed immediately. The returned
// cancel func detaches the subscriber at any time; it is safe to call more
// than once.
func (p *Publisher) Subscribe(snapshot *models.Job) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, 16)}
	sub.send(Event{Type: "connected"})

	p.mu.Lock()
	if finished, ok := p.done[snapshot.ID]; ok && !snapshot.State.Terminal() {
		snapshot = finished
	}
	if snapshot.State.Terminal() {
		p.mu.Unlock()
		sub.send(Event{Type: "status", Status: snapshot.State})
		sub.send(completeEvent(snapshot))
		sub.close()
		return sub.ch, func() {}
	}
	sub.send(Event{Type: "status", Status: snapshot.State})
	p.subs[snapshot.ID] = append(p.subs[snapshot.ID], sub)
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		list := p.subs[snapshot.ID]
		for i, s := range list {
			if s == sub {
				p.subs[snapshot.ID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		p.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel
}

// PublishState relays a non-terminal transition to the job's subscribers.
func (p *Publisher) PublishState(jobID string, state models.JobState) {
	p.mu.Lock()
	list := append([]*subscriber(nil), p.subs[jobID]...)
	p.mu.Unlock()

	ev := Event{Type: "status", Status: state}
	for _, sub := range list {
		sub.send(ev)
	}
}

// PublishTerminal relays the one terminal transition: a final status event,
// the complete event, then stream close for every subscriber. The terminal
// snapshot is retained briefly so a Subscribe racing this call still gets
// its replay instead of a stream that never ends.
func (p *Publisher) PublishTerminal(job *models.Job) {
	p.mu.Lock()
	list := p.subs[job.ID]
	delete(p.subs, job.ID)
	p.done[job.ID] = job
	p.mu.Unlock()

	time.AfterFunc(terminalRetention, func() {
		p.mu.Lock()
		delete(p.done, job.ID)
		p.mu.Unlock()
	})

	ev := completeEvent(job)
	for _, sub := range list {
		sub.send(Event{Type: "status", Status: job.State})
		sub.sendFinal(ev)
		sub.close()
	}
}

func completeEvent(job *models.Job) Event {
	return Event{
		Type:   "complete",
		Status: job.State,
		Data: CompleteData{
			Receipt: job.Receipt,
			Error:   job.Error,
		},
	}
}
