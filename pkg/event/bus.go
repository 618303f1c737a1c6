package event

import (
	"sync"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	fluxmetrics "github.com/fluxcd/watchdog/pkg/metrics"
)

var queueLength = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
	Namespace: "watchdog",
	Subsystem: "event",
	Name:      "queue_length_count",
	Help:      "Count of events waiting to be handled, summed over subscribers of the same name.",
}, []string{fluxmetrics.LabelSubscriber})

// Bus broadcasts events to any number of subscribers. Publishing never
// blocks: each subscriber has its own unbounded queue, drained in
// order by its own goroutine, so a slow handler only delays itself.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
	wg     sync.WaitGroup
}

func NewBus() *Bus {
	return &Bus{subs: map[int]*subscriber{}}
}

type subscriber struct {
	name    string
	handle  Handler
	mu      sync.Mutex
	cond    *sync.Cond
	waiting []Event
	queued  uint64
	handled uint64
	ready   chan struct{} // `1` so that push doesn't block
	stop    chan struct{}
}

// Subscribe registers a handler for all events published from now
// on. The returned func removes the subscription; events already
// queued for it are still handled. The name labels the queue length
// metric, so it should come from a small fixed set.
func (b *Bus) Subscribe(name string, h Handler) (unsubscribe func()) {
	s := &subscriber{
		name:   name,
		handle: h,
		ready:  make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.wg.Add(1)
	go s.loop(&b.wg)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.stop)
		})
	}
}

// Publish queues the event for every current subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.push(e)
	}
}

// Flush blocks until every event published before the call has been
// handled by every subscriber.
func (b *Bus) Flush() {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.flush()
	}
}

// Close stops all subscribers once they have handled what is queued,
// and waits for them.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.stop)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (s *subscriber) push(e Event) {
	s.mu.Lock()
	s.waiting = append(s.waiting, e)
	s.queued++
	queueLength.With(fluxmetrics.LabelSubscriber, s.name).Add(1)
	s.mu.Unlock()
	select {
	case s.ready <- struct{}{}:
	default:
		// already signalled
	}
}

func (s *subscriber) flush() {
	s.mu.Lock()
	target := s.queued
	for s.handled < target {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

func (s *subscriber) loop(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-s.ready:
			s.drain()
		case <-s.stop:
			s.drain()
			return
		}
	}
}

func (s *subscriber) drain() {
	for {
		s.mu.Lock()
		if len(s.waiting) == 0 {
			s.mu.Unlock()
			return
		}
		e := s.waiting[0]
		s.waiting = s.waiting[1:]
		queueLength.With(fluxmetrics.LabelSubscriber, s.name).Add(-1)
		s.mu.Unlock()

		s.handle(e)

		s.mu.Lock()
		s.handled++
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}
