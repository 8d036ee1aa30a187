// Package bus implements the in-process event bus: ordered, replayable,
// partitioned delivery with independent consumer offsets. Each topic keeps
// a bounded append log; events for one partition key are delivered to
// every consumer in publish order. Producers never wait on consumers — a
// lagging consumer catches up from its own offset, and one that falls out
// of the retained window resumes from the oldest retained entry.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/paperdesk/venue-engine/internal/metrics"
	"github.com/paperdesk/venue-engine/internal/model"
)

// ErrClosed is returned when publishing to a closed bus.
var ErrClosed = errors.New("bus: closed")

// DefaultRetention is the per-topic log bound when none is configured.
const DefaultRetention = 4096

// Bus routes envelopes between producers and consumers.
type Bus struct {
	retention int

	mu     sync.RWMutex
	topics map[string]*topic
	closed atomic.Bool
}

// New creates a bus retaining up to retention entries per topic.
func New(retention int) *Bus {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Bus{
		retention: retention,
		topics:    make(map[string]*topic),
	}
}

type topic struct {
	name      string
	retention int

	mu       sync.Mutex
	log      []model.Envelope
	firstSeq uint64 // seq of log[0]
	nextSeq  uint64
	subs     []*Subscription
}

func (b *Bus) topicFor(name string) *topic {
	b.mu.RLock()
	t, ok := b.topics[name]
	b.mu.RUnlock()
	if ok {
		return t
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok = b.topics[name]; ok {
		return t
	}
	t = &topic{name: name, retention: b.retention, firstSeq: 1, nextSeq: 1}
	b.topics[name] = t
	return t
}

// Publish appends the envelope to the topic log and wakes consumers. It
// assigns and returns the topic sequence number and never blocks on
// consumer progress.
func (b *Bus) Publish(topicName string, env model.Envelope) (uint64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	t := b.topicFor(topicName)

	t.mu.Lock()
	env.Seq = t.nextSeq
	t.nextSeq++
	t.log = append(t.log, env)
	if len(t.log) > t.retention {
		drop := len(t.log) - t.retention
		t.log = t.log[drop:]
		t.firstSeq += uint64(drop)
	}
	subs := t.subs
	t.mu.Unlock()

	for _, s := range subs {
		s.wakeUp()
	}
	return env.Seq, nil
}

// Subscribe registers a named consumer on the topic, positioned at the
// oldest retained entry so it can replay the retained log.
func (b *Bus) Subscribe(topicName, consumer string) *Subscription {
	t := b.topicFor(topicName)

	s := &Subscription{
		t:        t,
		consumer: consumer,
		wake:     make(chan struct{}, 1),
	}
	t.mu.Lock()
	s.offset = t.firstSeq
	t.subs = append(t.subs, s)
	t.mu.Unlock()
	return s
}

// Close stops the bus from accepting further publishes and wakes all
// consumers so their Run loops can observe cancellation promptly.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, t := range b.topics {
		t.mu.Lock()
		subs := t.subs
		t.mu.Unlock()
		for _, s := range subs {
			s.wakeUp()
		}
	}
}

// Subscription is one consumer's position on a topic. Each consumer owns
// its offset independently; a slow consumer bounds its backlog at the
// topic retention and never stalls producers.
type Subscription struct {
	t        *topic
	consumer string
	wake     chan struct{}

	mu      sync.Mutex
	offset  uint64
	dropped uint64
}

func (s *Subscription) wakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// poll returns up to max pending envelopes and advances the offset. If
// the consumer lagged past retention, it resumes from the oldest retained
// entry and counts the skipped events as dropped.
func (s *Subscription) poll(max int) []model.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.mu.Lock()
	defer s.t.mu.Unlock()

	if s.offset < s.t.firstSeq {
		gap := s.t.firstSeq - s.offset
		s.dropped += gap
		s.offset = s.t.firstSeq
		metrics.BusDropped.WithLabelValues(s.consumer).Add(float64(gap))
	}
	start := int(s.offset - s.t.firstSeq)
	if start >= len(s.t.log) {
		return nil
	}
	end := len(s.t.log)
	if max > 0 && start+max < end {
		end = start + max
	}
	batch := make([]model.Envelope, end-start)
	copy(batch, s.t.log[start:end])
	s.offset += uint64(len(batch))
	return batch
}

// Run delivers envelopes to handler in order until the context is done.
// Handler errors are the consumer's own policy; Run keeps delivering.
func (s *Subscription) Run(ctx context.Context, handler func(model.Envelope)) {
	for {
		batch := s.poll(256)
		metrics.ConsumerLag.WithLabelValues(s.consumer).Set(float64(s.Lag()))
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}
		for _, env := range batch {
			select {
			case <-ctx.Done():
				return
			default:
			}
			handler(env)
		}
	}
}

// Lag returns how many retained entries the consumer is behind the head.
func (s *Subscription) Lag() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.mu.Lock()
	defer s.t.mu.Unlock()

	offset := s.offset
	if offset < s.t.firstSeq {
		offset = s.t.firstSeq
	}
	return int(s.t.nextSeq - offset)
}

// Dropped returns how many events this consumer missed by lagging past
// the retention window.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Consumer returns the consumer name given at subscription.
func (s *Subscription) Consumer() string { return s.consumer }
