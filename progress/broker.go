package progress

import (
	"sync"
	"time"

	"github.com/hupe1980/applyforge/core"
	"github.com/hupe1980/applyforge/logging"
)

// BrokerOptions configures a Broker.
type BrokerOptions struct {
	// SubscriberBuffer is each subscription channel's extra capacity
	// beyond the replayed history. A subscriber that falls further
	// behind loses events, never blocks the publisher.
	SubscriberBuffer int

	// Logger receives broker diagnostics; defaults to NoOpLogger.
	Logger logging.Logger
}

// Broker fans one run's events out to any number of subscribers. Late
// subscribers get the full history replayed before live events; every
// subscription is closed after the run's terminal event. Finished runs
// stay replayable until Prune removes them.
type Broker struct {
	subBuffer int
	logger    logging.Logger

	mu   sync.Mutex
	runs map[string]*runStream
}

type runStream struct {
	history    []core.ProgressEvent
	subs       map[int]chan core.ProgressEvent
	nextSub    int
	finished   bool
	finishedAt time.Time
}

// NewBroker creates an empty broker.
func NewBroker(optFns ...func(o *BrokerOptions)) *Broker {
	opts := BrokerOptions{
		SubscriberBuffer: 64,
		Logger:           logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.SubscriberBuffer < 1 {
		opts.SubscriberBuffer = 64
	}

	return &Broker{
		subBuffer: opts.SubscriberBuffer,
		logger:    opts.Logger,
		runs:      make(map[string]*runStream),
	}
}

// Register announces a run before its first event so subscribers can
// attach immediately. Publishing to an unregistered run registers it.
func (b *Broker) Register(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamLocked(runID)
}

// Publish forwards one event to every subscriber of its run and appends
// it to the replay history. The terminal event closes all subscriptions.
func (b *Broker) Publish(ev core.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs := b.streamLocked(ev.RunID)
	if rs.finished {
		return
	}

	rs.history = append(rs.history, ev)

	for id, ch := range rs.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("subscriber %d of run %s is behind, dropped event %d", id, ev.RunID, ev.Seq)
		}
	}

	if ev.IsTerminal() {
		rs.finished = true
		rs.finishedAt = time.Now().UTC()
		for _, ch := range rs.subs {
			close(ch)
		}
		rs.subs = map[int]chan core.ProgressEvent{}
	}
}

// Subscribe attaches to a run's stream: the full history so far is
// replayed first, then live events until the terminal one closes the
// channel. The returned cancel func detaches early; calling it after the
// run finished is a no-op. ok is false for runs the broker has never
// seen.
func (b *Broker) Subscribe(runID string) (events <-chan core.ProgressEvent, cancel func(), ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs, exists := b.runs[runID]
	if !exists {
		return nil, nil, false
	}

	ch := make(chan core.ProgressEvent, len(rs.history)+b.subBuffer)
	for _, ev := range rs.history {
		ch <- ev
	}

	if rs.finished {
		close(ch)
		return ch, func() {}, true
	}

	id := rs.nextSub
	rs.nextSub++
	rs.subs[id] = ch

	cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, live := rs.subs[id]; live {
			delete(rs.subs, id)
			close(ch)
		}
	}

	return ch, cancel, true
}

// Prune drops finished runs older than maxAge and returns how many were
// removed. Active runs are never pruned.
func (b *Broker) Prune(maxAge time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for runID, rs := range b.runs {
		if rs.finished && !rs.finishedAt.After(cutoff) {
			delete(b.runs, runID)
			removed++
		}
	}
	return removed
}

// streamLocked returns the run's stream, creating it on first use;
// callers hold b.mu.
func (b *Broker) streamLocked(runID string) *runStream {
	rs, exists := b.runs[runID]
	if !exists {
		rs = &runStream{subs: map[int]chan core.ProgressEvent{}}
		b.runs[runID] = rs
	}
	return rs
}
