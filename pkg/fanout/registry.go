package fanout

import (
	"sync"

	"github.com/google/uuid"

	"github.com/openfactoryio/serving-layer/pkg/metrics"
)

// Policy decides what happens when a subscriber queue is full.
type Policy string

const (
	// PolicyBlock blocks the publisher until the subscriber drains its
	// queue. This stalls fan-out for that message and hence the offset
	// commit, trading throughput for no-drop delivery.
	PolicyBlock Policy = "block"

	// PolicyDrop discards the payload for the full queue and moves on.
	PolicyDrop Policy = "drop"
)

// Queue is a bounded FIFO of payloads owned by one subscriber connection.
// Only the owning connection unsubscribes it; the dispatcher only enqueues.
type Queue struct {
	id    uuid.UUID
	asset string
	ch    chan string
}

// C returns the receive side of the queue.
func (q *Queue) C() <-chan string {
	return q.ch
}

// Asset returns the asset key the queue is registered under.
func (q *Queue) Asset() string {
	return q.asset
}

// Registry is the fan-out index mapping asset UUIDs to the subscriber
// queues currently interested in them. Structural mutation is serialised
// by a mutex; publishing iterates a per-key snapshot so no lock is held
// across enqueues.
type Registry struct {
	mu        sync.RWMutex
	subs      map[string][]*Queue
	queueSize int
	policy    Policy
	closed    chan struct{}
	closeOnce sync.Once
}

// NewRegistry creates a fan-out registry with the given per-subscriber
// queue bound and queue-full policy.
func NewRegistry(queueSize int, policy Policy) *Registry {
	return &Registry{
		subs:      make(map[string][]*Queue),
		queueSize: queueSize,
		policy:    policy,
		closed:    make(chan struct{}),
	}
}

// Subscribe registers a new bounded queue under the asset key and returns
// it. The caller owns the queue and must Unsubscribe it on every exit path.
func (r *Registry) Subscribe(asset string) *Queue {
	q := &Queue{
		id:    uuid.New(),
		asset: asset,
		ch:    make(chan string, r.queueSize),
	}

	r.mu.Lock()
	r.subs[asset] = append(r.subs[asset], q)
	r.mu.Unlock()

	metrics.SubscribersActive.Inc()
	return q
}

// Unsubscribe removes the queue from the index. The asset entry is deleted
// once its last queue is gone. Safe to call more than once.
func (r *Registry) Unsubscribe(q *Queue) {
	r.mu.Lock()
	defer r.mu.Unlock()

	queues := r.subs[q.asset]
	for i, candidate := range queues {
		if candidate.id == q.id {
			queues = append(queues[:i], queues[i+1:]...)
			metrics.SubscribersActive.Dec()
			break
		}
	}
	if len(queues) == 0 {
		delete(r.subs, q.asset)
		return
	}
	r.subs[q.asset] = queues
}

// Publish enqueues the payload on every queue registered for the asset at
// call time. It returns the number of successful deliveries and whether
// fan-out ran to completion. With the block policy a full queue stalls the
// call until the subscriber drains or the registry closes (the only case
// reporting incomplete fan-out); with the drop policy full queues are
// skipped but fan-out still completes.
func (r *Registry) Publish(asset, payload string) (int, bool) {
	r.mu.RLock()
	queues := make([]*Queue, len(r.subs[asset]))
	copy(queues, r.subs[asset])
	r.mu.RUnlock()

	delivered := 0
	for _, q := range queues {
		switch r.policy {
		case PolicyDrop:
			select {
			case q.ch <- payload:
				delivered++
				metrics.PayloadsDelivered.Inc()
			default:
				metrics.PayloadsDropped.Inc()
			}
		default:
			select {
			case q.ch <- payload:
				delivered++
				metrics.PayloadsDelivered.Inc()
			case <-r.closed:
				return delivered, false
			}
		}
	}
	return delivered, true
}

// Subscribers returns the number of queues registered for the asset.
func (r *Registry) Subscribers(asset string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[asset])
}

// Assets returns the asset keys with at least one subscriber.
func (r *Registry) Assets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	assets := make([]string, 0, len(r.subs))
	for asset := range r.subs {
		assets = append(assets, asset)
	}
	return assets
}

// Close unblocks publishers waiting on full queues. Used at dispatcher
// shutdown.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.closed)
	})
}
