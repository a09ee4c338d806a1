/*
Package fanout implements the in-process fan-out index that multiplexes
upstream messages to live subscribers by asset key.

The registry maps each asset UUID to the ordered list of bounded subscriber
queues currently interested in it. Connections subscribe and unsubscribe on
the serving side; the dispatcher publishes from its background goroutine.

# Architecture

	┌────────────────── FAN-OUT REGISTRY ──────────────────┐
	│                                                        │
	│  dispatcher goroutine          connection handlers     │
	│        │                              │                │
	│        │ Publish(asset, payload)      │ Subscribe      │
	│        ▼                              ▼ Unsubscribe    │
	│  ┌─────────────────────────────────────────────┐      │
	│  │  asset UUID → [queue, queue, ...]            │      │
	│  │  (mutex-guarded index; per-key snapshot      │      │
	│  │   taken before enqueueing)                   │      │
	│  └─────────────────────────────────────────────┘      │
	│        │                                               │
	│        ▼                                               │
	│  bounded queues (one per live SSE connection)          │
	└────────────────────────────────────────────────────────┘

# Concurrency

Structural mutation (subscribe/unsubscribe) is serialised against index
reads by a mutex. Publish copies the per-key queue list under the read lock
and enqueues without holding it, so a slow subscriber never blocks
subscription changes on other keys.

# Backpressure

Queues are bounded (QUEUE_MAXSIZE). Under the default block policy a full
queue stalls Publish — and with it the dispatcher's offset commit — until
the subscriber drains or the registry closes. The drop policy
(QUEUE_FULL_POLICY=drop) skips full queues instead.

# Ownership

A queue is owned by the connection that subscribed it: only the owner
unsubscribes, the dispatcher only enqueues. Empty asset keys are removed
from the index on the last unsubscribe.
*/
package fanout
