/*
Package dispatcher implements the per-group streaming dispatcher: one
background consumer on the group's upstream topic feeding the fan-out
registry.

# Architecture

	┌──────────────── STREAMING DISPATCHER ────────────────┐
	│                                                        │
	│  Kafka topic (asset_stream_<group>_topic)              │
	│        │ Poll (dedicated goroutine,                    │
	│        │       auto-commit disabled, latest offset)    │
	│        ▼                                               │
	│  decode key → asset UUID                               │
	│        │                                               │
	│        ▼                                               │
	│  fanout.Registry.Publish(asset, value)                 │
	│        │                                               │
	│        ▼                                               │
	│  CommitMessage (synchronous, after fan-out)            │
	└────────────────────────────────────────────────────────┘

# Delivery contract

At-least-once to subscribers present at dispatch time: the offset is only
committed after the payload is enqueued on every then-registered queue for
its key. A crash between enqueue and commit replays the message on
recovery, so clients needing exactly-once must deduplicate themselves.
Messages for assets with zero subscribers are dropped and still committed.
Messages whose key or value is not valid UTF-8 are skipped without commit.

# Lifecycle

NewConsumer blocks until the broker assigns at least one partition (capped
at 100 s); no assignment is a fatal startup error. Stop signals the loop,
which closes the consumer cleanly and triggers a group rebalance; the wait
is capped at 10 s.
*/
package dispatcher
