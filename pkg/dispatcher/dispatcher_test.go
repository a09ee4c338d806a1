package dispatcher

import (
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfactoryio/serving-layer/pkg/fanout"
)

// fakeConsumer feeds events to the dispatcher and records commits.
type fakeConsumer struct {
	mu       sync.Mutex
	events   chan kafka.Event
	commits  []kafka.Offset
	assigned []kafka.TopicPartition
	closed   bool
}

func newFakeConsumer() *fakeConsumer {
	topic := "asset_stream_wc1_topic"
	return &fakeConsumer{
		events:   make(chan kafka.Event, 16),
		assigned: []kafka.TopicPartition{{Topic: &topic, Partition: 0}},
	}
}

func (f *fakeConsumer) Poll(timeoutMs int) kafka.Event {
	select {
	case ev := <-f.events:
		return ev
	case <-time.After(5 * time.Millisecond):
		return nil
	}
}

func (f *fakeConsumer) Assignment() ([]kafka.TopicPartition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assigned, nil
}

func (f *fakeConsumer) CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, m.TopicPartition.Offset)
	return []kafka.TopicPartition{m.TopicPartition}, nil
}

func (f *fakeConsumer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConsumer) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commits)
}

func message(key, value string, offset kafka.Offset) *kafka.Message {
	topic := "asset_stream_wc1_topic"
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0, Offset: offset},
		Key:            []byte(key),
		Value:          []byte(value),
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDispatch_FanOutThenCommit(t *testing.T) {
	registry := fanout.NewRegistry(10, fanout.PolicyBlock)
	defer registry.Close()
	consumer := newFakeConsumer()

	q := registry.Subscribe("A")

	d := New(consumer, registry)
	d.Start()
	defer d.Stop()

	consumer.events <- message("A", `{"id":"temp","v":22}`, 5)

	select {
	case payload := <-q.C():
		assert.Equal(t, `{"id":"temp","v":22}`, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("payload not fanned out")
	}

	waitFor(t, func() bool { return consumer.commitCount() == 1 }, "offset not committed after fan-out")
	assert.Equal(t, kafka.Offset(5), consumer.commits[0])
}

func TestDispatch_ZeroSubscribersStillCommits(t *testing.T) {
	registry := fanout.NewRegistry(10, fanout.PolicyBlock)
	defer registry.Close()
	consumer := newFakeConsumer()

	d := New(consumer, registry)
	d.Start()
	defer d.Stop()

	consumer.events <- message("nobody-listens", "payload", 7)

	waitFor(t, func() bool { return consumer.commitCount() == 1 }, "zero-subscriber message must be committed")
}

func TestDispatch_InvalidKeyIsSkippedWithoutCommit(t *testing.T) {
	registry := fanout.NewRegistry(10, fanout.PolicyBlock)
	defer registry.Close()
	consumer := newFakeConsumer()

	d := New(consumer, registry)
	d.Start()
	defer d.Stop()

	consumer.events <- &kafka.Message{Key: []byte{0xff, 0xfe}, Value: []byte("v")}
	consumer.events <- message("A", "good", 9)

	// The good message commits; the broken one never does.
	waitFor(t, func() bool { return consumer.commitCount() == 1 }, "valid message not committed")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, consumer.commitCount())
	assert.Equal(t, kafka.Offset(9), consumer.commits[0])
}

func TestDispatch_CommitWaitsForSlowSubscriber(t *testing.T) {
	registry := fanout.NewRegistry(1, fanout.PolicyBlock)
	defer registry.Close()
	consumer := newFakeConsumer()

	q := registry.Subscribe("A")

	d := New(consumer, registry)
	d.Start()
	defer d.Stop()

	consumer.events <- message("A", "m1", 1)
	consumer.events <- message("A", "m2", 2)

	// m1 fills the queue and commits; m2 blocks in fan-out until the
	// subscriber drains, so its offset must stay uncommitted.
	waitFor(t, func() bool { return consumer.commitCount() == 1 }, "first message not committed")
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 1, consumer.commitCount())

	assert.Equal(t, "m1", <-q.C())
	waitFor(t, func() bool { return consumer.commitCount() == 2 }, "second message not committed after drain")
	assert.Equal(t, "m2", <-q.C())
}

func TestStop_ClosesConsumer(t *testing.T) {
	registry := fanout.NewRegistry(10, fanout.PolicyBlock)
	defer registry.Close()
	consumer := newFakeConsumer()

	d := New(consumer, registry)
	d.Start()
	d.Stop()

	consumer.mu.Lock()
	closed := consumer.closed
	consumer.mu.Unlock()
	assert.True(t, closed)

	ready, msg := d.Ready()
	assert.False(t, ready)
	assert.Contains(t, msg, "not running")
}

func TestReady(t *testing.T) {
	registry := fanout.NewRegistry(10, fanout.PolicyBlock)
	defer registry.Close()
	consumer := newFakeConsumer()

	d := New(consumer, registry)

	ready, msg := d.Ready()
	assert.False(t, ready)
	assert.Contains(t, msg, "not running")

	d.Start()
	defer d.Stop()
	waitFor(t, func() bool { ok, _ := d.Ready(); return ok }, "dispatcher should report ready")

	consumer.mu.Lock()
	consumer.assigned = nil
	consumer.mu.Unlock()

	ready, msg = d.Ready()
	assert.False(t, ready)
	assert.Contains(t, msg, "no assigned partitions")
}
