package dispatcher

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/openfactoryio/serving-layer/pkg/config"
	"github.com/openfactoryio/serving-layer/pkg/fanout"
	"github.com/openfactoryio/serving-layer/pkg/log"
	"github.com/openfactoryio/serving-layer/pkg/metrics"
)

const (
	// assignmentWait caps the wait for an initial partition assignment.
	assignmentWait = 100 * time.Second

	// stopWait caps the wait for the poll loop to drain on shutdown.
	stopWait = 10 * time.Second

	// pollTimeoutMs is the blocking poll interval of the consumer loop.
	pollTimeoutMs = 1000
)

// Consumer is the upstream consumer surface the dispatcher uses. Satisfied
// by *kafka.Consumer.
type Consumer interface {
	Poll(timeoutMs int) kafka.Event
	Assignment() ([]kafka.TopicPartition, error)
	CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
	Close() error
}

// NewConsumer builds a Kafka consumer in the shared consumer group,
// starting at the latest offset with auto-commit disabled, and waits for a
// partition assignment. No assignment within the deadline is a fatal
// startup error.
func NewConsumer(cfg config.KafkaConfig) (Consumer, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Broker,
		"group.id":           cfg.ConsumerGroupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	if err := consumer.Subscribe(cfg.Topic, nil); err != nil {
		_ = consumer.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", cfg.Topic, err)
	}

	logger := log.WithComponent("dispatcher")
	logger.Info().Str("topic", cfg.Topic).Str("broker", cfg.Broker).Msg("Subscribed to upstream topic")
	logger.Info().Msg("Waiting for partition assignment")

	deadline := time.Now().Add(assignmentWait)
	for time.Now().Before(deadline) {
		consumer.Poll(100) // triggers background work
		partitions, err := consumer.Assignment()
		if err != nil {
			_ = consumer.Close()
			return nil, fmt.Errorf("failed to read partition assignment: %w", err)
		}
		if len(partitions) > 0 {
			logger.Info().Int("partitions", len(partitions)).Msg("Partitions assigned")
			return consumer, nil
		}
	}

	_ = consumer.Close()
	return nil, fmt.Errorf("failed to get partition assignment within %s", assignmentWait)
}

// Dispatcher runs one background consumer loop per serving process. It
// decodes each message key as an asset UUID, fans the value out to the
// subscriber queues registered for that asset, and commits the offset
// synchronously only after fan-out.
type Dispatcher struct {
	registry *fanout.Registry
	consumer Consumer

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu      sync.RWMutex
	running bool
}

// New creates a dispatcher over an established consumer.
func New(consumer Consumer, registry *fanout.Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		consumer: consumer,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the poll loop on a dedicated background goroutine.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()

	go d.run()
}

func (d *Dispatcher) run() {
	logger := log.WithComponent("dispatcher")
	logger.Info().Msg("Dispatcher started")

	defer func() {
		logger.Info().Msg("Closing consumer")
		if err := d.consumer.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close consumer")
		}
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		close(d.doneCh)
	}()

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		ev := d.consumer.Poll(pollTimeoutMs)
		if ev == nil {
			continue
		}

		switch msg := ev.(type) {
		case *kafka.Message:
			d.dispatch(msg)
		case kafka.Error:
			// The client handles reconnection itself; broker churn is
			// only worth a log line.
			logger.Warn().Str("error", msg.String()).Msg("Kafka error event")
		}
	}
}

// dispatch fans one message out and commits its offset synchronously.
// Messages with an undecodable key or value are skipped without commit so
// they replay on restart. Messages for assets with zero subscribers are
// dropped and still committed.
func (d *Dispatcher) dispatch(msg *kafka.Message) {
	metrics.MessagesPolled.Inc()

	if !utf8.Valid(msg.Key) || !utf8.Valid(msg.Value) {
		metrics.MessagesSkipped.WithLabelValues("decode").Inc()
		log.WithComponent("dispatcher").Error().Msg("Skipping message with invalid UTF-8 key or value")
		return
	}

	assetUUID := string(msg.Key)
	_, complete := d.registry.Publish(assetUUID, string(msg.Value))
	if !complete {
		// Fan-out aborted by shutdown; leave the offset uncommitted so
		// the message replays after a restart.
		return
	}

	if _, err := d.consumer.CommitMessage(msg); err != nil {
		log.WithComponent("dispatcher").Error().Err(err).Msg("Failed to commit offset")
		return
	}
	metrics.MessagesCommitted.Inc()
}

// Stop signals the poll loop to exit and waits up to the drain deadline
// for the consumer to close cleanly (triggering a group rebalance).
func (d *Dispatcher) Stop() {
	log.WithComponent("dispatcher").Info().Msg("Stop signal received")
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})

	select {
	case <-d.doneCh:
		log.WithComponent("dispatcher").Info().Msg("Dispatcher stopped")
	case <-time.After(stopWait):
		log.WithComponent("dispatcher").Warn().Msg("Dispatcher did not stop within deadline, abandoning")
	}
}

// Ready reports whether the dispatcher can serve subscribers: the loop is
// running, the consumer is initialised and at least one partition is
// assigned.
func (d *Dispatcher) Ready() (bool, string) {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()

	if !running {
		return false, "dispatcher loop is not running"
	}
	if d.consumer == nil {
		return false, "Kafka consumer is not initialized"
	}
	partitions, err := d.consumer.Assignment()
	if err != nil {
		return false, fmt.Sprintf("failed to read partition assignment: %v", err)
	}
	if len(partitions) == 0 {
		return false, "Kafka consumer has no assigned partitions (no connection?)"
	}
	return true, "Kafka is reachable and consumer has partitions assigned"
}
