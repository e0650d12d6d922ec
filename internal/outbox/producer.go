package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

// ErrMissingPartitionKey is returned for messages without a key. Enrollment
// events are keyed by activity name so one activity's changes share a partition.
var ErrMissingPartitionKey = errors.New("enrollment message has no partition key")

var producerWriteDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "activities_service",
	Subsystem: "outbox",
	Name:      "kafka_write_duration_seconds",
	Help:      "Latency of Kafka writes for enrollment events, by topic and result.",
	Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
}, []string{"topic", "result"})

func init() {
	prometheus.MustRegister(producerWriteDuration)
}

// KafkaProducer keeps one hash-balanced writer per topic.
type KafkaProducer struct {
	brokers      []string
	batchTimeout time.Duration

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer. Enrollment traffic is light, so
// writers flush after a short batch timeout instead of kafka-go's one second.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{
		brokers:      brokers,
		batchTimeout: 50 * time.Millisecond,
		writers:      make(map[string]*kafka.Writer),
	}
}

// WriteMessages writes keyed messages to topic.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	for i, msg := range msgs {
		if len(msg.Key) == 0 {
			return fmt.Errorf("message %d for %s: %w", i, topic, ErrMissingPartitionKey)
		}
	}

	start := time.Now()
	err := p.writerFor(topic).WriteMessages(ctx, msgs...)
	result := "ok"
	if err != nil {
		result = "error"
	}
	producerWriteDuration.WithLabelValues(topic, result).Observe(time.Since(start).Seconds())
	return err
}

func (p *KafkaProducer) writerFor(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: p.batchTimeout,
		Compression:  kafka.Snappy,
	}
	p.writers[topic] = w
	return w
}

// Close flushes and closes every writer, returning all close errors.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s writer: %w", topic, err))
		}
		delete(p.writers, topic)
	}
	return errors.Join(errs...)
}
