// Package traces publishes run spans to Kafka.
package traces

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "drok.traces"

// Envelope wraps every published payload.
type Envelope struct {
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Options configures a Publisher.
type Options struct {
	Brokers []string
	Topic   string
	// Source names this gateway in envelopes.
	Source       string
	WriteTimeout time.Duration
}

// Publisher writes JSON envelopes to a Kafka topic. A Publisher with no
// brokers is inactive and drops everything.
type Publisher struct {
	w       messageWriter
	topic   string
	source  string
	timeout time.Duration
}

// NewPublisher creates a publisher. It does not dial until the first write.
func NewPublisher(opts Options) *Publisher {
	brokers := make([]string, 0, len(opts.Brokers))
	for _, b := range opts.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	topic := opts.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	timeout := opts.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	p := &Publisher{topic: topic, source: opts.Source, timeout: timeout}
	if len(brokers) == 0 {
		return p
	}
	p.w = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           timeout,
	}
	return p
}

// Active reports whether the publisher has brokers to write to.
func (p *Publisher) Active() bool {
	return p != nil && p.w != nil
}

// Topic returns the destination topic.
func (p *Publisher) Topic() string { return p.topic }

// Publish writes payload keyed by key, so spans of one channel stay ordered
// within a partition.
func (p *Publisher) Publish(ctx context.Context, key string, payload any) error {
	if !p.Active() {
		return nil
	}
	env := Envelope{
		Type:      "run",
		Source:    p.source,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err = p.w.WriteMessages(writeCtx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: "type", Value: []byte(env.Type)}},
		Time:    env.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("write trace to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if !p.Active() {
		return nil
	}
	return p.w.Close()
}
