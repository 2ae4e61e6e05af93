// Package kafkabus ships portal activity events and realtime table changes
// over Kafka so several portal instances share one audit trail and one
// approval feed.
package kafkabus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"time"

	alumni "github.com/goliatone/go-alumni"
	"github.com/goliatone/go-alumni/activitymap"
	"github.com/goliatone/go-alumni/baas"
	"github.com/goliatone/go-errors"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
)

// OriginHeader marks the instance that produced a change message.
const OriginHeader = "x-portal-origin"

// Options configures the Kafka connection.
type Options struct {
	Brokers       []string
	ActivityTopic string
	ChangeTopic   string
	GroupID       string
	Username      string
	Password      string
	TLS           bool
	InstanceID    string
	WriteTimeout  time.Duration
}

// MessageWriter is the subset of kafka.Writer used here.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is the subset of kafka.Reader used here.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewWriter returns a synchronous writer for topic.
func NewWriter(opts Options, topic string) *kafka.Writer {
	timeout := opts.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: timeout,
	}

	if opts.Username != "" || opts.TLS {
		transport := &kafka.Transport{}
		if opts.Username != "" {
			transport.SASL = plain.Mechanism{
				Username: opts.Username,
				Password: opts.Password,
			}
		}
		if opts.TLS {
			transport.TLS = &tls.Config{}
		}
		w.Transport = transport
	}
	return w
}

// NewReader returns a group reader for the change topic. Each instance must
// use its own group so every instance sees every change.
func NewReader(opts Options) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  opts.Brokers,
		GroupID:  opts.GroupID,
		Topic:    opts.ChangeTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// ActivityProducer is an alumni.ActivitySink writing events as normalized
// activity records keyed by profile id.
type ActivityProducer struct {
	writer  MessageWriter
	mapOpts []activitymap.Option
}

var _ alumni.ActivitySink = (*ActivityProducer)(nil)

// NewActivityProducer wraps writer. opts tune the normalized record.
func NewActivityProducer(writer MessageWriter, opts ...activitymap.Option) *ActivityProducer {
	return &ActivityProducer{writer: writer, mapOpts: opts}
}

// Record implements alumni.ActivitySink.
func (p *ActivityProducer) Record(ctx context.Context, event alumni.ActivityEvent) error {
	if p == nil || p.writer == nil {
		return nil
	}

	record := activitymap.Normalize(event, p.mapOpts...)
	value, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to encode activity event")
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(record.PartitionKey()),
		Value: value,
		Time:  record.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "failed to publish activity event").
			WithMetadata(map[string]any{"event_type": event.EventType})
	}
	return nil
}

// Close closes the writer.
func (p *ActivityProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// ChangeRelay forwards local table changes to the change topic. It satisfies
// the relay hook of the local platform broker.
type ChangeRelay struct {
	writer     MessageWriter
	instanceID string
}

// NewChangeRelay wraps writer. instanceID tags outgoing messages so the
// consumer of the same instance skips them.
func NewChangeRelay(writer MessageWriter, instanceID string) *ChangeRelay {
	return &ChangeRelay{writer: writer, instanceID: instanceID}
}

// Forward publishes change.
func (r *ChangeRelay) Forward(ctx context.Context, change baas.Change) error {
	value, err := json.Marshal(change)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to encode change")
	}
	return r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(change.Table),
		Value: value,
		Time:  change.OccurredAt,
		Headers: []kafka.Header{
			{Key: OriginHeader, Value: []byte(r.instanceID)},
		},
	})
}

// Close closes the writer.
func (r *ChangeRelay) Close() error {
	return r.writer.Close()
}

// Deliverer receives changes read from the topic. The local broker
// implements it.
type Deliverer interface {
	Deliver(change baas.Change)
}

// ChangeConsumer reads the change topic and hands foreign changes to a
// Deliverer.
type ChangeConsumer struct {
	reader     MessageReader
	target     Deliverer
	instanceID string
	logger     alumni.Logger
}

// NewChangeConsumer returns a consumer.
func NewChangeConsumer(reader MessageReader, target Deliverer, instanceID string, logger alumni.Logger) *ChangeConsumer {
	return &ChangeConsumer{
		reader:     reader,
		target:     target,
		instanceID: instanceID,
		logger:     logger,
	}
}

// Run reads until ctx ends. Undecodable messages are logged and skipped.
func (c *ChangeConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("change topic read failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if c.Handle(msg) {
			c.logger.Debug("relayed change delivered", "key", string(msg.Key))
		}
	}
}

// Handle decodes msg and delivers it unless it originated here. It reports
// whether the change was delivered.
func (c *ChangeConsumer) Handle(msg kafka.Message) bool {
	for _, h := range msg.Headers {
		if h.Key == OriginHeader && string(h.Value) == c.instanceID {
			return false
		}
	}

	var change baas.Change
	if err := json.Unmarshal(msg.Value, &change); err != nil {
		c.logger.Warn("discarding undecodable change", "error", err)
		return false
	}
	if change.Table == "" {
		return false
	}

	c.target.Deliver(change)
	return true
}

// Close closes the reader.
func (c *ChangeConsumer) Close() error {
	return c.reader.Close()
}
