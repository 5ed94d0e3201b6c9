package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	dLog "pg_listener/internal/domain/log"
	"pg_listener/internal/domain/notify"
	"pg_listener/internal/metrics"
)

const writeTimeout = 10 * time.Second

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Message is the JSON value written for each notification.
type Message struct {
	Channel    string         `json:"channel"`
	Payload    string         `json:"payload"`
	Data       map[string]any `json:"data,omitempty"`
	PID        uint32         `json:"pid"`
	ReceivedAt time.Time      `json:"received_at"`
}

// Sink forwards notifications to a Kafka topic, keyed by channel so each
// channel keeps its order within a partition.
type Sink struct {
	writer MessageWriter
	logger dLog.Logger
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
}

func New(w MessageWriter, logger dLog.Logger) *Sink {
	if logger == nil {
		logger = dLog.Nop{}
	}
	return &Sink{writer: w, logger: logger}
}

// Handle writes n synchronously. Failures are logged and counted; they never
// stop the listener.
func (s *Sink) Handle(ctx context.Context, n notify.Notification) {
	if err := s.send(ctx, n); err != nil {
		metrics.KafkaForwarded.WithLabelValues("error").Inc()
		s.logger.Error("forward to kafka", dLog.Field{Key: "channel", Value: n.Channel}, dLog.Field{Key: "err", Value: err})
		return
	}
	metrics.KafkaForwarded.WithLabelValues("ok").Inc()
}

func (s *Sink) send(ctx context.Context, n notify.Notification) error {
	value, err := json.Marshal(Message{
		Channel:    n.Channel,
		Payload:    n.Payload,
		Data:       n.Decoded,
		PID:        n.PID,
		ReceivedAt: n.ReceivedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	// the run context is cancelled on shutdown; finish the in-flight write anyway
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	err = s.writer.WriteMessages(wctx, kafka.Message{
		Key:   []byte(n.Channel),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to send data in kafka: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.writer.Close()
}
