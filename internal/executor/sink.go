package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Sink takes ownership of an accepted exchange.
type Sink interface {
	Accept(ctx context.Context, id string, env Envelope) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, id string, env Envelope) error

func (f SinkFunc) Accept(ctx context.Context, id string, env Envelope) error {
	return f(ctx, id, env)
}

// Sinks fans an exchange out to every sink in order and returns all
// failures joined.
type Sinks []Sink

func (s Sinks) Accept(ctx context.Context, id string, env Envelope) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Accept(ctx, id, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink records accepted exchanges in the structured log.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Accept(_ context.Context, id string, env Envelope) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := env.Summary
	logger.Info("executor: exchange accepted",
		"id", id,
		"signer", env.Signer,
		"send_asset", s.SendAsset, "send_amount", s.SendAmount,
		"receive_asset", s.ReceiveAsset, "receive_amount", s.ReceiveAmount,
		"approx_usd_send", s.ApproxUSDSendAmount,
		"approx_usd_receive", s.ApproxUSDReceiveAmount,
		"timestamp", s.CreatedAt)
	return nil
}

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates a synchronous writer that partitions by message
// key, so every exchange of one asset pair lands on the same partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// KafkaSink publishes accepted exchanges as JSON records.
type KafkaSink struct {
	writer MessageWriter
	now    func() time.Time
}

// NewKafkaSink wraps w.
func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w, now: time.Now}
}

// kafkaRecord is the value written for each exchange.
type kafkaRecord struct {
	ID string `json:"id,omitempty"`
	Envelope
}

func (k *KafkaSink) Accept(ctx context.Context, id string, env Envelope) error {
	data, err := json.Marshal(kafkaRecord{ID: id, Envelope: env})
	if err != nil {
		return fmt.Errorf("executor: encode kafka record: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(pairKey(env)),
		Value: data,
		Time:  k.now(),
	})
	if err != nil {
		return fmt.Errorf("executor: kafka write: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

func pairKey(env Envelope) string {
	return env.Summary.SendAsset + "-" + env.Summary.ReceiveAsset
}
