package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/gomp-miner/pkg/errors"
	"github.com/bardlex/gomp-miner/pkg/log"
	"github.com/bardlex/gomp-miner/pkg/retry"
)

// DefaultSolutionsTopic receives one message per found solution
const DefaultSolutionsTopic = "miner.solutions"

// messageWriter is the part of *kafka.Writer the sink uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes solution events as protobuf Struct messages
type KafkaSink struct {
	topic       string
	writer      messageWriter
	logger      *log.Logger
	retryConfig *retry.Config
}

// NewKafkaSink creates a producer for topic on brokers
func NewKafkaSink(brokers []string, topic string, logger *log.Logger) *KafkaSink {
	if topic == "" {
		topic = DefaultSolutionsTopic
	}
	if logger == nil {
		logger = log.Discard()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Compression:  kafka.Snappy,
	}

	logger.Info("created Kafka producer", "topic", topic)
	return newKafkaSink(topic, writer, logger)
}

func newKafkaSink(topic string, writer messageWriter, logger *log.Logger) *KafkaSink {
	return &KafkaSink{
		topic:       topic,
		writer:      writer,
		logger:      logger.WithComponent("kafka"),
		retryConfig: retry.NetworkConfig(),
	}
}

// Name implements Sink
func (k *KafkaSink) Name() string { return "kafka" }

// Handle publishes solution events and ignores the rest
func (k *KafkaSink) Handle(ctx context.Context, e Event) error {
	ev, ok := e.(SolutionEvent)
	if !ok {
		return nil
	}

	msg, err := structpb.NewStruct(fields(ev))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "encode_event", "failed to encode solution event")
	}

	return k.PublishProto(ctx, strconv.Itoa(ev.Worker), msg)
}

// PublishProto publishes a protobuf message keyed by key
func (k *KafkaSink) PublishProto(ctx context.Context, key string, msg proto.Message) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "protobuf_marshal",
			"failed to marshal protobuf message").
			WithContext("topic", k.topic).
			WithContext("key", key)
	}

	return retry.Do(ctx, k.retryConfig, func() error {
		kafkaMsg := kafka.Message{
			Key:   []byte(key),
			Value: data,
			Time:  time.Now(),
		}

		if err := k.writer.WriteMessages(ctx, kafkaMsg); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTelemetry, "publish_message",
				"failed to publish message to Kafka").
				WithContext("topic", k.topic).
				WithContext("key", key).
				WithContext("message_size", len(data))
		}

		k.logger.Debug("published message", "topic", k.topic, "key", key, "size", len(data))
		return nil
	})
}

// Close closes the producer
func (k *KafkaSink) Close() error {
	if err := k.writer.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTelemetry, "close_producer", "failed to close Kafka producer").
			WithContext("topic", k.topic)
	}
	return nil
}
