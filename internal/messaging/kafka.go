package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	// kafkaWriteTimeout — таймаут записи одного сообщения.
	kafkaWriteTimeout = 10 * time.Second
	// kafkaBatchTimeout — максимальное ожидание накопления батча.
	kafkaBatchTimeout = 10 * time.Millisecond
)

// messageWriter — часть *kafka.Writer, используемая публикатором.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher — публикация событий в Kafka.
// Ключ сообщения — username: события одного пользователя попадают в одну партицию
// и читаются в порядке публикации.
type KafkaPublisher struct {
	writer  messageWriter
	brokers []string
	topic   string
	logger  *slog.Logger
}

// NewKafkaPublisher создаёт публикатор в топик topic.
// Writer асинхронный: Send не ждёт подтверждения брокера,
// ошибки доставки логируются в Completion.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	writer := newKafkaWriter(brokers, topic, logger)
	return newKafkaPublisher(writer, brokers, topic, logger)
}

// newKafkaWriter создаёт асинхронный kafka.Writer.
func newKafkaWriter(brokers []string, topic string, logger *slog.Logger) *kafka.Writer {
	log := logger.With(slog.String("component", "kafka_publisher"))
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           kafkaWriteTimeout,
		BatchTimeout:           kafkaBatchTimeout,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warn("События не доставлены в Kafka",
					slog.String("topic", topic),
					slog.Int("count", len(messages)),
					slog.String("error", err.Error()),
				)
			}
		},
	}
}

func newKafkaPublisher(writer messageWriter, brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer:  writer,
		brokers: brokers,
		topic:   topic,
		logger:  logger.With(slog.String("component", "kafka_publisher")),
	}
}

// Send сериализует событие в JSON и ставит в очередь writer.
// Возвращает ошибку сериализации или постановки в очередь, но не доставки.
func (p *KafkaPublisher) Send(ctx context.Context, msg Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("сериализация события %s: %w", msg.Type, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Username),
		Value: value,
		Time:  msg.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.Type)},
			{Key: "event_id", Value: []byte(msg.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("публикация события %s в %s: %w", msg.Type, p.topic, err)
	}

	p.logger.Debug("Событие поставлено в очередь",
		slog.String("type", msg.Type),
		slog.String("id", msg.ID),
	)
	return nil
}

// Close дожидается отправки буферизованных событий и закрывает writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// CheckReady проверяет доступность хотя бы одного брокера.
// Реализует handlers.ReadinessChecker. Недоступность Kafka не делает
// сервис неготовым: события необязательны, поэтому статус — degraded.
func (p *KafkaPublisher) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var lastErr error
	for _, broker := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return "ok", fmt.Sprintf("Kafka брокер %s доступен", broker)
	}

	return "degraded", fmt.Sprintf("Kafka недоступна: %v", lastErr)
}
