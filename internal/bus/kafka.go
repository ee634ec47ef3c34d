package bus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"

	"escrowflow/internal/config"
	"escrowflow/internal/metrics"
	"escrowflow/pkg/utils"
)

// buildClientID уникален для экземпляра процесса
func buildClientID(service string) string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%s-%s", service, hostname, uuid.NewString()[:8])
}

// ============================================================
// Producer
// ============================================================

// KafkaProducer публикует с подтверждением всех реплик и идемпотентностью
// продюсера, что сохраняет порядок внутри партиции при внутренних повторах.
type KafkaProducer struct {
	producer *kafka.Producer
	logger   *utils.Logger
	done     chan struct{}
}

// NewKafkaProducer создает продюсера
func NewKafkaProducer(cfg config.KafkaConfig, service string) (*KafkaProducer, error) {
	kconf := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(cfg.Brokers, ","),
		"client.id":          buildClientID(service),
		"acks":               "all",
		"enable.idempotence": true,
		"message.timeout.ms": cfg.MessageTimeoutMs,
		"linger.ms":          5,
	}

	p, err := kafka.NewProducer(kconf)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	kp := &KafkaProducer{
		producer: p,
		logger:   utils.L().WithComponent("kafka-producer"),
		done:     make(chan struct{}),
	}
	go kp.watchEvents()

	kp.logger.Info("kafka producer created", utils.Any("brokers", cfg.Brokers))
	return kp, nil
}

// watchEvents логирует ошибки уровня клиента (отчёты о доставке идут в свои каналы)
func (kp *KafkaProducer) watchEvents() {
	for {
		select {
		case <-kp.done:
			return
		case ev, ok := <-kp.producer.Events():
			if !ok {
				return
			}
			if kerr, isErr := ev.(kafka.Error); isErr {
				kp.logger.Warn("kafka producer error", utils.Err(kerr), utils.Bool("fatal", kerr.IsFatal()))
			}
		}
	}
}

// Publish ставит сообщение в очередь и ждёт отчёта о доставке
func (kp *KafkaProducer) Publish(ctx context.Context, topic, key string, value []byte) error {
	start := time.Now()
	delivery := make(chan kafka.Event, 1)

	err := kp.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
	}, delivery)
	if err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-delivery:
		m, ok := ev.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %T", ev)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("deliver to %s: %w", topic, m.TopicPartition.Error)
		}
	}

	metrics.RecordPublish(topic, utils.SinceMillis(start))
	return nil
}

// Close дожидается отправки очереди и закрывает продюсера
func (kp *KafkaProducer) Close() {
	if remaining := kp.producer.Flush(5000); remaining > 0 {
		kp.logger.Warn("kafka producer closed with undelivered messages", utils.Int("remaining", remaining))
	}
	close(kp.done)
	kp.producer.Close()
}

// ============================================================
// Consumer
// ============================================================

// KafkaConsumer потребитель группы без автокоммита
type KafkaConsumer struct {
	consumer    *kafka.Consumer
	pollTimeout int
	onRevoke    RevokeFunc
	logger      *utils.Logger
}

// NewKafkaConsumer создает потребителя группы group
func NewKafkaConsumer(cfg config.KafkaConfig, group, service string) (*KafkaConsumer, error) {
	kconf := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(cfg.Brokers, ","),
		"group.id":           group,
		"client.id":          buildClientID(service),
		"session.timeout.ms": cfg.SessionTimeoutMs,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	}

	c, err := kafka.NewConsumer(kconf)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	pollTimeout := cfg.PollTimeoutMs
	if pollTimeout <= 0 {
		pollTimeout = 100
	}

	kc := &KafkaConsumer{
		consumer:    c,
		pollTimeout: pollTimeout,
		logger:      utils.L().WithComponent("kafka-consumer").With(utils.String("group", group)),
	}
	kc.logger.Info("kafka consumer created", utils.Any("brokers", cfg.Brokers))
	return kc, nil
}

// Subscribe подписывает группу на топики
func (kc *KafkaConsumer) Subscribe(topics []string, onRevoke RevokeFunc) error {
	kc.onRevoke = onRevoke
	if err := kc.consumer.SubscribeTopics(topics, kc.rebalance); err != nil {
		return fmt.Errorf("subscribe %v: %w", topics, err)
	}
	kc.logger.Info("kafka consumer subscribed", utils.Any("topics", topics))
	return nil
}

// rebalance вызывается из Poll; при отзыве партиций ждёт остановки их воркеров
func (kc *KafkaConsumer) rebalance(_ *kafka.Consumer, ev kafka.Event) error {
	switch e := ev.(type) {
	case kafka.AssignedPartitions:
		kc.logger.Info("partitions assigned", utils.Int("count", len(e.Partitions)))
	case kafka.RevokedPartitions:
		revoked := make([]TopicPartition, 0, len(e.Partitions))
		for _, p := range e.Partitions {
			if p.Topic == nil {
				continue
			}
			revoked = append(revoked, TopicPartition{Topic: *p.Topic, Partition: p.Partition})
		}
		kc.logger.Info("partitions revoked", utils.Int("count", len(revoked)))
		if kc.onRevoke != nil {
			kc.onRevoke(revoked)
		}
	}
	return nil
}

// Poll читает следующее сообщение. Нефатальные ошибки клиента логируются.
func (kc *KafkaConsumer) Poll(ctx context.Context) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch e := kc.consumer.Poll(kc.pollTimeout).(type) {
	case *kafka.Message:
		if e.TopicPartition.Error != nil {
			return nil, fmt.Errorf("kafka message error: %w", e.TopicPartition.Error)
		}
		topic := ""
		if e.TopicPartition.Topic != nil {
			topic = *e.TopicPartition.Topic
		}
		return &Message{
			Topic:     topic,
			Partition: e.TopicPartition.Partition,
			Offset:    int64(e.TopicPartition.Offset),
			Key:       e.Key,
			Value:     e.Value,
			Timestamp: e.Timestamp,
		}, nil
	case kafka.Error:
		if e.IsFatal() {
			return nil, fmt.Errorf("kafka fatal error: %w", e)
		}
		if e.Code() != kafka.ErrTimedOut {
			kc.logger.Warn("kafka consumer error", utils.Err(e))
		}
		return nil, nil
	default:
		return nil, nil
	}
}

// Commit подтверждает смещение msg.Offset+1 в партиции сообщения
func (kc *KafkaConsumer) Commit(msg *Message) error {
	topic := msg.Topic
	_, err := kc.consumer.CommitOffsets([]kafka.TopicPartition{{
		Topic:     &topic,
		Partition: msg.Partition,
		Offset:    kafka.Offset(msg.Offset + 1),
	}})
	if err != nil {
		var kerr kafka.Error
		if errors.As(err, &kerr) && kerr.Code() == kafka.ErrNoOffset {
			return nil
		}
		return fmt.Errorf("commit %s offset %d: %w", msg.TopicPartition(), msg.Offset, err)
	}
	return nil
}

// Close покидает группу и закрывает клиента
func (kc *KafkaConsumer) Close() error {
	if err := kc.consumer.Close(); err != nil {
		return fmt.Errorf("close kafka consumer: %w", err)
	}
	kc.logger.Info("kafka consumer closed")
	return nil
}
