// Package bus - партиционированная шина событий с доставкой at-least-once.
// Kafka в production, in-memory реализация для локального прогона и тестов.
package bus

import (
	"context"
	"fmt"
	"time"
)

// Message сообщение, прочитанное из партиции
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// TopicPartition единица упорядочивания и владения
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s[%d]", tp.Topic, tp.Partition)
}

// TopicPartition возвращает партицию сообщения
func (m *Message) TopicPartition() TopicPartition {
	return TopicPartition{Topic: m.Topic, Partition: m.Partition}
}

// Publisher публикует сообщение и ждёт подтверждения брокера.
// Сообщения с одним ключом попадают в одну партицию в порядке публикации.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close()
}

// RevokeFunc вызывается до того, как партиции будут отданы другому участнику группы.
// Должна вернуться только после остановки обработки этих партиций.
type RevokeFunc func(revoked []TopicPartition)

// Consumer читает сообщения группы с ручным подтверждением смещений
type Consumer interface {
	Subscribe(topics []string, onRevoke RevokeFunc) error
	// Poll возвращает (nil, nil), если за таймаут опроса сообщений нет
	Poll(ctx context.Context) (*Message, error)
	// Commit подтверждает сообщение и все предыдущие в его партиции
	Commit(msg *Message) error
	Close() error
}
