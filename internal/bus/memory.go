package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

var ErrClosed = errors.New("bus closed")

// MemoryBus in-memory шина с партициями и смещениями групп.
// Семантика как у Kafka: порядок внутри партиции, at-least-once,
// повторная доставка всего, что не подтверждено.
type MemoryBus struct {
	mu         sync.Mutex
	partitions int
	logs       map[string][][]*Message
	committed  map[string]map[TopicPartition]int64
	notify     chan struct{}
	closed     bool
}

// NewMemoryBus создает шину с partitions партициями в каждом топике
func NewMemoryBus(partitions int) *MemoryBus {
	if partitions < 1 {
		partitions = 1
	}
	return &MemoryBus{
		partitions: partitions,
		logs:       make(map[string][][]*Message),
		committed:  make(map[string]map[TopicPartition]int64),
		notify:     make(chan struct{}),
	}
}

// PartitionFor партиция для ключа
func (b *MemoryBus) PartitionFor(key string) int32 {
	return int32(xxhash.Sum64String(key) % uint64(b.partitions))
}

// Publish добавляет сообщение в конец партиции ключа
func (b *MemoryBus) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	parts := b.topicLocked(topic)
	p := b.PartitionFor(key)
	msg := &Message{
		Topic:     topic,
		Partition: p,
		Offset:    int64(len(parts[p])),
		Key:       []byte(key),
		Value:     append([]byte(nil), value...),
		Timestamp: time.Now(),
	}
	parts[p] = append(parts[p], msg)

	// будим ожидающих потребителей
	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

func (b *MemoryBus) topicLocked(topic string) [][]*Message {
	parts, ok := b.logs[topic]
	if !ok {
		parts = make([][]*Message, b.partitions)
		b.logs[topic] = parts
	}
	return parts
}

// Messages возвращает копию всех сообщений топика (по партициям подряд)
func (b *MemoryBus) Messages(topic string) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*Message
	for _, part := range b.logs[topic] {
		out = append(out, part...)
	}
	return out
}

// Committed возвращает следующее смещение группы в партиции
func (b *MemoryBus) Committed(group string, tp TopicPartition) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed[group][tp]
}

// Close закрывает шину; потребители получают ErrClosed
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.notify)
	}
}

// Consumer создает потребителя группы group
func (b *MemoryBus) Consumer(group string, pollWait time.Duration) *MemoryConsumer {
	if pollWait <= 0 {
		pollWait = 50 * time.Millisecond
	}
	return &MemoryConsumer{
		bus:      b,
		group:    group,
		pollWait: pollWait,
		position: make(map[TopicPartition]int64),
	}
}

// MemoryConsumer потребитель MemoryBus. Один экземпляр на группу владеет всеми партициями.
type MemoryConsumer struct {
	bus      *MemoryBus
	group    string
	pollWait time.Duration

	mu       sync.Mutex
	topics   []string
	position map[TopicPartition]int64
	onRevoke RevokeFunc
	cursor   int
	closed   bool
}

func (c *MemoryConsumer) Subscribe(topics []string, onRevoke RevokeFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append([]string(nil), topics...)
	c.onRevoke = onRevoke
	c.resetLocked()
	return nil
}

// resetLocked переставляет позиции на подтверждённые смещения группы
func (c *MemoryConsumer) resetLocked() {
	c.position = make(map[TopicPartition]int64)
	c.bus.mu.Lock()
	for tp, off := range c.bus.committed[c.group] {
		c.position[tp] = off
	}
	c.bus.mu.Unlock()
}

// Poll возвращает следующее сообщение, обходя партиции по кругу
func (c *MemoryConsumer) Poll(ctx context.Context) (*Message, error) {
	msg, wait, err := c.next()
	if msg != nil || err != nil {
		return msg, err
	}

	timer := time.NewTimer(c.pollWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wait:
	case <-timer.C:
	}

	msg, _, err = c.next()
	return msg, err
}

func (c *MemoryConsumer) next() (*Message, <-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, ErrClosed
	}

	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if c.bus.closed {
		return nil, nil, ErrClosed
	}

	var candidates []TopicPartition
	for _, topic := range c.topics {
		for p := 0; p < c.bus.partitions; p++ {
			candidates = append(candidates, TopicPartition{Topic: topic, Partition: int32(p)})
		}
	}

	for i := 0; i < len(candidates); i++ {
		tp := candidates[(c.cursor+i)%len(candidates)]
		parts := c.bus.logs[tp.Topic]
		if parts == nil {
			continue
		}
		pos := c.position[tp]
		if pos < int64(len(parts[tp.Partition])) {
			c.position[tp] = pos + 1
			c.cursor = (c.cursor + i + 1) % len(candidates)
			return parts[tp.Partition][pos], nil, nil
		}
	}
	return nil, c.bus.notify, nil
}

// Commit подтверждает сообщение; смещения группы только растут
func (c *MemoryConsumer) Commit(msg *Message) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()

	offsets, ok := c.bus.committed[c.group]
	if !ok {
		offsets = make(map[TopicPartition]int64)
		c.bus.committed[c.group] = offsets
	}
	tp := msg.TopicPartition()
	if next := msg.Offset + 1; next > offsets[tp] {
		offsets[tp] = next
	}
	return nil
}

// Revoke имитирует ребалансировку: обработчик отзыва, затем повторное
// чтение с подтверждённых смещений
func (c *MemoryConsumer) Revoke(tps []TopicPartition) {
	c.mu.Lock()
	onRevoke := c.onRevoke
	c.mu.Unlock()

	if onRevoke != nil {
		onRevoke(tps)
	}

	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
}

// Rewind имитирует перезапуск потребителя: всё неподтверждённое будет доставлено снова
func (c *MemoryConsumer) Rewind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *MemoryConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
