// Package dedup хранит ключи идемпотентности побочных эффектов
// (алерты, уведомления). Ключ живёт TTL и переживает рестарт процесса,
// если используется Redis.
package dedup

import "context"

// Deduper набор уже выполненных эффектов
type Deduper interface {
	// Claim атомарно занимает ключ; false - ключ уже занят
	Claim(ctx context.Context, key string) (bool, error)
	// Seen проверяет ключ без записи
	Seen(ctx context.Context, key string) (bool, error)
	// Mark записывает ключ безусловно
	Mark(ctx context.Context, key string) error
}

var (
	_ Deduper = (*RedisDeduper)(nil)
	_ Deduper = (*MemoryDeduper)(nil)
)
