// Package ratelimit - token bucket на golang.org/x/time/rate с отдельным
// ведром на каждого клиента.
package ratelimit

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// DefaultMaxClients сколько клиентов помнит лимитер
const DefaultMaxClients = 10000

// ClientLimiter ограничивает частоту запросов по ключу клиента (обычно IP).
//
// Ведро клиента: rps токенов в секунду, ёмкость burst.
// Число хранимых ведер ограничено LRU; забытый клиент начинает с полного ведра.
//
// Использование:
//
//	limiter := NewClientLimiter(20, 40, 0)
//	if !limiter.Allow(clientIP) { ... 429 ... }
type ClientLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]
}

// NewClientLimiter создает лимитер; rps <= 0 - без ограничений
func NewClientLimiter(rps float64, burst, maxClients int) *ClientLimiter {
	if maxClients <= 0 {
		maxClients = DefaultMaxClients
	}
	if burst <= 0 {
		burst = int(rps * 2)
	}
	if burst < 1 {
		burst = 1
	}

	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}

	buckets, _ := lru.New[string, *rate.Limiter](maxClients)
	return &ClientLimiter{rps: limit, burst: burst, buckets: buckets}
}

// Limiter ведро клиента (создаётся при первом обращении)
func (l *ClientLimiter) Limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.buckets.Get(key); ok {
		return lim
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	l.buckets.Add(key, lim)
	return lim
}

// Allow забирает токен клиента без ожидания
func (l *ClientLimiter) Allow(key string) bool {
	return l.Limiter(key).Allow()
}

// Clients число отслеживаемых клиентов
func (l *ClientLimiter) Clients() int {
	return l.buckets.Len()
}
