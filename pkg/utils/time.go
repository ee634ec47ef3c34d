package utils

import (
	"time"
)

// UnixMillis возвращает текущее время в миллисекундах Unix
func UnixMillis() int64 {
	return time.Now().UnixMilli()
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// WithinWindow сообщает, попадает ли момент tsMs в окно window, заканчивающееся в nowMs.
// Моменты из будущего относительно nowMs в окно не попадают.
func WithinWindow(tsMs, nowMs int64, window time.Duration) bool {
	if tsMs > nowMs {
		return false
	}
	return nowMs-tsMs <= window.Milliseconds()
}

// SinceMillis возвращает время, прошедшее с start, в миллисекундах (для метрик и логов)
func SinceMillis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
