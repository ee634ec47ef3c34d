// Package consumer - обработка партиций шины: по одному воркеру на партицию,
// применение сообщения, затем подтверждение смещения.
package consumer

import (
	"context"
	"errors"
	"fmt"

	"escrowflow/internal/bus"
)

// ErrMalformed помечает сообщение, которое невозможно обработать никогда.
// Такое сообщение логируется и подтверждается, конвейер не останавливается.
var ErrMalformed = errors.New("malformed message")

// Malformed оборачивает ошибку декодирования в ErrMalformed
func Malformed(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

// Handler применяет одно сообщение. Должен быть идемпотентным:
// при сбое между применением и подтверждением сообщение придёт снова.
type Handler interface {
	Handle(ctx context.Context, msg *bus.Message) error
}

// HandlerFunc адаптер функции к Handler
type HandlerFunc func(ctx context.Context, msg *bus.Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *bus.Message) error {
	return f(ctx, msg)
}

// Committer подтверждает обработанные сообщения
type Committer interface {
	Commit(msg *bus.Message) error
}
