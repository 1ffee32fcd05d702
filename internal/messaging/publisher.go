// Пакет messaging — публикация событий Identity Module в шину сообщений.
// Публикация — fire-and-forget относительно бизнес-операций:
// ошибка отправки логируется вызывающей стороной и не отменяет операцию.
package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Типы событий.
const (
	EventUserCreated       = "user.created"
	EventUserSignedIn      = "user.signed_in"
	EventUserSignedOut     = "user.signed_out"
	EventUserPasswordReset = "user.password_reset"
)

// Message — событие Identity Module.
// Пароли и токены в событие не попадают.
type Message struct {
	// ID — уникальный идентификатор события (UUID).
	ID string `json:"id"`
	// Type — тип события (user.created, ...).
	Type string `json:"type"`
	// Username — пользователь, к которому относится событие (пусто для sign-out).
	Username string `json:"username,omitempty"`
	// Actor — кто инициировал операцию (администратор для create/reset).
	Actor string `json:"actor,omitempty"`
	// RequestID — X-Request-ID запроса, породившего событие.
	RequestID string `json:"request_id,omitempty"`
	// OccurredAt — время события (UTC).
	OccurredAt time.Time `json:"occurred_at"`
}

// NewMessage создаёт событие с новым ID и текущим временем.
func NewMessage(eventType, username string) Message {
	return Message{
		ID:         uuid.NewString(),
		Type:       eventType,
		Username:   username,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher — отправитель событий.
type Publisher interface {
	// Send публикует событие. Блокируется до подтверждения брокером или ctx.
	Send(ctx context.Context, msg Message) error
	// Close сбрасывает буферы и освобождает соединения.
	Close() error
}

// NopPublisher — публикация отключена (брокеры не заданы).
type NopPublisher struct{}

// Send ничего не делает.
func (NopPublisher) Send(context.Context, Message) error { return nil }

// Close ничего не делает.
func (NopPublisher) Close() error { return nil }
