package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/donewithit/server/internal/model"
)

// MessageRepository persists chat messages.
type MessageRepository interface {
	// Create durably inserts a new message. Failures wrap errs.ErrPersistence.
	Create(ctx context.Context, m *model.Message) error
	// MarkDelivery records the delivery path taken at send time.
	MarkDelivery(ctx context.Context, id uuid.UUID, path model.DeliveryPath) error
	// Conversation returns the latest messages exchanged between two users,
	// oldest first.
	Conversation(ctx context.Context, a, b uuid.UUID, limit int) ([]model.Message, error)
}
