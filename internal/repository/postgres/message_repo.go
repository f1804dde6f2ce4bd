package postgres

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/donewithit/server/internal/errs"
	"github.com/donewithit/server/internal/model"
)

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// Create inserts a new message row. The database assigns the creation
// timestamp, which is scanned back into m. Any failure wraps
// errs.ErrPersistence so callers can abort delivery.
func (r *MessageRepo) Create(ctx context.Context, m *model.Message) error {
	const q = `
INSERT INTO messages (id, sender_id, recipient_id, body, delivery_path)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at`
	row := r.db.Pool.QueryRow(ctx, q, m.ID, m.SenderID, m.RecipientID, m.Body, m.DeliveryPath)
	if err := row.Scan(&m.CreatedAt); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrPersistence, err)
	}
	return nil
}

// MarkDelivery records the delivery path taken at send time. This is the only
// write a message sees after creation; delivery outcome never touches it.
func (r *MessageRepo) MarkDelivery(ctx context.Context, id uuid.UUID, path model.DeliveryPath) error {
	const q = `UPDATE messages SET delivery_path = $2 WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, q, id, path)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Conversation returns the latest limit messages between a and b, oldest first.
func (r *MessageRepo) Conversation(ctx context.Context, a, b uuid.UUID, limit int) ([]model.Message, error) {
	const q = `
SELECT id, sender_id, recipient_id, body, delivery_path, created_at
FROM messages
WHERE (sender_id=$1 AND recipient_id=$2) OR (sender_id=$2 AND recipient_id=$1)
ORDER BY created_at DESC
LIMIT $3`
	rows, err := r.db.Pool.Query(ctx, q, a, b, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &m.DeliveryPath, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first to apply the limit; callers read oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
