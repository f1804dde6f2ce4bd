package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/donewithit/server/internal/model"
	"github.com/donewithit/server/internal/presence"
	"github.com/donewithit/server/internal/push"
	"github.com/donewithit/server/internal/repository"
)

// MessageEvent is the payload emitted to a recipient's live channels.
type MessageEvent struct {
	ID         uuid.UUID `json:"id"`
	SenderID   uuid.UUID `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// Emitter pushes a message event to a single live channel. Implemented by the
// WebSocket hub. Emits issued sequentially to one channel arrive in order.
type Emitter interface {
	Emit(channelID string, ev MessageEvent) error
}

// Dispatcher submits push notifications to the external provider and returns
// per-batch outcomes. Implemented by push.Client.
type Dispatcher interface {
	Dispatch(ctx context.Context, ns []push.Notification) []push.BatchResult
}

// MessageService routes newly composed messages to live channels or push.
type MessageService interface {
	// Send persists a message and delivers it to the recipient's live channels,
	// or hands it to the push dispatcher when the recipient is offline.
	Send(ctx context.Context, senderID, recipientID uuid.UUID, body string) (*model.Message, error)
	// Conversation returns recent messages between userID and otherID, oldest first.
	Conversation(ctx context.Context, userID, otherID uuid.UUID, limit int) ([]model.Message, error)
}

type MessageServiceImpl struct {
	users    repository.UserRepository
	messages repository.MessageRepository
	registry *presence.Registry
	emitter  Emitter
	push     Dispatcher
	logger   *zap.Logger
}

// NewMessageService constructs MessageService with required dependencies.
func NewMessageService(
	users repository.UserRepository,
	messages repository.MessageRepository,
	registry *presence.Registry,
	emitter Emitter,
	dispatcher Dispatcher,
	logger *zap.Logger,
) *MessageServiceImpl {
	return &MessageServiceImpl{
		users:    users,
		messages: messages,
		registry: registry,
		emitter:  emitter,
		push:     dispatcher,
		logger:   logger,
	}
}

const defaultConversationLimit = 50

// Send persists the message durably before any delivery attempt, then decides
// the delivery path from presence at that moment. The caller sees success once
// persistence succeeds; delivery failures on either path are logged, never
// returned.
func (s *MessageServiceImpl) Send(ctx context.Context, senderID, recipientID uuid.UUID, body string) (*model.Message, error) {
	if senderID == uuid.Nil || recipientID == uuid.Nil {
		return nil, errors.New("validation: empty sender/recipient")
	}
	if strings.TrimSpace(body) == "" {
		return nil, errors.New("validation: empty body")
	}

	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil {
		return nil, err
	}
	recipient, err := s.users.GetByID(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	msg := &model.Message{
		ID:           id,
		SenderID:     sender.ID,
		RecipientID:  recipient.ID,
		Body:         body,
		DeliveryPath: model.DeliveryNone,
	}

	// Once accepted, the send runs to completion even if the caller goes away:
	// the persist-before-acknowledge invariant forbids cancellation here.
	ctx = context.WithoutCancel(ctx)

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	// Presence is read after the durable write. A recipient connecting in the
	// gap may miss the live emit; the client recovers from stored history.
	channels := s.registry.ChannelsFor(recipient.ID)
	switch {
	case len(channels) > 0:
		msg.DeliveryPath = model.DeliveryLive
		ev := MessageEvent{
			ID:         msg.ID,
			SenderID:   sender.ID,
			SenderName: sender.Name,
			Body:       msg.Body,
			CreatedAt:  msg.CreatedAt,
		}
		for _, ch := range channels {
			if err := s.emitter.Emit(ch, ev); err != nil {
				s.logger.Warn("live delivery failed",
					zap.Stringer("message", msg.ID),
					zap.String("channel", ch),
					zap.Error(err),
				)
			}
		}
	case recipient.PushToken != "":
		msg.DeliveryPath = model.DeliveryPush
		n := push.Notification{
			To:    recipient.PushToken,
			Sound: "default",
			Title: sender.Name + " messaged you",
			Body:  msg.Body,
		}
		go s.dispatchPush(ctx, msg.ID, n)
	default:
		// offline with no registered device: history-only delivery
	}

	if err := s.messages.MarkDelivery(ctx, msg.ID, msg.DeliveryPath); err != nil {
		s.logger.Warn("mark delivery failed", zap.Stringer("message", msg.ID), zap.Error(err))
	}
	return msg, nil
}

// dispatchPush hands one notification to the dispatcher and logs the gathered
// batch outcomes. Best-effort: the send already succeeded.
func (s *MessageServiceImpl) dispatchPush(ctx context.Context, msgID uuid.UUID, n push.Notification) {
	for _, res := range s.push.Dispatch(ctx, []push.Notification{n}) {
		if res.Err != nil {
			s.logger.Warn("push batch failed",
				zap.Stringer("message", msgID),
				zap.Int("batch", res.Batch),
				zap.Error(res.Err),
			)
			continue
		}
		for _, tk := range res.Tickets {
			if !tk.OK() {
				s.logger.Warn("push rejected",
					zap.Stringer("message", msgID),
					zap.String("reason", tk.Message),
				)
			}
		}
	}
}

// Conversation returns recent messages between two users, oldest first.
func (s *MessageServiceImpl) Conversation(ctx context.Context, userID, otherID uuid.UUID, limit int) ([]model.Message, error) {
	if userID == uuid.Nil || otherID == uuid.Nil {
		return nil, errors.New("validation: empty user ids")
	}
	if limit <= 0 {
		limit = defaultConversationLimit
	}
	return s.messages.Conversation(ctx, userID, otherID, limit)
}
