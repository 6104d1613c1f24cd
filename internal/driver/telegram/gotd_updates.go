package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gotd/td/tg"
)

const defaultGotdUpdateBuffer = 1024

// GotdUserbotClient abstracts gotd/td userbot session execution.
type GotdUserbotClient interface {
	// Run starts the session and executes fn within the connected lifecycle.
	Run(ctx context.Context, fn func(runCtx context.Context) error) error
}

// GotdUpdateMapper maps raw gotd updates into adapter Update DTOs.
type GotdUpdateMapper interface {
	// Map converts a raw update; classes the adapter skips map to no updates.
	Map(ctx context.Context, raw gotdUpdateEnvelope) ([]Update, error)
}

// GotdUpdateChannel receives gotd update batches and queues them one by one.
type GotdUpdateChannel struct {
	updates chan gotdUpdateEnvelope
}

// NewGotdUpdateChannel creates the bridge between gotd's update handler and the source loop.
func NewGotdUpdateChannel(buffer int) *GotdUpdateChannel {
	if buffer <= 0 {
		buffer = defaultGotdUpdateBuffer
	}

	return &GotdUpdateChannel{updates: make(chan gotdUpdateEnvelope, buffer)}
}

// Handle flattens one gotd update container into queued envelopes.
func (s *GotdUpdateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	batch, err := flattenGotdUpdates(updates)
	if err != nil {
		return fmt.Errorf("handle gotd updates: %w", err)
	}

	for _, item := range batch {
		select {
		case <-ctx.Done():
			return fmt.Errorf("handle gotd updates publish: %w", ctx.Err())
		case s.updates <- item:
		}
	}

	return nil
}

func flattenGotdUpdates(updates tg.UpdatesClass) ([]gotdUpdateEnvelope, error) {
	if updates == nil {
		return nil, fmt.Errorf("flatten gotd updates: nil updates")
	}

	switch typed := updates.(type) {
	case *tg.Updates:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users, typed.Chats), nil
	case *tg.UpdatesCombined:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users, typed.Chats), nil
	case *tg.UpdateShort:
		return flattenGotdBatch([]tg.UpdateClass{typed.Update}, typed.Date, nil, nil), nil
	case *tg.UpdateShortChatMessage:
		message := &tg.Message{
			ID:      typed.ID,
			PeerID:  &tg.PeerChat{ChatID: typed.ChatID},
			Date:    typed.Date,
			Message: typed.Message,
		}
		message.SetFromID(&tg.PeerUser{UserID: typed.FromID})
		if replyTo, ok := typed.GetReplyTo(); ok {
			message.SetReplyTo(replyTo)
		}
		if entities, ok := typed.GetEntities(); ok {
			message.SetEntities(entities)
		}
		return flattenGotdBatch([]tg.UpdateClass{&tg.UpdateNewMessage{Message: message}}, typed.Date, nil, nil), nil
	case *tg.UpdateShortMessage, *tg.UpdatesTooLong:
		return nil, nil
	default:
		return nil, fmt.Errorf("flatten gotd updates %s: unsupported container", updates.TypeName())
	}
}

func flattenGotdBatch(
	updates []tg.UpdateClass,
	date int,
	users []tg.UserClass,
	chats []tg.ChatClass,
) []gotdUpdateEnvelope {
	occurredAt := intToTimeUTC(date)
	usersByID := indexGotdUsers(users)
	chatsByID := indexGotdChats(chats)

	batch := make([]gotdUpdateEnvelope, 0, len(updates))
	for _, update := range updates {
		if update == nil {
			continue
		}
		batch = append(batch, gotdUpdateEnvelope{
			update:      update,
			occurredAt:  occurredAt,
			usersByID:   usersByID,
			chatsByID:   chatsByID,
			updateClass: update.TypeName(),
		})
	}

	return batch
}

// GotdUserbotSource wires gotd userbot updates into UpdateSource.
type GotdUserbotSource struct {
	client  GotdUserbotClient
	updates *GotdUpdateChannel
	mapper  GotdUpdateMapper
	logger  *slog.Logger
}

// NewGotdUserbotSource creates a source backed by a gotd userbot session.
func NewGotdUserbotSource(
	client GotdUserbotClient,
	updates *GotdUpdateChannel,
	mapper GotdUpdateMapper,
	logger *slog.Logger,
) (*GotdUserbotSource, error) {
	if client == nil {
		return nil, fmt.Errorf("new gotd userbot source: nil client")
	}
	if updates == nil {
		return nil, fmt.Errorf("new gotd userbot source: nil update channel")
	}
	if mapper == nil {
		return nil, fmt.Errorf("new gotd userbot source: nil mapper")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &GotdUserbotSource{client: client, updates: updates, mapper: mapper, logger: logger}, nil
}

// Consume runs the gotd session and forwards mapped updates to handler.
//
// Mapping failures skip the offending update; handler failures end the session.
func (s *GotdUserbotSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return fmt.Errorf("consume gotd userbot updates: nil handler")
	}

	err := s.client.Run(ctx, func(runCtx context.Context) error {
		for {
			select {
			case <-runCtx.Done():
				return nil
			case envelope := <-s.updates.updates:
				for _, mapped := range s.mapSafely(runCtx, envelope) {
					if err := handler(runCtx, mapped); err != nil {
						return fmt.Errorf("consume gotd update %s: %w", mapped.Type, err)
					}
				}
			}
		}
	})
	if err != nil {
		return fmt.Errorf("consume gotd userbot updates: %w", err)
	}

	return nil
}

func (s *GotdUserbotSource) mapSafely(ctx context.Context, envelope gotdUpdateEnvelope) (mapped []Update) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.ErrorContext(ctx, "gotd update mapper panic", "update", envelope.updateClass, "panic", recovered)
			mapped = nil
		}
	}()

	mapped, err := s.mapper.Map(ctx, envelope)
	if err != nil {
		s.logger.WarnContext(ctx, "gotd update skipped", "update", envelope.updateClass, "error", err)
		return nil
	}

	return mapped
}

type gotdUpdateEnvelope struct {
	update      tg.UpdateClass
	occurredAt  time.Time
	usersByID   map[int64]*tg.User
	chatsByID   map[int64]gotdChatInfo
	updateClass string
}
