package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"otogi-invite/pkg/otogi"
)

const defaultPublishTimeout = 2 * time.Second

// UpdateHandler consumes one mapped Telegram update.
type UpdateHandler func(ctx context.Context, update Update) error

// UpdateSource feeds mapped updates to a handler until ctx ends or the
// upstream session fails.
type UpdateSource interface {
	Consume(ctx context.Context, handler UpdateHandler) error
}

// ChannelSource replays updates from a channel. It stops when the channel closes.
type ChannelSource struct {
	Updates <-chan Update
}

// Consume hands every received update to handler in order.
func (s ChannelSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return errors.New("channel source: nil handler")
	}

	for {
		var (
			update Update
			open   bool
		)
		select {
		case <-ctx.Done():
			return nil
		case update, open = <-s.Updates:
		}
		if !open {
			return nil
		}
		if err := handler(ctx, update); err != nil {
			return fmt.Errorf("channel source handle update %s: %w", update.Type, err)
		}
	}
}

type driverConfig struct {
	name           string
	publishTimeout time.Duration
	chats          map[string]struct{}
	onAsyncError   func(context.Context, error)
}

// DriverOption configures a Driver.
type DriverOption func(*driverConfig)

// WithName sets the driver instance name used as the event source id.
func WithName(name string) DriverOption {
	return func(cfg *driverConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithPublishTimeout bounds each dispatcher publish.
func WithPublishTimeout(timeout time.Duration) DriverOption {
	return func(cfg *driverConfig) {
		if timeout > 0 {
			cfg.publishTimeout = timeout
		}
	}
}

// WithChats restricts publishing to updates from the listed chat ids.
// Without it every chat the account sees is published.
func WithChats(chatIDs ...string) DriverOption {
	return func(cfg *driverConfig) {
		for _, id := range chatIDs {
			if id == "" {
				continue
			}
			if cfg.chats == nil {
				cfg.chats = make(map[string]struct{}, len(chatIDs))
			}
			cfg.chats[id] = struct{}{}
		}
	}
}

// WithErrorHandler receives decode and publish failures. They never stop the driver.
func WithErrorHandler(handler func(context.Context, error)) DriverOption {
	return func(cfg *driverConfig) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// Driver publishes Telegram chat messages and membership changes as neutral events.
type Driver struct {
	cfg     driverConfig
	source  UpdateSource
	decoder Decoder
}

// NewDriver creates a driver reading from source.
func NewDriver(source UpdateSource, decoder Decoder, options ...DriverOption) (*Driver, error) {
	switch {
	case source == nil:
		return nil, fmt.Errorf("new telegram driver: nil source")
	case decoder == nil:
		return nil, fmt.Errorf("new telegram driver: nil decoder")
	}

	cfg := driverConfig{
		name:           DriverType,
		publishTimeout: defaultPublishTimeout,
		onAsyncError:   func(context.Context, error) {},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Driver{cfg: cfg, source: source, decoder: decoder}, nil
}

// Name returns the driver instance name.
func (d *Driver) Name() string {
	return d.cfg.name
}

// Start blocks consuming updates. Cancellation of ctx is a clean stop.
func (d *Driver) Start(ctx context.Context, dispatcher otogi.EventDispatcher) error {
	if dispatcher == nil {
		return fmt.Errorf("start telegram driver: nil dispatcher")
	}

	err := d.source.Consume(ctx, func(updateCtx context.Context, update Update) error {
		return d.handleUpdate(updateCtx, update, dispatcher)
	})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}

	return fmt.Errorf("start telegram driver: consume updates: %w", err)
}

// handleUpdate never fails; a bad update is reported and skipped.
func (d *Driver) handleUpdate(ctx context.Context, update Update, dispatcher otogi.EventDispatcher) error {
	if !d.watches(update.Chat.ID) {
		return nil
	}

	event, err := d.decode(ctx, update)
	if err != nil {
		d.cfg.onAsyncError(ctx, err)
		return nil
	}
	event.Source = otogi.EventSource{Platform: DriverPlatform, ID: d.cfg.name}

	publishCtx, cancel := context.WithTimeout(ctx, d.cfg.publishTimeout)
	defer cancel()
	if err := dispatcher.Publish(publishCtx, event); err != nil {
		d.cfg.onAsyncError(ctx, fmt.Errorf("publish telegram %s %s: %w", update.Type, update.ID, err))
	}

	return nil
}

func (d *Driver) watches(chatID string) bool {
	if len(d.cfg.chats) == 0 {
		return true
	}
	_, ok := d.cfg.chats[chatID]

	return ok
}

func (d *Driver) decode(ctx context.Context, update Update) (event *otogi.Event, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			event, err = nil, fmt.Errorf("decode telegram %s %s: panic: %v", update.Type, update.ID, recovered)
		}
	}()

	event, err = d.decoder.Decode(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("decode telegram %s %s: %w", update.Type, update.ID, err)
	}

	return event, nil
}

// Shutdown is a no-op; Start owns the session and ends with its context.
func (d *Driver) Shutdown(context.Context) error {
	return nil
}

var _ otogi.Driver = (*Driver)(nil)
