package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"otogi-invite/pkg/otogi"
)

const defaultPublishTimeout = 2 * time.Second

// gatewaySession is the connection lifecycle of a discordgo session.
type gatewaySession interface {
	handlerRegistrar
	Open() error
	Close() error
}

type driverConfig struct {
	name           string
	publishTimeout time.Duration
	onAsyncError   func(context.Context, error)
}

// DriverOption mutates Discord driver configuration.
type DriverOption func(*driverConfig)

// WithName configures the driver identity exposed to the kernel.
func WithName(name string) DriverOption {
	return func(cfg *driverConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithPublishTimeout configures dispatcher publish timeout per event.
func WithPublishTimeout(timeout time.Duration) DriverOption {
	return func(cfg *driverConfig) {
		if timeout > 0 {
			cfg.publishTimeout = timeout
		}
	}
}

// WithErrorHandler configures async decode and publish error reporting.
func WithErrorHandler(handler func(context.Context, error)) DriverOption {
	return func(cfg *driverConfig) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// Driver runs a Discord bot session and publishes neutral events.
type Driver struct {
	cfg     driverConfig
	session gatewaySession
	gateway *Gateway
	decoder Decoder
}

// NewDriver creates a Discord driver over an unopened session.
func NewDriver(session gatewaySession, gateway *Gateway, options ...DriverOption) (*Driver, error) {
	if session == nil {
		return nil, fmt.Errorf("new discord driver: nil session")
	}
	if gateway == nil {
		return nil, fmt.Errorf("new discord driver: nil gateway")
	}

	cfg := driverConfig{
		name:           DriverType,
		publishTimeout: defaultPublishTimeout,
		onAsyncError:   func(context.Context, error) {},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Driver{cfg: cfg, session: session, gateway: gateway, decoder: NewDecoder()}, nil
}

// Name returns the stable driver identifier.
func (d *Driver) Name() string {
	return d.cfg.name
}

// Start opens the gateway connection and publishes updates until ctx ends.
func (d *Driver) Start(ctx context.Context, dispatcher otogi.EventDispatcher) error {
	if dispatcher == nil {
		return fmt.Errorf("start discord driver: nil dispatcher")
	}

	unregister := d.gateway.Register(d.session)
	defer unregister()

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("start discord driver: open session: %w", err)
	}
	defer func() {
		_ = d.session.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-d.gateway.Updates():
			if err := d.handleUpdate(ctx, update, dispatcher); err != nil {
				d.cfg.onAsyncError(ctx, err)
			}
		}
	}
}

// handleUpdate decodes one update and publishes it with bounded latency.
func (d *Driver) handleUpdate(ctx context.Context, update Update, dispatcher otogi.EventDispatcher) error {
	event, err := d.decoder.Decode(update)
	if err != nil {
		return err
	}
	event.Source = otogi.EventSource{Platform: DriverPlatform, ID: d.cfg.name}

	publishCtx, cancel := context.WithTimeout(ctx, d.cfg.publishTimeout)
	defer cancel()
	if err := dispatcher.Publish(publishCtx, event); err != nil {
		return fmt.Errorf("handle discord update %s publish: %w", update.ID, err)
	}

	return nil
}

// Shutdown closes the gateway connection if Start has not already done so.
func (d *Driver) Shutdown(_ context.Context) error {
	if err := d.session.Close(); err != nil {
		return fmt.Errorf("shutdown discord driver: %w", err)
	}

	return nil
}

func asyncErrorLogger(logger *slog.Logger) func(context.Context, error) {
	return func(ctx context.Context, err error) {
		logger.ErrorContext(ctx, "discord driver async error", "error", err)
	}
}

var _ otogi.Driver = (*Driver)(nil)
