package onebot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"otogi-invite/pkg/otogi"
)

const (
	defaultPublishTimeout  = 2 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// driverConfig contains runtime controls for publish timeout and error reporting.
type driverConfig struct {
	name           string
	publishTimeout time.Duration
	onAsyncError   func(context.Context, error)
}

// DriverOption mutates OneBot driver configuration.
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

// Driver serves the OneBot reverse connection and publishes neutral events.
type Driver struct {
	cfg     driverConfig
	server  *http.Server
	hub     *Hub
	decoder *Decoder
}

// NewDriver creates a OneBot driver serving hub endpoints on server.
func NewDriver(server *http.Server, hub *Hub, decoder *Decoder, options ...DriverOption) (*Driver, error) {
	if server == nil {
		return nil, fmt.Errorf("new onebot driver: nil server")
	}
	if hub == nil {
		return nil, fmt.Errorf("new onebot driver: nil hub")
	}
	if decoder == nil {
		return nil, fmt.Errorf("new onebot driver: nil decoder")
	}

	cfg := driverConfig{
		name:           DriverType,
		publishTimeout: defaultPublishTimeout,
		onAsyncError:   func(context.Context, error) {},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Driver{
		cfg:     cfg,
		server:  server,
		hub:     hub,
		decoder: decoder,
	}, nil
}

// Name returns the stable driver identifier.
func (d *Driver) Name() string {
	return d.cfg.name
}

// Start listens for the implementation and publishes decoded events until ctx ends.
func (d *Driver) Start(ctx context.Context, dispatcher otogi.EventDispatcher) error {
	if dispatcher == nil {
		return fmt.Errorf("start onebot driver: nil dispatcher")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve onebot endpoint %s: %w", d.server.Addr, err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), defaultShutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown onebot endpoint: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		d.consume(groupCtx, dispatcher)
		return nil
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("start onebot driver: %w", err)
	}

	return nil
}

func (d *Driver) consume(ctx context.Context, dispatcher otogi.EventDispatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-d.hub.Events():
			if err := d.handleFrame(ctx, frame, dispatcher); err != nil {
				d.cfg.onAsyncError(ctx, err)
			}
		}
	}
}

// handleFrame decodes one frame and publishes it with bounded latency.
func (d *Driver) handleFrame(ctx context.Context, frame []byte, dispatcher otogi.EventDispatcher) error {
	event, err := d.decodeSafely(frame)
	if errors.Is(err, ErrIgnoredPayload) {
		return nil
	}
	if err != nil {
		return err
	}

	event.Source = otogi.EventSource{Platform: DriverPlatform, ID: d.cfg.name}

	publishCtx, cancel := context.WithTimeout(ctx, d.cfg.publishTimeout)
	defer cancel()
	if err := dispatcher.Publish(publishCtx, event); err != nil {
		return fmt.Errorf("handle onebot frame %s publish: %w", event.ID, err)
	}

	return nil
}

// decodeSafely protects decoder panics at the adapter boundary.
func (d *Driver) decodeSafely(frame []byte) (decoded *otogi.Event, err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		err = fmt.Errorf("decode onebot frame panic: %v", recovered)
	}()

	return d.decoder.Decode(frame)
}

// Shutdown releases resources not controlled by Start context.
func (d *Driver) Shutdown(ctx context.Context) error {
	if err := d.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown onebot driver: %w", err)
	}

	return nil
}

// asyncErrorLogger reports async failures through logger.
func asyncErrorLogger(logger *slog.Logger) func(context.Context, error) {
	return func(ctx context.Context, err error) {
		logger.ErrorContext(ctx, "onebot driver async error", "error", err)
	}
}

var _ otogi.Driver = (*Driver)(nil)
