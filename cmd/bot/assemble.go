package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"otogi-invite/internal/driver"
	"otogi-invite/internal/httpapi"
	"otogi-invite/internal/kernel"
	"otogi-invite/modules/help"
	"otogi-invite/modules/invitecount"
	"otogi-invite/pkg/otogi"
)

// bot is a fully registered kernel plus what the HTTP API needs.
type bot struct {
	logger   *slog.Logger
	kernel   *kernel.Kernel
	invite   *invitecount.Module
	httpAddr string
}

// assemble registers drivers, shared services, and modules in that order.
// Modules resolve services during registration, so services come first.
func assemble(ctx context.Context, logger *slog.Logger, cfg appConfig, runtimes []driver.Runtime) (*bot, error) {
	k := kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.subscriptionWorkers),
		kernel.WithRedeliveryWindow(cfg.redeliveryWindow),
		kernel.WithModuleRouting(cfg.routingDefault, cfg.moduleRoutes),
	)

	for _, runtime := range runtimes {
		if err := k.RegisterDriver(runtime.Driver); err != nil {
			return nil, fmt.Errorf("register driver %s: %w", runtime.Driver.Name(), err)
		}
	}

	router, err := driver.NewRouter(runtimes)
	if err != nil {
		return nil, fmt.Errorf("build sink router: %w", err)
	}
	services := []struct {
		name  string
		value any
	}{
		{otogi.ServiceLogger, logger},
		{otogi.ServiceSinkDispatcher, router},
		{otogi.ServiceMemberDirectory, router},
	}
	for _, service := range services {
		if err := k.RegisterService(service.name, service.value); err != nil {
			return nil, err
		}
	}

	invite := invitecount.New(invitecount.WithLogger(logger), invitecount.WithConfig(cfg.invite))
	for _, module := range []otogi.Module{invite, help.New()} {
		if err := k.RegisterModule(ctx, module); err != nil {
			return nil, fmt.Errorf("register %s module: %w", module.Name(), err)
		}
	}

	return &bot{logger: logger, kernel: k, invite: invite, httpAddr: cfg.httpAddr}, nil
}

// serve runs the kernel and, when an address is configured, the query API.
// Either failing stops both.
func (b *bot) serve(ctx context.Context) error {
	var api *httpapi.Handler
	if b.httpAddr != "" {
		handler, err := httpapi.NewHandler(b.invite.Service(), b.logger)
		if err != nil {
			return fmt.Errorf("build query api: %w", err)
		}
		api = handler
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := b.kernel.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run kernel: %w", err)
		}
		return nil
	})
	if api != nil {
		group.Go(func() error {
			b.logger.InfoContext(groupCtx, "query api listening", "addr", b.httpAddr)
			return httpapi.Serve(groupCtx, b.httpAddr, api.Routes())
		})
	}

	return group.Wait()
}
