package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/lacehouse/store-api/internal/platform/config"
	"github.com/lacehouse/store-api/internal/platform/observability"
	"github.com/lacehouse/store-api/internal/repositories"
	"github.com/lacehouse/store-api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog       services.CatalogService
	Orders        services.OrderService
	Notifications services.NotificationService
	System        services.SystemService
}

// Dependencies carries collaborators that live outside the repository registry.
type Dependencies struct {
	// Payments is required for payment initialisation and verification.
	Payments services.PaymentGateway
	// Publisher fans notifications out to the email/SMS workers. Nil keeps delivery in-app only.
	Publisher services.NotificationPublisher
	Build     services.BuildInfo
	Logger    *zap.Logger
	Meter     metric.Meter
	Clock     func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	dispatcher *services.AsyncNotificationDispatcher
}

// NewContainer constructs the runtime dependencies. Production wiring provides the Firestore
// registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment gateway is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	dispatcher, err := buildDispatcher(reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	svc, err := buildServices(ctx, reg, cfg, deps, dispatcher)
	if err != nil {
		_ = dispatcher.Close(ctx)
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		dispatcher:   dispatcher,
	}, nil
}

// Close drains queued notifications and then releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close notification dispatcher: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildDispatcher(reg repositories.Registry, cfg config.Config, deps Dependencies) (*services.AsyncNotificationDispatcher, error) {
	var channels []services.NotificationChannel

	if notificationsRepo := reg.Notifications(); notificationsRepo != nil {
		inApp, err := services.NewInAppChannel(notificationsRepo, deps.Clock)
		if err != nil {
			return nil, fmt.Errorf("build in-app channel: %w", err)
		}
		channels = append(channels, inApp)
	}

	if deps.Publisher != nil {
		publisher, err := services.NewPublisherChannel(deps.Publisher)
		if err != nil {
			return nil, fmt.Errorf("build publisher channel: %w", err)
		}
		channels = append(channels, publisher)
	}

	dispatcher, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
		Channels:  channels,
		Workers:   cfg.Notifications.Workers,
		QueueSize: cfg.Notifications.QueueSize,
		Timeout:   cfg.Notifications.Timeout,
		Meter:     deps.Meter,
		Logger:    observability.EventLogger(deps.Logger.Named("notifications")),
	})
	if err != nil {
		return nil, fmt.Errorf("build notification dispatcher: %w", err)
	}
	return dispatcher, nil
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps Dependencies, dispatcher services.NotificationDispatcher) (Services, error) {
	var svc Services

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: reg.Products(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Products: reg.Products(),
		Orders:   reg.Orders(),
		Counters: reg.Counters(),
		Payments: deps.Payments,
		Notifier: dispatcher,
		Settings: services.OrderSettings{
			Currency:              cfg.Store.Currency,
			FlatShippingRate:      cfg.Store.FlatShippingRate,
			FreeShippingThreshold: cfg.Store.FreeShippingThreshold,
			TaxRate:               cfg.Store.TaxRate,
			OrderNumberPrefix:     cfg.Store.OrderNumberPrefix,
			LowStockThreshold:     cfg.Store.LowStockThreshold,
			UnpaidOrderTTL:        cfg.Store.UnpaidOrderTTL,
			PaymentProvider:       cfg.Payments.Provider,
			PaymentSuccessURL:     cfg.Payments.SuccessURL,
			PaymentCancelURL:      cfg.Payments.CancelURL,
		},
		Clock:  deps.Clock,
		Locale: language.English,
		Logger: observability.EventLogger(deps.Logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	notificationSvc, err := services.NewNotificationService(services.NotificationServiceDeps{
		Notifications: reg.Notifications(),
		Clock:         deps.Clock,
		Logger:        observability.EventLogger(deps.Logger.Named("notifications")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification service: %w", err)
	}
	svc.Notifications = notificationSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            deps.Clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
