// Package app wires stores, gateways and the access engine from config.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/imrishuroy/grant-access/internal/access"
	"github.com/imrishuroy/grant-access/internal/aws"
	"github.com/imrishuroy/grant-access/internal/config"
	"github.com/imrishuroy/grant-access/internal/directory"
	"github.com/imrishuroy/grant-access/internal/idempotency"
	"github.com/imrishuroy/grant-access/internal/listings"
	"github.com/imrishuroy/grant-access/internal/listingview"
	"github.com/imrishuroy/grant-access/internal/notify"
	"github.com/imrishuroy/grant-access/internal/payment"
)

// App holds the wired components shared by the binaries.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Clients    *aws.AWSClients
	Engine     *access.Engine
	Listings   *listingview.Service
	Gateway    *payment.StripeGateway
	Events     *idempotency.Store
	Dispatcher *notify.Dispatcher
}

// New builds an App. The Stripe gateway is only created when a secret key
// is configured; callers that create intents must run ValidatePayments first.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, fmt.Errorf("init aws clients: %w", err)
	}
	return NewWithClients(clients, cfg, logger), nil
}

// NewWithClients builds an App around existing clients.
func NewWithClients(clients *aws.AWSClients, cfg *config.Config, logger *slog.Logger) *App {
	users := directory.NewStore(clients.DynamoDB, cfg.UsersTable)
	listingStore := listings.NewStore(clients.DynamoDB, cfg.ListingsTable)

	dispatcher := notify.NewDispatcher(
		notify.NewSESMailer(clients.SES, cfg.EmailFrom),
		notify.NewInAppStore(clients.DynamoDB, cfg.NotificationsTable),
		users,
		cfg.AdminNotifyEmail,
		logger,
	)

	var notifier access.Notifier = notify.DirectNotifier{Dispatcher: dispatcher}
	if cfg.NotificationsQueueURL != "" {
		notifier = notify.NewQueueNotifier(aws.NewPublisher(clients.SQS, cfg.NotificationsQueueURL))
	}

	a := &App{
		Config:     cfg,
		Logger:     logger,
		Clients:    clients,
		Events:     idempotency.NewStore(clients.DynamoDB, cfg.WebhookEventsTable, cfg.WebhookDedupTTL),
		Dispatcher: dispatcher,
	}

	deps := access.Deps{
		Repo:      access.NewStore(clients.DynamoDB, cfg.AccessRequestsTable, cfg.AccessPairsTable),
		Listings:  listingStore,
		Directory: users,
		Notifier:  notifier,
		Metrics:   aws.NewMetrics(clients.CloudWatch, cfg.MetricsNamespace),
		Logger:    logger,
	}
	if cfg.StripeSecretKey != "" {
		a.Gateway = payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		deps.Gateway = a.Gateway
	}

	a.Engine = access.NewEngine(deps, cfg.Engine())
	a.Listings = listingview.NewService(a.Engine, listingStore, users)
	return a
}
