package main

import (
	"context"
	"fmt"
	"os"

	"github.com/imrishuroy/grant-access/internal/access"
	"github.com/imrishuroy/grant-access/internal/app"
	"github.com/imrishuroy/grant-access/internal/config"
)

var Version = "dev"

// adminService is the engine surface the CLI drives.
type adminService interface {
	ListPayments(ctx context.Context, f access.Filter) (*access.Page, error)
	Stats(ctx context.Context) (*access.Stats, error)
	GetRequest(ctx context.Context, requestID string) (*access.Row, error)
	AdminDecide(ctx context.Context, requestID, action, adminID string, opts access.DecisionOptions) (*access.AccessRequest, error)
	SoftDelete(ctx context.Context, requestID, adminID, reason string) (*access.AccessRequest, error)
	Restore(ctx context.Context, requestID, adminID, reason string) (*access.AccessRequest, error)
	Delete(ctx context.Context, requestID string) error
	BulkDelete(ctx context.Context, requestIDs []string) (*access.BulkDeleteResult, error)
}

func loadService(ctx context.Context) (adminService, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, cfg.Logger())
	if err != nil {
		return nil, err
	}
	return a.Engine, nil
}

func main() {
	if err := newRootCmd(loadService).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
