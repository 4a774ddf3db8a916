package main

import (
	"context"
	"fmt"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/service"
)

// maintenance is the subset of service.LifecycleService the CLI drives.
type maintenance interface {
	Converge(ctx context.Context) (*service.ConvergeResult, error)
	ClearByCategory(ctx context.Context, category string) (*service.ClearResult, error)
	ClearProject(ctx context.Context, projectID string) (*service.ClearResult, error)
	Status(ctx context.Context) (*service.CacheStatus, error)
}

func run(ctx context.Context, m maintenance, cmd string, args []string) (any, error) {
	switch cmd {
	case "converge":
		return m.Converge(ctx)
	case "clear":
		category := ""
		if len(args) > 0 {
			category = args[0]
		}
		return m.ClearByCategory(ctx, category)
	case "clear-project":
		if len(args) < 1 {
			return nil, fmt.Errorf("clear-project needs a project id")
		}
		return m.ClearProject(ctx, args[0])
	case "status":
		return m.Status(ctx)
	default:
		return nil, fmt.Errorf("unknown command %q (%s)", cmd, usage)
	}
}
