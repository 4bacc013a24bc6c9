package scheduler

import (
	"context"
	"time"

	"github.com/HelloWorldSungin/claude-strategist/internal/records"
)

//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks github.com/HelloWorldSungin/claude-strategist/internal/scheduler RunStore,DocWriter
//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks github.com/HelloWorldSungin/claude-strategist/internal/executor Executor

// RunStore is the record boundary used by the scheduler.
type RunStore interface {
	Append(ctx context.Context, r records.Run) (records.Run, error)
	LastSuccess(ctx context.Context, job string) (time.Time, bool, error)
}

// DocWriter stores a job's output as a cache document.
type DocWriter interface {
	Write(name string, v any) error
}
