package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/taskherd/taskherd/internals/jobs"
)

// builtinRegistry holds the job handlers shipped with the binary. Embedders
// extend this list at startup; ids are resolved before a task is ever
// created, so a typo fails synchronously.
func builtinRegistry(a *app) (*jobs.Registry, error) {
	return jobs.NewRegistry(
		jobs.Job{ID: "log-sweep", Run: func(ctx context.Context, log io.Writer, args map[string]string) (int, error) {
			maxAge := time.Duration(a.cfg.Logs.MaxAgeHours * float64(time.Hour))
			if override, ok := args["max_age_hours"]; ok {
				hours, err := strconv.ParseFloat(override, 64)
				if err != nil {
					return 1, fmt.Errorf("invalid max_age_hours %q: %w", override, err)
				}
				maxAge = time.Duration(hours * float64(time.Hour))
			}
			maxCount := a.cfg.Logs.MaxCount
			if override, ok := args["max_count"]; ok {
				count, err := strconv.Atoi(override)
				if err != nil {
					return 1, fmt.Errorf("invalid max_count %q: %w", override, err)
				}
				maxCount = count
			}

			removedLogs := a.logs.Cleanup(maxAge, maxCount)
			removedRows, err := a.store.History().Cleanup(ctx, maxAge, maxCount)
			if err != nil {
				return 1, err
			}
			fmt.Fprintf(log, "removed %d log file(s), %d history row(s)\n", removedLogs, removedRows)
			return 0, nil
		}},
	)
}
