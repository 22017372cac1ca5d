package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// builtins are the task kinds shipped with the service. Each carries its own
// retry policy; the delay is handed to the execution substrate when an
// attempt fails with attempts remaining.
var builtins = []TaskDefinition{
	{
		Name:          "Send Email",
		Description:   "Send an email with optional delay",
		ExecutableRef: "email.send",
		Schema:        Schema{"email": TypeString, "delay": TypeInteger},
		Retry:         RetryPolicy{MaxAttempts: 3, RetryDelay: 60 * time.Second},
		IsActive:      true,
	},
	{
		Name:          "Data Processing",
		Description:   "Process dataset with specified parameters",
		ExecutableRef: "data.process",
		Schema:        Schema{"dataset_size": TypeInteger, "processing_type": TypeString},
		Retry:         RetryPolicy{MaxAttempts: 2, RetryDelay: 120 * time.Second},
		IsActive:      true,
	},
	{
		Name:          "Report Generation",
		Description:   "Generate reports with custom format",
		ExecutableRef: "report.generate",
		Schema:        Schema{"report_type": TypeString, "include_charts": TypeBoolean},
		Retry:         RetryPolicy{MaxAttempts: 2, RetryDelay: 90 * time.Second},
		IsActive:      true,
	},
	{
		Name:          "File Backup",
		Description:   "Backup files to specified location",
		ExecutableRef: "backup.files",
		Schema:        Schema{"source_path": TypeString, "destination": TypeString, "compress": TypeBoolean},
		Retry:         RetryPolicy{MaxAttempts: 1, RetryDelay: 180 * time.Second},
		IsActive:      true,
	},
	{
		Name:          "Database Cleanup",
		Description:   "Clean up old database records",
		ExecutableRef: "db.cleanup",
		Schema:        Schema{"days_old": TypeInteger, "table_name": TypeString},
		Retry:         RetryPolicy{MaxAttempts: 2, RetryDelay: 120 * time.Second},
		IsActive:      true,
	},
}

// Seed inserts the builtin task definitions, skipping any that already
// exist (get-or-create by unique name). It returns the number created.
func Seed(ctx context.Context, store *Store, logger *slog.Logger) (int, error) {
	created := 0
	for _, def := range builtins {
		_, err := store.ByName(ctx, def.Name)
		if err == nil {
			logger.Debug("catalog: task already seeded", "task", def.Name)
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return created, fmt.Errorf("catalog: seed lookup %q: %w", def.Name, err)
		}

		if _, err := store.Insert(ctx, def); err != nil {
			return created, fmt.Errorf("catalog: seed insert %q: %w", def.Name, err)
		}
		logger.Info("catalog: seeded task", "task", def.Name, "ref", def.ExecutableRef)
		created++
	}
	return created, nil
}
