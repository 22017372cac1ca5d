// Package tasks provides the builtin task bodies shipped with the
// service. Each body is registered under the executable reference its
// catalog entry names; the executor resolves bodies through the registry
// and never branches on task names itself.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/flemzord/cronhub/internal/executor"
)

// SleepFunc simulates task work. The default respects ctx cancellation;
// tests inject a no-op.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options configures the builtin bodies. Zero values get working defaults.
type Options struct {
	// Rand drives the simulated result payloads. Injected in tests for
	// determinism.
	Rand   *rand.Rand
	Sleep  SleepFunc
	Logger *slog.Logger
	// Now supplies timestamps in result payloads.
	Now func() time.Time
}

type runtime struct {
	mu     sync.Mutex
	rand   *rand.Rand
	sleep  SleepFunc
	logger *slog.Logger
	now    func() time.Time
}

// RegisterBuiltins registers the five builtin bodies on reg.
func RegisterBuiltins(reg *executor.Registry, opts Options) error {
	rt := &runtime{
		rand:   opts.Rand,
		sleep:  opts.Sleep,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if rt.rand == nil {
		rt.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if rt.sleep == nil {
		rt.sleep = ctxSleep
	}
	if rt.logger == nil {
		rt.logger = slog.Default()
	}
	if rt.now == nil {
		rt.now = time.Now
	}

	for ref, body := range map[string]executor.Body{
		"email.send":      executor.BodyFunc(rt.sendEmail),
		"data.process":    executor.BodyFunc(rt.processData),
		"report.generate": executor.BodyFunc(rt.generateReport),
		"backup.files":    executor.BodyFunc(rt.backupFiles),
		"db.cleanup":      executor.BodyFunc(rt.cleanupDatabase),
	} {
		if err := reg.Register(ref, body); err != nil {
			return err
		}
	}
	return nil
}

func (rt *runtime) sendEmail(ctx context.Context, params map[string]any) (map[string]any, error) {
	email := stringParam(params, "email", "")
	if email == "" {
		return nil, fmt.Errorf("email parameter is required")
	}

	if delay := intParam(params, "delay", 0); delay > 0 {
		if err := rt.sleep(ctx, time.Duration(delay)*time.Second); err != nil {
			return nil, err
		}
	}

	rt.logger.Info("tasks: email sent", "recipient", email)
	return map[string]any{
		"email_sent": true,
		"recipient":  email,
	}, nil
}

func (rt *runtime) processData(ctx context.Context, params map[string]any) (map[string]any, error) {
	datasetSize := intParam(params, "dataset_size", 1000)
	processingType := stringParam(params, "processing_type", "simple")

	if err := rt.sleep(ctx, 2*time.Second); err != nil {
		return nil, err
	}

	if processingType == "complex" {
		if err := rt.sleep(ctx, 3*time.Second); err != nil {
			return nil, err
		}
		return map[string]any{
			"processed_records": datasetSize,
			"processing_type":   processingType,
			"statistics": map[string]any{
				"mean":    rt.uniform(10, 100),
				"median":  rt.uniform(10, 100),
				"std_dev": rt.uniform(1, 10),
			},
		}, nil
	}

	return map[string]any{
		"processed_records": datasetSize,
		"processing_type":   processingType,
		"total_time":        "2 seconds",
	}, nil
}

func (rt *runtime) generateReport(ctx context.Context, params map[string]any) (map[string]any, error) {
	reportType := stringParam(params, "report_type", "basic")
	includeCharts := boolParam(params, "include_charts", false)

	if err := rt.sleep(ctx, time.Second); err != nil {
		return nil, err
	}

	result := map[string]any{
		"report_type":    reportType,
		"include_charts": includeCharts,
		"generated_at":   rt.now().UTC().Format(time.RFC3339),
		"file_size":      fmt.Sprintf("%dKB", rt.between(100, 1000)),
		"pages":          rt.between(5, 50),
	}
	if includeCharts {
		result["charts_generated"] = rt.between(3, 10)
	}
	return result, nil
}

func (rt *runtime) backupFiles(ctx context.Context, params map[string]any) (map[string]any, error) {
	sourcePath := stringParam(params, "source_path", "/tmp")
	destination := stringParam(params, "destination", "/backup")
	compress := boolParam(params, "compress", false)

	if err := rt.sleep(ctx, 3*time.Second); err != nil {
		return nil, err
	}

	return map[string]any{
		"source_path":     sourcePath,
		"destination":     destination,
		"compressed":      compress,
		"files_backed_up": rt.between(10, 100),
		"total_size":      fmt.Sprintf("%dMB", rt.between(1, 100)),
	}, nil
}

func (rt *runtime) cleanupDatabase(ctx context.Context, params map[string]any) (map[string]any, error) {
	daysOld := intParam(params, "days_old", 30)
	tableName := stringParam(params, "table_name", "logs")

	if err := rt.sleep(ctx, 2*time.Second); err != nil {
		return nil, err
	}

	return map[string]any{
		"table_name":      tableName,
		"days_old":        daysOld,
		"records_deleted": rt.between(5, 50),
		"space_freed":     fmt.Sprintf("%dMB", rt.between(1, 20)),
	}, nil
}

// between returns a random int in [lo, hi]. The shared rand is guarded
// because bodies run concurrently across workers.
func (rt *runtime) between(lo, hi int) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return lo + rt.rand.Intn(hi-lo+1)
}

func (rt *runtime) uniform(lo, hi float64) float64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return lo + rt.rand.Float64()*(hi-lo)
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// stringParam reads a string parameter with a default for absent keys.
func stringParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return fallback
}

// intParam reads an integer parameter. JSON decoding yields float64, so
// whole floats are accepted.
func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func boolParam(params map[string]any, key string, fallback bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return fallback
}
