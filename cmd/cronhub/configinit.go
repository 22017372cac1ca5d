package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/flemzord/cronhub/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configInitCmd walks the user through an interactive form and writes
// a starter configuration file.
func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("output")
			if path == "" {
				path = defaultConfigPath()
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists, remove it first or pass --output", path)
			}

			cfg := config.Default()
			bind := cfg.Server.Bind
			dbPath := cfg.Database.Path
			workers := strconv.Itoa(cfg.Executor.Workers)
			timezone := cfg.Dispatch.Timezone
			otlp := ""

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Listen address").
						Description("host:port the HTTP gateway binds to").
						Value(&bind),
					huh.NewInput().
						Title("Database path").
						Description("SQLite file holding schedules and execution logs").
						Value(&dbPath),
					huh.NewInput().
						Title("Executor workers").
						Description("Concurrent task attempts").
						Value(&workers).
						Validate(func(s string) error {
							n, err := strconv.Atoi(s)
							if err != nil || n < 1 {
								return fmt.Errorf("must be a positive integer")
							}
							return nil
						}),
					huh.NewInput().
						Title("Timezone").
						Description("IANA zone cron expressions are evaluated in").
						Value(&timezone),
					huh.NewInput().
						Title("OTLP endpoint").
						Description("host:port of a trace collector, empty to disable").
						Value(&otlp),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}

			cfg.Server.Bind = bind
			cfg.Database.Path = dbPath
			cfg.Executor.Workers, _ = strconv.Atoi(workers)
			cfg.Dispatch.Timezone = timezone
			cfg.Telemetry.OTLPEndpoint = otlp

			if err := config.Validate(cfg); err != nil {
				return err
			}

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
			}
			if err := os.WriteFile(path, out, 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}

			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Where to write the configuration file")
	return cmd
}
