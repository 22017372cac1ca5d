package main

import (
	"fmt"
	"log/slog"

	"github.com/flemzord/cronhub/pkg/app"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

// program adapts the application loop to the system service manager.
// Start must not block, so the loop runs in its own goroutine.
type program struct {
	configPath string
	errs       chan error
}

func (p *program) Start(_ service.Service) error {
	go func() {
		p.errs <- app.Run(app.RunParams{
			ConfigPath:  p.configPath,
			Version:     version,
			Commit:      commit,
			Date:        date,
			LogLevel:    slog.LevelInfo,
			SeedCatalog: true,
		})
	}()
	return nil
}

func (p *program) Stop(_ service.Service) error {
	// app.Run exits on SIGTERM, which the service manager already
	// delivered by the time Stop is called.
	return nil
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Run or manage cronhub as a system service",
	}

	var configPath string
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	newService := func() (service.Service, *program, error) {
		prg := &program{configPath: configPath, errs: make(chan error, 1)}
		args := []string{"service", "run"}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		svc, err := service.New(prg, &service.Config{
			Name:        "cronhub",
			DisplayName: "cronhub",
			Description: "Recurring-job scheduler with execution tracking",
			Arguments:   args,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("service: %w", err)
		}
		return svc, prg, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Register cronhub with the system service manager",
		RunE: func(_ *cobra.Command, _ []string) error {
			svc, _, err := newService()
			if err != nil {
				return err
			}
			if err := svc.Install(); err != nil {
				return err
			}
			fmt.Println("Service installed")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove cronhub from the system service manager",
		RunE: func(_ *cobra.Command, _ []string) error {
			svc, _, err := newService()
			if err != nil {
				return err
			}
			if err := svc.Uninstall(); err != nil {
				return err
			}
			fmt.Println("Service uninstalled")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run under the service manager (invoked by install, not by hand)",
		RunE: func(_ *cobra.Command, _ []string) error {
			if configPath == "" {
				configPath = resolveConfigPath()
			}
			svc, prg, err := newService()
			if err != nil {
				return err
			}
			if err := svc.Run(); err != nil {
				return err
			}
			select {
			case err := <-prg.errs:
				return err
			default:
				return nil
			}
		},
	})

	return cmd
}
