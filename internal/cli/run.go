package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nhle/coursedesk/internal/aggregator"
	"github.com/nhle/coursedesk/internal/app"
	"github.com/nhle/coursedesk/internal/dashboard"
	"github.com/nhle/coursedesk/internal/logger"
	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/scheduler"
	"github.com/nhle/coursedesk/internal/session"
	hubsync "github.com/nhle/coursedesk/internal/sync"
	"github.com/nhle/coursedesk/internal/toast"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Open the dashboard (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, opts)
		},
	}
}

// runTUI wires the sync stack to the Bubble Tea program. Logs go to the
// configured file because the program owns the terminal.
func runTUI(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := model.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	logFile, err := tea.LogToFile(cfg.LogPath, "coursedesk")
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	log := logger.NewWithWriter(logFile)

	ctx := cmd.Context()
	e, err := openEnv(ctx, opts, log)
	if err != nil {
		return err
	}
	defer e.Close()

	toasts := toast.NewCenter(0)
	client := e.client()
	client.OnError(toasts.Hook())
	client.OnError(e.session.AuthHook())

	polling := e.cfg.Polling
	sched := scheduler.New(time.Duration(polling.StaggerMs) * time.Millisecond)
	hub := hubsync.New(hubsync.Options{
		Store:     e.store,
		Realtime:  e.realtime(),
		Scheduler: sched,
		Sales:     aggregator.NewSales(client, sched, polling.Interval(model.DomainSales), log),
		Refunds:   aggregator.NewRefunds(client, sched, polling.Interval(model.DomainRefunds), log),
		Reviews:   aggregator.NewReviews(client, sched, polling.Interval(model.DomainReviews), log),
		Bank:      aggregator.NewBank(client, sched, polling.Interval(model.DomainBankVerifications), log),
		Dashboard: dashboard.NewService(client, log),
		Logger:    log,
	})
	e.session.OnLogout(hub.Stop)

	if errors.Is(e.restoreErr, session.ErrExpired) {
		toasts.Push(toast.LevelWarning, "Session expired, please sign in again")
	}

	m := app.New(app.Options{
		Session: e.session,
		Hub:     hub,
		Store:   e.store,
		Toasts:  toasts,
		APIURL:  e.apiURL,
		Logger:  log,
	})

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, runErr := p.Run()

	hub.Stop()
	hub.Wait()
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return fmt.Errorf("running dashboard: %w", runErr)
	}
	return nil
}
