package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vigil/internal/adapter/agent"
	"vigil/internal/adapter/channel"
	"vigil/internal/domain"
	"vigil/internal/infra/config"
	"vigil/internal/infra/logger"
	"vigil/internal/infra/tracer"
	"vigil/internal/usecase"
	"vigil/internal/usecase/alert"
	"vigil/internal/usecase/checklist"
	"vigil/internal/usecase/cronjob"
	"vigil/internal/usecase/scheduling"
)

const (
	heartbeatEntry  = "heartbeat"
	alertSweepEntry = "alert-sweep"
	shutdownTimeout = 10 * time.Second
)

func newRunCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon: chat, heartbeat, cron jobs and alert delivery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if err := config.ValidateRuntime(cfg); err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}
}

func runDaemon(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	// 1. Logger & tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	tracerShutdown, err := tracer.Setup(parent, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 2. Stores
	st, err := openStores(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	// 3. Agent runner
	caps, err := domain.ParseCapabilities(cfg.Agent.Capabilities)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	var runner domain.AgentRunner = agent.NewProcessRunner(agent.ProcessConfig{
		Command:      cfg.Agent.Command,
		Args:         cfg.Agent.Args,
		Model:        cfg.Agent.Model,
		WorkingDir:   cfg.Agent.WorkingDir,
		Capabilities: caps,
		Env:          []string{"VIGIL_ALERT_MAILBOX=" + st.Mailbox.Path()},
	}, logger.Component(log, "agent"))
	if cb := cfg.Agent.CircuitBreaker; cb.Enabled {
		runner = agent.NewCircuitBreakerRunner(runner, agent.BreakerConfig{
			MaxFailures: cb.MaxFailures,
			Timeout:     cb.Timeout,
			Interval:    cb.Interval,
		}, logger.Component(log, "agent"))
	}

	// 4. Messenger
	tg := channel.NewTelegram(cfg.Telegram.Token, logger.Component(log, "telegram"),
		channel.WithBaseURL(cfg.Telegram.BaseURL),
		channel.WithPollTimeout(cfg.Telegram.PollTimeout),
	)

	// 5. Sessions & task runner
	registry := usecase.NewSessionRegistry(st.History, logger.Component(log, "sessions"))
	taskRunner := usecase.NewTaskRunner(usecase.TaskRunnerConfig{
		Agent:          runner,
		History:        st.History,
		Registry:       registry,
		Locker:         usecase.NewSessionLocker(),
		Progress:       tg,
		ProgressWindow: cfg.Progress.Window,
		WorkingDir:     cfg.Agent.WorkingDir,
		Capabilities:   caps,
		Logger:         logger.Component(log, "taskrunner"),
	})

	// 6. Scheduler, heartbeat, alerts, cron jobs
	sched := scheduling.NewScheduler(logger.Component(log, "scheduler"))
	listPath := checklistPath(cfg)

	heartbeat := usecase.NewHeartbeat(usecase.HeartbeatConfig{
		ChecklistPath: listPath,
		MailboxPath:   st.Mailbox.Path(),
		Prompt:        cfg.Heartbeat.Prompt,
		Runner:        taskRunner,
		State:         st.State,
		Logger:        logger.Component(log, "heartbeat"),
	})
	dispatcher := alert.NewDispatcher(st.Mailbox, tg, cfg.Access.Recipient(), logger.Component(log, "alerts"))
	jobs := cronjob.NewManager(st.Jobs, sched, taskRunner,
		cronjob.OrphanPolicy(cfg.Scheduler.OrphanPolicy), logger.Component(log, "cronjob"))

	if err := sched.AddInterval(heartbeatEntry, cfg.Scheduler.HeartbeatInterval, heartbeat.Run); err != nil {
		return err
	}
	if err := sched.AddInterval(alertSweepEntry, cfg.Scheduler.AlertSweepInterval, dispatcher.Sweep); err != nil {
		return err
	}

	parser := checklist.NewParser(cfg.Checklist.Keywords...)
	reconcile := func(ctx context.Context) {
		doc, err := checklist.Read(listPath)
		if err != nil {
			log.Warn("checklist unreadable, schedule unchanged", "path", listPath, "error", err)
			return
		}
		if _, err := jobs.Reconcile(ctx, parser.Parse(doc)); err != nil {
			log.Error("reconcile failed", "error", err)
		}
	}

	// 7. Router
	router := usecase.NewRouter(usecase.RouterConfig{
		Runner:    taskRunner,
		Registry:  registry,
		History:   st.History,
		Jobs:      jobs,
		Heartbeat: heartbeat,
		TriggerHeartbeat: func() error {
			return sched.RunNow(heartbeatEntry)
		},
		Messenger:            tg,
		AllowedConversations: cfg.Access.AllowedConversations,
		BotUsername:          tg.BotUsername,
		Logger:               logger.Component(log, "router"),
	})

	// 8. Graceful shutdown
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 9. Start
	registry.Warm(ctx, cfg.Access.AllowedConversations)
	reconcile(ctx)

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if cfg.Checklist.Watch {
		w := checklist.NewWatcher(listPath, cfg.Checklist.Debounce, reconcile, logger.Component(log, "checklist"))
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Warn("checklist watcher stopped", "error", err)
			}
		}()
	}
	if err := tg.Start(ctx, router.Handle); err != nil {
		sched.Stop()
		return fmt.Errorf("telegram: %w", err)
	}

	log.Info("vigil started",
		"agent", runner.Name(),
		"checklist", listPath,
		"mailbox", st.Mailbox.Path(),
		"history", cfg.History.Backend,
		"allowed", len(cfg.Access.AllowedConversations),
		"heartbeat_every", cfg.Scheduler.HeartbeatInterval,
	)

	<-ctx.Done()
	log.Info("shutting down")
	return shutdown(tg, sched, dispatcher, log)
}

func shutdown(tg *channel.Telegram, sched *scheduling.Scheduler, dispatcher *alert.Dispatcher, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := tg.Stop(ctx); err != nil {
		log.Warn("telegram stop", "error", err)
	}
	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stop", "error", err)
	}
	// Deliver whatever the last runs wrote before exiting.
	if err := dispatcher.Sweep(ctx); err != nil {
		log.Warn("final alert sweep failed", "error", err)
	}
	return nil
}
