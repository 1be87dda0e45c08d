package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/tarumae-voice/internal/commands"
	"github.com/latoulicious/tarumae-voice/internal/config"
	"github.com/latoulicious/tarumae-voice/internal/handlers"
	"github.com/latoulicious/tarumae-voice/internal/presence"
	"github.com/latoulicious/tarumae-voice/pkg/cron"
	"github.com/latoulicious/tarumae-voice/pkg/database"
	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
	"github.com/latoulicious/tarumae-voice/pkg/source"
	"github.com/latoulicious/tarumae-voice/pkg/stream"
	"github.com/latoulicious/tarumae-voice/pkg/voice"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := pipeline.NewLogger(cfg.Pipeline.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer pipeline.Sync(logger)
	restoreLog := pipeline.RedirectStdLog(logger)
	defer restoreLog()

	metrics := pipeline.NewBasicMetricsCollector(nil)

	// Create a new Discord session using the provided token
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		logger.Fatal("Failed to create Discord session", pipeline.Error(err))
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent

	resolver := source.NewChain(
		source.NewYouTubeResolver(cfg.YouTubeProxy),
		source.NewYTDLPResolver(cfg.YouTubeProxy),
	)
	player := stream.NewPlayer(cfg.Pipeline, logger, metrics)
	connector := voice.NewDiscordConnector(dg, cfg.Pipeline.Discord, logger)

	manager := voice.NewManager(voice.Config{
		ConnectTimeout: cfg.ConnectTimeout,
		ResolveTimeout: cfg.ResolveTimeout,
		EventBuffer:    cfg.EventBuffer,
	}, connector, resolver, player, logger, voice.WithMetrics(metrics))

	var history *database.History
	if cfg.HistoryEnabled() {
		hc := database.DefaultHistoryConfig(cfg.HistoryDBPath)
		hc.Retention = cfg.HistoryRetention
		history, err = database.NewHistory(hc)
		if err != nil {
			logger.Fatal("Failed to open session history", pipeline.Error(err))
		}
		defer history.Close()
	}

	presenceManager := presence.NewPresenceManager(dg, presence.StateStats(dg.State), logger)

	var recorder handlers.Recorder
	if history != nil {
		recorder = history
	}
	notifier := handlers.NewEventNotifier(dg, manager.Snapshots, presenceManager, recorder, logger)
	notifierDone := make(chan struct{})
	go func() {
		defer close(notifierDone)
		notifier.Run(manager.Events())
	}()

	limiter := handlers.NewUserLimiter(cfg.CommandRate, cfg.CommandBurst)
	var routerOpts []commands.Option
	if history != nil {
		routerOpts = append(routerOpts, commands.WithHistory(history))
	}
	router := commands.NewRouter(cfg.Prefix, manager, dg, logger, metrics, routerOpts...)

	// Register handlers
	dg.AddHandler(handlers.NewMessageHandler(cfg.Prefix, router, dg, limiter, logger).Handle)
	dg.AddHandler(handlers.NewVoiceStateHandler(manager, logger).Handle)

	scheduler := cron.NewScheduler(logger)
	jobs := registerJobs(scheduler, logger, metrics, history, limiter, presenceManager)

	// Open a websocket connection to Discord and begin listening.
	if err := dg.Open(); err != nil {
		logger.Fatal("Failed to open Discord session", pipeline.Error(err))
	}

	presenceManager.UpdateDefaultPresence()
	scheduler.Start()
	for _, name := range jobs {
		logger.Info("Scheduled job", pipeline.String("job", name), pipeline.Any("next_run", scheduler.NextRun(name)))
	}
	if history != nil {
		scheduler.RunNow("history-stats")
	}

	logger.Info("Bot is running. Press CTRL-C to exit.", pipeline.String("prefix", cfg.Prefix))
	// Wait here until CTRL-C or other term signal is received.
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	logger.Info("Shutting down")
	scheduler.Stop()
	manager.Close()
	<-notifierDone

	// Cleanly close down the Discord session.
	if err := dg.Close(); err != nil {
		logger.Warn("Failed to close Discord session", pipeline.Error(err))
	}
}

// registerJobs adds the maintenance jobs and returns their names.
func registerJobs(s *cron.Scheduler, logger pipeline.Logger, metrics *pipeline.BasicMetricsCollector, history *database.History, limiter *handlers.UserLimiter, pm *presence.PresenceManager) []string {
	var names []string
	add := func(name, schedule string, fn cron.JobFunc) {
		if err := s.AddJob(name, schedule, fn); err != nil {
			logger.Fatal("Failed to schedule job", pipeline.String("job", name), pipeline.Error(err))
		}
		names = append(names, name)
	}

	add("presence-refresh", "0 */5 * * * *", func(context.Context) error {
		pm.Refresh()
		return nil
	})

	add("limiter-prune", "0 */10 * * * *", func(context.Context) error {
		if n := limiter.Prune(30 * time.Minute); n > 0 {
			logger.Debug("Pruned idle rate limiters", pipeline.Int("removed", n))
		}
		return nil
	})

	add("metrics-report", "0 * * * * *", func(context.Context) error {
		snapshot := metrics.GetAllMetrics()
		for _, m := range snapshot.Metrics {
			logger.Debug("Metric",
				pipeline.String("name", m.Name),
				pipeline.Float64("value", m.Value),
				pipeline.Any("tags", m.Tags))
		}
		for _, name := range names {
			st, ok := s.Status(name)
			if !ok || st.LastErr == nil {
				continue
			}
			logger.Warn("Job last run failed",
				pipeline.String("job", st.Name),
				pipeline.Any("last_run", st.LastRun),
				pipeline.Any("next_run", st.NextRun),
				pipeline.Error(st.LastErr))
		}
		return nil
	})

	if history == nil {
		return names
	}

	add("history-retention", "0 0 4 * * *", func(ctx context.Context) error {
		deleted, err := history.PruneExpired(ctx)
		if err != nil {
			return err
		}
		logger.Info("Pruned session history", pipeline.Int64("events_deleted", deleted))
		return nil
	})

	add("history-stats", "0 0 * * * *", func(ctx context.Context) error {
		stats, err := history.Stats(ctx)
		if err != nil {
			return err
		}
		metrics.RecordGauge("history.sessions", float64(stats.Sessions), nil)
		metrics.RecordGauge("history.sessions.open", float64(stats.ActiveSessions), nil)
		metrics.RecordGauge("history.events", float64(stats.Events), nil)
		return nil
	})
	return names
}
