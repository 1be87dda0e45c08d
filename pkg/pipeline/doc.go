// Package pipeline holds the ambient pieces shared by the audio path of the
// bot: structured logging, in-memory metrics and the audio pipeline
// configuration.
//
// # Logging
//
// Logger is a small structured logging interface backed by zap. Fields are
// built with the helpers of this package:
//
//	logger, err := pipeline.NewLogger(cfg.Logging)
//	if err != nil {
//		log.Fatal(err)
//	}
//	logger.Info("Joined voice channel",
//		pipeline.String("guild_id", guildID),
//		pipeline.Duration("took", took),
//	)
//
// Child loggers carry persistent fields with With. NullLogger discards
// everything and is meant for tests.
//
// # Metrics
//
// BasicMetricsCollector implements MetricsCollector and keeps counters,
// gauges and histograms (timings are histograms in milliseconds) keyed by
// name and tags.
//
// # Configuration
//
// PipelineConfig groups ffmpeg, opus, discord send and logging settings. The
// defaults live in the struct tags and are read by caarlos0/env, so the same
// struct is filled from PIPELINE_* variables when embedded in the bot config.
// Validate must pass before the config is used.
package pipeline
