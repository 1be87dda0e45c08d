package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPipelineConfiguration(t *testing.T) {
	config := DefaultPipelineConfig()
	require.NoError(t, config.Validate(), "default configuration should be valid")

	assert.Equal(t, "ffmpeg", config.FFmpeg.BinaryPath)
	assert.Equal(t, 48000, config.Opus.SampleRate)
	assert.Equal(t, 2, config.Opus.Channels)
	assert.Equal(t, 960, config.Opus.FrameSize)
	assert.Equal(t, 3840, config.Opus.FrameBytes())
	assert.Equal(t, 100*time.Millisecond, config.Discord.SendTimeout)

	invalid := DefaultPipelineConfig()
	invalid.Opus.SampleRate = -1
	assert.Error(t, invalid.Validate())

	invalid = DefaultPipelineConfig()
	invalid.Logging.Format = "xml"
	assert.Error(t, invalid.Validate())
}

func TestStructuredLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core))

	logger.Info("Test message",
		String("key1", "value1"),
		Int("key2", 42),
		Bool("key3", true),
	)

	child := logger.With(String("component", "test"))
	child.Debug("Child logger test", Error(errors.New("boom")))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "Test message", entries[0].Message)
	assert.Equal(t, "value1", entries[0].ContextMap()["key1"])
	assert.Equal(t, "test", entries[1].ContextMap()["component"])
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestNewLoggerFormats(t *testing.T) {
	for _, format := range []string{"json", "console", "text"} {
		logger, err := NewLogger(LoggingConfig{Level: "debug", Format: format, Output: "stderr"})
		require.NoError(t, err, format)
		require.NotNil(t, logger)
	}
}

func TestMetricsCollection(t *testing.T) {
	collector := NewBasicMetricsCollector(NullLogger())

	tags := map[string]string{"command": "play", "result": "ok"}
	collector.RecordCounter("voice.commands", 1, tags)
	collector.RecordCounter("voice.commands", 2, map[string]string{"result": "ok", "command": "play"})
	collector.RecordGauge("voice.sessions.active", 3, nil)
	collector.RecordHistogram("voice.resolve.duration", 100, nil)
	collector.RecordHistogram("voice.resolve.duration", 200, nil)
	collector.RecordTiming("voice.connect.duration", 50*time.Millisecond, nil)

	counter, ok := collector.GetMetric("voice.commands", tags)
	require.True(t, ok)
	assert.Equal(t, CounterType, counter.Type)
	assert.Equal(t, 3.0, counter.Value, "tag order must not split counters")

	gauge, ok := collector.GetMetric("voice.sessions.active", nil)
	require.True(t, ok)
	assert.Equal(t, 3.0, gauge.Value)

	histograms := collector.GetMetricsByName("voice.resolve.duration")
	require.Len(t, histograms, 1)
	assert.Equal(t, 2.0, histograms[0].Metadata["count"])
	assert.Equal(t, 100.0, histograms[0].Metadata["min"])
	assert.Equal(t, 200.0, histograms[0].Metadata["max"])
	assert.Equal(t, 150.0, histograms[0].Metadata["avg"])

	timing, ok := collector.GetMetric("voice.connect.duration", nil)
	require.True(t, ok)
	assert.Equal(t, 50.0, timing.Value)

	assert.Len(t, collector.GetAllMetrics().Metrics, 4)
	collector.Reset()
	assert.Empty(t, collector.GetAllMetrics().Metrics)
}
