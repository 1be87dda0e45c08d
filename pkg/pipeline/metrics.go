package pipeline

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricsCollector defines the interface for metrics collection
type MetricsCollector interface {
	RecordCounter(name string, value int64, tags map[string]string)
	RecordGauge(name string, value float64, tags map[string]string)
	RecordHistogram(name string, value float64, tags map[string]string)
	RecordTiming(name string, duration time.Duration, tags map[string]string)
}

// MetricType represents the type of metric
type MetricType int

const (
	CounterType MetricType = iota
	GaugeType
	HistogramType
	TimingType
)

func (mt MetricType) String() string {
	switch mt {
	case CounterType:
		return "counter"
	case GaugeType:
		return "gauge"
	case HistogramType:
		return "histogram"
	case TimingType:
		return "timing"
	default:
		return "unknown"
	}
}

// Metric represents a single metric measurement
type Metric struct {
	Name      string                 `json:"name"`
	Type      MetricType             `json:"type"`
	Value     float64                `json:"value"`
	Tags      map[string]string      `json:"tags,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// MetricSnapshot represents a snapshot of metrics at a point in time
type MetricSnapshot struct {
	Timestamp time.Time         `json:"timestamp"`
	Metrics   map[string]Metric `json:"metrics"`
}

// BasicMetricsCollector keeps the latest value of every metric in memory.
type BasicMetricsCollector struct {
	metrics map[string]Metric
	mu      sync.RWMutex
	logger  Logger
}

// NewBasicMetricsCollector creates a new basic metrics collector
func NewBasicMetricsCollector(logger Logger) *BasicMetricsCollector {
	if logger == nil {
		logger = NullLogger()
	}
	return &BasicMetricsCollector{
		metrics: make(map[string]Metric),
		logger:  logger,
	}
}

// RecordCounter adds value to a counter metric
func (c *BasicMetricsCollector) RecordCounter(name string, value int64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := buildMetricKey(name, tags)
	existing, exists := c.metrics[key]

	newValue := float64(value)
	if exists && existing.Type == CounterType {
		newValue += existing.Value
	}

	c.metrics[key] = Metric{
		Name:      name,
		Type:      CounterType,
		Value:     newValue,
		Tags:      copyTags(tags),
		Timestamp: time.Now(),
	}

	c.logger.Debug("Recorded counter metric",
		String("name", name),
		Int64("value", value),
		Float64("total", newValue),
		Any("tags", tags),
	)
}

// RecordGauge records a gauge metric
func (c *BasicMetricsCollector) RecordGauge(name string, value float64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics[buildMetricKey(name, tags)] = Metric{
		Name:      name,
		Type:      GaugeType,
		Value:     value,
		Tags:      copyTags(tags),
		Timestamp: time.Now(),
	}
}

// RecordHistogram records a histogram sample and keeps count/sum/min/max/avg
func (c *BasicMetricsCollector) RecordHistogram(name string, value float64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := buildMetricKey(name, tags)
	existing, exists := c.metrics[key]

	var metadata map[string]interface{}
	if exists && existing.Type == HistogramType && existing.Metadata != nil {
		metadata = existing.Metadata

		count, _ := metadata["count"].(float64)
		sum, _ := metadata["sum"].(float64)
		min, _ := metadata["min"].(float64)
		max, _ := metadata["max"].(float64)

		count++
		sum += value
		if value < min {
			min = value
		}
		if value > max {
			max = value
		}

		metadata["count"] = count
		metadata["sum"] = sum
		metadata["min"] = min
		metadata["max"] = max
		metadata["avg"] = sum / count
	} else {
		metadata = map[string]interface{}{
			"count": 1.0,
			"sum":   value,
			"min":   value,
			"max":   value,
			"avg":   value,
		}
	}

	c.metrics[key] = Metric{
		Name:      name,
		Type:      HistogramType,
		Value:     value,
		Tags:      copyTags(tags),
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// RecordTiming records a timing metric in milliseconds
func (c *BasicMetricsCollector) RecordTiming(name string, duration time.Duration, tags map[string]string) {
	c.RecordHistogram(name, float64(duration.Nanoseconds())/1e6, tags)
}

// GetMetric retrieves a specific metric
func (c *BasicMetricsCollector) GetMetric(name string, tags map[string]string) (Metric, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	metric, exists := c.metrics[buildMetricKey(name, tags)]
	return metric, exists
}

// GetAllMetrics returns a snapshot of all current metrics
func (c *BasicMetricsCollector) GetAllMetrics() MetricSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := MetricSnapshot{
		Timestamp: time.Now(),
		Metrics:   make(map[string]Metric, len(c.metrics)),
	}
	for key, metric := range c.metrics {
		snapshot.Metrics[key] = metric
	}
	return snapshot
}

// GetMetricsByName returns all metrics with the given name
func (c *BasicMetricsCollector) GetMetricsByName(name string) []Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var metrics []Metric
	for _, metric := range c.metrics {
		if metric.Name == name {
			metrics = append(metrics, metric)
		}
	}
	return metrics
}

// Reset clears all metrics
func (c *BasicMetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = make(map[string]Metric)
}

// buildMetricKey creates a stable key for a metric from its name and sorted tags
func buildMetricKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}

	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(",")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(tags[k])
	}
	return b.String()
}

func copyTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
