package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"fixturefeed/config"
	"fixturefeed/logger"
)

// Names of the metrics emitted by the feed pipeline and cache.
const (
	MetricRefresh       = "feed_refresh"
	MetricFetchDuration = "feed_fetch_duration_ms"
	MetricFetchBytes    = "feed_fetch_bytes"
	MetricRows          = "feed_rows"
	MetricSkippedLines  = "feed_skipped_lines"
	MetricDroppedRows   = "feed_dropped_rows"
	MetricIssues        = "feed_coercion_issues"
	MetricCacheLookup   = "cache_lookup"
)

const (
	KindCounter = "counter"
	KindGauge   = "gauge"
)

// Metric is one observation from the pipeline or the cache.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

// Float reports the value as a float64 when it is numeric.
func (m Metric) Float() (float64, bool) {
	switch v := m.Value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

type subscriber struct {
	id uint64
	fn func(Metric)
}

var (
	subscribeMu sync.Mutex
	nextSubID   uint64
	// subscribers is replaced on every change so emitters never lock.
	subscribers atomic.Pointer[[]subscriber]

	cloudWatchEnabled atomic.Bool
)

// Configure applies the metrics section of the configuration. CloudWatch
// publishing stays off until it is both enabled here and initialised.
func Configure(cfg config.MetricsConfig) {
	cloudWatchEnabled.Store(cfg.CloudWatch.Enabled)
	if cfg.CloudWatch.PublishInterval > 0 {
		setPublishInterval(cfg.CloudWatch.PublishInterval)
	}
}

// Subscribe delivers every later EmitMetric call to fn until the returned
// cancel func runs. Subscribing nil is a no-op.
func Subscribe(fn func(Metric)) (cancel func()) {
	if fn == nil {
		return func() {}
	}

	subscribeMu.Lock()
	nextSubID++
	id := nextSubID
	list := append(currentSubscribers(), subscriber{id: id, fn: fn})
	subscribers.Store(&list)
	subscribeMu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { unsubscribe(id) }) }
}

func unsubscribe(id uint64) {
	subscribeMu.Lock()
	defer subscribeMu.Unlock()
	old := currentSubscribers()
	list := make([]subscriber, 0, len(old))
	for _, s := range old {
		if s.id != id {
			list = append(list, s)
		}
	}
	subscribers.Store(&list)
}

// currentSubscribers returns a copy safe to append to.
func currentSubscribers() []subscriber {
	p := subscribers.Load()
	if p == nil {
		return nil
	}
	return append([]subscriber(nil), (*p)...)
}

// EmitMetric logs the metric at debug level, fans it out to subscribers and
// publishes numeric values to CloudWatch when that is enabled. Metrics
// without a name are ignored; an empty metricType means a counter.
func EmitMetric(log *logger.Log, component string, name string, value interface{}, metricType string, fields logger.Fields) {
	if name == "" {
		return
	}
	if metricType == "" {
		metricType = KindCounter
	}
	if log == nil {
		log = logger.GetLogger()
	}

	m := Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    make(logger.Fields, len(fields)),
	}
	for k, v := range fields {
		m.Fields[k] = v
	}

	log.WithComponent(component).WithFields(m.Fields).WithFields(logger.Fields{
		"metric":      name,
		"metric_type": metricType,
		"value":       value,
	}).Debug("metric")

	if p := subscribers.Load(); p != nil {
		for _, s := range *p {
			s.fn(m)
		}
	}

	if !cloudWatchEnabled.Load() {
		return
	}
	if v, ok := m.Float(); ok {
		publishMetricDatum(m, v)
	}
}
