package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type componentStat struct {
	warns  int64
	errors int64
}

var (
	feedFetches     int64
	feedFetchBytes  int64
	refreshFailures int64
	cacheHits       int64
	cacheMisses     int64
	lastRowCount    int64
	components      sync.Map // map[string]*componentStat
)

func componentStats(component string) *componentStat {
	v, _ := components.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&componentStats(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&componentStats(component).errors, 1)
}

// IncrementFeedFetch counts one completed outbound read of the feed.
func IncrementFeedFetch(size int) {
	atomic.AddInt64(&feedFetches, 1)
	atomic.AddInt64(&feedFetchBytes, int64(size))
}

// IncrementRefreshFailure counts a pipeline run that produced no table.
func IncrementRefreshFailure() {
	atomic.AddInt64(&refreshFailures, 1)
}

// RecordCacheLookup counts a cache read as a hit or a miss.
func RecordCacheLookup(hit bool) {
	if hit {
		atomic.AddInt64(&cacheHits, 1)
		return
	}
	atomic.AddInt64(&cacheMisses, 1)
}

// RecordRowCount remembers the size of the most recently normalized table.
func RecordRowCount(rows int) {
	atomic.StoreInt64(&lastRowCount, int64(rows))
}

// StartReport begins periodic logging of runtime and feed statistics until
// ctx is cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func reportFields(ctx context.Context) Fields {
	perComponent := map[string]map[string]int64{}
	components.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		perComponent[k.(string)] = map[string]int64{
			"warns":  atomic.LoadInt64(&cs.warns),
			"errors": atomic.LoadInt64(&cs.errors),
		}
		return true
	})

	cpuPct := 0.0
	if cpuPercent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	memoryMB := int64(0)
	if memStats, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		memoryMB = int64(memStats.Used) / 1024 / 1024
	}

	return Fields{
		"feed_fetches":     atomic.LoadInt64(&feedFetches),
		"feed_fetch_bytes": atomic.LoadInt64(&feedFetchBytes),
		"refresh_failures": atomic.LoadInt64(&refreshFailures),
		"cache_hits":       atomic.LoadInt64(&cacheHits),
		"cache_misses":     atomic.LoadInt64(&cacheMisses),
		"rows":             atomic.LoadInt64(&lastRowCount),
		"components":       perComponent,
		"goroutines":       runtime.NumGoroutine(),
		"cpu_percent":      cpuPct,
		"memory_mb":        memoryMB,
	}
}

func logReport(ctx context.Context, log *Log) {
	log.WithComponent("report").WithFields(reportFields(ctx)).Info("runtime report")
}
