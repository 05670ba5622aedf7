package dashboard

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"fixturefeed/logger"
	"fixturefeed/models"
)

// resourceSnapshot pairs host utilisation with the age of the cached table
// at the same instant, so a slow refresh can be lined up with load.
type resourceSnapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryUsed     uint64    `json:"memory_used"`
	MemoryTotal    uint64    `json:"memory_total"`
	MemoryPct      float64   `json:"memory_percent"`
	DiskUsed       uint64    `json:"disk_used"`
	DiskTotal      uint64    `json:"disk_total"`
	DiskPct        float64   `json:"disk_percent"`
	ProcessRSS     uint64    `json:"process_rss"`
	FeedAgeSeconds *float64  `json:"feed_age_seconds"`
}

// hostStats reads utilisation figures. cpu blocks for interval and paces
// the sampling loop.
type hostStats struct {
	cpu    func(ctx context.Context, interval time.Duration) (float64, error)
	memory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	disk   func(ctx context.Context, path string) (*disk.UsageStat, error)
	rss    func(ctx context.Context) (uint64, error)
}

func gopsutilStats() hostStats {
	return hostStats{
		cpu: func(ctx context.Context, interval time.Duration) (float64, error) {
			pct, err := cpu.PercentWithContext(ctx, interval, false)
			if err != nil || len(pct) == 0 {
				return 0, err
			}
			return pct[0], nil
		},
		memory: mem.VirtualMemoryWithContext,
		disk:   disk.UsageWithContext,
		rss: func(ctx context.Context) (uint64, error) {
			p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
			if err != nil {
				return 0, err
			}
			info, err := p.MemoryInfoWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return info.RSS, nil
		},
	}
}

type resourceSampler struct {
	history  *ring[resourceSnapshot]
	interval time.Duration
	diskPath string
	stats    hostStats
	// cached returns the current cache entry, if any.
	cached   func() *models.CacheEntry

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	log    *logger.Log
}

func newResourceSampler(limit int, interval time.Duration, diskPath string, log *logger.Log) *resourceSampler {
	if interval <= 0 {
		interval = time.Second
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &resourceSampler{
		history:  newRing[resourceSnapshot](limit),
		interval: interval,
		diskPath: diskPath,
		stats:    gopsutilStats(),
		log:      log,
	}
}

// start launches the sampling loop once; later calls are ignored until stop.
func (s *resourceSampler) start(ctx context.Context) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.loop(ctx)
	}(s.done)
}

func (s *resourceSampler) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *resourceSampler) snapshot() []resourceSnapshot {
	if s == nil {
		return nil
	}
	return s.history.filter(nil)
}

func (s *resourceSampler) loop(ctx context.Context) {
	log := s.log.WithComponent("resource_sampler")
	for ctx.Err() == nil {
		snap, err := s.sample(ctx)
		if err != nil {
			log.WithError(err).Debug("failed to sample cpu usage")
			continue
		}
		s.history.add(snap)
	}
}

// sample takes one reading. Only a cpu failure discards it; the other
// figures are left zero when unavailable.
func (s *resourceSampler) sample(ctx context.Context) (resourceSnapshot, error) {
	pct, err := s.stats.cpu(ctx, s.interval)
	if err != nil {
		return resourceSnapshot{}, err
	}
	now := time.Now()
	snap := resourceSnapshot{Timestamp: now, CPUPercent: pct}

	log := s.log.WithComponent("resource_sampler")
	if vm, err := s.stats.memory(ctx); err == nil {
		snap.MemoryUsed, snap.MemoryTotal, snap.MemoryPct = vm.Used, vm.Total, vm.UsedPercent
	} else {
		log.WithError(err).Debug("failed to sample memory usage")
	}
	if du, err := s.stats.disk(ctx, s.diskPath); err == nil {
		snap.DiskUsed, snap.DiskTotal, snap.DiskPct = du.Used, du.Total, du.UsedPercent
	} else {
		log.WithError(err).Debug("failed to sample disk usage")
	}
	if rss, err := s.stats.rss(ctx); err == nil {
		snap.ProcessRSS = rss
	}
	if s.cached != nil {
		if entry := s.cached(); entry != nil {
			age := entry.Age(now).Seconds()
			snap.FeedAgeSeconds = &age
		}
	}
	return snap, nil
}
