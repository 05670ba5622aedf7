package dashboard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"fixturefeed/logger"
	"fixturefeed/models"
)

func stubStats(cpuCalls *atomic.Int32) hostStats {
	return hostStats{
		cpu: func(ctx context.Context, interval time.Duration) (float64, error) {
			cpuCalls.Add(1)
			time.Sleep(interval)
			return 42.5, nil
		},
		memory: func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{Used: 1024, Total: 2048, UsedPercent: 50}, nil
		},
		disk: func(ctx context.Context, path string) (*disk.UsageStat, error) {
			return &disk.UsageStat{Used: 4096, Total: 8192, UsedPercent: 50}, nil
		},
		rss: func(ctx context.Context) (uint64, error) {
			return 512, nil
		},
	}
}

func waitForSamples(t *testing.T, sampler *resourceSampler) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for len(sampler.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("resource sampler did not collect samples in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResourceSamplerCollectsSamples(t *testing.T) {
	cpuCalls := &atomic.Int32{}
	sampler := newResourceSampler(3, 5*time.Millisecond, "/", logger.Logger())
	sampler.stats = stubStats(cpuCalls)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sampler.start(ctx)
	waitForSamples(t, sampler)
	cancel()
	sampler.stop()

	snapshots := sampler.snapshot()
	if len(snapshots) == 0 || len(snapshots) > 3 {
		t.Fatalf("unexpected number of snapshots: %d", len(snapshots))
	}

	latest := snapshots[len(snapshots)-1]
	if latest.CPUPercent != 42.5 || latest.MemoryPct != 50 || latest.DiskPct != 50 || latest.ProcessRSS != 512 {
		t.Fatalf("unexpected snapshot data: %#v", latest)
	}
	if cpuCalls.Load() == 0 {
		t.Fatal("expected cpu sampler to be invoked")
	}
}

func TestResourceSamplerToleratesPartialFailures(t *testing.T) {
	sampler := newResourceSampler(3, 5*time.Millisecond, "/missing", logger.Logger())
	sampler.stats = stubStats(&atomic.Int32{})
	sampler.stats.disk = func(ctx context.Context, path string) (*disk.UsageStat, error) {
		return nil, errors.New("no such mount")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sampler.start(ctx)
	waitForSamples(t, sampler)
	cancel()
	sampler.stop()

	latest := sampler.snapshot()[0]
	if latest.DiskTotal != 0 || latest.MemoryTotal != 2048 {
		t.Fatalf("unexpected snapshot after disk failure: %#v", latest)
	}
	if latest.FeedAgeSeconds != nil {
		t.Fatalf("feed age reported without a cache: %v", *latest.FeedAgeSeconds)
	}
}

func TestResourceSampleReportsFeedAge(t *testing.T) {
	sampler := newResourceSampler(3, time.Millisecond, "/", logger.Logger())
	sampler.stats = stubStats(&atomic.Int32{})
	created := time.Now().Add(-90 * time.Second)
	sampler.cached = func() *models.CacheEntry {
		return &models.CacheEntry{CreatedAt: created}
	}

	snap, err := sampler.sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if snap.FeedAgeSeconds == nil || *snap.FeedAgeSeconds < 90 || *snap.FeedAgeSeconds > 100 {
		t.Fatalf("feed age = %v, want about 90s", snap.FeedAgeSeconds)
	}
}

func TestResourceSamplerStopWithoutStart(t *testing.T) {
	sampler := newResourceSampler(3, time.Millisecond, "/", logger.Logger())
	sampler.stop()
	sampler.stats = stubStats(&atomic.Int32{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sampler.start(ctx)
	sampler.start(ctx)
	waitForSamples(t, sampler)
	sampler.stop()
	sampler.stop()
}
