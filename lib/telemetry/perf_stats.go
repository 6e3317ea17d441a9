package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
	"go.opentelemetry.io/otel"
)

var perfMeter = otel.Meter("codefolio.perf_stats")
var cpuGauge, _ = perfMeter.Float64Gauge("cpu_usage")
var memoryGauge, _ = perfMeter.Int64Gauge("allocated_mb")
var goroutineGauge, _ = perfMeter.Int64Gauge("goroutine_count")
var childProcessGauge, _ = perfMeter.Int64Gauge("child_processes")
var childRssGauge, _ = perfMeter.Int64Gauge("child_rss_mb")

// PerfStats is a single sample of the process and the browsers it spawned.
type PerfStats struct {
	CPUPercent     float64
	AllocatedMB    int64
	Goroutines     int64
	ChildProcesses int64
	ChildRSSMB     int64
}

// SamplePerfStats reads the current stats, cpu usage is measured over the given window.
func SamplePerfStats(ctx context.Context, cpuWindow time.Duration) (PerfStats, error) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := PerfStats{
		AllocatedMB: int64(memStats.Alloc / 1_000_000),
		Goroutines:  int64(runtime.NumGoroutine()),
	}

	// a failed child walk still leaves cpu worth sampling
	children, childErr := descendants(ctx, int32(os.Getpid()))
	for _, child := range children {
		stats.ChildProcesses++
		mem, err := child.MemoryInfoWithContext(ctx)
		if err == nil {
			stats.ChildRSSMB += int64(mem.RSS / 1_000_000)
		}
	}

	usage, err := cpu.PercentWithContext(ctx, cpuWindow, false)
	if err == nil && len(usage) > 0 {
		stats.CPUPercent = usage[0]
	}
	return stats, errors.Join(childErr, err)
}

// descendants returns every process below pid. The tree is built from each
// process' parent pid instead of Process.Children, which shells out to pgrep and
// fails when there are no children or pgrep is not installed.
func descendants(ctx context.Context, pid int32) ([]*process.Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	byParent := map[int32][]*process.Process{}
	for _, proc := range procs {
		ppid, err := proc.PpidWithContext(ctx)
		if err != nil {
			// exited between listing and reading
			continue
		}
		byParent[ppid] = append(byParent[ppid], proc)
	}

	var out []*process.Process
	// chrome renderers are grandchildren, so walk the whole tree
	queue := byParent[pid]
	for len(queue) > 0 {
		proc := queue[0]
		queue = queue[1:]
		out = append(out, proc)
		queue = append(queue, byParent[proc.Pid]...)
	}
	return out, nil
}

// InstrumentPerfStats records process stats every interval until ctx is done.
// Headless browsers leak processes when a session is not closed, the child
// process gauges make that visible.
func InstrumentPerfStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second * 30
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats, err := SamplePerfStats(ctx, time.Second*5)
				if err != nil {
					slog.WarnContext(ctx, "failed to sample perf stats", "err", err)
				}
				cpuGauge.Record(ctx, stats.CPUPercent)
				memoryGauge.Record(ctx, stats.AllocatedMB)
				goroutineGauge.Record(ctx, stats.Goroutines)
				childProcessGauge.Record(ctx, stats.ChildProcesses)
				childRssGauge.Record(ctx, stats.ChildRSSMB)
			case <-ctx.Done():
				return
			}
		}
	}()
}
