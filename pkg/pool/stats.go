package pool

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// PoolStats is a point-in-time snapshot of pool state and cumulative
// counters.
type PoolStats struct {
	TotalConnections     int `json:"total_connections"`
	ActiveConnections    int `json:"active_connections"`
	IdleConnections      int `json:"idle_connections"`
	UnhealthyConnections int `json:"unhealthy_connections"`
	PendingCreates       int `json:"pending_creates"`
	WaitingAcquirers     int `json:"waiting_acquirers"`

	MinConnections int `json:"min_connections"`
	MaxConnections int `json:"max_connections"`

	TotalAcquired uint64 `json:"total_acquired"`
	TotalReleased uint64 `json:"total_released"`
	TotalCreated  uint64 `json:"total_created"`
	TotalEvicted  uint64 `json:"total_evicted"`

	AverageWaitTime time.Duration `json:"average_wait_time"`

	Connections []ConnectionInfo `json:"connections,omitempty"`
}

// GetStats returns a consistent snapshot taken under the pool lock.
func (p *ConnectionPool) GetStats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{
		TotalConnections: len(p.conns),
		PendingCreates:   p.pendingCreates,
		WaitingAcquirers: len(p.waiters),
		MinConnections:   p.cfg.MinConnections,
		MaxConnections:   p.cfg.MaxConnections,
		TotalAcquired:    p.totalAcquired,
		TotalReleased:    p.totalReleased,
		TotalCreated:     p.totalCreated,
		TotalEvicted:     p.totalEvicted,
	}
	if p.totalWaitCount > 0 {
		stats.AverageWaitTime = p.totalWaitTime / time.Duration(p.totalWaitCount)
	}

	stats.Connections = make([]ConnectionInfo, 0, len(p.conns))
	for _, conn := range p.conns {
		if conn.inUse {
			stats.ActiveConnections++
		} else {
			stats.IdleConnections++
		}
		if !conn.healthy {
			stats.UnhealthyConnections++
		}
		stats.Connections = append(stats.Connections, conn.info())
	}
	return stats
}

// ResourceMetrics reports process and host resource usage alongside
// pool occupancy, for the debug endpoints.
type ResourceMetrics struct {
	Pool PoolStats `json:"pool"`

	Goroutines     int     `json:"goroutines"`
	HeapAllocBytes uint64  `json:"heap_alloc_bytes"`
	ProcessCPU     float64 `json:"process_cpu_percent"`
	ProcessRSS     uint64  `json:"process_rss_bytes"`
	HostCPU        float64 `json:"host_cpu_percent"`
	HostMemUsed    float64 `json:"host_mem_used_percent"`

	CollectedAt time.Time `json:"collected_at"`
}

// GetMetrics collects resource usage best-effort: probes that fail on
// a given platform report zero rather than failing the whole snapshot.
func (p *ConnectionPool) GetMetrics() ResourceMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	metrics := ResourceMetrics{
		Pool:           p.GetStats(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: ms.HeapAlloc,
		CollectedAt:    time.Now(),
	}
	metrics.Pool.Connections = nil

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pct, err := proc.CPUPercent(); err == nil {
			metrics.ProcessCPU = pct
		}
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			metrics.ProcessRSS = info.RSS
		}
	}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		metrics.HostCPU = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		metrics.HostMemUsed = vm.UsedPercent
	}

	return metrics
}
