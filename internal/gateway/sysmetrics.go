package gateway

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SystemMetrics holds system resource usage data.
type SystemMetrics struct {
	CPULoad1    float64 `json:"cpu_load_1"`
	CPULoad5    float64 `json:"cpu_load_5"`
	CPULoad15   float64 `json:"cpu_load_15"`
	CPUPercent  float64 `json:"cpu_percent"`
	CPUCores    int     `json:"cpu_cores"`
	MemUsedMB   float64 `json:"mem_used_mb"`
	MemTotalMB  float64 `json:"mem_total_mb"`
	MemPercent  float64 `json:"mem_percent"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	GCRuns      uint32  `json:"gc_runs"`
	Goroutines  int     `json:"goroutines"`
	UptimeSec   int64   `json:"uptime_sec"`
	LatencyP50  float64 `json:"latency_p50_ms"`
	LatencyP95  float64 `json:"latency_p95_ms"`
	LatencyP99  float64 `json:"latency_p99_ms"`
	LatencyDrop uint64  `json:"latency_samples_evicted"`
	TS          string  `json:"ts"`
}

type cpuSample struct {
	idle  uint64
	total uint64
}

// cpuState holds the previous /proc/stat sample; CPU percent is the delta
// between consecutive calls.
var cpuState struct {
	sync.Mutex
	prev cpuSample
}

// readProcLines calls fn for each line of a /proc file until fn returns false.
func readProcLines(path string, fn func(line string) bool) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if !fn(scanner.Text()) {
			return
		}
	}
}

func readCPUSample() cpuSample {
	var s cpuSample
	readProcLines("/proc/stat", func(line string) bool {
		if !strings.HasPrefix(line, "cpu ") {
			return true
		}
		fields := strings.Fields(line)
		for i := 1; i < len(fields); i++ {
			v, _ := strconv.ParseUint(fields[i], 10, 64)
			s.total += v
			if i == 4 {
				s.idle = v
			}
		}
		return false
	})
	return s
}

func cpuPercent() float64 {
	cur := readCPUSample()
	cpuState.Lock()
	defer cpuState.Unlock()
	prev := cpuState.prev
	cpuState.prev = cur
	if prev.total == 0 || cur.total <= prev.total {
		return 0
	}
	dTotal := float64(cur.total - prev.total)
	dIdle := float64(cur.idle - prev.idle)
	return (1.0 - dIdle/dTotal) * 100.0
}

func readLoadAvg(m *SystemMetrics) {
	readProcLines("/proc/loadavg", func(line string) bool {
		fields := strings.Fields(line)
		if len(fields) >= 3 {
			m.CPULoad1, _ = strconv.ParseFloat(fields[0], 64)
			m.CPULoad5, _ = strconv.ParseFloat(fields[1], 64)
			m.CPULoad15, _ = strconv.ParseFloat(fields[2], 64)
		}
		return false
	})
}

func readMemInfo(m *SystemMetrics) {
	var total, available uint64
	readProcLines("/proc/meminfo", func(line string) bool {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return true
		}
		switch fields[0] {
		case "MemTotal:":
			total, _ = strconv.ParseUint(fields[1], 10, 64)
		case "MemAvailable:":
			available, _ = strconv.ParseUint(fields[1], 10, 64)
		}
		return total == 0 || available == 0
	})
	if total > 0 {
		used := total - available
		m.MemTotalMB = float64(total) / 1024
		m.MemUsedMB = float64(used) / 1024
		m.MemPercent = float64(used) / float64(total) * 100
	}
}

// CollectMetrics gathers system resource usage metrics. The /proc readings
// are zero on platforms without procfs.
func CollectMetrics(start time.Time) SystemMetrics {
	m := SystemMetrics{
		Goroutines: runtime.NumGoroutine(),
		UptimeSec:  int64(time.Since(start).Seconds()),
		TS:         time.Now().UTC().Format(time.RFC3339Nano),
		CPUCores:   runtime.NumCPU(),
		CPUPercent: cpuPercent(),
	}
	readLoadAvg(&m)
	readMemInfo(&m)

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.HeapAllocMB = float64(ms.HeapAlloc) / 1024 / 1024
	m.SysMB = float64(ms.Sys) / 1024 / 1024
	m.GCRuns = ms.NumGC

	return m
}
