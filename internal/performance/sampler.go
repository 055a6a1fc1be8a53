package performance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const mb = 1024 * 1024

// SystemSample 一次进程与主机资源采样
type SystemSample struct {
	Timestamp         time.Time `json:"timestamp"`
	RSSMB             float64   `json:"rssMb"`
	HeapAllocMB       float64   `json:"heapAllocMb"`
	HeapSysMB         float64   `json:"heapSysMb"`
	MemoryPercent     float64   `json:"memoryPercent"` // 进程 RSS 占内存上限的百分比
	HeapPercent       float64   `json:"heapPercent"`   // 堆上已分配内存占内存上限的百分比
	CPUPercent        float64   `json:"cpuPercent"`
	Goroutines        int       `json:"goroutines"`
	OpenFDs           int       `json:"openFds"`
	HostMemoryPercent float64   `json:"hostMemoryPercent"`
	Load1             float64   `json:"load1"`
	DBConnPercent     float64   `json:"dbConnPercent"`
}

// Sampler 系统资源采样器
type Sampler interface {
	Sample(ctx context.Context) (SystemSample, error)
}

// ProcessSampler 基于 gopsutil 采集当前进程与主机指标
type ProcessSampler struct {
	proc *process.Process
}

func NewProcessSampler() (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("获取进程信息失败: %w", err)
	}
	return &ProcessSampler{proc: proc}, nil
}

// Sample 单项失败不影响其余指标，错误合并返回
func (p *ProcessSampler) Sample(ctx context.Context) (SystemSample, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := SystemSample{
		Timestamp:   time.Now(),
		HeapAllocMB: float64(ms.HeapAlloc) / mb,
		HeapSysMB:   float64(ms.HeapSys) / mb,
		Goroutines:  runtime.NumGoroutine(),
	}

	var errs []error
	var rss, hostTotal uint64
	if mi, err := p.proc.MemoryInfoWithContext(ctx); err == nil {
		rss = mi.RSS
		s.RSSMB = float64(mi.RSS) / mb
	} else {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	}
	if cpu, err := p.proc.PercentWithContext(ctx, 0); err == nil {
		s.CPUPercent = cpu
	} else {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	}
	if fds, err := p.proc.NumFDsWithContext(ctx); err == nil {
		s.OpenFDs = int(fds)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hostTotal = vm.Total
		s.HostMemoryPercent = vm.UsedPercent
	} else {
		errs = append(errs, fmt.Errorf("host memory: %w", err))
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.Load1 = avg.Load1
	}

	limit := memoryLimit(hostTotal)
	s.MemoryPercent = percentOf(rss, limit)
	s.HeapPercent = percentOf(ms.HeapAlloc, limit)
	return s, errors.Join(errs...)
}

func percentOf(v, limit uint64) float64 {
	if v == 0 || limit == 0 {
		return 0
	}
	return float64(v) * 100 / float64(limit)
}

// memoryLimit 设置了 GOMEMLIMIT 时以其为准，否则取主机内存总量
func memoryLimit(hostTotal uint64) uint64 {
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		return uint64(limit)
	}
	return hostTotal
}
