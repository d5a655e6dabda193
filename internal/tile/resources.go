package tile

import (
	"log"
	"runtime"
)

// DefaultWorkerMemoryFraction is the share of total system RAM the scheduler
// assumes it may use for in-flight anchor buffers. Unlike the teacher's
// memlimit.go, which sized a disk-spill threshold for an unbounded per-level
// tile store, this repo's cache is already bounded to O(max_zoom); the same
// RAM probe is repurposed here to size the worker pool so that
// NumWorkers anchor buffers, held concurrently, stay within this budget.
const DefaultWorkerMemoryFraction = 0.75

// bytesPerAnchor is the size of one warped anchor buffer: side*side pixels,
// 4 bytes each (RGBA).
func bytesPerAnchor(cfg Config) int64 {
	side := int64(cfg.anchorSide())
	return side * side * 4
}

// ResolveWorkerCount picks the worker pool size: the requested count if
// positive, otherwise GOMAXPROCS clamped so that worker_count * anchor_buffer
// stays under the memory budget computed from system RAM. Mirrors the
// teacher's ComputeMemoryLimit probe (memlimit.go, sysinfo_*.go), redirected
// from a disk-spill threshold to a worker-count ceiling.
func ResolveWorkerCount(cfg Config, verbose bool) int {
	if cfg.NumWorkers > 0 {
		return cfg.NumWorkers
	}

	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}

	budget := ComputeMemoryLimit(DefaultWorkerMemoryFraction, verbose)
	if budget <= 0 {
		return n
	}

	perAnchor := bytesPerAnchor(cfg)
	if perAnchor <= 0 {
		return n
	}

	maxByMemory := int(budget / perAnchor)
	if maxByMemory < 1 {
		maxByMemory = 1
	}
	if maxByMemory < n {
		if verbose {
			log.Printf("Clamping worker count from %d to %d: anchor buffers (%.1f MB each) exceed the %.1f GB memory budget at higher concurrency",
				n, maxByMemory, float64(perAnchor)/(1024*1024), float64(budget)/(1024*1024*1024))
		}
		n = maxByMemory
	}
	return n
}
