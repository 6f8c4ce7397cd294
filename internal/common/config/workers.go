package config

import (
	"strconv"

	"github.com/shirou/gopsutil/v4/mem"
)

const (
	minWorkers = 1
	maxWorkers = 50

	// Each Chrome worker uses roughly 500MB; 2GB stays reserved for the
	// system and the ingest side.
	reservedBytes       = int64(2 * 1024 * 1024 * 1024)
	perWorkerBytes      = int64(500 * 1024 * 1024)
	fallbackTotalMemory = int64(8 * 1024 * 1024 * 1024)
)

// ResolveWorkers turns the configured worker setting into a concrete
// parallelism. "auto" is sized from system RAM.
func (c *Config) ResolveWorkers() int {
	if c.Workers == "auto" {
		return autoWorkers()
	}
	n, err := strconv.Atoi(c.Workers)
	if err != nil || n <= 0 {
		return autoWorkers()
	}
	return n
}

func autoWorkers() int {
	total := fallbackTotalMemory
	if v, err := mem.VirtualMemory(); err == nil {
		total = int64(v.Total)
	}

	workers := int((total - reservedBytes) / perWorkerBytes)
	if workers < minWorkers {
		workers = minWorkers
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}
	return workers
}
