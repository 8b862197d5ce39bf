package metrics

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/stone-age-io/servicehost/internal/utils"
)

// ProcessStats samples the current process's resident memory (MB) and OS
// thread count. Zero values are returned when the platform does not
// expose them.
func ProcessStats() (float64, int32) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, 0
	}

	var rssMB float64
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		rssMB = utils.BytesToMB(mem.RSS)
	}

	threads, err := p.NumThreads()
	if err != nil {
		threads = 0
	}
	return rssMB, threads
}
