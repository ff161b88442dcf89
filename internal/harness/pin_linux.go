//go:build linux

package harness

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const pinSupported = true

// allowedCPUs lists the CPUs in this process's affinity mask.
func allowedCPUs(logical int) ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("sched_getaffinity: %w", err)
	}
	cpus := make([]int, 0, set.Count())
	for i := 0; i < logical || len(cpus) < set.Count(); i++ {
		if set.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	if len(cpus) == 0 {
		return nil, errors.New("empty affinity mask")
	}
	return cpus, nil
}

// pinThread binds the calling OS thread to one CPU. The caller must hold the
// thread with runtime.LockOSThread and call restore before releasing it.
func pinThread(cpu int) (restore func(), err error) {
	var prev unix.CPUSet
	if err := unix.SchedGetaffinity(0, &prev); err != nil {
		return nil, fmt.Errorf("sched_getaffinity: %w", err)
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("pin to cpu %d: %w", cpu, err)
	}
	return func() { _ = unix.SchedSetaffinity(0, &prev) }, nil
}
