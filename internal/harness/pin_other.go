//go:build !linux

package harness

const pinSupported = false

func allowedCPUs(logical int) ([]int, error) {
	cpus := make([]int, logical)
	for i := range cpus {
		cpus[i] = i
	}
	return cpus, nil
}

func pinThread(int) (func(), error) { return nil, errPinUnsupported }
