package sandbox

import (
	"fmt"

	dockercontainer "github.com/docker/docker/api/types/container"
)

// resources builds the container resource limits. Empty memory and zero cpus
// leave the container unconstrained.
func resources(memory string, cpus int) dockercontainer.Resources {
	r := dockercontainer.Resources{}
	if bytes := parseMemory(memory); bytes > 0 {
		r.Memory = bytes
	}
	if cpus > 0 {
		r.NanoCPUs = int64(cpus) * 1e9
	}
	return r
}

// parseMemory converts limits like "512M" or "4G" to bytes. Malformed input
// parses to zero, which means no limit.
func parseMemory(mem string) int64 {
	if mem == "" {
		return 0
	}

	mult := int64(1)
	switch mem[len(mem)-1] {
	case 'K', 'k':
		mult = 1 << 10
	case 'M', 'm':
		mult = 1 << 20
	case 'G', 'g':
		mult = 1 << 30
	case 'T', 't':
		mult = 1 << 40
	}
	digits := mem
	if mult > 1 {
		digits = mem[:len(mem)-1]
	}

	var value int64
	if _, err := fmt.Sscanf(digits, "%d", &value); err != nil || value < 0 {
		return 0
	}
	return value * mult
}
