package leaderboard

import "sort"

const unlistedGPUPriority = 7

var gpuPriorities = map[string]int{
	"B200":  1,
	"H100":  2,
	"MI300": 3,
	"A100":  4,
	"L4":    5,
	"T4":    6,
}

// GPUPriority returns the preference rank of a GPU type; lower is preferred.
func GPUPriority(gpuType string) int {
	if priority, ok := gpuPriorities[gpuType]; ok {
		return priority
	}
	return unlistedGPUPriority
}

// PriorityGPU picks the single GPU type featured for a leaderboard.
// Ties on priority resolve alphabetically. The boolean is false for an empty list.
func PriorityGPU(gpuTypes []string) (string, bool) {
	if len(gpuTypes) == 0 {
		return "", false
	}
	ordered := append([]string(nil), gpuTypes...)
	sort.Slice(ordered, func(i, j int) bool {
		left, right := GPUPriority(ordered[i]), GPUPriority(ordered[j])
		if left != right {
			return left < right
		}
		return ordered[i] < ordered[j]
	})
	return ordered[0], true
}
