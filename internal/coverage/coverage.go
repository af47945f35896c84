// Package coverage applies generation-service coverage deltas to a
// session's per-level scores.
package coverage

import (
	"math"

	"github.com/9erson/openclaw/internal/model"
)

// Apply returns cur with the given per-level deltas added. Deltas are
// rounded; negative or zero values leave a level unchanged, and each level
// is clamped to [0, 100]. Levels not present in cur are ignored, so a
// service that invents level names cannot widen the tracked set. The total
// is recomputed as the sum of the stored levels.
func Apply(cur model.Coverage, update map[string]float64) model.Coverage {
	out := cur.Clone()
	for level, value := range update {
		current, ok := out.Levels[level]
		if !ok {
			continue
		}
		delta := int(math.Round(value))
		if delta <= 0 {
			continue
		}
		next := current + delta
		if next > 100 {
			next = 100
		}
		out.Levels[level] = next
	}
	total := 0
	for _, v := range out.Levels {
		total += v
	}
	out.Total = total
	return out
}

// Meets reports whether the locally summed total has reached the threshold.
func Meets(cur model.Coverage, threshold int) bool {
	return cur.Total >= threshold
}
