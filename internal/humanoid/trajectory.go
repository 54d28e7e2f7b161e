package humanoid

import (
	"math"
)

// computeEaseInOutCubic provides a smooth acceleration and deceleration profile for movement.
func computeEaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// planPath returns the intermediate pointer positions from start to end,
// excluding start and including end. Points are spaced by the eased profile.
func planPath(start, end Vector2D, stepPixels float64, maxSteps int) []Vector2D {
	dist := start.Dist(end)
	if dist < 1 {
		return []Vector2D{end}
	}
	steps := 1
	if stepPixels > 0 {
		steps = int(math.Ceil(dist / stepPixels))
	}
	if maxSteps > 0 && steps > maxSteps {
		steps = maxSteps
	}
	if steps < 1 {
		steps = 1
	}

	delta := end.Sub(start)
	path := make([]Vector2D, 0, steps)
	for i := 1; i <= steps; i++ {
		t := computeEaseInOutCubic(float64(i) / float64(steps))
		path = append(path, start.Add(delta.Mul(t)))
	}
	path[len(path)-1] = end
	return path
}
