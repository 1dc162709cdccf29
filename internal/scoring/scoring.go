// Package scoring converts answer speed and correctness into points.
package scoring

// Points returns the score for a single answer: 0 for a wrong answer,
// otherwise 1 base point plus a speed bonus of up to 4, scaled linearly by the
// time remaining when the answer arrived. An answer landing after the limit
// still earns the base point.
func Points(timeTaken, timeLimit float64, correct bool) int {
	if !correct {
		return 0
	}

	base := 1
	remaining := timeLimit - timeTaken
	if remaining < 0 {
		remaining = 0
	}
	bonus := int((remaining / timeLimit) * 4)

	return base + bonus
}
