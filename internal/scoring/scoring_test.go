package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrongAnswerScoresZero(t *testing.T) {
	assert.Equal(t, 0, Points(0, 10, false))
	assert.Equal(t, 0, Points(5, 10, false))
	assert.Equal(t, 0, Points(15, 10, false))
}

func TestInstantAnswerScoresMax(t *testing.T) {
	assert.Equal(t, 5, Points(0, 10, true))
}

func TestAnswerAtLimitScoresBase(t *testing.T) {
	assert.Equal(t, 1, Points(10, 10, true))
}

func TestAnswerPastLimitStillScoresBase(t *testing.T) {
	assert.Equal(t, 1, Points(12, 10, true))
	assert.Equal(t, 1, Points(1000, 10, true))
}

func TestSpeedBonusSteps(t *testing.T) {
	// 1 + floor(remaining/limit * 4) with limit 10.
	cases := []struct {
		elapsed float64
		want    int
	}{
		{0, 5},
		{2, 4},   // 8/10*4 = 3.2 -> 3
		{2.5, 4}, // 7.5/10*4 = 3.0 -> 3
		{5, 3},
		{7.5, 2},
		{9.9, 1},
		{10, 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Points(tc.elapsed, 10, true), "elapsed=%v", tc.elapsed)
	}
}

func TestNonIncreasingAndBounded(t *testing.T) {
	prev := 6
	for elapsed := 0.0; elapsed <= 10.0; elapsed += 0.1 {
		p := Points(elapsed, 10, true)
		assert.GreaterOrEqual(t, p, 1)
		assert.LessOrEqual(t, p, 5)
		assert.LessOrEqual(t, p, prev, "score must not increase with elapsed time")
		prev = p
	}
}
