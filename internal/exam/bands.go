package exam

import (
	"math"

	"ieltsadmin/internal/content"
)

// RawMarks is the number of marks the listening and reading bands are read
// from.
const RawMarks = 40

type bandStep struct {
	minRaw int
	band   float64
}

var listeningBands = []bandStep{
	{39, 9}, {37, 8.5}, {35, 8}, {32, 7.5}, {30, 7}, {26, 6.5}, {23, 6},
	{18, 5.5}, {16, 5}, {13, 4.5}, {10, 4}, {8, 3.5}, {6, 3}, {4, 2.5}, {2, 2}, {1, 1},
}

var readingBands = []bandStep{
	{39, 9}, {37, 8.5}, {35, 8}, {33, 7.5}, {30, 7}, {27, 6.5}, {23, 6},
	{19, 5.5}, {15, 5}, {13, 4.5}, {10, 4}, {8, 3.5}, {6, 3}, {4, 2.5}, {2, 2}, {1, 1},
}

// ScaleRaw converts earned marks out of max into whole marks out of 40,
// rounding half marks up whatever the track total.
func ScaleRaw(earned, max float64) int {
	if max <= 0 || earned <= 0 {
		return 0
	}
	raw := int(math.Round(earned / max * RawMarks))
	if raw > RawMarks {
		raw = RawMarks
	}
	return raw
}

// RawToBand converts a listening or academic reading raw score out of 40.
func RawToBand(module string, raw int) float64 {
	table := listeningBands
	if module == content.ModuleReading {
		table = readingBands
	}
	for _, step := range table {
		if raw >= step.minRaw {
			return step.band
		}
	}
	return 0
}

// RoundBand applies IELTS rounding: a fraction below .25 rounds down, below
// .75 goes to .5, anything higher rounds up.
func RoundBand(v float64) float64 {
	whole := math.Floor(v)
	frac := v - whole
	switch {
	case frac < 0.25:
		return whole
	case frac < 0.75:
		return whole + 0.5
	}
	return whole + 1
}

// WritingBand weighs task 2 twice as heavily as task 1.
func WritingBand(task1, task2 float64) float64 {
	return RoundBand((task1 + 2*task2) / 3)
}

// OverallBand is the rounded mean of the module bands present.
func OverallBand(bands ...*float64) *float64 {
	sum, n := 0.0, 0
	for _, b := range bands {
		if b != nil {
			sum += *b
			n++
		}
	}
	if n == 0 {
		return nil
	}
	v := RoundBand(sum / float64(n))
	return &v
}
