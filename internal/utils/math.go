package utils

import "math"

// Round rounds a float64 value to 2 decimal places
func Round(val float64) float64 {
	return math.Round(val*100) / 100
}

// BytesToMB converts a byte count to megabytes rounded to 2 decimal places
func BytesToMB(b uint64) float64 {
	return Round(float64(b) / (1024 * 1024))
}
