package biometric

import (
	"fmt"
	"math"
)

// Distance returns the Euclidean (L2) distance between two embeddings.
// Vectors of different length come from different models and cannot be compared.
func Distance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Matches reports whether two embeddings are within tolerance of each other.
// The comparison is inclusive: a distance equal to tolerance matches.
func Matches(a, b []float32, tolerance float64) (bool, error) {
	if err := checkTolerance(tolerance); err != nil {
		return false, err
	}
	d, err := Distance(a, b)
	if err != nil {
		return false, err
	}
	return d <= tolerance, nil
}

func checkTolerance(tolerance float64) error {
	if math.IsNaN(tolerance) || tolerance < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidTolerance, tolerance)
	}
	return nil
}
