package mwtree

import "math"

// Scalar is the coefficient type of a tree: real or complex.
type Scalar interface {
	float64 | complex128
}

func absSquared[T Scalar](v T) float64 {
	switch x := any(v).(type) {
	case float64:
		return x * x
	case complex128:
		re, im := real(x), imag(x)
		return re*re + im*im
	}
	return 0
}

func absValue[T Scalar](v T) float64 {
	return math.Sqrt(absSquared(v))
}

// vectorSquareNorm returns the squared Euclidean norm of v.
func vectorSquareNorm[T Scalar](v []T) float64 {
	sum := 0.0
	for i := range v {
		sum += absSquared(v[i])
	}
	return sum
}

func isComplex[T Scalar]() bool {
	var zero T
	_, ok := any(zero).(complex128)
	return ok
}

// scalarsToFloats flattens coefficients for encoding; complex values are
// interleaved as (re, im).
func scalarsToFloats[T Scalar](v []T) []float64 {
	switch x := any(v).(type) {
	case []float64:
		out := make([]float64, len(x))
		copy(out, x)
		return out
	case []complex128:
		out := make([]float64, 2*len(x))
		for i, c := range x {
			out[2*i] = real(c)
			out[2*i+1] = imag(c)
		}
		return out
	}
	return nil
}

func floatsToScalars[T Scalar](dst []T, src []float64) bool {
	switch x := any(dst).(type) {
	case []float64:
		if len(src) != len(x) {
			return false
		}
		copy(x, src)
	case []complex128:
		if len(src) != 2*len(x) {
			return false
		}
		for i := range x {
			x[i] = complex(src[2*i], src[2*i+1])
		}
	}
	return true
}

func fromFloat[T Scalar](f float64) T {
	var zero T
	if _, ok := any(zero).(complex128); ok {
		return any(complex(f, 0)).(T)
	}
	return any(f).(T)
}
