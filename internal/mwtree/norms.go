package mwtree

import "math"

const (
	powerIterMax  = 500
	powerIterPrec = 1.0e-14
)

// operatorComponentNorm returns the 2-norm of one operator block stored
// column-major as a kp1 x kp1 matrix. The cheap upper bounds are tried first;
// blocks below the threshold report zero.
func operatorComponentNorm[T Scalar](block []T, kp1, depth int, normPrec float64) float64 {
	thrs := math.Max(MachinePrec, normPrec/(8.0*float64(uint64(1)<<uint(depth))))
	if math.Sqrt(vectorSquareNorm(block)) <= thrs {
		return 0
	}
	if math.Sqrt(matrixNorm1(block, kp1)*matrixNormInf(block, kp1)) <= thrs {
		return 0
	}
	if twoNorm := matrixNorm2(block, kp1); twoNorm > thrs {
		return twoNorm
	}
	return 0
}

// matrixNorm1 is the maximum absolute column sum.
func matrixNorm1[T Scalar](m []T, n int) float64 {
	best := 0.0
	for c := 0; c < n; c++ {
		sum := 0.0
		for r := 0; r < n; r++ {
			sum += absValue(m[c*n+r])
		}
		best = math.Max(best, sum)
	}
	return best
}

// matrixNormInf is the maximum absolute row sum.
func matrixNormInf[T Scalar](m []T, n int) float64 {
	best := 0.0
	for r := 0; r < n; r++ {
		sum := 0.0
		for c := 0; c < n; c++ {
			sum += absValue(m[c*n+r])
		}
		best = math.Max(best, sum)
	}
	return best
}

// matrixNorm2 estimates the largest singular value by power iteration on
// A^H A.
func matrixNorm2[T Scalar](m []T, n int) float64 {
	x := make([]T, n)
	y := make([]T, n)
	for i := range x {
		x[i] = fromFloat[T](1.0 + 1.0/float64(i+2))
	}
	normalize(x)

	sigma := 0.0
	for iter := 0; iter < powerIterMax; iter++ {
		// y = A x
		for r := 0; r < n; r++ {
			var s T
			for c := 0; c < n; c++ {
				s += m[c*n+r] * x[c]
			}
			y[r] = s
		}
		// x = A^H y
		for c := 0; c < n; c++ {
			var s T
			for r := 0; r < n; r++ {
				s += conj(m[c*n+r]) * y[r]
			}
			x[c] = s
		}
		lambda := normalize(x)
		if lambda == 0 {
			return 0
		}
		next := math.Sqrt(lambda)
		if math.Abs(next-sigma) <= powerIterPrec*next {
			return next
		}
		sigma = next
	}
	return sigma
}

func normalize[T Scalar](v []T) float64 {
	nrm := math.Sqrt(vectorSquareNorm(v))
	if nrm == 0 {
		return 0
	}
	inv := fromFloat[T](1.0 / nrm)
	for i := range v {
		v[i] *= inv
	}
	return nrm
}

func conj[T Scalar](v T) T {
	if c, ok := any(v).(complex128); ok {
		return any(complex(real(c), -imag(c))).(T)
	}
	return v
}
