package mwtree

import (
	"math"

	"github.com/cockroachdb/errors"
)

// BoxConfig describes the root box of a tree. Zero-length slices take the
// defaults: corner at the origin, one box per axis, unit scaling factor and a
// non-periodic world.
type BoxConfig struct {
	Scale         int       `yaml:"scale"`
	Corner        []int     `yaml:"corner"`
	NBoxes        []int     `yaml:"boxes"`
	ScalingFactor []float64 `yaml:"scaling_factor"`
	Periodic      []bool    `yaml:"periodic"`
}

// BoundingBox is the set of root nodes of a tree together with the physical
// extent they cover.
type BoundingBox struct {
	dim       int
	corner    NodeIndex
	nBoxes    [MaxDim]int
	totBoxes  int
	scaling   [MaxDim]float64
	periodic  [MaxDim]bool
	unitLen   [MaxDim]float64
	boxLen    [MaxDim]float64
	lowerBnds [MaxDim]float64
	upperBnds [MaxDim]float64
}

func NewBoundingBox(dim int, cfg BoxConfig) (BoundingBox, error) {
	if dim < 1 || dim > MaxDim {
		return BoundingBox{}, errors.Wrapf(ErrInvalidDimension, "dimension %d not in [1, %d]", dim, MaxDim)
	}
	if cfg.Scale < MinScale || cfg.Scale > MaxScale {
		return BoundingBox{}, errors.Wrapf(ErrInvalidConfig, "root scale %d out of range", cfg.Scale)
	}
	b := BoundingBox{dim: dim}
	b.corner = MakeNodeIndex(cfg.Scale, cfg.Corner...)
	for d := dim; d < MaxDim; d++ {
		b.corner.L[d] = 0
	}

	b.totBoxes = 1
	anyPeriodic := false
	for d := 0; d < dim; d++ {
		b.nBoxes[d] = 1
		if d < len(cfg.NBoxes) && cfg.NBoxes[d] > 0 {
			b.nBoxes[d] = cfg.NBoxes[d]
		}
		b.totBoxes *= b.nBoxes[d]

		b.scaling[d] = 1.0
		if d < len(cfg.ScalingFactor) {
			if cfg.ScalingFactor[d] == 0 {
				return BoundingBox{}, errors.Wrapf(ErrInvalidConfig, "scaling factor is zero along axis %d", d)
			}
			b.scaling[d] = cfg.ScalingFactor[d]
		}

		if len(cfg.Periodic) == 1 {
			b.periodic[d] = cfg.Periodic[0]
		} else if d < len(cfg.Periodic) {
			b.periodic[d] = cfg.Periodic[d]
		}
		anyPeriodic = anyPeriodic || b.periodic[d]
	}
	if anyPeriodic && b.totBoxes > 1 {
		return BoundingBox{}, errors.Wrap(ErrInvalidConfig, "total number of boxes must be one for periodic worlds")
	}

	for d := 0; d < dim; d++ {
		b.unitLen[d] = b.scaling[d] * math.Pow(2.0, -float64(b.corner.Scale))
		b.boxLen[d] = b.unitLen[d] * float64(b.nBoxes[d])
		b.lowerBnds[d] = float64(b.corner.L[d]) * b.unitLen[d]
		b.upperBnds[d] = b.lowerBnds[d] + b.boxLen[d]
	}
	return b, nil
}

func (b *BoundingBox) Dim() int           { return b.dim }
func (b *BoundingBox) Size() int          { return b.totBoxes }
func (b *BoundingBox) SizeAlong(d int) int { return b.nBoxes[d] }
func (b *BoundingBox) Scale() int32       { return b.corner.Scale }
func (b *BoundingBox) CornerIndex() NodeIndex {
	return b.corner
}

func (b *BoundingBox) UnitLength(d int) float64    { return b.unitLen[d] }
func (b *BoundingBox) BoxLength(d int) float64     { return b.boxLen[d] }
func (b *BoundingBox) LowerBound(d int) float64    { return b.lowerBnds[d] }
func (b *BoundingBox) UpperBound(d int) float64    { return b.upperBnds[d] }
func (b *BoundingBox) ScalingFactor(d int) float64 { return b.scaling[d] }

func (b *BoundingBox) IsPeriodic() bool {
	for d := 0; d < b.dim; d++ {
		if b.periodic[d] {
			return true
		}
	}
	return false
}

// NodeIndex returns the index of root box bIdx. Axis 0 runs fastest.
func (b *BoundingBox) NodeIndex(bIdx int) NodeIndex {
	assertf(bIdx >= 0 && bIdx < b.totBoxes, "box index %d out of range [0, %d)", bIdx, b.totBoxes)
	idx := NodeIndex{Scale: b.corner.Scale}
	for d := b.dim - 1; d >= 0; d-- {
		ncells := 1
		for i := 0; i < d; i++ {
			ncells *= b.nBoxes[i]
		}
		l := bIdx / ncells
		bIdx -= ncells * l
		idx.L[d] = int32(l) + b.corner.L[d]
	}
	return idx
}

// BoxIndex returns the root box containing coordinate r, or -1 when r lies
// outside the box. Periodic worlds always map to box 0.
func (b *BoundingBox) BoxIndex(r []float64) int {
	if b.IsPeriodic() {
		return 0
	}
	var idx [MaxDim]int
	for d := 0; d < b.dim; d++ {
		x := r[d]
		if x < b.lowerBnds[d] || x >= b.upperBnds[d] {
			return -1
		}
		idx[d] = int(math.Floor((x - b.lowerBnds[d]) / b.unitLen[d]))
	}
	return b.linearIndex(idx)
}

// BoxIndexOf returns the root box containing node index nIdx, or -1.
func (b *BoundingBox) BoxIndexOf(nIdx NodeIndex) int {
	if b.IsPeriodic() {
		return 0
	}
	relScale := nIdx.Scale - b.corner.Scale
	if relScale < 0 {
		return -1
	}
	var idx [MaxDim]int
	for d := 0; d < b.dim; d++ {
		req := int((nIdx.L[d] >> uint(relScale)) - b.corner.L[d])
		if req < 0 || req >= b.nBoxes[d] {
			return -1
		}
		idx[d] = req
	}
	return b.linearIndex(idx)
}

func (b *BoundingBox) linearIndex(idx [MaxDim]int) int {
	bIdx := 0
	ncells := 1
	for d := 0; d < b.dim; d++ {
		bIdx += ncells * idx[d]
		ncells *= b.nBoxes[d]
	}
	return bIdx
}

// periodicWrap maps a coordinate back into the box along periodic axes.
func (b *BoundingBox) periodicWrap(r []float64) []float64 {
	out := make([]float64, b.dim)
	copy(out, r)
	for d := 0; d < b.dim; d++ {
		if !b.periodic[d] {
			continue
		}
		x := math.Mod(out[d]-b.lowerBnds[d], b.boxLen[d])
		if x < 0 {
			x += b.boxLen[d]
		}
		out[d] = x + b.lowerBnds[d]
	}
	return out
}
