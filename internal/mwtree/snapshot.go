package mwtree

import (
	"bytes"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

const snapshotVersion = 1

var (
	snapEncMode cbor.EncMode
	snapDecMode cbor.DecMode
)

func init() {
	var err error
	if snapEncMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if snapDecMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

type treeSnapshot struct {
	Version     int          `cbor:"1,keyasint"`
	ID          []byte       `cbor:"2,keyasint"`
	Config      TreeConfig   `cbor:"3,keyasint"`
	Complex     bool         `cbor:"4,keyasint"`
	SquareNorm  float64      `cbor:"5,keyasint"`
	Fingerprint []byte       `cbor:"6,keyasint"`
	Nodes       []nodeRecord `cbor:"7,keyasint"`
}

type nodeRecord struct {
	_          struct{} `cbor:",toarray"`
	Scale      int32
	L          []int32
	Split      bool
	HasCoefs   bool
	Coefs      []float64
	Norms      []float64
	SquareNorm float64
}

// MarshalBinary encodes the persisted nodes of the tree in top-down order
// together with the grid fingerprint. Generated nodes are not encoded.
func (t *Tree[T]) MarshalBinary() ([]byte, error) {
	fp := t.Fingerprint()
	snap := treeSnapshot{
		Version:     snapshotVersion,
		ID:          t.id[:],
		Config:      t.cfg,
		Complex:     isComplex[T](),
		SquareNorm:  math.Float64frombits(t.squareNorm.Load()),
		Fingerprint: fp[:],
	}
	for _, n := range t.MakeNodeTable() {
		h := n.hdr()
		rec := nodeRecord{
			Scale:      h.index.Scale,
			L:          append([]int32(nil), h.index.L[:t.dim]...),
			Split:      h.children != NoSlot && !h.has(flagGenChildren),
			HasCoefs:   h.has(flagHasCoefs),
			SquareNorm: h.squareNorm,
			Norms:      append([]float64(nil), t.arena.norms(false, n.slot)...),
		}
		if rec.HasCoefs {
			rec.Coefs = scalarsToFloats(n.Coefs())
		}
		snap.Nodes = append(snap.Nodes, rec)
	}
	return snapEncMode.Marshal(&snap)
}

// UnmarshalTree rebuilds a tree from MarshalBinary output. The restored grid
// must reproduce the stored fingerprint.
func UnmarshalTree[T Scalar](data []byte, opts ...TreeOption) (*Tree[T], error) {
	var snap treeSnapshot
	if err := snapDecMode.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(ErrSnapshotCorrupt, err.Error())
	}
	if snap.Version != snapshotVersion {
		return nil, errors.Wrapf(ErrSnapshotMismatch, "snapshot version %d", snap.Version)
	}
	if snap.Complex != isComplex[T]() {
		return nil, errors.Wrapf(ErrSnapshotMismatch, "complex=%t snapshot into complex=%t tree", snap.Complex, isComplex[T]())
	}
	id, err := uuid.FromBytes(snap.ID)
	if err != nil {
		return nil, errors.Wrap(ErrSnapshotCorrupt, err.Error())
	}

	t, err := NewTree[T](snap.Config, append([]TreeOption{WithID(id)}, opts...)...)
	if err != nil {
		return nil, err
	}
	for i := range snap.Nodes {
		if err := t.restoreNode(&snap.Nodes[i]); err != nil {
			t.Free()
			return nil, err
		}
	}
	t.ResetEndNodeTable()
	t.SetSquareNorm(snap.SquareNorm)

	fp := t.Fingerprint()
	if !bytes.Equal(fp[:], snap.Fingerprint) {
		t.Free()
		return nil, errors.Wrapf(ErrSnapshotCorrupt, "grid fingerprint %x does not match %x", fp[:8], snap.Fingerprint)
	}
	t.log.Debug("tree restored")
	return t, nil
}

func (t *Tree[T]) restoreNode(rec *nodeRecord) error {
	if len(rec.L) != t.dim {
		return errors.Wrapf(ErrSnapshotCorrupt, "node with %d translations in %d-dimensional tree", len(rec.L), t.dim)
	}
	idx := MakeNodeIndex(int(rec.Scale))
	copy(idx.L[:], rec.L)
	n, ok := t.FindNode(idx)
	if !ok {
		return errors.Wrapf(ErrSnapshotCorrupt, "node %s has no parent", idx.format(t.dim))
	}
	if rec.Split {
		if err := t.Split(n); err != nil {
			return err
		}
	}
	if rec.HasCoefs {
		if !floatsToScalars(n.Coefs(), rec.Coefs) {
			return errors.Wrapf(ErrSnapshotCorrupt, "node %s carries %d coefficients", n, len(rec.Coefs))
		}
		n.SetHasCoefs()
	}
	norms := t.arena.norms(false, n.slot)
	if len(rec.Norms) != len(norms) {
		return errors.Wrapf(ErrSnapshotCorrupt, "node %s carries %d norms", n, len(rec.Norms))
	}
	copy(norms, rec.Norms)
	n.hdr().squareNorm = rec.SquareNorm
	return nil
}
