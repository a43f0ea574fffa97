package sleepytree

import (
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/pointcloud/encoding/point"
	"github.com/grailbio/pointcloud/geom"
)

// Buffer is a read view over packed point rows produced by an ingest
// pipeline.  Rows are fixed-stride records laid out per the buffer's
// own context, which need not match the tree's: Insert re-packs every
// row.
type Buffer interface {
	// Len returns the number of rows.
	Len() int
	// Context describes the row layout.
	Context() *point.Context
	// Row returns the i'th packed row.  The returned bytes are valid
	// only until the next call.
	Row(i int) []byte
}

// Config parameterizes a tree.
type Config struct {
	// PipelineID names the point-cloud source; it determines the
	// default serial path.
	PipelineID string
	// Bounds is the indexed region.  Points outside it are dropped at
	// ingest.  Ignored by Load, which reads the bounds from the frame
	// header.
	Bounds geom.BBox
	// Context is the record layout.  Nil means point.StandardContext().
	// The tree assigns the reserved OriginId dimension if absent.
	Context *point.Context
	// BaseDepth overrides DefaultBaseDepth when positive.  Ignored by
	// Load, which derives the band depth from the stored page size.
	BaseDepth int
	// SerialRoot overrides DefaultSerialRoot when nonempty.
	SerialRoot string
}

// Tree is the session-facing façade over a Sleeper.  It owns the point
// context, assigns origin tags at ingest, and persists the base band to
// a framed file.  A tree accepts inserts and queries concurrently; Save
// does not freeze it.
type Tree struct {
	pipelineID string
	pctx       *point.Context
	originDim  point.Dim
	sleeper    *Sleeper
	serialRoot string
	numPoints  int64 // atomic
}

// New returns an empty tree per cfg.
func New(cfg Config) (*Tree, error) {
	t, err := newTree(cfg)
	if err != nil {
		return nil, err
	}
	baseDepth := cfg.BaseDepth
	if baseDepth <= 0 {
		baseDepth = DefaultBaseDepth
	}
	t.sleeper = NewSleeper(cfg.Bounds, t.pctx, baseDepth)
	return t, nil
}

// newTree validates cfg and builds a tree without its index; New and
// Load attach the sleeper.
func newTree(cfg Config) (*Tree, error) {
	pctx := cfg.Context
	if pctx == nil {
		pctx = point.StandardContext()
	}
	if !pctx.HasXY() {
		return nil, errors.E(errors.Invalid,
			"sleepytree: point context must carry Float64 X and Y dimensions")
	}
	originDim := pctx.DimByName(point.OriginDimName)
	if originDim == point.InvalidDim {
		var err error
		if originDim, err = pctx.AssignDim(point.OriginDimName, point.Uint64); err != nil {
			return nil, err
		}
	} else if pctx.TypeOf(originDim) != point.Uint64 {
		return nil, errors.E(errors.Invalid,
			"sleepytree: reserved dimension "+point.OriginDimName+" must be uint64")
	}
	serialRoot := cfg.SerialRoot
	if serialRoot == "" {
		serialRoot = DefaultSerialRoot
	}
	return &Tree{
		pipelineID: cfg.PipelineID,
		pctx:       pctx,
		originDim:  originDim,
		serialRoot: serialRoot,
	}, nil
}

// Insert packs every in-bounds row of buf, tagging each record with
// origin, and routes it into the index.  It returns the number of
// accepted points.  Origins are supplied by the caller and are expected
// to increase monotonically across calls within a session.
//
// The first call freezes the tree's schema.
func (t *Tree) Insert(buf Buffer, origin uint64) int {
	t.pctx.Freeze()
	src := buf.Context()
	bounds := t.sleeper.Bounds()
	rec := make([]byte, t.pctx.PointSize())
	accepted := 0
	for i, n := 0, buf.Len(); i < n; i++ {
		row := buf.Row(i)
		x, y := src.XY(row)
		p := geom.Point{X: x, Y: y}
		if !bounds.Contains(p) {
			continue
		}
		t.pctx.Pack(src, row, origin, rec)
		if t.sleeper.AddPoint(p, rec) {
			accepted++
		}
	}
	atomic.AddInt64(&t.numPoints, int64(accepted))
	return accepted
}

// GetPoints returns stored records in the depth band [depthBegin,
// depthEnd).
func (t *Tree) GetPoints(depthBegin, depthEnd int) ([]PointInfo, error) {
	return t.sleeper.GetPoints(depthBegin, depthEnd)
}

// GetPointsInBox returns stored records in the depth band restricted to
// box.
func (t *Tree) GetPointsInBox(box geom.BBox, depthBegin, depthEnd int) ([]PointInfo, error) {
	return t.sleeper.GetPointsInBox(box, depthBegin, depthEnd)
}

// BaseDepth returns the depth of the tree's base band.
func (t *Tree) BaseDepth() int { return t.sleeper.BaseDepth() }

// NumPoints returns the number of points accepted so far.
func (t *Tree) NumPoints() int64 { return atomic.LoadInt64(&t.numPoints) }

// Bounds returns the indexed region.
func (t *Tree) Bounds() geom.BBox { return t.sleeper.Bounds() }

// Context returns the tree's point context.
func (t *Tree) Context() *point.Context { return t.pctx }

// PipelineID returns the pipeline identifier the tree was created with.
func (t *Tree) PipelineID() string { return t.pipelineID }
