package sleepytree

import (
	"encoding/binary"
	"math"
	"sync"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/pointcloud/encoding/point"
	"github.com/grailbio/pointcloud/geom"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

// testBuffer is an in-memory ingest buffer with an X, Y, Float64-only
// layout.
type testBuffer struct {
	ctx  *point.Context
	rows [][]byte
}

func newTestBuffer(points ...geom.Point) *testBuffer {
	ctx := point.NewContext()
	if _, err := ctx.AssignDim("X", point.Float64); err != nil {
		panic(err)
	}
	if _, err := ctx.AssignDim("Y", point.Float64); err != nil {
		panic(err)
	}
	b := &testBuffer{ctx: ctx}
	for _, p := range points {
		row := make([]byte, 16)
		binary.LittleEndian.PutUint64(row[0:], math.Float64bits(p.X))
		binary.LittleEndian.PutUint64(row[8:], math.Float64bits(p.Y))
		b.rows = append(b.rows, row)
	}
	return b
}

func (b *testBuffer) Len() int                { return len(b.rows) }
func (b *testBuffer) Context() *point.Context { return b.ctx }
func (b *testBuffer) Row(i int) []byte        { return b.rows[i] }

func testTree(t *testing.T, bounds geom.BBox, baseDepth int) *Tree {
	ctx := point.NewContext()
	_, err := ctx.AssignDim("X", point.Float64)
	require.NoError(t, err)
	_, err = ctx.AssignDim("Y", point.Float64)
	require.NoError(t, err)
	tree, err := New(Config{
		PipelineID: "test-pipeline",
		Bounds:     bounds,
		Context:    ctx,
		BaseDepth:  baseDepth,
	})
	require.NoError(t, err)
	return tree
}

func origins(t *testing.T, tree *Tree, infos []PointInfo) []uint64 {
	od := tree.Context().DimByName(point.OriginDimName)
	require.True(t, od != point.InvalidDim)
	off := tree.Context().OffsetOf(od)
	var out []uint64
	for _, pi := range infos {
		out = append(out, binary.LittleEndian.Uint64(pi.Bytes[off:]))
	}
	return out
}

func TestInsertThenQueryAll(t *testing.T) {
	tree := testTree(t, geom.BBox{XMin: 0, YMin: 0, XMax: 10, YMax: 10}, 4)
	n := tree.Insert(newTestBuffer(
		geom.Point{X: 1, Y: 1}, geom.Point{X: 2, Y: 2}, geom.Point{X: 3, Y: 3}), 7)
	expect.EQ(t, n, 3)
	expect.EQ(t, tree.NumPoints(), int64(3))

	infos, err := tree.GetPoints(0, 100)
	expect.NoError(t, err)
	expect.EQ(t, len(infos), 3)
	for _, o := range origins(t, tree, infos) {
		expect.EQ(t, o, uint64(7))
	}
	// Every record has the tree's stride.
	for _, pi := range infos {
		expect.EQ(t, len(pi.Bytes), tree.Context().PointSize())
	}
}

func TestDropOutOfBounds(t *testing.T) {
	tree := testTree(t, geom.BBox{XMin: 0, YMin: 0, XMax: 10, YMax: 10}, 4)
	n := tree.Insert(newTestBuffer(
		geom.Point{X: 1, Y: 1}, geom.Point{X: 2, Y: 2}, geom.Point{X: 100, Y: 100}), 1)
	expect.EQ(t, n, 2)

	infos, err := tree.GetPoints(0, 100)
	expect.NoError(t, err)
	expect.EQ(t, len(infos), 2)
	for _, pi := range infos {
		expect.True(t, pi.Point != (geom.Point{X: 100, Y: 100}))
	}
}

func TestDepthBands(t *testing.T) {
	tree := testTree(t, geom.BBox{XMin: 0, YMin: 0, XMax: 4, YMax: 4}, 2)
	tree.Insert(newTestBuffer(
		geom.Point{X: 1, Y: 1},
		geom.Point{X: 3, Y: 1},
		geom.Point{X: 1, Y: 3},
		geom.Point{X: 3, Y: 3}), 1)

	// The first insert occupies the root.
	rootBand, err := tree.GetPoints(0, 1)
	expect.NoError(t, err)
	require.Equal(t, 1, len(rootBand))
	expect.EQ(t, rootBand[0].Point, geom.Point{X: 1, Y: 1})

	// The remaining three land one per quadrant at depth 1, emitted in
	// NW, NE, SW, SE order.
	band, err := tree.GetPoints(1, 2)
	expect.NoError(t, err)
	require.Equal(t, 3, len(band))
	expect.EQ(t, band[0].Point, geom.Point{X: 1, Y: 3}) // NW
	expect.EQ(t, band[1].Point, geom.Point{X: 3, Y: 3}) // NE
	expect.EQ(t, band[2].Point, geom.Point{X: 3, Y: 1}) // SE

	// Exactly-once across all depths.
	all, err := tree.GetPoints(0, 100)
	expect.NoError(t, err)
	expect.EQ(t, len(all), 4)

	// An empty band yields nothing.
	empty, err := tree.GetPoints(1, 1)
	expect.NoError(t, err)
	expect.EQ(t, len(empty), 0)
}

func TestBadDepth(t *testing.T) {
	tree := testTree(t, geom.BBox{XMin: 0, YMin: 0, XMax: 4, YMax: 4}, 2)
	_, err := tree.GetPoints(-1, 2)
	expect.True(t, errors.Is(errors.Invalid, err))
	_, err = tree.GetPoints(0, -1)
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestOverflowBeyondBaseBand(t *testing.T) {
	// baseDepth 1: only the root has a slot; everything else overflows
	// at depth 1 in insertion order.
	tree := testTree(t, geom.BBox{XMin: 0, YMin: 0, XMax: 8, YMax: 8}, 1)
	var pts []geom.Point
	for i := 0; i < 10; i++ {
		pts = append(pts, geom.Point{X: float64(i%3) + 5, Y: 5})
	}
	n := tree.Insert(newTestBuffer(pts...), 1)
	expect.EQ(t, n, 10)

	all, err := tree.GetPoints(0, 100)
	expect.NoError(t, err)
	expect.EQ(t, len(all), 10)

	// Depth 1 holds the nine overflow records, in insertion order.
	over, err := tree.GetPoints(1, 2)
	expect.NoError(t, err)
	require.Equal(t, 9, len(over))
	for i, pi := range over {
		expect.EQ(t, pi.Point, pts[i+1])
	}
}

func TestRegionQuery(t *testing.T) {
	tree := testTree(t, geom.BBox{XMin: 0, YMin: 0, XMax: 10, YMax: 10}, 4)
	var pts []geom.Point
	for x := 0; x < 10; x++ {
		for y := 0; y < 10; y++ {
			pts = append(pts, geom.Point{X: float64(x), Y: float64(y)})
		}
	}
	expect.EQ(t, tree.Insert(newTestBuffer(pts...), 1), 100)

	box := geom.BBox{XMin: 3, YMin: 3, XMax: 5, YMax: 5}
	got, err := tree.GetPointsInBox(box, 0, 100)
	expect.NoError(t, err)
	expect.EQ(t, len(got), 9)
	for _, pi := range got {
		expect.True(t, box.Contains(pi.Point))
	}

	// The filtered query equals the box-filtered unfiltered query.
	all, err := tree.GetPoints(0, 100)
	expect.NoError(t, err)
	expect.EQ(t, len(all), 100)
	want := map[geom.Point]int{}
	for _, pi := range all {
		if box.Contains(pi.Point) {
			want[pi.Point]++
		}
	}
	for _, pi := range got {
		want[pi.Point]--
	}
	for p, c := range want {
		if c != 0 {
			t.Errorf("point %v: filtered and unfiltered queries disagree", p)
		}
	}
}

func TestConcurrentInsert(t *testing.T) {
	tree := testTree(t, geom.BBox{XMin: 0, YMin: 0, XMax: 1, YMax: 1}, 3)
	const (
		workers = 8
		per     = 200
	)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			var pts []geom.Point
			for i := 0; i < per; i++ {
				pts = append(pts, geom.Point{
					X: float64(w*per+i) / float64(workers*per),
					Y: float64(i) / float64(per),
				})
			}
			tree.Insert(newTestBuffer(pts...), uint64(w))
		}(w)
	}
	wg.Wait()

	expect.EQ(t, tree.NumPoints(), int64(workers*per))
	all, err := tree.GetPoints(0, 1000)
	expect.NoError(t, err)
	expect.EQ(t, len(all), workers*per)
}

func TestSchemaFreezesOnFirstInsert(t *testing.T) {
	tree := testTree(t, geom.BBox{XMin: 0, YMin: 0, XMax: 1, YMax: 1}, 2)
	tree.Insert(newTestBuffer(geom.Point{X: 0.5, Y: 0.5}), 1)
	_, err := tree.Context().AssignDim("Late", point.Uint8)
	expect.True(t, errors.Is(errors.Precondition, err))
}
